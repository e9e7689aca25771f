// Package config loads the haridsync settings file.
//
// Settings are layered: struct defaults, then the YAML file, then an
// optional dotenv file and HARIDSYNC_* environment variables, then command
// line flags applied by the caller.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"

	adldap "github.com/isometry/haridsync/internal/ldap"
	"github.com/isometry/haridsync/internal/source"
)

// DefaultDir holds the settings file and key of a packaged install.
const DefaultDir = "/etc/haridsync"

// DefaultFile is the settings file name inside DefaultDir.
const DefaultFile = "haridsync.yml"

// devPortalHost is the local development portal, served with a self-signed certificate.
const devPortalHost = "l.harid"

// ErrDisabled is returned by Validate until the operator enables the sync.
var ErrDisabled = errors.New("haridsync is disabled; set enabled: true in the settings file")

// Config is the complete settings document.
type Config struct {
	Enabled bool          `yaml:"enabled"`
	Portal  PortalConfig  `yaml:"portal"`
	LDAP    LDAPConfig    `yaml:"ldap"`
	Sync    SyncConfig    `yaml:"sync"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`

	path string
}

// PortalConfig selects where the snapshot comes from.
type PortalConfig struct {
	Host               string        `yaml:"host"`
	Username           string        `yaml:"username"`
	Secret             string        `yaml:"secret"`
	CACert             string        `yaml:"ca_cert" default:"cacert.pem"`
	APIVersion         int           `yaml:"api_version" default:"2"`
	Timeout            time.Duration `yaml:"timeout" default:"60s"`
	Retries            int           `yaml:"retries" default:"4"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	// SnapshotFile reads users, groups and deletions from one JSON file
	// instead of the portal.
	SnapshotFile string `yaml:"snapshot_file"`
}

// LDAPConfig configures the directory connection.
type LDAPConfig struct {
	URLs []string `yaml:"urls"`
	// Domain locates domain controllers through DNS SRV records when URLs is empty.
	Domain   string         `yaml:"domain"`
	BaseDN   string         `yaml:"base_dn"`
	BindDN   string         `yaml:"bind_dn"`
	Password string         `yaml:"password"`
	CACert   string         `yaml:"ca_cert"`
	StartTLS bool           `yaml:"start_tls" default:"true"`
	Timeout  time.Duration  `yaml:"timeout" default:"30s"`
	Retries  int            `yaml:"retries" default:"3"`
	PageSize uint32         `yaml:"page_size" default:"500"`
	Kerberos KerberosConfig `yaml:"kerberos"`
}

// KerberosConfig enables GSSAPI binds when Realm is set.
type KerberosConfig struct {
	Realm  string `yaml:"realm"`
	Keytab string `yaml:"keytab"`
	Config string `yaml:"config"`
	CCache string `yaml:"ccache"`
	SPN    string `yaml:"spn"`
}

// SyncConfig tunes the reconciliation.
type SyncConfig struct {
	PrivateKey        string   `yaml:"private_key" default:"haridsync_private.key"`
	UserOUDefault     string   `yaml:"user_ou_default" default:"CN=Users"`
	GroupOUDefault    string   `yaml:"group_ou_default" default:"CN=Users"`
	PlaceholderLength int      `yaml:"placeholder_length" default:"24"`
	UserAuxClasses    []string `yaml:"user_aux_classes" default:"[\"posixAccount\"]"`
	GroupAuxClasses   []string `yaml:"group_aux_classes" default:"[\"posixGroup\"]"`
	MemberCacheSize   int      `yaml:"member_cache_size" default:"4096"`
	GroupScope        string   `yaml:"group_scope" default:"Global"`
	GroupCategory     string   `yaml:"group_category" default:"Security"`
}

// MetricsConfig enables pushing run metrics.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job" default:"haridsync"`
}

// LogConfig configures the hclog root logger.
type LogConfig struct {
	Level string `yaml:"level" default:"info"`
	JSON  bool   `yaml:"json"`
}

// Default returns a Config holding only defaults.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set default values: %w", err)
	}
	return cfg, nil
}

// Load reads the settings file at path and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.path = path

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults
// with environment overrides applied. Relative names still resolve against
// the directory of path.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		cfg, err := Default()
		if err != nil {
			return nil, err
		}
		cfg.path = path
		if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Dir returns the directory relative file names are resolved against.
func (c *Config) Dir() string {
	if c.path == "" {
		return DefaultDir
	}
	return filepath.Dir(c.path)
}

// Resolve returns name relative to Dir unless it is absolute.
func (c *Config) Resolve(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Dir(), name)
}

// PrivateKeyPath returns the resolved private key file.
func (c *Config) PrivateKeyPath() string {
	return c.Resolve(c.Sync.PrivateKey)
}

// MissingKeysError lists every mandatory setting that has no value.
type MissingKeysError struct {
	Keys []string
}

func (e *MissingKeysError) Error() string {
	return "missing mandatory configuration: " + strings.Join(e.Keys, ", ")
}

// Validate checks mandatory settings, reporting all missing keys at once,
// and normalizes DN case. A disabled config yields ErrDisabled.
func (c *Config) Validate() error {
	var missing []string
	require := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}

	if c.Portal.SnapshotFile == "" {
		require("portal.host", c.Portal.Host)
		require("portal.username", c.Portal.Username)
		require("portal.secret", c.Portal.Secret)
	}
	if len(c.LDAP.URLs) == 0 && c.LDAP.Domain == "" {
		missing = append(missing, "ldap.urls or ldap.domain")
	}
	require("ldap.base_dn", c.LDAP.BaseDN)
	if c.LDAP.Kerberos.Realm == "" {
		require("ldap.bind_dn", c.LDAP.BindDN)
		require("ldap.password", c.LDAP.Password)
	}
	require("sync.private_key", c.Sync.PrivateKey)

	if len(missing) > 0 {
		return &MissingKeysError{Keys: missing}
	}

	if c.Portal.APIVersion != 1 && c.Portal.APIVersion != 2 {
		return fmt.Errorf("portal.api_version must be 1 or 2, got %d", c.Portal.APIVersion)
	}
	if hclog.LevelFromString(c.Log.Level) == hclog.NoLevel {
		return fmt.Errorf("log.level %q is not a valid level", c.Log.Level)
	}
	if c.Sync.PlaceholderLength <= 0 {
		return fmt.Errorf("sync.placeholder_length must be positive")
	}

	for _, dn := range []*string{&c.LDAP.BaseDN, &c.LDAP.BindDN, &c.Sync.UserOUDefault, &c.Sync.GroupOUDefault} {
		if !strings.Contains(*dn, "=") {
			continue // Kerberos principals and empty values
		}
		norm, err := adldap.NormalizeDNCase(*dn)
		if err != nil {
			return fmt.Errorf("invalid DN %q: %w", *dn, err)
		}
		*dn = norm
	}

	if !c.Enabled {
		return ErrDisabled
	}
	return nil
}

// LogLevel returns the configured hclog level.
func (c *Config) LogLevel() hclog.Level {
	if level := hclog.LevelFromString(c.Log.Level); level != hclog.NoLevel {
		return level
	}
	return hclog.Info
}

// SourcePortal returns the portal fetcher settings. The CA bundle is only
// used when the file exists, so system roots apply otherwise.
func (c *Config) SourcePortal() source.PortalConfig {
	caFile := c.Resolve(c.Portal.CACert)
	if _, err := os.Stat(caFile); err != nil {
		caFile = ""
	}
	return source.PortalConfig{
		Host:               c.Portal.Host,
		Username:           c.Portal.Username,
		Secret:             c.Portal.Secret,
		CACertFile:         caFile,
		APIVersion:         c.Portal.APIVersion,
		InsecureSkipVerify: c.Portal.InsecureSkipVerify || c.Portal.Host == devPortalHost,
		Timeout:            c.Portal.Timeout,
		RetryMax:           c.Portal.Retries,
	}
}

// Connection returns the directory connection settings.
func (c *Config) Connection() (*adldap.ConnectionConfig, error) {
	conn := adldap.DefaultConfig()
	conn.LDAPURLs = c.LDAP.URLs
	conn.Domain = c.LDAP.Domain
	conn.BaseDN = c.LDAP.BaseDN
	conn.Timeout = c.LDAP.Timeout
	conn.PageSize = c.LDAP.PageSize
	conn.UseTLS = c.LDAP.StartTLS
	conn.MaxRetries = c.LDAP.Retries
	conn.Username = c.LDAP.BindDN
	conn.Password = c.LDAP.Password
	conn.KerberosRealm = c.LDAP.Kerberos.Realm
	conn.KerberosKeytab = c.Resolve(c.LDAP.Kerberos.Keytab)
	conn.KerberosConfig = c.LDAP.Kerberos.Config
	conn.KerberosCCache = c.LDAP.Kerberos.CCache
	conn.KerberosSPN = c.LDAP.Kerberos.SPN

	if c.LDAP.CACert != "" {
		pem, err := os.ReadFile(c.Resolve(c.LDAP.CACert))
		if err != nil {
			return nil, fmt.Errorf("failed to read LDAP CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.LDAP.CACert)
		}
		conn.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, RootCAs: pool}
	}
	return conn, nil
}

// GroupScope returns the configured scope of synchronized groups.
func (c *Config) GroupScope() adldap.GroupScope {
	return adldap.ParseGroupScope(c.Sync.GroupScope)
}

// GroupCategory returns the configured category of synchronized groups.
func (c *Config) GroupCategory() adldap.GroupCategory {
	return adldap.ParseGroupCategory(c.Sync.GroupCategory)
}

// Repository returns the entry repository settings.
func (c *Config) Repository() adldap.RepositoryConfig {
	return adldap.RepositoryConfig{
		BaseDN:          c.LDAP.BaseDN,
		UserAuxClasses:  c.Sync.UserAuxClasses,
		GroupAuxClasses: c.Sync.GroupAuxClasses,
	}
}
