package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HARIDSYNC_"

// LoadDotenv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotenv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

type envSetter func(c *Config, value string) error

func setString(field func(c *Config) *string) envSetter {
	return func(c *Config, value string) error {
		*field(c) = value
		return nil
	}
}

func setBool(field func(c *Config) *bool) envSetter {
	return func(c *Config, value string) error {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func setInt(field func(c *Config) *int) envSetter {
	return func(c *Config, value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func setDuration(field func(c *Config) *time.Duration) envSetter {
	return func(c *Config, value string) error {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func setList(field func(c *Config) *[]string) envSetter {
	return func(c *Config, value string) error {
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		*field(c) = items
		return nil
	}
}

// envOverrides maps variable names, without EnvPrefix, to config fields.
var envOverrides = map[string]envSetter{
	"ENABLED":                     setBool(func(c *Config) *bool { return &c.Enabled }),
	"PORTAL_HOST":                 setString(func(c *Config) *string { return &c.Portal.Host }),
	"PORTAL_USERNAME":             setString(func(c *Config) *string { return &c.Portal.Username }),
	"PORTAL_SECRET":               setString(func(c *Config) *string { return &c.Portal.Secret }),
	"PORTAL_CA_CERT":              setString(func(c *Config) *string { return &c.Portal.CACert }),
	"PORTAL_API_VERSION":          setInt(func(c *Config) *int { return &c.Portal.APIVersion }),
	"PORTAL_TIMEOUT":              setDuration(func(c *Config) *time.Duration { return &c.Portal.Timeout }),
	"SNAPSHOT_FILE":               setString(func(c *Config) *string { return &c.Portal.SnapshotFile }),
	"LDAP_URLS":                   setList(func(c *Config) *[]string { return &c.LDAP.URLs }),
	"LDAP_DOMAIN":                 setString(func(c *Config) *string { return &c.LDAP.Domain }),
	"LDAP_BASE_DN":                setString(func(c *Config) *string { return &c.LDAP.BaseDN }),
	"LDAP_BIND_DN":                setString(func(c *Config) *string { return &c.LDAP.BindDN }),
	"LDAP_PASSWORD":               setString(func(c *Config) *string { return &c.LDAP.Password }),
	"LDAP_CA_CERT":                setString(func(c *Config) *string { return &c.LDAP.CACert }),
	"LDAP_START_TLS":              setBool(func(c *Config) *bool { return &c.LDAP.StartTLS }),
	"LDAP_TIMEOUT":                setDuration(func(c *Config) *time.Duration { return &c.LDAP.Timeout }),
	"KRB5_REALM":                  setString(func(c *Config) *string { return &c.LDAP.Kerberos.Realm }),
	"KRB5_KEYTAB":                 setString(func(c *Config) *string { return &c.LDAP.Kerberos.Keytab }),
	"KRB5_CONFIG":                 setString(func(c *Config) *string { return &c.LDAP.Kerberos.Config }),
	"PRIVATE_KEY":                 setString(func(c *Config) *string { return &c.Sync.PrivateKey }),
	"USER_OU_DEFAULT":             setString(func(c *Config) *string { return &c.Sync.UserOUDefault }),
	"GROUP_OU_DEFAULT":            setString(func(c *Config) *string { return &c.Sync.GroupOUDefault }),
	"GROUP_SCOPE":                 setString(func(c *Config) *string { return &c.Sync.GroupScope }),
	"GROUP_CATEGORY":              setString(func(c *Config) *string { return &c.Sync.GroupCategory }),
	"PUSHGATEWAY_URL":             setString(func(c *Config) *string { return &c.Metrics.PushgatewayURL }),
	"LOG_LEVEL":                   setString(func(c *Config) *string { return &c.Log.Level }),
	"LOG_JSON":                    setBool(func(c *Config) *bool { return &c.Log.JSON }),
	"PORTAL_INSECURE_SKIP_VERIFY": setBool(func(c *Config) *bool { return &c.Portal.InsecureSkipVerify }),
}

// ApplyEnv applies HARIDSYNC_* overrides found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	for name, set := range envOverrides {
		value, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		if err := set(c, value); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		}
	}
	return errors.Join(errs...)
}
