package ldap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

const defaultKrb5Conf = "/etc/krb5.conf"

// performKerberosAuth performs a GSSAPI bind on conn for the server at host.
func performKerberosAuth(ctx context.Context, conn *ldap.Conn, cfg *ConnectionConfig, host string) error {
	krbCfg, err := prepareKerberosConfig(cfg)
	if err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	krb5conf, cleanup, err := resolveKrb5Conf(ctx, krbCfg)
	if err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}
	defer cleanup()
	krbCfg.KerberosConfig = krb5conf

	gssapiClient, err := createGSSAPIClient(krbCfg)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = gssapiClient.DeleteSecContext()
	}()

	spn, err := buildServicePrincipal(krbCfg, host)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	if err := conn.GSSAPIBind(gssapiClient, spn, ""); err != nil {
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}

	return nil
}

// createGSSAPIClient creates a GSSAPI client based on the configuration.
// Priority order: credential cache → keytab → password.
func createGSSAPIClient(cfg *ConnectionConfig) (ldap.GSSAPIClient, error) {
	krb5confPath := cfg.KerberosConfig

	if !fileExists(krb5confPath) {
		return nil, fmt.Errorf("kerberos configuration file not found at %s", krb5confPath)
	}

	if cfg.KerberosCCache != "" && fileExists(cfg.KerberosCCache) {
		return gssapi.NewClientFromCCache(cfg.KerberosCCache, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	if cfg.KerberosKeytab != "" && fileExists(cfg.KerberosKeytab) {
		return gssapi.NewClientWithKeytab(cfg.Username, cfg.KerberosRealm, cfg.KerberosKeytab, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	if cfg.Username != "" && cfg.Password != "" {
		return gssapi.NewClientWithPassword(cfg.Username, cfg.KerberosRealm, cfg.Password, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	return nil, fmt.Errorf("no suitable credentials found for Kerberos authentication")
}

// buildServicePrincipal constructs the LDAP service principal name for host.
// cfg.KerberosSPN overrides the derived name.
func buildServicePrincipal(cfg *ConnectionConfig, host string) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("configuration is required for service principal")
	}

	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}

	if host == "" {
		return "", fmt.Errorf("hostname is required for service principal")
	}

	// SPN carries no port
	if colonPos := strings.Index(host, ":"); colonPos != -1 {
		host = host[:colonPos]
	}

	return fmt.Sprintf("ldap/%s", host), nil
}

// prepareKerberosConfig validates cfg and returns a copy with defaults applied.
func prepareKerberosConfig(cfg *ConnectionConfig) (*ConnectionConfig, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}

	out := *cfg

	// user@REALM
	if out.KerberosRealm == "" && strings.Contains(out.Username, "@") {
		parts := strings.Split(out.Username, "@")
		if len(parts) == 2 {
			out.KerberosRealm = parts[1]
			out.Username = parts[0]
		}
	}

	if out.KerberosRealm == "" {
		return nil, fmt.Errorf("kerberos realm is required (set kerberos_realm or include realm in username)")
	}

	if out.Username == "" && out.KerberosCCache == "" {
		return nil, fmt.Errorf("username (principal) is required for Kerberos authentication")
	}

	hasCCache := out.KerberosCCache != "" && fileExists(out.KerberosCCache)
	hasKeytab := out.KerberosKeytab != "" && fileExists(out.KerberosKeytab)
	hasPassword := out.Password != ""

	if !hasCCache && !hasKeytab && !hasPassword {
		return nil, fmt.Errorf("no suitable Kerberos credentials found: provide kerberos_ccache, kerberos_keytab or password")
	}

	return &out, nil
}

// fileExists checks if a file exists and is readable.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	file.Close()
	return true
}
