package ldap

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// runtimeKrb5Conf renders a krb5.conf for realm that finds KDCs through DNS
// SRV records. domain, when set, is mapped to the realm.
func runtimeKrb5Conf(realm, domain string) (string, error) {
	if realm == "" {
		return "", fmt.Errorf("kerberos realm is required for auto-discovery")
	}

	realm = strings.ToUpper(realm)
	if domain == "" {
		domain = realm
	}
	domain = strings.ToLower(domain)

	return fmt.Sprintf(`[libdefaults]
    default_realm = %s
    dns_lookup_kdc = true
    dns_lookup_realm = false
    rdns = false
    forwardable = true
    ticket_lifetime = 24h
    renew_lifetime = 7d

[realms]
    %s = {
    }

[domain_realm]
    .%s = %s
    %s = %s
`, realm, realm, domain, realm, domain, realm), nil
}

// resolveKrb5Conf returns the krb5.conf to use for cfg. An explicit
// KerberosConfig is used as is; otherwise /etc/krb5.conf, or a generated
// runtime file when that is missing. cleanup removes any generated file.
func resolveKrb5Conf(ctx context.Context, cfg *ConnectionConfig) (path string, cleanup func(), err error) {
	cleanup = func() {}

	if cfg.KerberosConfig != "" {
		return cfg.KerberosConfig, cleanup, nil
	}
	if fileExists(defaultKrb5Conf) {
		return defaultKrb5Conf, cleanup, nil
	}

	content, err := runtimeKrb5Conf(cfg.KerberosRealm, cfg.Domain)
	if err != nil {
		return "", cleanup, err
	}

	f, err := os.CreateTemp("", "haridsync-krb5-*.conf")
	if err != nil {
		return "", cleanup, fmt.Errorf("failed to create runtime krb5.conf: %w", err)
	}
	cleanup = func() { _ = os.Remove(f.Name()) }

	if _, err := f.WriteString(content); err != nil {
		f.Close()
		cleanup()
		return "", func() {}, fmt.Errorf("failed to write runtime krb5.conf: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("failed to write runtime krb5.conf: %w", err)
	}

	Subsystem(ctx, "ldap").Debug("Generated runtime krb5.conf",
		"realm", strings.ToUpper(cfg.KerberosRealm),
		"path", f.Name())
	return f.Name(), cleanup, nil
}
