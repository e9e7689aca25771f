package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// ConnectionConfig holds configuration for the directory connection.
type ConnectionConfig struct {
	// Connection settings
	LDAPURLs []string      // ldap:// or ldaps:// URLs, tried in order
	Domain   string        // AD domain whose controllers are discovered when LDAPURLs is empty
	BaseDN   string        // Base DN for searches
	Timeout  time.Duration // Network timeout applied to the connection
	PageSize uint32        // Paging size for subtree searches

	// Authentication settings
	Username       string // Bind DN, or principal for Kerberos
	Password       string // Password for simple bind or Kerberos
	KerberosRealm  string // Kerberos realm for GSSAPI authentication
	KerberosKeytab string // Path to Kerberos keytab file
	KerberosConfig string // Path to Kerberos config file (krb5.conf)
	KerberosCCache string // Path to Kerberos credential cache
	KerberosSPN    string // Explicit service principal, derived from the URL host if empty

	// TLS settings
	TLSConfig *tls.Config // TLS configuration for LDAPS and StartTLS
	UseTLS    bool        // Upgrade ldap:// connections with StartTLS

	// Retry settings
	MaxRetries     int           // Maximum retry attempts
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration
	BackoffFactor  float64       // Backoff multiplication factor
}

// DefaultConfig returns a secure default configuration.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Timeout:        30 * time.Second,
		PageSize:       500,
		UseTLS:         true,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// Client provides the directory operations needed by the synchronization engine.
// Implementations hold one long-lived, authenticated connection.
type Client interface {
	// Connection management
	Connect(ctx context.Context) error
	Close() error

	// Basic operations
	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)
	Add(ctx context.Context, req *AddRequest) error
	Modify(ctx context.Context, req *ModifyRequest) error
	ModifyDN(ctx context.Context, req *ModifyDNRequest) error
	Delete(ctx context.Context, dn string) error

	Ping(ctx context.Context) error
}

// SearchRequest encapsulates LDAP search parameters.
type SearchRequest struct {
	BaseDN     string
	Scope      SearchScope
	Filter     string
	Attributes []string
	SizeLimit  int
	TimeLimit  time.Duration
}

// SearchResult contains search results.
type SearchResult struct {
	Entries []*ldap.Entry
	Total   int
}

// AddRequest encapsulates LDAP add parameters.
type AddRequest struct {
	DN         string
	Attributes map[string][]string
}

// ModifyRequest encapsulates LDAP modify parameters.
type ModifyRequest struct {
	DN                string
	AddAttributes     map[string][]string
	ReplaceAttributes map[string][]string
	DeleteAttributes  []string
}

// IsEmpty reports whether the request carries no changes.
func (r *ModifyRequest) IsEmpty() bool {
	return len(r.AddAttributes) == 0 && len(r.ReplaceAttributes) == 0 && len(r.DeleteAttributes) == 0
}

// ModifyDNRequest encapsulates a rename and/or move.
type ModifyDNRequest struct {
	DN           string
	NewRDN       string
	DeleteOldRDN bool
	NewSuperior  string // empty keeps the current parent
}

// SearchScope defines LDAP search scope.
type SearchScope int

const (
	ScopeBaseObject SearchScope = iota
	ScopeSingleLevel
	ScopeWholeSubtree
)

func (s SearchScope) String() string {
	switch s {
	case ScopeBaseObject:
		return "base"
	case ScopeSingleLevel:
		return "one"
	case ScopeWholeSubtree:
		return "sub"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// AuthMethod defines authentication method types.
type AuthMethod int

const (
	AuthMethodSimpleBind AuthMethod = iota // Bind DN/password authentication
	AuthMethodKerberos                     // GSSAPI/Kerberos authentication
	AuthMethodAnonymous                    // No bind
)

// String returns string representation of authentication method.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	case AuthMethodAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// GetAuthMethod determines the authentication method from the configuration.
func (c *ConnectionConfig) GetAuthMethod() AuthMethod {
	// Kerberos authentication takes precedence
	if c.KerberosRealm != "" && (c.KerberosKeytab != "" || c.KerberosCCache != "" || c.Username != "") {
		return AuthMethodKerberos
	}

	if c.Username != "" {
		return AuthMethodSimpleBind
	}

	return AuthMethodAnonymous
}

// RetryableError indicates an error that can be retried.
type RetryableError interface {
	error
	IsRetryable() bool
}

// ConnectionError represents connection-related errors.
type ConnectionError struct {
	message   string
	retryable bool
	cause     error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ConnectionError) IsRetryable() bool {
	return e.retryable
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// NewConnectionError creates a new connection error.
func NewConnectionError(message string, retryable bool, cause error) *ConnectionError {
	return &ConnectionError{
		message:   message,
		retryable: retryable,
		cause:     cause,
	}
}

// IsConnectionLost reports whether err means the directory could not be
// reached, as opposed to an operation being rejected.
func IsConnectionLost(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}
