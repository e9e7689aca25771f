package ldap

import (
	"context"
	"crypto/tls"
	"fmt"
	"maps"
	"net"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// directoryConn is the subset of *ldap.Conn used by the client.
type directoryConn interface {
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	SearchWithPaging(req *ldap.SearchRequest, pagingSize uint32) (*ldap.SearchResult, error)
	Add(req *ldap.AddRequest) error
	Modify(req *ldap.ModifyRequest) error
	ModifyDN(req *ldap.ModifyDNRequest) error
	Del(req *ldap.DelRequest) error
	Close() error
}

// ldapConn adapts *ldap.Conn to directoryConn.
type ldapConn struct {
	*ldap.Conn
}

func (c ldapConn) Close() error {
	c.Conn.Close()
	return nil
}

// dialFunc opens an authenticated connection to a single server URL.
type dialFunc func(ctx context.Context, cfg *ConnectionConfig, serverURL string) (directoryConn, error)

// client implements the Client interface over one long-lived connection.
// It reconnects transparently when a retryable failure drops the connection.
type client struct {
	config   *ConnectionConfig
	dial     dialFunc
	discover func(ctx context.Context, domain string) ([]string, error)

	mu        sync.Mutex
	conn      directoryConn
	serverURL string
}

// NewClient creates a new LDAP client. The connection is opened by Connect.
func NewClient(config *ConnectionConfig) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if len(config.LDAPURLs) == 0 && config.Domain == "" {
		return nil, fmt.Errorf("at least one LDAP URL or a domain is required")
	}
	for _, u := range config.LDAPURLs {
		if err := validateLDAPURL(u); err != nil {
			return nil, err
		}
	}

	return newClientWithDialer(config, dialLDAP), nil
}

func newClientWithDialer(config *ConnectionConfig, dial dialFunc) *client {
	return &client{
		config:   config,
		dial:     dial,
		discover: NewSRVDiscovery().DiscoverURLs,
	}
}

func validateLDAPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid LDAP URL %q: %w", raw, err)
	}
	if u.Scheme != "ldap" && u.Scheme != "ldaps" {
		return fmt.Errorf("invalid LDAP URL %q: scheme must be ldap or ldaps", raw)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("invalid LDAP URL %q: missing host", raw)
	}
	return nil
}

// Connect opens and authenticates the connection, trying each URL in order.
func (c *client) Connect(ctx context.Context) error {
	return LogOperation(ctx, "ldap", "connect", map[string]any{
		"ldap_urls_count": len(c.config.LDAPURLs),
		"auth_method":     c.config.GetAuthMethod().String(),
		"use_tls":         c.config.UseTLS,
	}, func() error {
		c.mu.Lock()
		defer c.mu.Unlock()

		if _, err := c.connectLocked(ctx); err != nil {
			return err
		}
		return c.pingLocked(ctx)
	})
}

// connectLocked returns the current connection, dialing one if needed.
func (c *client) connectLocked(ctx context.Context) (directoryConn, error) {
	if c.conn != nil {
		return c.conn, nil
	}

	logger := Subsystem(ctx, "ldap")
	urls, err := c.serverURLs(ctx)
	if err != nil {
		return nil, NewConnectionError("failed to locate a directory server", false, err)
	}

	var lastErr error
	for _, serverURL := range urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conn, err := c.dial(ctx, c.config, serverURL)
		if err != nil {
			logger.Warn("Failed to connect to directory server", "url", serverURL, "error", err.Error())
			lastErr = err
			continue
		}

		logger.Info("Connected to directory server", "url", serverURL, "auth_method", c.config.GetAuthMethod().String())
		c.conn = conn
		c.serverURL = serverURL
		return conn, nil
	}

	return nil, NewConnectionError("failed to connect to any directory server", IsRetryableError(lastErr), lastErr)
}

// serverURLs returns the configured URLs, or discovers them from the domain.
func (c *client) serverURLs(ctx context.Context) ([]string, error) {
	if len(c.config.LDAPURLs) > 0 {
		return c.config.LDAPURLs, nil
	}
	return c.discover(ctx, c.config.Domain)
}

// dropLocked discards the current connection so the next operation redials.
func (c *client) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.serverURL = ""
	}
}

// Close closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// do runs fn against the connection with retry and reconnect.
func (c *client) do(ctx context.Context, fn func(conn directoryConn) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.withRetry(ctx, func() error {
		conn, err := c.connectLocked(ctx)
		if err != nil {
			return err
		}
		err = fn(conn)
		if err != nil && IsConnectionError(err) {
			c.dropLocked()
		}
		return err
	})
}

// Search performs an LDAP search. Subtree searches without a size limit are paged.
func (c *client) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("search request cannot be nil")
	}

	fields := map[string]any{
		"base_dn":    req.BaseDN,
		"scope":      req.Scope.String(),
		"filter":     req.Filter,
		"attributes": req.Attributes,
	}

	paged := req.Scope == ScopeWholeSubtree && req.SizeLimit == 0 && c.config.PageSize > 0

	ldapReq := ldap.NewSearchRequest(
		req.BaseDN,
		int(req.Scope),
		ldap.NeverDerefAliases,
		req.SizeLimit,
		int(req.TimeLimit.Seconds()),
		false, // TypesOnly
		req.Filter,
		req.Attributes,
		nil, // Controls
	)

	start := time.Now()
	var result *ldap.SearchResult
	err := c.do(ctx, func(conn directoryConn) error {
		var searchErr error
		if paged {
			result, searchErr = conn.SearchWithPaging(ldapReq, c.config.PageSize)
		} else {
			result, searchErr = conn.Search(ldapReq)
		}
		return searchErr
	})
	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			Subsystem(ctx, "ldap").Debug("Search base does not exist", Fields(fields)...)
			return &SearchResult{}, nil
		}
		LogLDAPError(ctx, "ldap", "search", err, fields)
		return nil, NewLDAPErrorWithDN("search", req.BaseDN, err)
	}

	fields["entries_found"] = len(result.Entries)
	fields["paged"] = paged
	Subsystem(ctx, "ldap").Trace("Search completed", Fields(fields)...)

	return &SearchResult{
		Entries: result.Entries,
		Total:   len(result.Entries),
	}, nil
}

// Add creates a new LDAP entry.
func (c *client) Add(ctx context.Context, req *AddRequest) error {
	if req == nil {
		return fmt.Errorf("add request cannot be nil")
	}
	if req.DN == "" {
		return fmt.Errorf("DN cannot be empty")
	}

	ldapReq := ldap.NewAddRequest(req.DN, nil)
	for _, attr := range slices.Sorted(maps.Keys(req.Attributes)) {
		ldapReq.Attribute(attr, req.Attributes[attr])
	}

	err := c.do(ctx, func(conn directoryConn) error {
		return conn.Add(ldapReq)
	})
	if err != nil {
		LogLDAPError(ctx, "ldap", "add", err, map[string]any{"dn": req.DN})
		return NewLDAPErrorWithDN("add", req.DN, err)
	}
	return nil
}

// Modify modifies an existing LDAP entry.
func (c *client) Modify(ctx context.Context, req *ModifyRequest) error {
	if req == nil {
		return fmt.Errorf("modify request cannot be nil")
	}
	if req.DN == "" {
		return fmt.Errorf("DN cannot be empty")
	}

	ldapReq := ldap.NewModifyRequest(req.DN, nil)

	for _, attr := range slices.Sorted(maps.Keys(req.AddAttributes)) {
		ldapReq.Add(attr, req.AddAttributes[attr])
	}

	for _, attr := range slices.Sorted(maps.Keys(req.ReplaceAttributes)) {
		ldapReq.Replace(attr, req.ReplaceAttributes[attr])
	}

	for _, attr := range req.DeleteAttributes {
		ldapReq.Delete(attr, []string{})
	}

	err := c.do(ctx, func(conn directoryConn) error {
		return conn.Modify(ldapReq)
	})
	if err != nil {
		LogLDAPError(ctx, "ldap", "modify", err, map[string]any{"dn": req.DN})
		return NewLDAPErrorWithDN("modify", req.DN, err)
	}
	return nil
}

// ModifyDN moves or renames an LDAP entry.
func (c *client) ModifyDN(ctx context.Context, req *ModifyDNRequest) error {
	if req == nil {
		return fmt.Errorf("modify DN request cannot be nil")
	}

	if req.DN == "" {
		return fmt.Errorf("DN cannot be empty")
	}

	if req.NewRDN == "" {
		return fmt.Errorf("new RDN cannot be empty")
	}

	ldapReq := ldap.NewModifyDNRequest(req.DN, req.NewRDN, req.DeleteOldRDN, req.NewSuperior)

	err := c.do(ctx, func(conn directoryConn) error {
		return conn.ModifyDN(ldapReq)
	})
	if err != nil {
		LogLDAPError(ctx, "ldap", "modify_dn", err, map[string]any{
			"dn":           req.DN,
			"new_rdn":      req.NewRDN,
			"new_superior": req.NewSuperior,
		})
		return NewLDAPErrorWithDN("modify_dn", req.DN, err)
	}
	return nil
}

// Delete removes an LDAP entry.
func (c *client) Delete(ctx context.Context, dn string) error {
	if dn == "" {
		return fmt.Errorf("DN cannot be empty")
	}

	ldapReq := ldap.NewDelRequest(dn, nil)

	err := c.do(ctx, func(conn directoryConn) error {
		return conn.Del(ldapReq)
	})
	if err != nil {
		LogLDAPError(ctx, "ldap", "delete", err, map[string]any{"dn": dn})
		return NewLDAPErrorWithDN("delete", dn, err)
	}
	return nil
}

// Ping tests connectivity to the LDAP server.
func (c *client) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pingLocked(ctx)
}

// pingLocked reads the root DSE.
func (c *client) pingLocked(ctx context.Context) error {
	searchReq := ldap.NewSearchRequest(
		"", // Empty base DN for root DSE
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1, 5, false, // Size limit 1, time limit 5 seconds
		"(objectClass=*)",
		[]string{"defaultNamingContext"},
		nil,
	)

	return c.withRetry(ctx, func() error {
		conn, err := c.connectLocked(ctx)
		if err != nil {
			return err
		}
		if _, err := conn.Search(searchReq); err != nil {
			if IsConnectionError(err) {
				c.dropLocked()
			}
			return err
		}
		return nil
	})
}

// withRetry executes an operation with retry logic.
func (c *client) withRetry(ctx context.Context, operation func() error) error {
	logger := Subsystem(ctx, "ldap")
	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Debug("Retrying operation",
				"attempt", attempt,
				"max_retry", c.config.MaxRetries,
				"backoff_ms", backoff.Milliseconds(),
				"last_error", lastErr.Error())
		}

		err := operation()
		if err == nil {
			if attempt > 0 {
				logger.Info("Operation succeeded after retries", "total_attempts", attempt+1)
			}
			return nil
		}

		lastErr = err

		if !IsRetryableError(err) {
			return err
		}

		// Don't wait after the last attempt
		if attempt == c.config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			logger.Warn("Operation cancelled during retry", "context_error", ctx.Err().Error(), "attempt", attempt+1)
			return ctx.Err()
		case <-time.After(backoff):
			backoff = min(time.Duration(float64(backoff)*c.config.BackoffFactor), c.config.MaxBackoff)
		}
	}

	logger.Error("Operation failed after all retries exhausted",
		"total_attempts", c.config.MaxRetries+1,
		"final_error", lastErr.Error())

	// Only a transport failure means the directory is gone. A server that
	// keeps answering busy or over its time limit fails just this operation.
	if IsConnectionError(lastErr) {
		return NewConnectionError("operation failed after retries", false, lastErr)
	}
	return lastErr
}

// dialLDAP dials, secures and binds a connection to serverURL.
func dialLDAP(ctx context.Context, cfg *ConnectionConfig, serverURL string) (directoryConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid LDAP URL %q: %w", serverURL, err)
	}
	host := u.Hostname()
	tlsConfig := tlsConfigFor(cfg, host)

	opts := []ldap.DialOpt{ldap.DialWithDialer(&net.Dialer{Timeout: cfg.Timeout})}
	if u.Scheme == "ldaps" {
		opts = append(opts, ldap.DialWithTLSConfig(tlsConfig))
	}

	conn, err := ldap.DialURL(serverURL, opts...)
	if err != nil {
		return nil, NewConnectionError(fmt.Sprintf("failed to connect to %s", serverURL), true, err)
	}

	if u.Scheme == "ldap" && cfg.UseTLS {
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, NewConnectionError(fmt.Sprintf("StartTLS with %s failed", serverURL), false, err)
		}
	}

	conn.SetTimeout(cfg.Timeout)

	if err := bind(ctx, conn, cfg, host); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to authenticate to %s: %w", serverURL, err)
	}

	return ldapConn{conn}, nil
}

// tlsConfigFor returns a copy of the configured TLS settings bound to host.
func tlsConfigFor(cfg *ConnectionConfig, host string) *tls.Config {
	var tlsConfig *tls.Config
	if cfg.TLSConfig != nil {
		tlsConfig = cfg.TLSConfig.Clone()
	} else {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = host
	}
	return tlsConfig
}

// bind authenticates conn using the configured method.
func bind(ctx context.Context, conn *ldap.Conn, cfg *ConnectionConfig, host string) error {
	authMethod := cfg.GetAuthMethod()
	logger := Subsystem(ctx, "ldap")
	logger.Debug("Performing authentication", "auth_method", authMethod.String(), "username", cfg.Username)

	var err error
	switch authMethod {
	case AuthMethodSimpleBind:
		if cfg.Password == "" {
			return fmt.Errorf("password is required for simple bind as %s", cfg.Username)
		}
		err = conn.Bind(cfg.Username, cfg.Password)
	case AuthMethodKerberos:
		err = performKerberosAuth(ctx, conn, cfg, host)
	case AuthMethodAnonymous:
		return nil
	default:
		return fmt.Errorf("unsupported authentication method: %s", authMethod.String())
	}

	if err != nil {
		LogLDAPError(ctx, "ldap", "bind", err, map[string]any{
			"auth_method": authMethod.String(),
			"username":    cfg.Username,
		})
		return NewLDAPError("bind", err)
	}

	logger.Debug("Authentication successful", "auth_method", authMethod.String())
	return nil
}
