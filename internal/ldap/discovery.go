package ldap

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ServerInfo describes one domain controller endpoint.
type ServerInfo struct {
	Host     string
	Port     int
	UseTLS   bool
	Priority int
	Weight   int
	Source   string // "srv", "fallback" or "config"
}

// srvResolver is the subset of *net.Resolver used for discovery.
type srvResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// SRVDiscovery handles DNS SRV record discovery for domain controllers.
type SRVDiscovery struct {
	resolver srvResolver
}

// NewSRVDiscovery creates a new SRV discovery instance.
func NewSRVDiscovery() *SRVDiscovery {
	return &SRVDiscovery{resolver: net.DefaultResolver}
}

// DiscoverServers discovers LDAP servers for a domain using SRV records
// Implements the discovery priority:
// 1. _ldaps._tcp.<domain> (LDAPS - preferred)
// 2. _ldap._tcp.<domain> (LDAP+StartTLS - fallback)
// 3. _gc._tcp.<domain> (Global Catalog - last resort).
func (d *SRVDiscovery) DiscoverServers(ctx context.Context, domain string) ([]*ServerInfo, error) {
	if domain == "" {
		return nil, fmt.Errorf("domain cannot be empty")
	}

	start := time.Now()
	logger := Subsystem(ctx, "ldap")
	logger.Debug("Starting server discovery for domain", "domain", domain)

	var allServers []*ServerInfo

	srvRecords := []struct {
		service string
		useTLS  bool
	}{
		{"_ldaps._tcp." + domain, true},
		{"_ldap._tcp." + domain, false},
		{"_gc._tcp." + domain, false},
	}

	for _, record := range srvRecords {
		servers, err := d.lookupSRV(ctx, record.service, record.useTLS)
		if err != nil {
			logger.Debug("SRV lookup failed, continuing to next service", "service", record.service, "error", err.Error())
			continue
		}
		allServers = append(allServers, servers...)

		// LDAPS servers win outright
		if record.useTLS {
			break
		}
	}

	if len(allServers) == 0 {
		logger.Warn("No SRV records found, using fallback servers", "domain", domain)
		return fallbackServers(domain), nil
	}

	sortServersByPriority(allServers)

	logger.Debug("Server discovery completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"server_count", len(allServers))
	return allServers, nil
}

// lookupSRV performs SRV record lookup for a specific service.
func (d *SRVDiscovery) lookupSRV(ctx context.Context, service string, useTLS bool) ([]*ServerInfo, error) {
	_, srvRecords, err := d.resolver.LookupSRV(ctx, "", "", service)
	if err != nil {
		return nil, fmt.Errorf("SRV lookup failed for %s: %w", service, err)
	}
	if len(srvRecords) == 0 {
		return nil, fmt.Errorf("no SRV records found for %s", service)
	}

	servers := make([]*ServerInfo, 0, len(srvRecords))
	for _, srv := range srvRecords {
		servers = append(servers, &ServerInfo{
			Host:     strings.TrimSuffix(srv.Target, "."),
			Port:     int(srv.Port),
			UseTLS:   useTLS,
			Priority: int(srv.Priority),
			Weight:   int(srv.Weight),
			Source:   "srv",
		})
	}
	return servers, nil
}

// fallbackServers targets the domain name itself on the standard ports.
func fallbackServers(domain string) []*ServerInfo {
	return []*ServerInfo{
		{Host: domain, Port: 636, UseTLS: true, Priority: 0, Weight: 100, Source: "fallback"},
		{Host: domain, Port: 389, UseTLS: false, Priority: 1, Weight: 100, Source: "fallback"},
	}
}

// sortServersByPriority sorts servers by ascending priority, then descending weight (RFC 2782).
func sortServersByPriority(servers []*ServerInfo) {
	sort.SliceStable(servers, func(i, j int) bool {
		if servers[i].Priority != servers[j].Priority {
			return servers[i].Priority < servers[j].Priority
		}
		return servers[i].Weight > servers[j].Weight
	})
}

// DiscoverURLs returns the LDAP URLs of the domain controllers of domain, in preference order.
func (d *SRVDiscovery) DiscoverURLs(ctx context.Context, domain string) ([]string, error) {
	servers, err := d.DiscoverServers(ctx, domain)
	if err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(servers))
	for _, server := range servers {
		if err := ValidateServerInfo(server); err != nil {
			Subsystem(ctx, "ldap").Debug("Ignoring invalid server", "host", server.Host, "error", err.Error())
			continue
		}
		urls = append(urls, ServerInfoToURL(server))
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("no usable domain controllers found for %s", domain)
	}
	return urls, nil
}

// ValidateServerInfo validates server information.
func ValidateServerInfo(server *ServerInfo) error {
	if server == nil {
		return fmt.Errorf("server info cannot be nil")
	}

	if server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if server.Port <= 0 || server.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", server.Port)
	}

	if server.Priority < 0 {
		return fmt.Errorf("priority cannot be negative: %d", server.Priority)
	}

	if server.Weight < 0 {
		return fmt.Errorf("weight cannot be negative: %d", server.Weight)
	}

	return nil
}

// ServerInfoToURL converts ServerInfo to LDAP URL.
func ServerInfoToURL(server *ServerInfo) string {
	scheme := "ldap"
	if server.UseTLS {
		scheme = "ldaps"
	}

	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(server.Host, strconv.Itoa(server.Port)))
}

// ParseLDAPURL parses an LDAP URL into ServerInfo. Missing ports take the
// scheme default.
func ParseLDAPURL(raw string) (*ServerInfo, error) {
	if raw == "" {
		return nil, fmt.Errorf("URL cannot be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid LDAP URL %q: %w", raw, err)
	}

	server := &ServerInfo{
		Host:   u.Hostname(),
		Weight: 100,
		Source: "config",
	}

	switch u.Scheme {
	case "ldaps":
		server.UseTLS = true
		server.Port = 636
	case "ldap":
		server.Port = 389
	default:
		return nil, fmt.Errorf("unsupported scheme, must be ldap:// or ldaps://")
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port number: %s", p)
		}
		server.Port = port
	}

	return server, ValidateServerInfo(server)
}
