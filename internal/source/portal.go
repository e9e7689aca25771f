package source

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"
)

// Collections of the portal API, in fetch order.
const (
	CollectionUsers         = "users"
	CollectionGroups        = "groups"
	CollectionDeletedUsers  = "deleted_users"
	CollectionDeletedGroups = "deleted_groups"
)

// PortalConfig configures access to the identity portal.
type PortalConfig struct {
	Host               string // host name or base URL; https:// is assumed
	Username           string
	Secret             string
	CACertFile         string // PEM bundle; system roots when empty
	APIVersion         int    // 2 for HarID (ad_users.json), 1 for Candibox (users.json)
	InsecureSkipVerify bool
	Timeout            time.Duration
	RetryMax           int
}

// PortalError reports a non-success HTTP response.
type PortalError struct {
	URL        string
	StatusCode int
	Status     string
	Body       string
}

func (e *PortalError) Error() string {
	msg := fmt.Sprintf("portal request %s failed: HTTP %s", e.URL, e.Status)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// PortalFetcher downloads the four collections over HTTPS.
type PortalFetcher struct {
	config PortalConfig
	client *retryablehttp.Client
	logger hclog.Logger
}

// NewPortalFetcher builds a fetcher. logger receives request and retry logs.
func NewPortalFetcher(cfg PortalConfig, logger hclog.Logger) (*PortalFetcher, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("portal host is required")
	}
	if cfg.APIVersion == 0 {
		cfg.APIVersion = 2
	}
	if cfg.APIVersion != 1 && cfg.APIVersion != 2 {
		return nil, fmt.Errorf("unsupported portal API version %d", cfg.APIVersion)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.CACertFile != "" {
		pool, err := loadCertPool(cfg.CACertFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{Transport: transport, Timeout: cfg.Timeout}
	client.Logger = logger.Named("http")
	if cfg.RetryMax > 0 {
		client.RetryMax = cfg.RetryMax
	}

	return &PortalFetcher{config: cfg, client: client, logger: logger}, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read portal CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// URL returns the endpoint of a collection.
func (p *PortalFetcher) URL(collection string) string {
	base := p.config.Host
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	base = strings.TrimSuffix(base, "/")

	name := collection
	if p.config.APIVersion == 2 {
		switch collection {
		case CollectionDeletedUsers:
			name = "deleted_ad_users"
		case CollectionDeletedGroups:
			name = "deleted_ad_groups"
		default:
			name = "ad_" + collection
		}
	}

	return fmt.Sprintf("%s/api/v%d/%s.json", base, p.config.APIVersion, name)
}

// Snapshot fetches users, groups, deleted users and deleted groups.
func (p *PortalFetcher) Snapshot(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	targets := []struct {
		collection string
		into       *[]Record
	}{
		{CollectionUsers, &snap.Users},
		{CollectionGroups, &snap.Groups},
		{CollectionDeletedUsers, &snap.DeletedUsers},
		{CollectionDeletedGroups, &snap.DeletedGroups},
	}

	for _, target := range targets {
		records, err := p.fetch(ctx, target.collection)
		if err != nil {
			return nil, err
		}
		*target.into = records
	}

	return &snap, nil
}

func (p *PortalFetcher) fetch(ctx context.Context, collection string) ([]Record, error) {
	url := p.URL(collection)
	start := time.Now()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/json")
	if p.config.Username != "" && p.config.Secret != "" {
		req.SetBasicAuth(p.config.Username, p.config.Secret)
	}

	p.logger.Debug("GET request", "url", url)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &PortalError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	records, err := DecodeRecords(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", url, err)
	}

	p.logger.Info("Fetched collection",
		"collection", collection,
		"records", len(records),
		"duration_ms", time.Since(start).Milliseconds())
	return records, nil
}
