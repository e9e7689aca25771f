package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hashicorp/cli"
	"github.com/hashicorp/go-hclog"

	"github.com/isometry/haridsync/internal/config"
	adldap "github.com/isometry/haridsync/internal/ldap"
	"github.com/isometry/haridsync/internal/mapping"
	"github.com/isometry/haridsync/internal/metrics"
	"github.com/isometry/haridsync/internal/naming"
	"github.com/isometry/haridsync/internal/placement"
	"github.com/isometry/haridsync/internal/reconcile"
	"github.com/isometry/haridsync/internal/secret"
	"github.com/isometry/haridsync/internal/source"
)

// SyncCommand runs one reconciliation.
type SyncCommand struct {
	UI cli.Ui

	// newClient opens the directory client; tests replace it.
	newClient func(*adldap.ConnectionConfig) (adldap.Client, error)
}

func (c *SyncCommand) Synopsis() string {
	return "Update directory users and groups from the portal"
}

func (c *SyncCommand) Help() string {
	return strings.TrimSpace(`
Usage: haridsync sync [options]

  Fetches users, groups and deletions from the portal (or a snapshot file)
  and creates, updates, moves and deletes the matching directory entries.
  Entities that fail are reported and skipped; the exit status is non-zero
  only when the run could not complete.

Options:

  -config=path      Settings YAML file (default /etc/haridsync/haridsync.yml).
  -env-file=path    Dotenv file with HARIDSYNC_* overrides (default .env).
  -host=name        Portal host name.
  -username=user    Portal API user.
  -secret=secret    Portal API secret.
  -key=file         Private key file.
  -snapshot=file    Read a JSON snapshot instead of calling the portal.
  -log-level=level  trace, debug, info, warn or error.
  -log-json         Log as JSON.
`)
}

func (c *SyncCommand) Run(args []string) int {
	var (
		flags      commonFlags
		snapshot   string
		logLevel   string
		logJSON    bool
		logJSONSet bool
	)
	fs := newFlagSet("sync")
	flags.register(fs)
	fs.StringVar(&snapshot, "snapshot", "", "")
	fs.StringVar(&logLevel, "log-level", "", "")
	fs.BoolVar(&logJSON, "log-json", false, "")
	if err := fs.Parse(args); err != nil {
		c.UI.Error(err.Error())
		c.UI.Error(c.Help())
		return 1
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "log-json" {
			logJSONSet = true
		}
	})

	cfg, err := flags.load()
	if err != nil {
		c.UI.Error(fmt.Sprintf("Failed to load settings: %s", err))
		return 1
	}
	if snapshot != "" {
		cfg.Portal.SnapshotFile = snapshot
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logJSONSet {
		cfg.Log.JSON = logJSON
	}

	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrDisabled) {
			c.UI.Warn(err.Error())
			return 0
		}
		c.UI.Error(fmt.Sprintf("Invalid settings in %s: %s. Try running 'haridsync setup'.", cfg.Path(), err))
		return 1
	}

	logger := newLogger(cfg, os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = adldap.WithLogger(ctx, logger)

	report, err := c.sync(ctx, cfg, logger)
	if report != nil {
		if _, werr := report.WriteTo(uiWriter{c.UI}); werr != nil {
			logger.Warn("Failed to write report", "error", werr)
		}
	}
	if err != nil {
		c.UI.Error(err.Error())
		return 1
	}
	c.UI.Output("All done.")
	return 0
}

// sync performs the run. A non-nil error means the run did not complete.
func (c *SyncCommand) sync(ctx context.Context, cfg *config.Config, logger hclog.Logger) (*reconcile.Report, error) {
	recorder := metrics.NewRecorder()
	report, err := c.run(ctx, cfg, logger, recorder)
	recorder.RunFinished(report, err)

	if cfg.Metrics.PushgatewayURL != "" {
		pusher := &metrics.Pusher{URL: cfg.Metrics.PushgatewayURL, Job: cfg.Metrics.Job}
		host, _ := os.Hostname()
		if perr := pusher.Push(context.WithoutCancel(ctx), recorder.Registry(), host); perr != nil {
			logger.Warn("Failed to push metrics", "error", perr)
		}
	}
	return report, err
}

func (c *SyncCommand) run(ctx context.Context, cfg *config.Config, logger hclog.Logger, recorder *metrics.Recorder) (*reconcile.Report, error) {
	keyPEM, err := os.ReadFile(cfg.PrivateKeyPath())
	if err != nil {
		return nil, &secret.KeyLoadError{Reason: "cannot read " + cfg.PrivateKeyPath(), Err: err}
	}
	key, err := secret.LoadPrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}

	fetcher, err := newFetcher(cfg, logger)
	if err != nil {
		return nil, err
	}

	connCfg, err := cfg.Connection()
	if err != nil {
		return nil, err
	}
	newClient := c.newClient
	if newClient == nil {
		newClient = adldap.NewClient
	}
	client, err := newClient(connCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory client: %w", err)
	}
	defer client.Close()
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("could not establish directory connection: %w", err)
	}

	snap, err := fetcher.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	recorder.SnapshotFetched(snap.Counts())

	engine, err := newEngine(cfg, client, key, recorder)
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx, snap)
}

func newFetcher(cfg *config.Config, logger hclog.Logger) (source.Fetcher, error) {
	if cfg.Portal.SnapshotFile != "" {
		return &source.FileFetcher{Path: cfg.Resolve(cfg.Portal.SnapshotFile)}, nil
	}
	fetcher, err := source.NewPortalFetcher(cfg.SourcePortal(), logger.Named("source"))
	if err != nil {
		return nil, err
	}
	return fetcher, nil
}

// newEngine wires the reconciliation components for one run.
func newEngine(cfg *config.Config, client adldap.Client, key *rsa.PrivateKey, observer reconcile.Observer) (*reconcile.Engine, error) {
	repo := adldap.NewEntryRepository(client, cfg.Repository())

	members, err := mapping.NewMemberResolver(repo, cfg.Sync.MemberCacheSize)
	if err != nil {
		return nil, err
	}

	mapper := mapping.NewMapper(mapping.Config{
		BaseDN:        cfg.LDAP.BaseDN,
		GroupScope:    cfg.GroupScope(),
		GroupCategory: cfg.GroupCategory(),
		Names:         naming.NewDisambiguator(repo),
		Secrets:       secret.NewDecryptor(key, cfg.Sync.PlaceholderLength),
		Members:       members,
	})

	return reconcile.NewEngine(reconcile.Config{
		Repository:     repo,
		Mapper:         mapper,
		UserPlacement:  placement.NewResolver(cfg.LDAP.BaseDN, cfg.Sync.UserOUDefault, repo),
		GroupPlacement: placement.NewResolver(cfg.LDAP.BaseDN, cfg.Sync.GroupOUDefault, repo),
		Observer:       observer,
	})
}

// newLogger builds the root logger from the log settings.
func newLogger(cfg *config.Config, out io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "haridsync",
		Level:      cfg.LogLevel(),
		JSONFormat: cfg.Log.JSON,
		Output:     out,
	})
}

// uiWriter writes report lines through the UI.
type uiWriter struct {
	ui cli.Ui
}

func (w uiWriter) Write(p []byte) (int, error) {
	w.ui.Output(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
