package main

import (
	"flag"
	"io"
	"path/filepath"

	"github.com/isometry/haridsync/internal/config"
)

// commonFlags are accepted by every command.
type commonFlags struct {
	configFile string
	envFile    string
	host       string
	username   string
	secret     string
	privateKey string
}

func (f *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configFile, "config", filepath.Join(config.DefaultDir, config.DefaultFile), "Settings YAML file.")
	fs.StringVar(&f.configFile, "c", filepath.Join(config.DefaultDir, config.DefaultFile), "Shorthand for -config.")
	fs.StringVar(&f.envFile, "env-file", ".env", "Dotenv file with HARIDSYNC_* overrides.")
	fs.StringVar(&f.host, "host", "", "Portal host name; must match the portal settings.")
	fs.StringVar(&f.username, "username", "", "Portal API user.")
	fs.StringVar(&f.secret, "secret", "", "Portal API secret.")
	fs.StringVar(&f.privateKey, "key", "", "Private key file, relative to the settings directory.")
}

// apply overrides cfg with the flags that were set.
func (f *commonFlags) apply(cfg *config.Config) {
	if f.host != "" {
		cfg.Portal.Host = f.host
	}
	if f.username != "" {
		cfg.Portal.Username = f.username
	}
	if f.secret != "" {
		cfg.Portal.Secret = f.secret
	}
	if f.privateKey != "" {
		cfg.Sync.PrivateKey = f.privateKey
	}
}

// load reads the dotenv file and the settings file, then applies the flags.
func (f *commonFlags) load() (*config.Config, error) {
	if err := config.LoadDotenv(f.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOrDefault(f.configFile)
	if err != nil {
		return nil, err
	}
	f.apply(cfg)
	return cfg, nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}
