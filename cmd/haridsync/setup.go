package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/cli"

	"github.com/isometry/haridsync/internal/config"
	"github.com/isometry/haridsync/internal/secret"
)

// SetupCommand writes a settings file and private key when they are missing.
type SetupCommand struct {
	UI cli.Ui
}

func (c *SetupCommand) Synopsis() string {
	return "Create the settings file and keypair"
}

func (c *SetupCommand) Help() string {
	return strings.TrimSpace(`
Usage: haridsync setup [options]

  Writes an example settings file unless one exists, generates a new RSA
  private key unless one exists, and prints the public key to enter in the
  portal. An existing key is never replaced; remove it first to rotate.

Options:

  -config=path      Settings YAML file (default /etc/haridsync/haridsync.yml).
  -host=name        Portal host name to write into a new settings file.
  -username=user    Portal API user to write into a new settings file.
  -secret=secret    Portal API secret to write into a new settings file.
  -key=file         Private key file name to write into a new settings file.
`)
}

func (c *SetupCommand) Run(args []string) int {
	var flags commonFlags
	fs := newFlagSet("setup")
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		c.UI.Error(err.Error())
		c.UI.Error(c.Help())
		return 1
	}

	if err := c.writeSettings(&flags); err != nil {
		c.UI.Error(err.Error())
		return 1
	}

	cfg, err := flags.load()
	if err != nil {
		c.UI.Error(fmt.Sprintf("Failed to load settings: %s", err))
		return 1
	}

	keyPath := cfg.PrivateKeyPath()
	if _, err := os.Stat(keyPath); err == nil {
		c.UI.Info(fmt.Sprintf("Private key exists in %s.\nTo generate a new key, remove the existing key file and run setup again.", keyPath))
	} else {
		c.UI.Info("Generating new haridsync keypair")
		key, err := secret.GenerateKey()
		if err != nil {
			c.UI.Error(err.Error())
			return 1
		}
		if err := writeNew(keyPath, secret.PrivateKeyPEM(key), 0o600); err != nil {
			c.UI.Error(fmt.Sprintf("Failed to write private key: %s", err))
			return 1
		}
		c.UI.Info(fmt.Sprintf("Private key written to %s", keyPath))
	}

	return printPublicKey(c.UI, keyPath)
}

// writeSettings creates the settings file from the example unless it exists.
func (c *SetupCommand) writeSettings(flags *commonFlags) error {
	if _, err := os.Stat(flags.configFile); err == nil {
		c.UI.Info(fmt.Sprintf("Settings file %s exists, leaving it unchanged.", flags.configFile))
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to check settings file: %w", err)
	}

	values := map[string]string{}
	for key, value := range map[string]string{
		"portal.host":      flags.host,
		"portal.username":  flags.username,
		"portal.secret":    flags.secret,
		"sync.private_key": flags.privateKey,
	} {
		if value != "" {
			values[key] = value
		}
	}

	data, err := config.RenderExample(values)
	if err != nil {
		return err
	}
	if err := writeNew(flags.configFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	c.UI.Info(fmt.Sprintf("Settings written to %s; edit it and set enabled: true.", flags.configFile))
	return nil
}

// writeNew writes data to a file that must not exist yet.
func writeNew(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
