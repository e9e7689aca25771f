package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/cli"

	"github.com/isometry/haridsync/internal/secret"
)

// PublicKeyCommand prints the public half of the configured private key.
type PublicKeyCommand struct {
	UI cli.Ui
}

func (c *PublicKeyCommand) Synopsis() string {
	return "Print the public key to enter in the portal"
}

func (c *PublicKeyCommand) Help() string {
	return strings.TrimSpace(`
Usage: haridsync public-key [options]

  Prints the public key of the configured private key.

Options:

  -config=path      Settings YAML file (default /etc/haridsync/haridsync.yml).
  -key=file         Private key file.
`)
}

func (c *PublicKeyCommand) Run(args []string) int {
	var flags commonFlags
	fs := newFlagSet("public-key")
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		c.UI.Error(err.Error())
		c.UI.Error(c.Help())
		return 1
	}

	cfg, err := flags.load()
	if err != nil {
		c.UI.Error(fmt.Sprintf("Failed to load settings: %s", err))
		return 1
	}
	return printPublicKey(c.UI, cfg.PrivateKeyPath())
}

func printPublicKey(ui cli.Ui, keyPath string) int {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		ui.Error("Private key file does not exist. Run setup to generate a new keypair.")
		return 1
	}
	key, err := secret.LoadPrivateKey(data)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	pub, err := secret.PublicKeyPEM(key)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}

	ui.Output("Public key:\n")
	ui.Output(strings.TrimSpace(string(pub)))
	ui.Output("\nEnter this key in the portal settings before running sync.")
	return 0
}
