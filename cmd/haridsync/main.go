// Command haridsync reconciles Active Directory users and groups with the
// HarID portal.
package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(realMain(os.Args[1:], newUI()))
}

func newUI() cli.Ui {
	return &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}
}

func realMain(args []string, ui cli.Ui) int {
	c := cli.NewCLI("haridsync", version)
	c.Args = args
	c.Commands = commands(ui)
	c.HelpWriter = os.Stdout
	c.ErrorWriter = os.Stderr

	status, err := c.Run()
	if err != nil {
		ui.Error(fmt.Sprintf("Error executing CLI: %s", err))
		return 1
	}
	return status
}

func commands(ui cli.Ui) map[string]cli.CommandFactory {
	syncFactory := func() (cli.Command, error) {
		return &SyncCommand{UI: ui}, nil
	}
	return map[string]cli.CommandFactory{
		"":     syncFactory,
		"sync": syncFactory,
		"setup": func() (cli.Command, error) {
			return &SetupCommand{UI: ui}, nil
		},
		"public-key": func() (cli.Command, error) {
			return &PublicKeyCommand{UI: ui}, nil
		},
	}
}
