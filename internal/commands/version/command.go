// Package version implements the "version" subcommand shared by the
// certdeploy-server and certdeploy-client binaries.
package version

import (
	"fmt"

	"github.com/mitchellh/cli"
)

// Command prints Name and Version, as set by the binary's main package.
type Command struct {
	UI      cli.Ui
	Name    string
	Version string
}

func (c *Command) Run([]string) int {
	c.UI.Output(fmt.Sprintf("%s %s", c.Name, c.Version))
	return 0
}

func (c *Command) Synopsis() string {
	return "Prints the version"
}

func (c *Command) Help() string {
	return ""
}
