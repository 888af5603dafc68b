// Command certdeploy-server runs the CertDeploy server: the renewal
// scheduler, and the enqueue-and-push hook invoked after a certificate
// renews.
package main

import (
	"context"
	"io"
	"log"
	"os"

	"github.com/mitchellh/cli"

	cmdVersion "github.com/haxwithaxe/certdeploy-go/internal/commands/version"
	"github.com/haxwithaxe/certdeploy-go/internal/server/command"
	"github.com/haxwithaxe/certdeploy-go/internal/version"
)

func main() {
	ui := &cli.BasicUi{Writer: os.Stdout, ErrorWriter: os.Stderr}
	os.Exit(run(os.Args[1:], ui, os.Stdout))
}

func run(args []string, ui cli.Ui, logOutput io.Writer) int {
	c := cli.NewCLI("certdeploy-server", version.GetHumanVersion())
	c.Args = args
	c.Commands = map[string]cli.CommandFactory{
		"": func() (cli.Command, error) {
			return command.New(context.Background(), ui, logOutput), nil
		},
		"version": func() (cli.Command, error) {
			return &cmdVersion.Command{UI: ui, Name: "certdeploy-server", Version: version.GetHumanVersion()}, nil
		},
	}
	c.HelpWriter = logOutput

	exitStatus, err := c.Run()
	if err != nil {
		log.Println(err)
	}
	return exitStatus
}
