// Command certdeploy-client runs the CertDeploy client: a restricted SFTP
// endpoint that promotes pushed certificate lineages and runs the
// configured service updates.
package main

import (
	"context"
	"io"
	"log"
	"os"

	"github.com/mitchellh/cli"

	"github.com/haxwithaxe/certdeploy-go/internal/client/command"
	cmdVersion "github.com/haxwithaxe/certdeploy-go/internal/commands/version"
	"github.com/haxwithaxe/certdeploy-go/internal/version"
)

func main() {
	ui := &cli.BasicUi{Writer: os.Stdout, ErrorWriter: os.Stderr}
	os.Exit(run(os.Args[1:], ui, os.Stdout))
}

func run(args []string, ui cli.Ui, logOutput io.Writer) int {
	c := cli.NewCLI("certdeploy-client", version.GetHumanVersion())
	c.Args = args
	c.Commands = map[string]cli.CommandFactory{
		"": func() (cli.Command, error) {
			return command.New(context.Background(), ui, logOutput), nil
		},
		"version": func() (cli.Command, error) {
			return &cmdVersion.Command{UI: ui, Name: "certdeploy-client", Version: version.GetHumanVersion()}, nil
		},
	}
	c.HelpWriter = logOutput

	exitStatus, err := c.Run()
	if err != nil {
		log.Println(err)
	}
	return exitStatus
}
