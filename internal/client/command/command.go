// Package command implements the certdeploy-client CLI entrypoint: the
// restricted SFTP endpoint and the update coordinator it drives.
package command

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mitchellh/cli"

	"github.com/haxwithaxe/certdeploy-go/internal/certdeploy"
	certdeploycli "github.com/haxwithaxe/certdeploy-go/internal/cli"
	"github.com/haxwithaxe/certdeploy-go/internal/client/config"
	"github.com/haxwithaxe/certdeploy-go/internal/client/coordinator"
	"github.com/haxwithaxe/certdeploy-go/internal/client/sftpd"
	"github.com/haxwithaxe/certdeploy-go/internal/common"
)

const help = `Usage: certdeploy-client [options]

  Runs the CertDeploy client: a restricted SFTP endpoint that promotes
  pushed certificate lineages and runs the configured service updates.`

// Command is the certdeploy-client CLI command.
type Command struct {
	*certdeploycli.CommonCLI

	flagConfig          string
	flagDaemon          bool
	flagLogFilename     string
	flagSFTPLogLevel    string
	flagSFTPLogFilename string
}

// New builds the certdeploy-client command, registering its flags on top of
// CommonCLI's shared logging flags.
func New(ctx context.Context, ui cli.Ui, logOutput io.Writer) *Command {
	c := &Command{}
	c.CommonCLI = certdeploycli.NewCommonCLI(ctx, help, "Runs the CertDeploy client", ui, logOutput, "certdeploy-client")
	c.init()
	return c
}

func (c *Command) init() {
	c.Flags.StringVar(&c.flagConfig, "config", "", "Path to the client config file. Defaults to "+certdeploy.DefaultClientConfig+".")
	c.Flags.BoolVar(&c.flagDaemon, "daemon", false, "Accepted for CLI parity with the server; the client always runs its SFTP endpoint in the foreground.")
	c.Flags.StringVar(&c.flagLogFilename, "log-filename", "", "Path to write logs to. Defaults to the config file value, or stdout.")
	c.Flags.StringVar(&c.flagSFTPLogLevel, "sftp-log-level", "", "Log level for the SFTP endpoint. Defaults to the config file value.")
	c.Flags.StringVar(&c.flagSFTPLogFilename, "sftp-log-filename", "", "Path to write SFTP endpoint logs to.")
}

// Run implements cli.Command.
func (c *Command) Run(args []string) int {
	ctx, cancel := context.WithCancel(c.Context())
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(interrupt)
		cancel()
	}()
	go func() {
		select {
		case <-interrupt:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := c.Parse(args); err != nil {
		return 1
	}

	configPath := c.flagConfig
	if configPath == "" {
		configPath = certdeploycli.EnvOr("CERTDEPLOY_CLIENT_CONFIG", certdeploy.DefaultClientConfig)
	}

	overrides := config.Overrides{
		LogLevel:    certdeploycli.EnvOr("CERTDEPLOY_CLIENT_LOG_LEVEL", c.LogLevel()),
		LogFilename: certdeploycli.EnvOr("CERTDEPLOY_CLIENT_LOG_FILENAME", c.flagLogFilename),
	}

	cfg, err := config.Load(configPath, overrides)
	if err != nil {
		return c.Error("loading config", err)
	}

	logOutput, err := common.OpenLogFile(cfg.LogFilename, c.Output())
	if err != nil {
		return c.Error("opening log file", err)
	}
	logger := c.Logger(logOutput, string(cfg.LogLevel), certdeploy.CertDeployClientLoggerName)

	sftpLogLevel := certdeploycli.EnvOr("CERTDEPLOY_CLIENT_SFTP_LOG_LEVEL", c.flagSFTPLogLevel)
	if sftpLogLevel == "" {
		sftpLogLevel = string(cfg.SFTPD.LogLevel)
	}
	sftpLogFilename := certdeploycli.EnvOr("CERTDEPLOY_CLIENT_SFTP_LOG_FILENAME", c.flagSFTPLogFilename)
	if sftpLogFilename == "" {
		sftpLogFilename = cfg.SFTPD.LogFilename
	}
	sftpLogOutput, err := common.OpenLogFile(sftpLogFilename, c.Output())
	if err != nil {
		return c.Error("opening sftp log file", err)
	}
	sftpLogger := c.Logger(sftpLogOutput, sftpLogLevel, certdeploy.SFTPLoggerName)

	coord := coordinator.New(cfg, logger.Named("coordinator"))
	server, err := sftpd.New(cfg.SFTPD, cfg.Source, coord, sftpLogger)
	if err != nil {
		return certdeploycli.LogAndDie(logger, "building sftp endpoint", err)
	}

	if err := server.ListenAndServe(ctx); err != nil {
		return certdeploycli.LogAndDie(logger, "running sftp endpoint", err)
	}
	return certdeploycli.LogSuccess(logger, "shutting down")
}
