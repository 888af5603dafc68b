// Package command implements the certdeploy-server CLI entrypoint: the
// renewal scheduler, the synchronous enqueue/push hook, and the long-running
// daemon that ties them together.
package command

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"golang.org/x/sync/errgroup"

	"github.com/haxwithaxe/certdeploy-go/internal/certdeploy"
	certdeploycli "github.com/haxwithaxe/certdeploy-go/internal/cli"
	"github.com/haxwithaxe/certdeploy-go/internal/common"
	"github.com/haxwithaxe/certdeploy-go/internal/metrics"
	"github.com/haxwithaxe/certdeploy-go/internal/server/config"
	"github.com/haxwithaxe/certdeploy-go/internal/server/push"
	"github.com/haxwithaxe/certdeploy-go/internal/server/queue"
	"github.com/haxwithaxe/certdeploy-go/internal/server/renew"
)

const help = `Usage: certdeploy-server [options]

  Runs the CertDeploy server: the renewal scheduler, and/or the
  enqueue-and-push hook invoked after a certificate renews.`

// Command is the certdeploy-server CLI command.
type Command struct {
	*certdeploycli.CommonCLI

	flagConfig          string
	flagDaemon          bool
	flagRenew           bool
	flagPush            bool
	flagLineage         string
	flagDomains         string
	flagLogFilename     string
	flagSFTPLogLevel    string
	flagSFTPLogFilename string
	flagMetricsPort     int
}

// New builds the certdeploy-server command, registering its flags on top of
// CommonCLI's shared logging flags.
func New(ctx context.Context, ui cli.Ui, logOutput io.Writer) *Command {
	c := &Command{}
	c.CommonCLI = certdeploycli.NewCommonCLI(ctx, help, "Runs the CertDeploy server", ui, logOutput, "certdeploy-server")
	c.init()
	return c
}

func (c *Command) init() {
	c.Flags.StringVar(&c.flagConfig, "config", "", "Path to the server config file. Defaults to "+certdeploy.DefaultServerConfig+".")
	c.Flags.BoolVar(&c.flagDaemon, "daemon", false, "Run the renewal scheduler forever instead of exiting after one hook invocation.")
	c.Flags.BoolVar(&c.flagRenew, "renew", false, "Run the renewal command once and exit.")
	c.Flags.BoolVar(&c.flagPush, "push", false, "Drain the push queue and deliver every pending lineage.")
	c.Flags.StringVar(&c.flagLineage, "lineage", "", "Path to the renewed lineage directory to enqueue. Defaults to $RENEWED_LINEAGE.")
	c.Flags.StringVar(&c.flagDomains, "domains", "", `Space-separated domains the renewed lineage covers. Defaults to $RENEWED_DOMAINS.`)
	c.Flags.StringVar(&c.flagLogFilename, "log-filename", "", "Path to write logs to. Defaults to the config file value, or stdout.")
	c.Flags.StringVar(&c.flagSFTPLogLevel, "sftp-log-level", "", "Log level for the push worker's SFTP transport.")
	c.Flags.StringVar(&c.flagSFTPLogFilename, "sftp-log-filename", "", "Path to write SFTP transport logs to.")
	c.Flags.IntVar(&c.flagMetricsPort, "metrics-port", 0, "Port to expose Prometheus metrics on. Metrics are disabled if unset.")
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
		configPath = certdeploycli.EnvOr("CERTDEPLOY_SERVER_CONFIG", certdeploy.DefaultServerConfig)
	}

	daemon := c.flagDaemon || certdeploycli.EnvBool("CERTDEPLOY_SERVER_DAEMON")
	renewOnly := c.flagRenew || certdeploycli.EnvBool("CERTDEPLOY_SERVER_RENEW_ONLY")
	pushOnly := c.flagPush || certdeploycli.EnvBool("CERTDEPLOY_SERVER_PUSH_ONLY")

	lineagePath := c.flagLineage
	if lineagePath == "" {
		lineagePath = os.Getenv("RENEWED_LINEAGE")
	}
	domainsRaw := c.flagDomains
	if domainsRaw == "" {
		domainsRaw = os.Getenv("RENEWED_DOMAINS")
	}

	if daemon && (lineagePath != "" || domainsRaw != "") {
		return c.Error("parsing flags", fmt.Errorf("--daemon cannot be combined with --lineage/--domains"))
	}

	overrides := config.Overrides{
		LogLevel:        certdeploycli.EnvOr("CERTDEPLOY_SERVER_LOG_LEVEL", c.LogLevel()),
		LogFilename:     certdeploycli.EnvOr("CERTDEPLOY_SERVER_LOG_FILENAME", c.flagLogFilename),
		SFTPLogLevel:    certdeploycli.EnvOr("CERTDEPLOY_SFTP_LOG_LEVEL", c.flagSFTPLogLevel),
		SFTPLogFilename: certdeploycli.EnvOr("CERTDEPLOY_SFTP_LOG_FILENAME", c.flagSFTPLogFilename),
	}

	cfg, err := config.Load(configPath, overrides)
	if err != nil {
		return c.Error("loading config", err)
	}

	logOutput, err := common.OpenLogFile(cfg.LogFilename, c.Output())
	if err != nil {
		return c.Error("opening log file", err)
	}
	logger := c.Logger(logOutput, string(cfg.LogLevel), certdeploy.CertDeployServerLoggerName)

	sftpLogOutput, err := common.OpenLogFile(cfg.SFTPLogFilename, c.Output())
	if err != nil {
		return c.Error("opening sftp log file", err)
	}
	sftpLogger := c.Logger(sftpLogOutput, string(cfg.SFTPLogLevel), certdeploy.SFTPLoggerName)

	if renewOnly {
		scheduler, err := renew.New(cfg, logger.Named("renew"))
		if err != nil {
			return certdeploycli.LogAndDie(logger, "building renewal scheduler", err)
		}
		if err := scheduler.Once(ctx); err != nil {
			return certdeploycli.LogAndDie(logger, "running renewal", err)
		}
		return certdeploycli.LogSuccess(logger, "renewal finished")
	}

	if daemon && !pushOnly {
		return c.runDaemon(ctx, cfg, logger)
	}

	if lineagePath == "" || domainsRaw == "" {
		if !pushOnly {
			return c.Error("parsing flags", fmt.Errorf("--lineage and --domains (or RENEWED_LINEAGE/RENEWED_DOMAINS) are required unless --push is given alone"))
		}
	}

	q := queue.New(cfg.QueueDir)
	if lineagePath != "" && domainsRaw != "" {
		if err := c.enqueue(q, cfg, logger, lineagePath, domainsRaw); err != nil {
			return certdeploycli.LogAndDie(logger, "enqueuing lineage", err)
		}
	}

	if !pushOnly {
		return certdeploycli.LogSuccess(logger, "lineage enqueued")
	}

	return c.runPush(ctx, cfg, q, logger, sftpLogger)
}

func (c *Command) enqueue(q *queue.Queue, cfg *config.Config, logger hclog.Logger, lineagePath, domainsRaw string) error {
	domains := strings.Fields(domainsRaw)
	lineageName := filepath.Base(lineagePath)

	matched := 0
	for _, client := range cfg.Clients {
		if !client.MatchesDomains(domains) {
			continue
		}
		item := queue.Item{Identity: client.Identity, LineagePath: lineagePath, LineageName: lineageName}
		if err := q.Enqueue(item); err != nil {
			return err
		}
		matched++
	}
	logger.Info("enqueued lineage", "lineage", lineageName, "domains", domains, "clients_matched", matched)
	return nil
}

func (c *Command) runPush(ctx context.Context, cfg *config.Config, q *queue.Queue, logger, sftpLogger hclog.Logger) int {
	worker, err := push.NewWorker(cfg.PrivkeyFilename, cfg.PushRetries, cfg.PushRetryInterval, cfg.FailFast, sftpLogger)
	if err != nil {
		return certdeploycli.LogAndDie(logger, "building push worker", err)
	}
	dispatcher := push.NewDispatcher(worker, cfg, logger.Named("push"))

	items, err := q.Drain()
	if err != nil {
		return certdeploycli.LogAndDie(logger, "draining queue", err)
	}

	jobs := make([]push.Job, 0, len(items))
	for _, item := range items {
		client := findClient(cfg.Clients, item.Identity)
		if client == nil {
			logger.Warn("dropping queued item for unknown client", "identity", item.Identity)
			continue
		}
		jobs = append(jobs, push.Job{Client: client, LineagePath: item.LineagePath, LineageName: item.LineageName})
	}

	if len(jobs) == 0 {
		return certdeploycli.LogSuccess(logger, "nothing queued to push")
	}

	if err := dispatcher.Dispatch(ctx, jobs); err != nil {
		return certdeploycli.LogAndDie(logger, "pushing queued lineages", err)
	}
	return certdeploycli.LogSuccess(logger, "push finished")
}

func (c *Command) runDaemon(ctx context.Context, cfg *config.Config, logger hclog.Logger) int {
	scheduler, err := renew.New(cfg, logger.Named("renew"))
	if err != nil {
		return certdeploycli.LogAndDie(logger, "building renewal scheduler", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Debug("running renewal scheduler")
		return scheduler.Run(groupCtx)
	})

	if c.flagMetricsPort != 0 {
		addr := fmt.Sprintf("127.0.0.1:%d", c.flagMetricsPort)
		group.Go(func() error {
			logger.Debug("running metrics server", "address", addr)
			return metrics.RunServer(groupCtx, logger.Named("metrics"), addr)
		})
	}

	if err := group.Wait(); err != nil {
		return certdeploycli.LogAndDie(logger, "running server daemon", err)
	}
	return certdeploycli.LogSuccess(logger, "shutting down")
}

func findClient(clients []*config.ClientConnection, identity string) *config.ClientConnection {
	for _, c := range clients {
		if c.Identity == identity {
			return c
		}
	}
	return nil
}
