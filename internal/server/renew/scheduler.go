// Package renew runs the server's recurring certificate-renewal job.
package renew

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/hashicorp/go-hclog"

	"github.com/haxwithaxe/certdeploy-go/internal/certdeploy"
	"github.com/haxwithaxe/certdeploy-go/internal/metrics"
	"github.com/haxwithaxe/certdeploy-go/internal/server/config"
)

// Scheduler owns the single recurring renewal job.
type Scheduler struct {
	cfg       *config.Config
	logger    hclog.Logger
	gocron    *gocron.Scheduler
	failFast  bool
	fatal     chan error
}

// New builds a Scheduler and registers its one job, from renew_every,
// renew_unit, and renew_at.
func New(cfg *config.Config, logger hclog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cfg:      cfg,
		logger:   logger,
		gocron:   gocron.NewScheduler(time.UTC),
		failFast: cfg.FailFast,
		fatal:    make(chan error, 1),
	}

	if _, err := s.register(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) register() (*gocron.Job, error) {
	chain := s.gocron.Every(s.cfg.RenewEvery)
	if err := applyUnit(chain, s.cfg.RenewUnit); err != nil {
		return nil, err
	}
	if s.cfg.RenewAt != "" {
		chain = chain.At(s.cfg.RenewAt)
	}
	return chain.Do(s.runOnce)
}

// Run blocks running the scheduler until ctx is canceled or a fail-fast
// renewal failure occurs, whichever comes first.
func (s *Scheduler) Run(ctx context.Context) error {
	s.gocron.StartAsync()
	defer s.gocron.Stop()

	select {
	case <-ctx.Done():
		return nil
	case err := <-s.fatal:
		return err
	}
}

func (s *Scheduler) runOnce() {
	if err := s.Once(context.Background()); err != nil && s.failFast {
		select {
		case s.fatal <- err:
		default:
		}
	}
}

// Once runs the renewal command a single time and returns its error, bypassing
// the gocron schedule entirely. The CLI's --renew flag calls this directly so
// a one-shot invocation doesn't need a running Scheduler.
func (s *Scheduler) Once(ctx context.Context) error {
	timeout := 0
	if s.cfg.RenewTimeout != nil {
		timeout = *s.cfg.RenewTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, s.cfg.RenewExec, s.cfg.RenewArgs...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	s.logger.Info("running renewal", "exec", s.cfg.RenewExec, "args", s.cfg.RenewArgs)
	metrics.IncrCounter(metrics.RenewalsRun)
	if err := cmd.Run(); err != nil {
		metrics.IncrCounter(metrics.RenewalsFailed)
		s.logger.Error("renewal failed", "error", err, "output", output.String())
		return certdeploy.RenewalError(s.cfg.RenewExec, err, output.String())
	}
	s.logger.Info("renewal finished", "output", output.String())
	return nil
}

// applyUnit chains the interval-unit method matching unit (already
// normalized to gocron's builder vocabulary by the config loader) onto
// chain in place.
func applyUnit(chain *gocron.Scheduler, unit string) error {
	switch unit {
	case "second":
		chain.Second()
	case "seconds":
		chain.Seconds()
	case "minute":
		chain.Minute()
	case "minutes":
		chain.Minutes()
	case "hour":
		chain.Hour()
	case "hours":
		chain.Hours()
	case "day":
		chain.Day()
	case "days":
		chain.Days()
	case "week":
		chain.Week()
	case "weeks":
		chain.Weeks()
	case "monday":
		chain.Monday()
	case "tuesday":
		chain.Tuesday()
	case "wednesday":
		chain.Wednesday()
	case "thursday":
		chain.Thursday()
	case "friday":
		chain.Friday()
	case "saturday":
		chain.Saturday()
	case "sunday":
		chain.Sunday()
	default:
		return fmt.Errorf("unrecognized renew_unit %q", unit)
	}
	return nil
}
