package push

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/haxwithaxe/certdeploy-go/internal/server/config"
)

// Deliverer is the seam a Dispatcher drives; *Worker satisfies it.
type Deliverer interface {
	Deliver(ctx context.Context, job Job) error
}

// Dispatcher fans queued jobs out to a Deliverer in serial or parallel mode,
// pacing starts by push_interval and honoring fail_fast semantics that
// differ between the two modes: serial stops before the next client on the
// first failure, parallel lets already-started workers finish and surfaces
// the first error observed at join.
type Dispatcher struct {
	deliverer    Deliverer
	mode         config.PushMode
	interval     time.Duration
	failFast     bool
	joinTimeout  *time.Duration
	logger       hclog.Logger
}

// NewDispatcher builds a Dispatcher from the server config's push_mode,
// push_interval, fail_fast, and join_timeout.
func NewDispatcher(deliverer Deliverer, cfg *config.Config, logger hclog.Logger) *Dispatcher {
	d := &Dispatcher{
		deliverer: deliverer,
		mode:      cfg.PushMode,
		interval:  time.Duration(cfg.PushInterval) * time.Second,
		failFast:  cfg.FailFast,
		logger:    logger,
	}
	if cfg.JoinTimeout != nil {
		timeout := time.Duration(*cfg.JoinTimeout * float64(time.Second))
		d.joinTimeout = &timeout
	}
	return d
}

// Dispatch delivers every job in jobs, in order, per the configured mode.
func (d *Dispatcher) Dispatch(ctx context.Context, jobs []Job) error {
	if d.mode == config.PushModeParallel {
		return d.dispatchParallel(ctx, jobs)
	}
	return d.dispatchSerial(ctx, jobs)
}

// dispatchSerial paces every attempt by push_interval, including after the
// last client in the batch: this is inter-attempt pacing, not inter-pair
// pacing, so a future resumed wave still starts paced (SPEC_FULL.md §9).
func (d *Dispatcher) dispatchSerial(ctx context.Context, jobs []Job) error {
	for _, job := range jobs {
		if err := d.deliverer.Deliver(ctx, job); err != nil {
			d.logger.Error("push failed", "client", job.Client.String(), "error", err)
			if d.failFast {
				return err
			}
		}
		d.sleep(ctx)
	}
	return nil
}

func (d *Dispatcher) dispatchParallel(ctx context.Context, jobs []Job) error {
	var wg sync.WaitGroup
	errs := make(chan error, len(jobs))

	for i, job := range jobs {
		if i > 0 {
			d.sleep(ctx)
		}
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			if err := d.deliverer.Deliver(ctx, job); err != nil {
				d.logger.Error("push failed", "client", job.Client.String(), "error", err)
				errs <- err
			}
		}(job)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	if d.joinTimeout != nil {
		select {
		case <-done:
		case <-time.After(*d.joinTimeout):
			d.logger.Warn("join_timeout exceeded waiting for push workers")
		}
	} else {
		<-done
	}
	close(errs)

	if !d.failFast {
		return nil
	}
	for err := range errs {
		return err
	}
	return nil
}

func (d *Dispatcher) sleep(ctx context.Context) {
	if d.interval <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d.interval):
	}
}
