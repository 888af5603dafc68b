// Package coordinator coalesces the service-update pass that follows a
// pushed lineage behind a quiescence delay, so N pushes in quick
// succession trigger exactly one update pass.
package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/haxwithaxe/certdeploy-go/internal/client/config"
	"github.com/haxwithaxe/certdeploy-go/internal/client/lineage"
	"github.com/haxwithaxe/certdeploy-go/internal/client/update"
)

// Coordinator owns the promote-then-update lifecycle for one client daemon.
// HandlePush serializes its callers (the SFTP endpoint calls it from each
// connection's goroutine once that session closes, and sessions may close
// concurrently); Err is safe to call concurrently with HandlePush to
// observe a fail-fast pass failure.
type Coordinator struct {
	source string
	dest   string
	perms  config.Permissions
	delay  time.Duration

	updater  *update.Updater
	failFast bool
	logger   hclog.Logger

	pushMu  sync.Mutex
	mu      sync.Mutex
	timer   *time.Timer
	inPass  bool
	rearm   bool
	fatal   error
}

// New builds a Coordinator over cfg's staging/destination/update_services.
func New(cfg *config.Config, logger hclog.Logger) *Coordinator {
	return &Coordinator{
		source:   cfg.Source,
		dest:     cfg.Destination,
		perms:    cfg.FilePermissions,
		delay:    cfg.UpdateDelay,
		updater:  update.NewUpdater(cfg, logger),
		failFast: cfg.FailFast,
		logger:   logger,
	}
}

// HandlePush promotes every lineage currently staged under source and, if
// anything was actually moved, arms (or resets) the quiescence timer.
func (c *Coordinator) HandlePush(ctx context.Context) error {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()
	moved, err := c.promoteAll()
	if err != nil {
		return err
	}
	if moved {
		c.arm(ctx)
	}
	return nil
}

// Err returns and clears any fail-fast error surfaced by the most recent
// update pass. The SFTP accept loop polls this on its tick to decide
// whether to terminate the daemon, mirroring the reference accept loop's
// non-blocking join of its background update worker.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.fatal
	c.fatal = nil
	return err
}

func (c *Coordinator) promoteAll() (bool, error) {
	entries, err := os.ReadDir(c.source)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	moved := false
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		srcDir := filepath.Join(c.source, name)
		destDir := filepath.Join(c.dest, name)

		didMove, err := lineage.Promote(srcDir, destDir, c.perms)
		if err != nil {
			c.logger.Error("failed to promote lineage", "lineage", name, "error", err)
			continue
		}
		if didMove {
			c.logger.Info("promoted lineage", "lineage", name)
			moved = true
		}
	}
	return moved, nil
}

// arm schedules (or reschedules) the update pass for c.delay from now. If a
// pass is currently running, it instead marks that a pass should be armed
// again once the running one finishes, so the push that arrived mid-pass
// isn't dropped.
func (c *Coordinator) arm(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inPass {
		c.rearm = true
		return
	}
	if c.timer != nil {
		c.timer.Reset(c.delay)
		return
	}
	c.timer = time.AfterFunc(c.delay, func() { c.runPass(ctx) })
}

func (c *Coordinator) runPass(ctx context.Context) {
	c.mu.Lock()
	c.inPass = true
	c.timer = nil
	c.mu.Unlock()

	c.logger.Debug("running update pass")
	err := c.updater.Run(ctx)

	c.mu.Lock()
	c.inPass = false
	rearm := c.rearm
	c.rearm = false
	if err != nil && c.failFast {
		c.fatal = err
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("update pass failed", "error", err)
	}
	if rearm {
		c.arm(ctx)
	}
}
