package update

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/haxwithaxe/certdeploy-go/internal/certdeploy"
	"github.com/haxwithaxe/certdeploy-go/internal/client/config"
	"github.com/haxwithaxe/certdeploy-go/internal/metrics"
)

// Updater runs one update pass over a client config's update_services list.
type Updater struct {
	cfg    *config.Config
	logger hclog.Logger
	engine ContainerEngine // lazily dialed; nil until a docker_* service needs it
}

// NewUpdater builds an Updater. The docker engine connection is deferred
// until a docker_container/docker_service update actually runs, so a
// client with no container-based services never needs a docker socket.
func NewUpdater(cfg *config.Config, logger hclog.Logger) *Updater {
	return &Updater{cfg: cfg, logger: logger}
}

// Run executes every configured update in declaration order. If FailFast is
// set, the first failure returns immediately; otherwise failures are logged
// and aggregated into the returned multierror, and every remaining service
// still runs.
func (u *Updater) Run(ctx context.Context) error {
	metrics.IncrCounter(metrics.UpdatePassesRun)
	var result *multierror.Error
	for _, svc := range u.cfg.UpdateServices {
		if err := u.runOne(ctx, svc); err != nil {
			metrics.IncrCounter(metrics.UpdatesFailed)
			if u.cfg.FailFast {
				return err
			}
			u.logger.Error("service update failed", "service", svc.String(), "error", err)
			result = multierror.Append(result, err)
			continue
		}
		u.logger.Info("service updated", "service", svc.String())
	}
	return result.ErrorOrNil()
}

func (u *Updater) runOne(ctx context.Context, svc *config.Service) error {
	switch svc.Kind {
	case config.KindDockerContainer:
		return u.updateContainer(ctx, svc)
	case config.KindDockerService:
		return u.updateService(ctx, svc)
	case config.KindSystemdUnit:
		return u.updateSystemd(ctx, svc)
	case config.KindRCService:
		return u.updateRC(ctx, svc)
	case config.KindScript:
		return u.updateScript(ctx, svc)
	default:
		return certdeploy.ConfigError("unknown update_services kind %q", svc.Kind)
	}
}

func (u *Updater) dockerEngine() (ContainerEngine, error) {
	if u.engine != nil {
		return u.engine, nil
	}
	engine, err := NewDockerEngine(u.cfg.DockerURL)
	if err != nil {
		return nil, err
	}
	u.engine = engine
	return engine, nil
}

func (u *Updater) filters(svc *config.Service) map[string]string {
	if len(svc.Filters) > 0 {
		return svc.Filters
	}
	if svc.Name == "" {
		return nil
	}
	return map[string]string{"name": "^" + svc.Name + "$"}
}

func (u *Updater) updateContainer(ctx context.Context, svc *config.Service) error {
	engine, err := u.dockerEngine()
	if err != nil {
		return certdeploy.ContainerError(svc.Name, err)
	}
	matches, err := engine.ListContainers(ctx, u.filters(svc))
	if err != nil {
		return certdeploy.ContainerError(svc.Name, err)
	}
	if len(matches) == 0 {
		if u.cfg.FailFast {
			return certdeploy.ContainerNotFound(svc.Name, svc.Filters)
		}
		u.logger.Warn("no container matched", "service", svc.String())
		return nil
	}

	timeout := time.Duration(u.cfg.DockerTimeout) * time.Second
	if svc.Timeout != nil {
		timeout = time.Duration(*svc.Timeout) * time.Second
	}

	var result *multierror.Error
	for _, c := range matches {
		if err := engine.RestartContainer(ctx, c.ID, timeout); err != nil {
			wrapped := certdeploy.ContainerError(c.Name, err)
			if u.cfg.FailFast {
				return wrapped
			}
			u.logger.Error("failed to restart container", "container", c.Name, "error", err)
			result = multierror.Append(result, wrapped)
			continue
		}
	}
	return result.ErrorOrNil()
}

func (u *Updater) updateService(ctx context.Context, svc *config.Service) error {
	engine, err := u.dockerEngine()
	if err != nil {
		return certdeploy.ServiceError(svc.Name, err)
	}

	var matches []ContainerRef
	if svc.Name != "" {
		matches, err = engine.LookupService(ctx, svc.Name)
	} else {
		matches, err = engine.ListServices(ctx, u.filters(svc))
	}
	if err != nil {
		return certdeploy.ServiceError(svc.Name, err)
	}
	if len(matches) == 0 {
		if u.cfg.FailFast {
			return certdeploy.ServiceNotFound(svc.Name, svc.Filters)
		}
		u.logger.Warn("no service matched", "service", svc.String())
		return nil
	}

	var result *multierror.Error
	for _, s := range matches {
		if err := engine.ForceUpdateService(ctx, s.ID); err != nil {
			wrapped := certdeploy.ServiceError(s.Name, err)
			if u.cfg.FailFast {
				return wrapped
			}
			u.logger.Error("failed to force-update service", "service", s.Name, "error", err)
			result = multierror.Append(result, wrapped)
			continue
		}
	}
	return result.ErrorOrNil()
}

func (u *Updater) updateSystemd(ctx context.Context, svc *config.Service) error {
	timeout := time.Duration(u.cfg.InitTimeout) * time.Second
	if svc.Timeout != nil {
		timeout = time.Duration(*svc.Timeout) * time.Second
	}
	output, err := runCommand(ctx, timeout, u.cfg.SystemdExec, svc.Action, svc.Name)
	if err != nil {
		return certdeploy.SystemdError(svc.Name, err, output)
	}
	return nil
}

func (u *Updater) updateRC(ctx context.Context, svc *config.Service) error {
	timeout := time.Duration(u.cfg.InitTimeout) * time.Second
	if svc.Timeout != nil {
		timeout = time.Duration(*svc.Timeout) * time.Second
	}
	output, err := runCommand(ctx, timeout, u.cfg.RCServiceExec, svc.Name, svc.Action)
	if err != nil {
		return certdeploy.RCServiceError(svc.Name, err, output)
	}
	return nil
}

func (u *Updater) updateScript(ctx context.Context, svc *config.Service) error {
	timeout := time.Duration(u.cfg.ScriptTimeout) * time.Second
	if svc.Timeout != nil {
		timeout = time.Duration(*svc.Timeout) * time.Second
	}
	output, err := runCommand(ctx, timeout, svc.ResolvedScript)
	if err != nil {
		return certdeploy.ScriptError(svc.ResolvedScript, err, output)
	}
	return nil
}
