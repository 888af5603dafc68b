// Package update executes the service-update actions a client config
// declares once a lineage has been promoted: container restarts,
// orchestrator force-updates, init-system reload/restart, and arbitrary
// scripts.
package update

import (
	"context"
	"time"
)

// ContainerRef names one match returned by a container-engine query.
type ContainerRef struct {
	ID   string
	Name string
}

// ContainerEngine is the seam the docker-by-filters and orchestrator-service
// variants are built on. The production implementation wraps
// github.com/docker/docker/client; tests inject a fake.
type ContainerEngine interface {
	// ListContainers returns running containers matching filters (the
	// engine's own filter-key/value semantics; passed through unparsed).
	ListContainers(ctx context.Context, filters map[string]string) ([]ContainerRef, error)
	// RestartContainer restarts one container, waiting up to timeout for
	// it to stop before killing it. With timeout <= 0 the engine's own
	// default stop timeout applies.
	RestartContainer(ctx context.Context, id string, timeout time.Duration) error

	// ListServices returns orchestrator services matching filters.
	ListServices(ctx context.Context, filters map[string]string) ([]ContainerRef, error)
	// LookupService returns the single service named name, or an empty
	// slice if it doesn't exist.
	LookupService(ctx context.Context, name string) ([]ContainerRef, error)
	// ForceUpdateService bumps a service's ForceUpdate counter so the
	// orchestrator redeploys its tasks against unchanged image/spec,
	// picking up bind-mounted certificate files.
	ForceUpdateService(ctx context.Context, id string) error
}
