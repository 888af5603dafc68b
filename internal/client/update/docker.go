package update

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// DockerEngine implements ContainerEngine against a real Docker (or
// Docker-API-compatible) engine, reached over DockerURL.
type DockerEngine struct {
	cli *client.Client
}

// NewDockerEngine dials host (empty string means the client library's own
// DOCKER_HOST/default-socket resolution).
func NewDockerEngine(host string) (*DockerEngine, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to docker engine: %w", err)
	}
	return &DockerEngine{cli: cli}, nil
}

func buildFilters(filterMap map[string]string) filters.Args {
	args := filters.NewArgs()
	for key, value := range filterMap {
		args.Add(key, value)
	}
	return args
}

func (d *DockerEngine) ListContainers(ctx context.Context, filterMap map[string]string) ([]ContainerRef, error) {
	containers, err := d.cli.ContainerList(ctx, types.ContainerListOptions{Filters: buildFilters(filterMap)})
	if err != nil {
		return nil, err
	}
	refs := make([]ContainerRef, 0, len(containers))
	for _, c := range containers {
		name := c.ID
		if len(c.Names) > 0 {
			name = c.Names[0]
		}
		refs = append(refs, ContainerRef{ID: c.ID, Name: name})
	}
	return refs, nil
}

func (d *DockerEngine) RestartContainer(ctx context.Context, id string, timeout time.Duration) error {
	var t *time.Duration
	if timeout > 0 {
		t = &timeout
	}
	return d.cli.ContainerRestart(ctx, id, t)
}

func (d *DockerEngine) ListServices(ctx context.Context, filterMap map[string]string) ([]ContainerRef, error) {
	services, err := d.cli.ServiceList(ctx, types.ServiceListOptions{Filters: buildFilters(filterMap)})
	if err != nil {
		return nil, err
	}
	refs := make([]ContainerRef, 0, len(services))
	for _, s := range services {
		refs = append(refs, ContainerRef{ID: s.ID, Name: s.Spec.Name})
	}
	return refs, nil
}

func (d *DockerEngine) LookupService(ctx context.Context, name string) ([]ContainerRef, error) {
	service, _, err := d.cli.ServiceInspectWithRaw(ctx, name, types.ServiceInspectOptions{})
	if client.IsErrNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []ContainerRef{{ID: service.ID, Name: service.Spec.Name}}, nil
}

func (d *DockerEngine) ForceUpdateService(ctx context.Context, id string) error {
	service, _, err := d.cli.ServiceInspectWithRaw(ctx, id, types.ServiceInspectOptions{})
	if err != nil {
		return err
	}
	spec := service.Spec
	spec.TaskTemplate.ForceUpdate++
	_, err = d.cli.ServiceUpdate(ctx, id, service.Version, spec, types.ServiceUpdateOptions{})
	return err
}
