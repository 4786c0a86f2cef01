package runtime

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"

	"github.com/renderlite/renderlite/pkg/errdefs"
	"github.com/renderlite/renderlite/pkg/log"
	"github.com/renderlite/renderlite/pkg/types"
)

const (
	// ContainerPrefix is prepended to every container name the platform owns.
	ContainerPrefix = "renderlite-"

	// StagingSuffix marks the temporary container run during a blue/green swap.
	StagingSuffix = "-new"

	// DefaultNetwork is the managed network all platform containers attach to.
	DefaultNetwork = "renderlite"

	stopGrace = 10 * time.Second

	memoryLimitBytes = 512 * 1024 * 1024 // 512 MiB
	nanoCPUs         = 500_000_000       // 0.5 cores
)

// ContainerName returns the canonical container name for a subdomain.
func ContainerName(subdomain string) string {
	return ContainerPrefix + subdomain
}

// StagingName returns the staging container name used during blue/green.
func StagingName(subdomain string) string {
	return ContainerName(subdomain) + StagingSuffix
}

// ImageTag returns the image reference built for a revision of a subdomain.
func ImageTag(subdomain, shortCommit string) string {
	return ContainerPrefix + subdomain + ":" + shortCommit
}

// DockerRuntime wraps the Docker daemon API with the handful of typed
// operations the platform needs. A single instance is safe for concurrent
// use.
type DockerRuntime struct {
	cli     *client.Client
	network string
	logger  zerolog.Logger
}

// RunOptions describes a container to create and start.
type RunOptions struct {
	// Name is the container name; an existing container under the same name
	// is stopped and removed first.
	Name string
	// ImageTag is the local image to run.
	ImageTag string
	// Subdomain feeds the routing and platform labels.
	Subdomain string
	// Env holds plaintext KEY -> VALUE pairs.
	Env map[string]string
	// ContainerPort is the port the proxy forwards to inside the container.
	ContainerPort int
	// BaseDomain is the suffix for the auto-assigned hostname.
	BaseDomain string
	// Domains lists verified custom hostnames routed to the same upstream.
	Domains []string
	// EnableTLS adds the TLS and cert-resolver router labels.
	EnableTLS bool
}

// NewDockerRuntime connects to the local Docker daemon and verifies it is
// reachable. networkName is the managed network containers attach to; empty
// selects DefaultNetwork.
func NewDockerRuntime(networkName string) (*DockerRuntime, error) {
	if networkName == "" {
		networkName = DefaultNetwork
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	r := &DockerRuntime{
		cli:     cli,
		network: networkName,
		logger:  log.WithComponent("runtime"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Ping(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Ping verifies the daemon socket is live.
func (r *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return errdefs.RuntimeUnavailable("docker daemon unreachable", err)
	}
	return nil
}

// Close releases the daemon connection.
func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

// RunContainer creates and starts a container on the managed network with the
// platform's routing labels and resource caps. Any container already holding
// the target name is stopped and removed first. Returns the new container id.
func (r *DockerRuntime) RunContainer(ctx context.Context, opts RunOptions) (string, error) {
	if err := r.RemoveByName(ctx, opts.Name); err != nil {
		return "", err
	}

	cfg := &container.Config{
		Image: opts.ImageTag,
		Env:   envSlice(opts.Env),
		Labels: RoutingLabels(LabelOptions{
			RouterName:    opts.Name,
			Subdomain:     opts.Subdomain,
			BaseDomain:    opts.BaseDomain,
			Network:       r.network,
			ContainerPort: opts.ContainerPort,
			Domains:       opts.Domains,
			EnableTLS:     opts.EnableTLS,
		}),
	}
	hostCfg := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
		Resources: container.Resources{
			Memory:   memoryLimitBytes,
			NanoCPUs: nanoCPUs,
		},
	}
	netCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			r.network: {},
		},
	}

	// A nil platform lets the daemon pick the image layer matching the
	// host's native architecture.
	var platform *ocispec.Platform

	created, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, platform, opts.Name)
	if err != nil {
		return "", wrapDockerErr(err, "failed to create container %s", opts.Name)
	}

	if err := r.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		// Half-created container is useless; remove it before reporting.
		_ = r.cli.ContainerRemove(context.WithoutCancel(ctx), created.ID, container.RemoveOptions{Force: true})
		return "", wrapDockerErr(err, "failed to start container %s", opts.Name)
	}

	r.logger.Info().
		Str("container_id", shortID(created.ID)).
		Str("name", opts.Name).
		Str("image", opts.ImageTag).
		Msg("Container started")
	return created.ID, nil
}

// StopContainer gracefully stops a container, tolerating one that is already
// stopped or gone.
func (r *DockerRuntime) StopContainer(ctx context.Context, id string) error {
	timeout := int(stopGrace.Seconds())
	err := r.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
	if err != nil && !client.IsErrNotFound(err) {
		return errdefs.RuntimeUnavailable(fmt.Sprintf("failed to stop container %s", shortID(id)), err)
	}
	return nil
}

// RemoveContainer stops (best effort) and force-removes a container. A
// container that no longer exists is not an error.
func (r *DockerRuntime) RemoveContainer(ctx context.Context, id string) error {
	_ = r.StopContainer(ctx, id)
	err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return errdefs.RuntimeUnavailable(fmt.Sprintf("failed to remove container %s", shortID(id)), err)
	}
	return nil
}

// RemoveByName removes the container holding the given name, if any.
func (r *DockerRuntime) RemoveByName(ctx context.Context, name string) error {
	existing, err := r.FindByName(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return err
	}
	r.logger.Info().Str("name", name).Str("container_id", shortID(existing.ID)).Msg("Replacing existing container")
	return r.RemoveContainer(ctx, existing.ID)
}

// FindByName looks up a container by exact name, in any state.
func (r *DockerRuntime) FindByName(ctx context.Context, name string) (*types.ManagedContainer, error) {
	// The name filter matches substrings; the exact match is checked below.
	list, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return nil, errdefs.RuntimeUnavailable("failed to list containers", err)
	}
	target := "/" + name
	for _, c := range list {
		for _, n := range c.Names {
			if n == target {
				return &types.ManagedContainer{
					ID:        c.ID,
					Name:      name,
					State:     string(c.State),
					Subdomain: c.Labels[LabelSubdomain],
				}, nil
			}
		}
	}
	return nil, errdefs.NotFound("container %s not found", name)
}

// IsRunning reports whether the container exists and is in the running state.
func (r *DockerRuntime) IsRunning(ctx context.Context, id string) (bool, error) {
	info, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, errdefs.RuntimeUnavailable(fmt.Sprintf("failed to inspect container %s", shortID(id)), err)
	}
	return info.State != nil && info.State.Running, nil
}

// ContainerIP returns the container's address on the managed network.
func (r *DockerRuntime) ContainerIP(ctx context.Context, id string) (string, error) {
	info, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		return "", wrapDockerErr(err, "failed to inspect container %s", shortID(id))
	}
	if info.NetworkSettings == nil {
		return "", errdefs.Integrity(fmt.Sprintf("container %s has no network settings", shortID(id)), nil)
	}
	ep, ok := info.NetworkSettings.Networks[r.network]
	if !ok || ep.IPAddress == "" {
		return "", errdefs.Integrity(fmt.Sprintf("container %s is not attached to network %s", shortID(id), r.network), nil)
	}
	return ep.IPAddress, nil
}

// ListManaged enumerates every container bearing the platform label, in any
// state.
func (r *DockerRuntime) ListManaged(ctx context.Context) ([]types.ManagedContainer, error) {
	list, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelManaged+"=true")),
	})
	if err != nil {
		return nil, errdefs.RuntimeUnavailable("failed to list managed containers", err)
	}
	out := make([]types.ManagedContainer, 0, len(list))
	for _, c := range list {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, types.ManagedContainer{
			ID:        c.ID,
			Name:      name,
			State:     string(c.State),
			Subdomain: c.Labels[LabelSubdomain],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ReapExited removes every managed container in the exited state. Returns the
// number removed.
func (r *DockerRuntime) ReapExited(ctx context.Context) (int, error) {
	list, err := r.ListManaged(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, c := range list {
		if c.State != types.ContainerStateExited {
			continue
		}
		if err := r.RemoveContainer(ctx, c.ID); err != nil {
			r.logger.Warn().Err(err).Str("name", c.Name).Msg("Failed to reap exited container")
			continue
		}
		r.logger.Info().Str("name", c.Name).Str("container_id", shortID(c.ID)).Msg("Reaped exited container")
		removed++
	}
	return removed, nil
}

// envSlice flattens an env map into the KEY=VALUE form the daemon expects,
// sorted for deterministic container specs.
func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// wrapDockerErr classifies a daemon error: a 404 means the world diverged
// from what the caller expected, anything else means the runtime itself is
// misbehaving.
func wrapDockerErr(err error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if client.IsErrNotFound(err) {
		return errdefs.Integrity(msg, err)
	}
	return errdefs.RuntimeUnavailable(msg, err)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
