package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/renderlite/renderlite/pkg/config"
	"github.com/renderlite/renderlite/pkg/errdefs"
	"github.com/renderlite/renderlite/pkg/health"
	"github.com/renderlite/renderlite/pkg/log"
	"github.com/renderlite/renderlite/pkg/metrics"
	"github.com/renderlite/renderlite/pkg/runtime"
	"github.com/renderlite/renderlite/pkg/types"
)

// Store is the persistence surface the pipeline writes outcomes to.
type Store interface {
	MarkDeploymentStarted(ctx context.Context, id string) error
	SetDeploymentCommit(ctx context.Context, id, commitSHA string) error
	SetDeploymentImageTag(ctx context.Context, id, imageTag string) error
	FinishDeployment(ctx context.Context, id string, status types.DeploymentStatus, logs string) error
	UpdateServiceStatus(ctx context.Context, id string, status types.ServiceStatus) error
	SetServiceContainer(ctx context.Context, id string, status types.ServiceStatus, containerID *string) error
	ListVerifiedDomains(ctx context.Context, serviceID string) ([]*types.Domain, error)
}

// Runtime is the container-controller surface the pipeline drives.
type Runtime interface {
	RunContainer(ctx context.Context, opts runtime.RunOptions) (string, error)
	StopContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string) error
	FindByName(ctx context.Context, name string) (*types.ManagedContainer, error)
	ContainerIP(ctx context.Context, id string) (string, error)
	BuildImage(ctx context.Context, contextDir, imageTag string, logs io.Writer) error
}

// Publisher is the slice of the event bus the pipeline emits through.
type Publisher interface {
	DeploymentLog(ctx context.Context, deploymentID, line string)
	DeploymentStatus(ctx context.Context, deploymentID string, status types.DeploymentStatus, containerID *string)
	ServiceStatus(ctx context.Context, serviceID string, status types.ServiceStatus)
	UserNotification(ctx context.Context, userID, serviceID, deploymentID string, status types.DeploymentStatus)
}

// Pipeline drives one deployment or rollback job to a terminal outcome.
//
// Outcome semantics: a nil return means the outcome, SUCCESS or FAILED, is
// recorded on the deployment row and the job is finished. A non-nil return
// means infrastructure (store, interrupted context) got in the way before
// an outcome could be recorded, and the queue should redeliver the job.
type Pipeline struct {
	store   Store
	runtime Runtime
	bus     Publisher
	cfg     *config.Config
	logger  zerolog.Logger
}

// New creates a pipeline with its collaborators.
func New(st Store, rt Runtime, bus Publisher, cfg *config.Config) *Pipeline {
	return &Pipeline{
		store:   st,
		runtime: rt,
		bus:     bus,
		cfg:     cfg,
		logger:  log.WithComponent("pipeline"),
	}
}

// releaseSpec is what the run and finalize stages need, common to deploys
// and rollbacks.
type releaseSpec struct {
	DeploymentID          string
	ServiceID             string
	UserID                string
	Subdomain             string
	ImageTag              string
	Env                   types.EnvMap
	HealthCheckPath       string
	HealthCheckTimeoutSec int
}

// Deploy executes the full build pipeline: clone, detect and build, fetch
// routing inputs, run, finalize. The work directory is removed whatever
// the outcome.
func (p *Pipeline) Deploy(ctx context.Context, job *types.DeploymentJob) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DeploymentDuration)

	logger := p.logger.With().
		Str("deployment_id", job.DeploymentID).
		Str("service_id", job.ServiceID).
		Logger()
	sink := newLogSink(ctx, p.bus, job.DeploymentID)

	workDir := filepath.Join(p.cfg.WorkDir, job.DeploymentID)
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn().Err(err).Str("dir", workDir).Msg("Failed to remove work directory")
		}
	}()

	if err := p.begin(ctx, job.DeploymentID, job.ServiceID); err != nil {
		return err
	}
	logger.Info().Str("repo", job.RepoURL).Str("branch", job.Branch).Msg("Deployment started")

	sink.Linef("Cloning %s (branch %s)", job.RepoURL, job.Branch)
	res, err := cloneRepo(ctx, cloneOptions{
		RepoURL:  job.RepoURL,
		Branch:   job.Branch,
		Token:    job.GitToken,
		Dir:      workDir,
		Timeout:  p.cfg.CloneTimeout,
		MaxBytes: p.cfg.MaxRepoBytes,
	})
	if err != nil {
		return p.fail(ctx, job.DeploymentID, job.ServiceID, job.UserID, sink, fmt.Sprintf("Clone failed: %v", err))
	}
	if err := p.store.SetDeploymentCommit(ctx, job.DeploymentID, res.CommitSHA); err != nil {
		return fmt.Errorf("failed to persist commit: %w", err)
	}
	sink.Linef("Checked out commit %s", res.CommitSHA)

	imageTag := runtime.ImageTag(job.Subdomain, shortCommit(res.CommitSHA))
	if err := p.buildImage(ctx, workDir, imageTag, sink); err != nil {
		return p.fail(ctx, job.DeploymentID, job.ServiceID, job.UserID, sink, fmt.Sprintf("Build failed: %v", err))
	}
	if err := p.store.SetDeploymentImageTag(ctx, job.DeploymentID, imageTag); err != nil {
		return fmt.Errorf("failed to persist image tag: %w", err)
	}
	sink.Linef("Built image %s", imageTag)

	return p.release(ctx, releaseSpec{
		DeploymentID:          job.DeploymentID,
		ServiceID:             job.ServiceID,
		UserID:                job.UserID,
		Subdomain:             job.Subdomain,
		ImageTag:              imageTag,
		Env:                   job.Env,
		HealthCheckPath:       job.HealthCheckPath,
		HealthCheckTimeoutSec: job.HealthCheckTimeoutSec,
	}, sink)
}

// Rollback re-releases a previously built image. No clone or build runs;
// the deployment row records the reused tag and the original commit.
func (p *Pipeline) Rollback(ctx context.Context, job *types.RollbackJob) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DeploymentDuration)

	sink := newLogSink(ctx, p.bus, job.DeploymentID)

	if err := p.begin(ctx, job.DeploymentID, job.ServiceID); err != nil {
		return err
	}
	p.logger.Info().
		Str("deployment_id", job.DeploymentID).
		Str("service_id", job.ServiceID).
		Str("image_tag", job.ImageTag).
		Msg("Rollback started")

	if job.CommitSHA != "" {
		if err := p.store.SetDeploymentCommit(ctx, job.DeploymentID, job.CommitSHA); err != nil {
			return fmt.Errorf("failed to persist commit: %w", err)
		}
	}
	if err := p.store.SetDeploymentImageTag(ctx, job.DeploymentID, job.ImageTag); err != nil {
		return fmt.Errorf("failed to persist image tag: %w", err)
	}
	sink.Linef("Rolling back to image %s", job.ImageTag)

	return p.release(ctx, releaseSpec{
		DeploymentID:          job.DeploymentID,
		ServiceID:             job.ServiceID,
		UserID:                job.UserID,
		Subdomain:             job.Subdomain,
		ImageTag:              job.ImageTag,
		Env:                   job.Env,
		HealthCheckPath:       job.HealthCheckPath,
		HealthCheckTimeoutSec: job.HealthCheckTimeoutSec,
	}, sink)
}

// begin moves the deployment to BUILDING and the service to DEPLOYING.
func (p *Pipeline) begin(ctx context.Context, deploymentID, serviceID string) error {
	if err := p.store.MarkDeploymentStarted(ctx, deploymentID); err != nil {
		return fmt.Errorf("failed to mark deployment started: %w", err)
	}
	p.bus.DeploymentStatus(ctx, deploymentID, types.DeploymentStatusBuilding, nil)
	if err := p.store.UpdateServiceStatus(ctx, serviceID, types.ServiceStatusDeploying); err != nil {
		return fmt.Errorf("failed to update service status: %w", err)
	}
	p.bus.ServiceStatus(ctx, serviceID, types.ServiceStatusDeploying)
	return nil
}

// buildImage builds with the runtime's image builder when a Dockerfile is
// present, with the buildpack otherwise. Both share the build budget and
// stream into the sink.
func (p *Pipeline) buildImage(ctx context.Context, workDir, imageTag string, sink *logSink) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BuildDuration)

	bctx, cancel := context.WithTimeout(ctx, p.cfg.BuildTimeout)
	defer cancel()

	if _, err := os.Stat(filepath.Join(workDir, "Dockerfile")); err == nil {
		sink.Line("Dockerfile detected, building image")
		return p.runtime.BuildImage(bctx, workDir, imageTag, sink)
	}

	sink.Linef("No Dockerfile, building with %s", p.cfg.BuildpackBin)
	cmd := exec.CommandContext(bctx, p.cfg.BuildpackBin, "build", workDir, "--name", imageTag)
	cmd.Stdout = sink
	cmd.Stderr = sink
	if err := cmd.Run(); err != nil {
		if errors.Is(bctx.Err(), context.DeadlineExceeded) {
			return errdefs.Timeout(fmt.Sprintf("build timed out after %s", p.cfg.BuildTimeout), nil)
		}
		return fmt.Errorf("%s build failed: %w", p.cfg.BuildpackBin, err)
	}
	return nil
}

// release runs the shared tail of both pipelines: fetch routing inputs,
// start the new revision under the chosen strategy, record the outcome.
func (p *Pipeline) release(ctx context.Context, spec releaseSpec, sink *logSink) error {
	domains, err := p.store.ListVerifiedDomains(ctx, spec.ServiceID)
	if err != nil {
		return fmt.Errorf("failed to list verified domains: %w", err)
	}
	hostnames := lo.Map(domains, func(d *types.Domain, _ int) string { return d.Hostname })

	runOpts := runtime.RunOptions{
		Name:          runtime.ContainerName(spec.Subdomain),
		ImageTag:      spec.ImageTag,
		Subdomain:     spec.Subdomain,
		Env:           spec.Env,
		ContainerPort: p.cfg.ContainerPort,
		BaseDomain:    p.cfg.BaseDomain,
		Domains:       hostnames,
		EnableTLS:     p.cfg.EnableTLS,
	}

	old, err := p.findExisting(ctx, spec.Subdomain)
	if err != nil {
		return p.fail(ctx, spec.DeploymentID, spec.ServiceID, spec.UserID, sink, fmt.Sprintf("Deployment failed: %v", err))
	}

	var cid string
	if old != nil && old.State == types.ContainerStateRunning && spec.HealthCheckPath != "" {
		oldGone := false
		cid, oldGone, err = p.blueGreenSwap(ctx, spec, runOpts, old, sink)
		if err != nil {
			if oldGone {
				return p.fail(ctx, spec.DeploymentID, spec.ServiceID, spec.UserID, sink, fmt.Sprintf("Deployment failed: %v", err))
			}
			// The previous container was never touched; the service
			// keeps serving from it.
			return p.failKeepLive(ctx, spec, old.ID, sink, fmt.Sprintf("Deployment failed: %v", err))
		}
	} else {
		cid, err = p.replace(ctx, spec, runOpts, old, sink)
		if err != nil {
			return p.fail(ctx, spec.DeploymentID, spec.ServiceID, spec.UserID, sink, fmt.Sprintf("Deployment failed: %v", err))
		}
	}

	sink.Line("Deployment succeeded")
	logs := sink.String()
	if err := p.store.SetServiceContainer(ctx, spec.ServiceID, types.ServiceStatusRunning, &cid); err != nil {
		return fmt.Errorf("failed to update service: %w", err)
	}
	if err := p.store.FinishDeployment(ctx, spec.DeploymentID, types.DeploymentStatusSuccess, logs); err != nil {
		return fmt.Errorf("failed to finish deployment: %w", err)
	}
	metrics.DeploymentsTotal.WithLabelValues(string(types.DeploymentStatusSuccess)).Inc()
	p.bus.DeploymentStatus(ctx, spec.DeploymentID, types.DeploymentStatusSuccess, &cid)
	p.bus.ServiceStatus(ctx, spec.ServiceID, types.ServiceStatusRunning)
	p.bus.UserNotification(ctx, spec.UserID, spec.ServiceID, spec.DeploymentID, types.DeploymentStatusSuccess)

	p.logger.Info().
		Str("deployment_id", spec.DeploymentID).
		Str("service_id", spec.ServiceID).
		Str("container_id", cid).
		Msg("Deployment succeeded")
	return nil
}

// findExisting reports the canonical container in any state, nil when the
// subdomain has never run.
func (p *Pipeline) findExisting(ctx context.Context, subdomain string) (*types.ManagedContainer, error) {
	c, err := p.runtime.FindByName(ctx, runtime.ContainerName(subdomain))
	if errdefs.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// blueGreenSwap starts the new revision under the staging name, gates on
// its health, then promotes it: old out, staging out, canonical in. The
// returned flag reports whether the old container was already removed when
// an error occurred; until promotion begins it is never touched.
func (p *Pipeline) blueGreenSwap(ctx context.Context, spec releaseSpec, runOpts runtime.RunOptions, old *types.ManagedContainer, sink *logSink) (string, bool, error) {
	stagingOpts := runOpts
	stagingOpts.Name = runtime.StagingName(spec.Subdomain)

	sink.Linef("Starting staging container %s", stagingOpts.Name)
	stagingID, err := p.runtime.RunContainer(ctx, stagingOpts)
	if err != nil {
		return "", false, err
	}

	if err := p.healthGate(ctx, stagingID, spec, sink); err != nil {
		sink.Line("Removing staging container")
		p.discard(ctx, stagingID)
		return "", false, err
	}
	sink.Linef("Health check passed, promoting %s", stagingOpts.Name)

	if err := p.runtime.RemoveContainer(ctx, old.ID); err != nil {
		p.discard(ctx, stagingID)
		return "", false, err
	}
	if err := p.runtime.RemoveContainer(ctx, stagingID); err != nil {
		return "", true, err
	}
	cid, err := p.runtime.RunContainer(ctx, runOpts)
	if err != nil {
		return "", true, err
	}
	return cid, false, nil
}

// replace is the stop-then-start path: downtime between the old container
// stopping and the new one answering is accepted when no live container
// plus health check pair exists.
func (p *Pipeline) replace(ctx context.Context, spec releaseSpec, runOpts runtime.RunOptions, old *types.ManagedContainer, sink *logSink) (string, error) {
	if old != nil {
		sink.Linef("Stopping container %s", old.Name)
		if err := p.runtime.StopContainer(ctx, old.ID); err != nil {
			return "", err
		}
	}

	sink.Linef("Starting container %s", runOpts.Name)
	cid, err := p.runtime.RunContainer(ctx, runOpts)
	if err != nil {
		return "", err
	}

	if spec.HealthCheckPath != "" {
		if err := p.healthGate(ctx, cid, spec, sink); err != nil {
			sink.Line("Removing unhealthy container")
			p.discard(ctx, cid)
			return "", err
		}
	}
	return cid, nil
}

// healthGate polls the container's health endpoint until it answers or the
// attempt budget runs out.
func (p *Pipeline) healthGate(ctx context.Context, containerID string, spec releaseSpec, sink *logSink) error {
	ip, err := p.runtime.ContainerIP(ctx, containerID)
	if err != nil {
		return err
	}

	timeout := p.cfg.HealthCheckTimeout
	if spec.HealthCheckTimeoutSec > 0 {
		timeout = time.Duration(spec.HealthCheckTimeoutSec) * time.Second
	}
	url := fmt.Sprintf("http://%s:%d%s", ip, p.cfg.ContainerPort, spec.HealthCheckPath)
	checker := health.NewHTTPChecker(url).WithTimeout(timeout)

	sink.Linef("Waiting for %s to become healthy", spec.HealthCheckPath)
	return health.WaitHealthy(ctx, checker, health.WaitConfig{
		StartDelay: p.cfg.HealthCheckStartDelay,
		Timeout:    timeout,
		Retries:    p.cfg.HealthCheckRetries,
		OnAttempt: func(attempt int, res health.Result) {
			if res.Healthy {
				sink.Linef("Health check attempt %d: ok", attempt)
				return
			}
			sink.Linef("Health check attempt %d: %s", attempt, res.Message)
		},
	})
}

// discard removes a container best-effort during failure cleanup. It keeps
// working through shutdown so half-started containers do not outlive the
// deployment that created them.
func (p *Pipeline) discard(ctx context.Context, id string) {
	if err := p.runtime.RemoveContainer(context.WithoutCancel(ctx), id); err != nil {
		p.logger.Warn().Err(err).Str("container_id", id).Msg("Failed to remove container during cleanup")
	}
}

// fail records a terminal FAILED outcome for the deployment and the
// service. The nil return tells the queue the job is finished; an
// interrupted context propagates instead so the job is redelivered.
func (p *Pipeline) fail(ctx context.Context, deploymentID, serviceID, userID string, sink *logSink, msg string) error {
	if ctx.Err() != nil {
		return fmt.Errorf("deployment interrupted: %w", ctx.Err())
	}
	sink.Line(msg)
	p.logger.Warn().Str("deployment_id", deploymentID).Str("service_id", serviceID).Msg(msg)

	if err := p.store.FinishDeployment(ctx, deploymentID, types.DeploymentStatusFailed, sink.String()); err != nil {
		return fmt.Errorf("failed to record deployment failure: %w", err)
	}
	if err := p.store.UpdateServiceStatus(ctx, serviceID, types.ServiceStatusFailed); err != nil {
		return fmt.Errorf("failed to update service status: %w", err)
	}
	metrics.DeploymentsTotal.WithLabelValues(string(types.DeploymentStatusFailed)).Inc()
	p.bus.DeploymentStatus(ctx, deploymentID, types.DeploymentStatusFailed, nil)
	p.bus.ServiceStatus(ctx, serviceID, types.ServiceStatusFailed)
	p.bus.UserNotification(ctx, userID, serviceID, deploymentID, types.DeploymentStatusFailed)
	return nil
}

// failKeepLive records FAILED for the deployment while the service keeps
// serving from its previous container.
func (p *Pipeline) failKeepLive(ctx context.Context, spec releaseSpec, oldID string, sink *logSink, msg string) error {
	if ctx.Err() != nil {
		return fmt.Errorf("deployment interrupted: %w", ctx.Err())
	}
	sink.Line(msg)
	sink.Line("Previous container keeps serving")
	p.logger.Warn().Str("deployment_id", spec.DeploymentID).Str("service_id", spec.ServiceID).Msg(msg)

	if err := p.store.FinishDeployment(ctx, spec.DeploymentID, types.DeploymentStatusFailed, sink.String()); err != nil {
		return fmt.Errorf("failed to record deployment failure: %w", err)
	}
	if err := p.store.SetServiceContainer(ctx, spec.ServiceID, types.ServiceStatusRunning, &oldID); err != nil {
		return fmt.Errorf("failed to restore service status: %w", err)
	}
	metrics.DeploymentsTotal.WithLabelValues(string(types.DeploymentStatusFailed)).Inc()
	p.bus.DeploymentStatus(ctx, spec.DeploymentID, types.DeploymentStatusFailed, nil)
	p.bus.ServiceStatus(ctx, spec.ServiceID, types.ServiceStatusRunning)
	p.bus.UserNotification(ctx, spec.UserID, spec.ServiceID, spec.DeploymentID, types.DeploymentStatusFailed)
	return nil
}
