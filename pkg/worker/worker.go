package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/renderlite/renderlite/pkg/config"
	"github.com/renderlite/renderlite/pkg/log"
	"github.com/renderlite/renderlite/pkg/metrics"
	"github.com/renderlite/renderlite/pkg/queue"
	"github.com/renderlite/renderlite/pkg/secrets"
	"github.com/renderlite/renderlite/pkg/types"
)

// Pipeline executes one decrypted job through to a recorded outcome.
type Pipeline interface {
	Deploy(ctx context.Context, job *types.DeploymentJob) error
	Rollback(ctx context.Context, job *types.RollbackJob) error
}

// Store is the persistence slice used when a job exhausts its attempts.
type Store interface {
	GetDeployment(ctx context.Context, id string) (*types.Deployment, error)
	GetService(ctx context.Context, id string) (*types.Service, error)
	FinishDeployment(ctx context.Context, id string, status types.DeploymentStatus, logs string) error
	UpdateServiceStatus(ctx context.Context, id string, status types.ServiceStatus) error
}

// Publisher announces terminal failures the pipeline never got to record.
type Publisher interface {
	DeploymentStatus(ctx context.Context, deploymentID string, status types.DeploymentStatus, containerID *string)
	ServiceStatus(ctx context.Context, serviceID string, status types.ServiceStatus)
	UserNotification(ctx context.Context, userID, serviceID, deploymentID string, status types.DeploymentStatus)
}

// Worker binds the build and rollback queues to the deployment pipeline.
//
// Queue payloads arrive with env values and git tokens still in their
// encrypted envelopes. The worker decrypts them when it constructs the
// job, so plaintext exists only for the lifetime of the handler call and
// never touches Redis or the database.
type Worker struct {
	pipeline Pipeline
	store    Store
	bus      Publisher
	secrets  *secrets.Manager
	logger   zerolog.Logger

	build    *queue.Consumer
	rollback *queue.Consumer
}

// New wires a worker to both queues. Consumers are created here but do
// not touch Redis until Start.
func New(q *queue.Queue, p Pipeline, st Store, bus Publisher, sec *secrets.Manager, cfg *config.Config) *Worker {
	w := &Worker{
		pipeline: p,
		store:    st,
		bus:      bus,
		secrets:  sec,
		logger:   log.WithComponent("worker"),
	}

	opts := queue.ConsumerOptions{
		Concurrency: cfg.QueueConcurrency,
		MaxAttempts: cfg.QueueMaxAttempts,
		BackoffBase: cfg.QueueBackoffBase,
		RateMax:     cfg.QueueRateMax,
		RateWindow:  cfg.QueueRateWindow,
		OnFailure:   w.markFailed,
	}
	w.build = queue.NewConsumer(q, queue.QueueBuild, w.handleBuild, opts)
	w.rollback = queue.NewConsumer(q, queue.QueueRollback, w.handleRollback, opts)
	return w
}

// Start launches both consumers. Orphaned jobs from a previous run are
// requeued before the first dequeue.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.build.Start(ctx); err != nil {
		return fmt.Errorf("failed to start build consumer: %w", err)
	}
	if err := w.rollback.Start(ctx); err != nil {
		w.build.Stop()
		return fmt.Errorf("failed to start rollback consumer: %w", err)
	}
	w.logger.Info().Msg("Worker started")
	return nil
}

// Stop drains both consumers and blocks until in-flight jobs return.
func (w *Worker) Stop() {
	w.build.Stop()
	w.rollback.Stop()
	w.logger.Info().Msg("Worker stopped")
}

func (w *Worker) handleBuild(ctx context.Context, job *queue.Job) error {
	dj, err := w.decodeDeploymentJob(job.Payload)
	if err != nil {
		return err
	}
	w.logger.Info().
		Str("deployment_id", dj.DeploymentID).
		Str("service_id", dj.ServiceID).
		Int("attempt", job.Attempts).
		Msg("Processing deployment job")
	return w.pipeline.Deploy(ctx, dj)
}

func (w *Worker) handleRollback(ctx context.Context, job *queue.Job) error {
	rj, err := w.decodeRollbackJob(job.Payload)
	if err != nil {
		return err
	}
	w.logger.Info().
		Str("deployment_id", rj.DeploymentID).
		Str("service_id", rj.ServiceID).
		Str("image_tag", rj.ImageTag).
		Int("attempt", job.Attempts).
		Msg("Processing rollback job")
	return w.pipeline.Rollback(ctx, rj)
}

// decodeDeploymentJob unmarshals the payload and opens the secret
// envelopes. The returned job carries plaintext env and token.
func (w *Worker) decodeDeploymentJob(payload []byte) (*types.DeploymentJob, error) {
	var dj types.DeploymentJob
	if err := json.Unmarshal(payload, &dj); err != nil {
		return nil, fmt.Errorf("failed to decode deployment job: %w", err)
	}
	env, err := w.secrets.DecryptMap(dj.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt environment: %w", err)
	}
	dj.Env = env
	if dj.GitToken != "" {
		token, err := w.secrets.Decrypt(dj.GitToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt git token: %w", err)
		}
		dj.GitToken = token
	}
	return &dj, nil
}

func (w *Worker) decodeRollbackJob(payload []byte) (*types.RollbackJob, error) {
	var rj types.RollbackJob
	if err := json.Unmarshal(payload, &rj); err != nil {
		return nil, fmt.Errorf("failed to decode rollback job: %w", err)
	}
	env, err := w.secrets.DecryptMap(rj.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt environment: %w", err)
	}
	rj.Env = env
	return &rj, nil
}

// markFailed is the net under the pipeline. A job that burned every
// attempt on infrastructure errors never reached the pipeline's own
// failure recording, so the deployment row would stay BUILDING forever
// without this. Terminal rows are immutable, so an outcome the pipeline
// already wrote is left untouched.
func (w *Worker) markFailed(jobID string, jobErr error) {
	ctx := context.Background()

	dep, err := w.store.GetDeployment(ctx, jobID)
	if err != nil {
		w.logger.Error().Err(err).
			Str("deployment_id", jobID).
			Msg("Failed to load deployment after exhausted retries")
		return
	}
	if dep.Status.Terminal() {
		return
	}

	logs := fmt.Sprintf("deployment failed after exhausting retries: %v", jobErr)
	if err := w.store.FinishDeployment(ctx, jobID, types.DeploymentStatusFailed, logs); err != nil {
		w.logger.Error().Err(err).
			Str("deployment_id", jobID).
			Msg("Failed to record deployment failure")
		return
	}
	if err := w.store.UpdateServiceStatus(ctx, dep.ServiceID, types.ServiceStatusFailed); err != nil {
		w.logger.Error().Err(err).
			Str("service_id", dep.ServiceID).
			Msg("Failed to update service status")
	}
	metrics.DeploymentsTotal.WithLabelValues(string(types.DeploymentStatusFailed)).Inc()
	w.bus.DeploymentStatus(ctx, jobID, types.DeploymentStatusFailed, nil)
	w.bus.ServiceStatus(ctx, dep.ServiceID, types.ServiceStatusFailed)
	if svc, err := w.store.GetService(ctx, dep.ServiceID); err != nil {
		w.logger.Warn().Err(err).
			Str("service_id", dep.ServiceID).
			Msg("Failed to load service for owner notification")
	} else {
		w.bus.UserNotification(ctx, svc.UserID, dep.ServiceID, jobID, types.DeploymentStatusFailed)
	}

	w.logger.Error().Err(jobErr).
		Str("deployment_id", jobID).
		Str("service_id", dep.ServiceID).
		Msg("Deployment failed permanently")
}
