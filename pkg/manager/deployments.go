package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/renderlite/renderlite/pkg/errdefs"
	"github.com/renderlite/renderlite/pkg/metrics"
	"github.com/renderlite/renderlite/pkg/queue"
	"github.com/renderlite/renderlite/pkg/types"
)

// cancelledLogLine is written to deployments cancelled while queued.
const cancelledLogLine = "cancelled by user"

// TriggerDeployment creates a QUEUED deployment and enqueues the build
// job under the deployment id. Env values and the git token travel in
// their encrypted envelopes; the worker opens them at job construction.
func (m *Manager) TriggerDeployment(ctx context.Context, serviceID string) (*types.Deployment, error) {
	svc, err := m.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	dep := &types.Deployment{
		ID:        uuid.NewString(),
		ServiceID: svc.ID,
		Status:    types.DeploymentStatusQueued,
	}
	if err := m.store.CreateDeployment(ctx, dep); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(types.DeploymentJob{
		DeploymentID:          dep.ID,
		ServiceID:             svc.ID,
		UserID:                svc.UserID,
		RepoURL:               svc.RepoURL,
		Branch:                svc.Branch,
		Subdomain:             svc.Subdomain,
		Env:                   svc.Env,
		GitToken:              svc.GitToken,
		HealthCheckPath:       svc.HealthCheckPath,
		HealthCheckTimeoutSec: svc.HealthCheckTimeoutSec,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal deployment job: %w", err)
	}

	if err := m.enqueue(ctx, queue.QueueBuild, dep.ID, payload); err != nil {
		return nil, err
	}
	if err := m.store.UpdateServiceStatus(ctx, svc.ID, types.ServiceStatusDeploying); err != nil {
		return nil, err
	}
	m.bus.DeploymentStatus(ctx, dep.ID, types.DeploymentStatusQueued, nil)
	m.bus.ServiceStatus(ctx, svc.ID, types.ServiceStatusDeploying)

	m.logger.Info().
		Str("deployment_id", dep.ID).
		Str("service_id", svc.ID).
		Msg("Deployment queued")
	return dep, nil
}

// TriggerRollback creates a QUEUED deployment that reuses the image of an
// earlier successful deployment. No clone or build will run for it.
func (m *Manager) TriggerRollback(ctx context.Context, targetDeploymentID string) (*types.Deployment, error) {
	target, err := m.store.GetDeployment(ctx, targetDeploymentID)
	if err != nil {
		return nil, err
	}
	if target.Status != types.DeploymentStatusSuccess {
		return nil, errdefs.Validation("deployment %s is %s, only successful deployments can be rolled back to",
			target.ID, target.Status)
	}
	if target.ImageTag == "" {
		return nil, errdefs.Validation("deployment %s has no recorded image tag", target.ID)
	}
	svc, err := m.store.GetService(ctx, target.ServiceID)
	if err != nil {
		return nil, err
	}

	dep := &types.Deployment{
		ID:        uuid.NewString(),
		ServiceID: svc.ID,
		Status:    types.DeploymentStatusQueued,
	}
	if err := m.store.CreateDeployment(ctx, dep); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(types.RollbackJob{
		DeploymentID:          dep.ID,
		ServiceID:             svc.ID,
		UserID:                svc.UserID,
		Subdomain:             svc.Subdomain,
		ImageTag:              target.ImageTag,
		CommitSHA:             target.CommitSHA,
		Env:                   svc.Env,
		HealthCheckPath:       svc.HealthCheckPath,
		HealthCheckTimeoutSec: svc.HealthCheckTimeoutSec,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rollback job: %w", err)
	}

	if err := m.enqueue(ctx, queue.QueueRollback, dep.ID, payload); err != nil {
		return nil, err
	}
	if err := m.store.UpdateServiceStatus(ctx, svc.ID, types.ServiceStatusDeploying); err != nil {
		return nil, err
	}
	m.bus.DeploymentStatus(ctx, dep.ID, types.DeploymentStatusQueued, nil)
	m.bus.ServiceStatus(ctx, svc.ID, types.ServiceStatusDeploying)

	m.logger.Info().
		Str("deployment_id", dep.ID).
		Str("service_id", svc.ID).
		Str("rolled_back_to", target.ID).
		Str("image_tag", target.ImageTag).
		Msg("Rollback queued")
	return dep, nil
}

// enqueue hands the job to the queue; if that fails the fresh QUEUED row
// is closed out so no deployment points at a job that does not exist.
func (m *Manager) enqueue(ctx context.Context, queueName, deploymentID string, payload []byte) error {
	err := m.q.Enqueue(ctx, queueName, deploymentID, payload)
	if err == nil {
		return nil
	}
	if finErr := m.store.FinishDeployment(ctx, deploymentID,
		types.DeploymentStatusFailed, "failed to enqueue deployment job"); finErr != nil {
		m.logger.Error().Err(finErr).
			Str("deployment_id", deploymentID).
			Msg("Failed to close out unenqueued deployment")
	}
	return err
}

// CancelDeployment removes a still-queued deployment from its queue and
// records the outcome. Deployments already picked up by a worker are not
// interrupted; cancelling one is a conflict.
func (m *Manager) CancelDeployment(ctx context.Context, id string) (*types.Deployment, error) {
	dep, err := m.store.GetDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	if dep.Status != types.DeploymentStatusQueued {
		if dep.Status == types.DeploymentStatusFailed && strings.Contains(dep.Logs, cancelledLogLine) {
			return nil, errdefs.Cancelled("deployment %s is already cancelled", id)
		}
		return nil, errdefs.Conflict("deployment %s is %s, only queued deployments can be cancelled", id, dep.Status)
	}

	err = m.q.Remove(ctx, queue.QueueBuild, id)
	if errdefs.IsNotFound(err) {
		err = m.q.Remove(ctx, queue.QueueRollback, id)
	}
	if err != nil {
		if errdefs.IsNotFound(err) {
			// The row said QUEUED but no queue holds the job: a worker
			// grabbed it between the read and the remove.
			return nil, errdefs.Conflict("deployment %s is no longer queued", id)
		}
		return nil, err
	}

	if err := m.store.FinishDeployment(ctx, id, types.DeploymentStatusFailed, cancelledLogLine); err != nil {
		return nil, err
	}
	if err := m.store.UpdateServiceStatus(ctx, dep.ServiceID, types.ServiceStatusFailed); err != nil {
		return nil, err
	}
	metrics.DeploymentsTotal.WithLabelValues(string(types.DeploymentStatusFailed)).Inc()
	m.bus.DeploymentStatus(ctx, id, types.DeploymentStatusFailed, nil)
	m.bus.ServiceStatus(ctx, dep.ServiceID, types.ServiceStatusFailed)
	if svc, err := m.store.GetService(ctx, dep.ServiceID); err != nil {
		m.logger.Warn().Err(err).
			Str("service_id", dep.ServiceID).
			Msg("Failed to load service for owner notification")
	} else {
		m.bus.UserNotification(ctx, svc.UserID, dep.ServiceID, id, types.DeploymentStatusFailed)
	}

	m.logger.Info().
		Str("deployment_id", id).
		Str("service_id", dep.ServiceID).
		Msg("Deployment cancelled")
	return m.store.GetDeployment(ctx, id)
}
