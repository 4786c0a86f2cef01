package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/renderlite/renderlite/pkg/errdefs"
	"github.com/renderlite/renderlite/pkg/types"
)

const deploymentColumns = `id, service_id, status, commit_sha, image_tag, logs,
	started_at, finished_at, created_at`

// CreateDeployment inserts a new deployment row
func (s *SQLStore) CreateDeployment(ctx context.Context, d *types.Deployment) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO deployments (id, service_id, status, commit_sha, image_tag,
			logs, started_at, finished_at, created_at)
		VALUES (:id, :service_id, :status, :commit_sha, :image_tag,
			:logs, :started_at, :finished_at, :created_at)`, d)
	if err != nil {
		if isUniqueViolation(err) {
			return errdefs.Conflict("deployment %s already exists", d.ID)
		}
		return fmt.Errorf("failed to create deployment: %w", err)
	}
	return nil
}

// GetDeployment fetches a deployment by id
func (s *SQLStore) GetDeployment(ctx context.Context, id string) (*types.Deployment, error) {
	var d types.Deployment
	err := s.db.GetContext(ctx, &d,
		`SELECT `+deploymentColumns+` FROM deployments WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdefs.NotFound("deployment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}
	return &d, nil
}

// ListDeployments returns deployments of a service, newest first. limit <= 0
// means no limit.
func (s *SQLStore) ListDeployments(ctx context.Context, serviceID string, limit int) ([]*types.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE service_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{serviceID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var out []*types.Deployment
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	return out, nil
}

// MarkDeploymentStarted moves a deployment to BUILDING and stamps startedAt
func (s *SQLStore) MarkDeploymentStarted(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deployments SET status = ?, started_at = ? WHERE id = ?`,
		types.DeploymentStatusBuilding, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark deployment started: %w", err)
	}
	return requireRow(res, "deployment", id)
}

// SetDeploymentCommit records the cloned commit hash
func (s *SQLStore) SetDeploymentCommit(ctx context.Context, id, commitSHA string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deployments SET commit_sha = ? WHERE id = ?`, commitSHA, id)
	if err != nil {
		return fmt.Errorf("failed to set deployment commit: %w", err)
	}
	return requireRow(res, "deployment", id)
}

// SetDeploymentImageTag records the built image tag. It is persisted the
// moment the build succeeds so rollbacks can reuse the image.
func (s *SQLStore) SetDeploymentImageTag(ctx context.Context, id, imageTag string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deployments SET image_tag = ? WHERE id = ?`, imageTag, id)
	if err != nil {
		return fmt.Errorf("failed to set deployment image tag: %w", err)
	}
	return requireRow(res, "deployment", id)
}

// FinishDeployment writes the terminal status, the accumulated logs, and
// finishedAt. Rows already terminal are left untouched.
func (s *SQLStore) FinishDeployment(ctx context.Context, id string, status types.DeploymentStatus, logs string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deployments SET status = ?, logs = ?, finished_at = ?
		 WHERE id = ? AND status NOT IN (?, ?)`,
		status, logs, time.Now().UTC(), id,
		types.DeploymentStatusSuccess, types.DeploymentStatusFailed)
	if err != nil {
		return fmt.Errorf("failed to finish deployment: %w", err)
	}
	return nil
}

// TrimDeployments deletes all but the newest keep rows for a service and
// returns how many were removed
func (s *SQLStore) TrimDeployments(ctx context.Context, serviceID string, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM deployments WHERE service_id = ? AND id NOT IN (
			SELECT id FROM deployments WHERE service_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		)`, serviceID, serviceID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to trim deployments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}
