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

const serviceColumns = `id, name, project_id, user_id, repo_url, branch, runtime,
	subdomain, status, container_id, env, git_token, health_check_path,
	health_check_interval_sec, health_check_timeout_sec, webhook_secret,
	created_at, updated_at`

// CreateService inserts a new service row. A duplicate subdomain returns a
// Conflict error.
func (s *SQLStore) CreateService(ctx context.Context, svc *types.Service) error {
	now := time.Now().UTC()
	if svc.CreatedAt.IsZero() {
		svc.CreatedAt = now
	}
	svc.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO services (id, name, project_id, user_id, repo_url, branch,
			runtime, subdomain, status, container_id, env, git_token,
			health_check_path, health_check_interval_sec, health_check_timeout_sec,
			webhook_secret, created_at, updated_at)
		VALUES (:id, :name, :project_id, :user_id, :repo_url, :branch,
			:runtime, :subdomain, :status, :container_id, :env, :git_token,
			:health_check_path, :health_check_interval_sec, :health_check_timeout_sec,
			:webhook_secret, :created_at, :updated_at)`, svc)
	if err != nil {
		if isUniqueViolation(err) {
			return errdefs.Conflict("subdomain %q is already taken", svc.Subdomain)
		}
		return fmt.Errorf("failed to create service: %w", err)
	}
	return nil
}

// GetService fetches a service by id
func (s *SQLStore) GetService(ctx context.Context, id string) (*types.Service, error) {
	var svc types.Service
	err := s.db.GetContext(ctx, &svc,
		`SELECT `+serviceColumns+` FROM services WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdefs.NotFound("service %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return &svc, nil
}

// GetServiceBySubdomain fetches a service by its unique subdomain
func (s *SQLStore) GetServiceBySubdomain(ctx context.Context, subdomain string) (*types.Service, error) {
	var svc types.Service
	err := s.db.GetContext(ctx, &svc,
		`SELECT `+serviceColumns+` FROM services WHERE subdomain = ?`, subdomain)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdefs.NotFound("service with subdomain %q not found", subdomain)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service by subdomain: %w", err)
	}
	return &svc, nil
}

// ListServices returns all services ordered by creation time
func (s *SQLStore) ListServices(ctx context.Context) ([]*types.Service, error) {
	var out []*types.Service
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+serviceColumns+` FROM services ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	return out, nil
}

// ListServicesWithContainer returns services that reference a container
func (s *SQLStore) ListServicesWithContainer(ctx context.Context) ([]*types.Service, error) {
	var out []*types.Service
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+serviceColumns+` FROM services WHERE container_id IS NOT NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list services with container: %w", err)
	}
	return out, nil
}

// ListFailedServicesBefore returns FAILED services holding a container whose
// last update is older than cutoff
func (s *SQLStore) ListFailedServicesBefore(ctx context.Context, cutoff time.Time) ([]*types.Service, error) {
	var out []*types.Service
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+serviceColumns+` FROM services
		 WHERE status = ? AND container_id IS NOT NULL AND updated_at < ?
		 ORDER BY updated_at`, types.ServiceStatusFailed, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list failed services: %w", err)
	}
	return out, nil
}

// UpdateServiceStatus updates only the status, leaving the container pointer
// untouched
func (s *SQLStore) UpdateServiceStatus(ctx context.Context, id string, status types.ServiceStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE services SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update service status: %w", err)
	}
	return requireRow(res, "service", id)
}

// SetServiceContainer updates status and container pointer together; a nil
// containerID clears the pointer
func (s *SQLStore) SetServiceContainer(ctx context.Context, id string, status types.ServiceStatus, containerID *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE services SET status = ?, container_id = ?, updated_at = ? WHERE id = ?`,
		status, containerID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set service container: %w", err)
	}
	return requireRow(res, "service", id)
}

func requireRow(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return errdefs.NotFound("%s %s not found", entity, id)
	}
	return nil
}
