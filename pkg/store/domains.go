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

const domainColumns = `id, service_id, hostname, verified, verification_token, created_at`

// CreateDomain inserts a new domain row. A duplicate hostname returns a
// Conflict error.
func (s *SQLStore) CreateDomain(ctx context.Context, d *types.Domain) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO domains (id, service_id, hostname, verified, verification_token, created_at)
		VALUES (:id, :service_id, :hostname, :verified, :verification_token, :created_at)`, d)
	if err != nil {
		if isUniqueViolation(err) {
			return errdefs.Conflict("hostname %q is already bound", d.Hostname)
		}
		return fmt.Errorf("failed to create domain: %w", err)
	}
	return nil
}

// GetDomain fetches a domain by id
func (s *SQLStore) GetDomain(ctx context.Context, id string) (*types.Domain, error) {
	var d types.Domain
	err := s.db.GetContext(ctx, &d,
		`SELECT `+domainColumns+` FROM domains WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdefs.NotFound("domain %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get domain: %w", err)
	}
	return &d, nil
}

// ListDomains returns all domains of a service
func (s *SQLStore) ListDomains(ctx context.Context, serviceID string) ([]*types.Domain, error) {
	var out []*types.Domain
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+domainColumns+` FROM domains WHERE service_id = ? ORDER BY created_at`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}
	return out, nil
}

// ListVerifiedDomains returns only the verified domains of a service; these
// participate in routing
func (s *SQLStore) ListVerifiedDomains(ctx context.Context, serviceID string) ([]*types.Domain, error) {
	var out []*types.Domain
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+domainColumns+` FROM domains
		 WHERE service_id = ? AND verified = 1 ORDER BY created_at`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list verified domains: %w", err)
	}
	return out, nil
}

// MarkDomainVerified flips the verified flag
func (s *SQLStore) MarkDomainVerified(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE domains SET verified = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to verify domain: %w", err)
	}
	return requireRow(res, "domain", id)
}
