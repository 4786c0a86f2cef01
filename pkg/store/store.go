package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/renderlite/renderlite/pkg/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store defines the persistence interface for platform state
type Store interface {
	// Services
	CreateService(ctx context.Context, service *types.Service) error
	GetService(ctx context.Context, id string) (*types.Service, error)
	GetServiceBySubdomain(ctx context.Context, subdomain string) (*types.Service, error)
	ListServices(ctx context.Context) ([]*types.Service, error)
	ListServicesWithContainer(ctx context.Context) ([]*types.Service, error)
	ListFailedServicesBefore(ctx context.Context, cutoff time.Time) ([]*types.Service, error)
	UpdateServiceStatus(ctx context.Context, id string, status types.ServiceStatus) error
	SetServiceContainer(ctx context.Context, id string, status types.ServiceStatus, containerID *string) error

	// Deployments
	CreateDeployment(ctx context.Context, d *types.Deployment) error
	GetDeployment(ctx context.Context, id string) (*types.Deployment, error)
	ListDeployments(ctx context.Context, serviceID string, limit int) ([]*types.Deployment, error)
	MarkDeploymentStarted(ctx context.Context, id string) error
	SetDeploymentCommit(ctx context.Context, id, commitSHA string) error
	SetDeploymentImageTag(ctx context.Context, id, imageTag string) error
	FinishDeployment(ctx context.Context, id string, status types.DeploymentStatus, logs string) error
	TrimDeployments(ctx context.Context, serviceID string, keep int) (int64, error)

	// Domains
	CreateDomain(ctx context.Context, d *types.Domain) error
	GetDomain(ctx context.Context, id string) (*types.Domain, error)
	ListDomains(ctx context.Context, serviceID string) ([]*types.Domain, error)
	ListVerifiedDomains(ctx context.Context, serviceID string) ([]*types.Domain, error)
	MarkDomainVerified(ctx context.Context, id string) error

	Close() error
}

// SQLStore is the SQLite-backed implementation of Store
type SQLStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLStore)(nil)

// Open opens (creating if needed) the SQLite database at path and runs
// pending migrations. ":memory:" opens an in-memory database for tests.
func Open(path string) (*SQLStore, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_loc=UTC", path)
	if path == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on&_loc=UTC"
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY churn and makes :memory: safe across goroutines
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLStore{db: db}, nil
}

// Close closes the underlying database
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
