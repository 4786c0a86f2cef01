package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ServiceStatus represents the current state of a service
type ServiceStatus string

const (
	ServiceStatusCreated   ServiceStatus = "CREATED"
	ServiceStatusDeploying ServiceStatus = "DEPLOYING"
	ServiceStatusRunning   ServiceStatus = "RUNNING"
	ServiceStatusStopped   ServiceStatus = "STOPPED"
	ServiceStatusFailed    ServiceStatus = "FAILED"
)

// DeploymentStatus represents the state of a single deployment attempt
type DeploymentStatus string

const (
	DeploymentStatusQueued   DeploymentStatus = "QUEUED"
	DeploymentStatusBuilding DeploymentStatus = "BUILDING"
	DeploymentStatusSuccess  DeploymentStatus = "SUCCESS"
	DeploymentStatusFailed   DeploymentStatus = "FAILED"
)

// Terminal reports whether the status is final. Terminal rows are immutable.
func (s DeploymentStatus) Terminal() bool {
	return s == DeploymentStatusSuccess || s == DeploymentStatusFailed
}

// EnvMap is a map of environment variable names to values. Values are stored
// encrypted (see pkg/secrets); the map serializes to a JSON TEXT column.
type EnvMap map[string]string

// Value implements driver.Valuer for the JSON column
func (m EnvMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal env map: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner for the JSON column
func (m *EnvMap) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = EnvMap{}
		return nil
	case string:
		return json.Unmarshal([]byte(v), m)
	case []byte:
		return json.Unmarshal(v, m)
	default:
		return fmt.Errorf("cannot scan %T into EnvMap", src)
	}
}

// Service represents a deployable unit bound to a single repository/branch
type Service struct {
	ID        string        `db:"id" json:"id"`
	Name      string        `db:"name" json:"name"`
	ProjectID string        `db:"project_id" json:"projectId"`
	UserID    string        `db:"user_id" json:"userId"`
	RepoURL   string        `db:"repo_url" json:"repoUrl"` // normalized, no .git suffix
	Branch    string        `db:"branch" json:"branch"`
	Runtime   string        `db:"runtime" json:"runtime,omitempty"` // optional hint
	Subdomain string        `db:"subdomain" json:"subdomain"`       // immutable, globally unique
	Status    ServiceStatus `db:"status" json:"status"`
	// ContainerID points at the live container when Status is RUNNING
	ContainerID *string `db:"container_id" json:"containerId"`
	// Env holds encrypted values; API responses mask them
	Env EnvMap `db:"env" json:"-"`
	// GitToken is an encrypted source-control token, empty for public repos
	GitToken string `db:"git_token" json:"-"`

	HealthCheckPath        string `db:"health_check_path" json:"healthCheckPath,omitempty"`
	HealthCheckIntervalSec int    `db:"health_check_interval_sec" json:"healthCheckIntervalSec,omitempty"`
	HealthCheckTimeoutSec  int    `db:"health_check_timeout_sec" json:"healthCheckTimeoutSec,omitempty"`

	WebhookSecret string `db:"webhook_secret" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Deployment represents one attempt to bring a service to a new revision.
// Rows with a terminal status are never mutated again.
type Deployment struct {
	ID        string           `db:"id" json:"id"`
	ServiceID string           `db:"service_id" json:"serviceId"`
	Status    DeploymentStatus `db:"status" json:"status"`
	CommitSHA string           `db:"commit_sha" json:"commitSha,omitempty"`
	// ImageTag is set as soon as the image is built and retained on SUCCESS
	// so a rollback can reuse it
	ImageTag   string     `db:"image_tag" json:"imageTag,omitempty"`
	Logs       string     `db:"logs" json:"logs,omitempty"`
	StartedAt  *time.Time `db:"started_at" json:"startedAt,omitempty"`
	FinishedAt *time.Time `db:"finished_at" json:"finishedAt,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
}

// Domain is a custom hostname bound to a service. Only verified domains
// participate in routing.
type Domain struct {
	ID                string    `db:"id" json:"id"`
	ServiceID         string    `db:"service_id" json:"serviceId"`
	Hostname          string    `db:"hostname" json:"hostname"`
	Verified          bool      `db:"verified" json:"verified"`
	VerificationToken string    `db:"verification_token" json:"verificationToken"`
	CreatedAt         time.Time `db:"created_at" json:"createdAt"`
}

// DeploymentJob is the immutable plan a worker executes for a build job.
// Env values and GitToken travel encrypted; the worker decrypts them at job
// construction time, never earlier.
type DeploymentJob struct {
	DeploymentID          string `json:"deploymentId"`
	ServiceID             string `json:"serviceId"`
	UserID                string `json:"userId"`
	RepoURL               string `json:"repoUrl"`
	Branch                string `json:"branch"`
	Subdomain             string `json:"subdomain"`
	Env                   EnvMap `json:"env"`
	GitToken              string `json:"gitToken,omitempty"`
	HealthCheckPath       string `json:"healthCheckPath,omitempty"`
	HealthCheckTimeoutSec int    `json:"healthCheckTimeoutSec,omitempty"`
}

// RollbackJob carries a pre-built imageTag instead of a repository URL;
// no clone or build is performed for it.
type RollbackJob struct {
	DeploymentID          string `json:"deploymentId"`
	ServiceID             string `json:"serviceId"`
	UserID                string `json:"userId"`
	Subdomain             string `json:"subdomain"`
	ImageTag              string `json:"imageTag"`
	CommitSHA             string `json:"commitSha,omitempty"`
	Env                   EnvMap `json:"env"`
	HealthCheckPath       string `json:"healthCheckPath,omitempty"`
	HealthCheckTimeoutSec int    `json:"healthCheckTimeoutSec,omitempty"`
}

// ContainerStats is a one-shot resource sample of a running container
type ContainerStats struct {
	CPUPercent    float64   `json:"cpuPercent"`
	MemoryUsage   uint64    `json:"memoryUsage"`
	MemoryLimit   uint64    `json:"memoryLimit"`
	MemoryPercent float64   `json:"memoryPercent"`
	NetworkRx     uint64    `json:"networkRx"`
	NetworkTx     uint64    `json:"networkTx"`
	Timestamp     time.Time `json:"timestamp"`
}

// ManagedContainer describes a platform-labelled container as reported by
// the runtime
type ManagedContainer struct {
	ID        string
	Name      string
	State     string // created, running, exited, ...
	Subdomain string
}

// ContainerStateRunning is the runtime state of a live container
const ContainerStateRunning = "running"

// ContainerStateExited marks containers the reconciler may reap
const ContainerStateExited = "exited"
