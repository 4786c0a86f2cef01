package manager

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/renderlite/renderlite/pkg/errdefs"
	"github.com/renderlite/renderlite/pkg/log"
	"github.com/renderlite/renderlite/pkg/queue"
	"github.com/renderlite/renderlite/pkg/secrets"
	"github.com/renderlite/renderlite/pkg/store"
	"github.com/renderlite/renderlite/pkg/types"
)

// subdomainAttempts bounds the generate-and-insert loop for new services.
const subdomainAttempts = 10

// Publisher announces state changes to event subscribers.
type Publisher interface {
	DeploymentStatus(ctx context.Context, deploymentID string, status types.DeploymentStatus, containerID *string)
	ServiceStatus(ctx context.Context, serviceID string, status types.ServiceStatus)
	UserNotification(ctx context.Context, userID, serviceID, deploymentID string, status types.DeploymentStatus)
}

// Manager is the control-plane service layer. It owns service creation,
// deployment triggers, cancellation, webhooks, and domains; the heavy
// lifting happens in the worker process, reached through the queue.
type Manager struct {
	store   *store.SQLStore
	q       *queue.Queue
	secrets *secrets.Manager
	bus     Publisher
	logger  zerolog.Logger
}

// New wires the manager to its collaborators.
func New(st *store.SQLStore, q *queue.Queue, sec *secrets.Manager, bus Publisher) *Manager {
	return &Manager{
		store:   st,
		q:       q,
		secrets: sec,
		bus:     bus,
		logger:  log.WithComponent("manager"),
	}
}

// CreateServiceInput carries the plaintext service definition. Env values
// and the git token are encrypted before anything is written.
type CreateServiceInput struct {
	Name      string
	ProjectID string
	UserID    string
	RepoURL   string
	Branch    string
	Runtime   string
	Env       map[string]string
	GitToken  string

	HealthCheckPath        string
	HealthCheckIntervalSec int
	HealthCheckTimeoutSec  int
}

// CreateService validates the input, encrypts the secret material, and
// inserts the service under a freshly generated unique subdomain. The
// subdomain is slug(name) plus a random 6-hex-char suffix; on a collision
// the suffix is rerolled, up to 10 times.
func (m *Manager) CreateService(ctx context.Context, in CreateServiceInput) (*types.Service, error) {
	repoURL, err := normalizeRepoURL(in.RepoURL)
	if err != nil {
		return nil, err
	}
	if in.Branch == "" {
		return nil, errdefs.Validation("branch is required")
	}
	slug := slugify(in.Name)
	if slug == "" {
		return nil, errdefs.Validation("name %q has no characters usable in a subdomain", in.Name)
	}

	env, err := m.secrets.EncryptMap(in.Env)
	if err != nil {
		return nil, err
	}
	gitToken := ""
	if in.GitToken != "" {
		gitToken, err = m.secrets.Encrypt(in.GitToken)
		if err != nil {
			return nil, err
		}
	}
	webhookSecret, err := secrets.GenerateWebhookSecret()
	if err != nil {
		return nil, err
	}

	svc := &types.Service{
		ID:                     uuid.NewString(),
		Name:                   in.Name,
		ProjectID:              in.ProjectID,
		UserID:                 in.UserID,
		RepoURL:                repoURL,
		Branch:                 in.Branch,
		Runtime:                in.Runtime,
		Status:                 types.ServiceStatusCreated,
		Env:                    env,
		GitToken:               gitToken,
		HealthCheckPath:        in.HealthCheckPath,
		HealthCheckIntervalSec: in.HealthCheckIntervalSec,
		HealthCheckTimeoutSec:  in.HealthCheckTimeoutSec,
		WebhookSecret:          webhookSecret,
	}

	// The unique index on subdomain is the arbiter; on a Conflict the
	// suffix is rerolled and the insert retried.
	for attempt := 0; attempt < subdomainAttempts; attempt++ {
		suffix, err := randomSuffix()
		if err != nil {
			return nil, err
		}
		svc.Subdomain = slug + "-" + suffix
		err = m.store.CreateService(ctx, svc)
		if err == nil {
			m.logger.Info().
				Str("service_id", svc.ID).
				Str("subdomain", svc.Subdomain).
				Msg("Service created")
			return svc, nil
		}
		if !errdefs.IsConflict(err) {
			return nil, err
		}
	}
	return nil, errdefs.Conflict("could not allocate a unique subdomain for %q after %d attempts", in.Name, subdomainAttempts)
}

// GetService fetches a service by id.
func (m *Manager) GetService(ctx context.Context, id string) (*types.Service, error) {
	return m.store.GetService(ctx, id)
}

// ListServices returns all services.
func (m *Manager) ListServices(ctx context.Context) ([]*types.Service, error) {
	return m.store.ListServices(ctx)
}

// GetDeployment fetches a deployment by id, logs included.
func (m *Manager) GetDeployment(ctx context.Context, id string) (*types.Deployment, error) {
	return m.store.GetDeployment(ctx, id)
}

// ListDeployments returns the most recent deployments of a service.
func (m *Manager) ListDeployments(ctx context.Context, serviceID string, limit int) ([]*types.Deployment, error) {
	if _, err := m.store.GetService(ctx, serviceID); err != nil {
		return nil, err
	}
	return m.store.ListDeployments(ctx, serviceID, limit)
}

// normalizeRepoURL strips a trailing slash and .git suffix and rejects
// anything that is not an absolute http(s) URL.
func normalizeRepoURL(raw string) (string, error) {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(raw, "/"), ".git")
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", errdefs.Validation("repository URL %q is not a valid URL", raw)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errdefs.Validation("repository URL %q must be absolute http(s)", raw)
	}
	return trimmed, nil
}
