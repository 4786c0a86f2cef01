package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/renderlite/renderlite/pkg/log"
	"github.com/renderlite/renderlite/pkg/types"
)

// Bus publishes events onto the shared channel. It is safe for concurrent
// use; per-topic ordering follows publication order within one publisher.
type Bus struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

// NewBus creates a publisher over an existing Redis client.
func NewBus(rdb *redis.Client) *Bus {
	return &Bus{
		rdb:    rdb,
		logger: log.WithComponent("events"),
	}
}

// Publish wraps payload in an envelope and sends it to the shared channel.
func (b *Bus) Publish(ctx context.Context, topic string, kind Kind, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	ev := Event{
		Topic:     topic,
		Kind:      kind,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, Channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", kind, err)
	}
	return nil
}

// DeploymentLog emits one log chunk for a deployment. Events are
// best-effort: failures are logged and swallowed so a flaky bus cannot
// fail a deployment whose outcome is already persisted.
func (b *Bus) DeploymentLog(ctx context.Context, deploymentID, line string) {
	p := DeploymentLog{
		DeploymentID: deploymentID,
		Log:          line,
		Timestamp:    time.Now().UTC(),
	}
	b.emit(ctx, DeploymentTopic(deploymentID), KindDeploymentLog, p)
}

// DeploymentStatus emits a deployment state transition.
func (b *Bus) DeploymentStatus(ctx context.Context, deploymentID string, status types.DeploymentStatus, containerID *string) {
	p := DeploymentStatus{
		DeploymentID: deploymentID,
		Status:       status,
		ContainerID:  containerID,
		Timestamp:    time.Now().UTC(),
	}
	b.emit(ctx, DeploymentTopic(deploymentID), KindDeploymentStatus, p)
}

// ServiceStatus emits a service state transition.
func (b *Bus) ServiceStatus(ctx context.Context, serviceID string, status types.ServiceStatus) {
	p := ServiceStatus{
		ServiceID: serviceID,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
	b.emit(ctx, ServiceTopic(serviceID), KindServiceStatus, p)
}

// ServiceMetrics emits one resource sample for a service.
func (b *Bus) ServiceMetrics(ctx context.Context, serviceID string, stats types.ContainerStats) {
	p := ServiceMetrics{
		ServiceID: serviceID,
		Metrics:   stats,
		Timestamp: time.Now().UTC(),
	}
	b.emit(ctx, ServiceTopic(serviceID), KindServiceMetrics, p)
}

// UserNotification emits a terminal-deployment notice to the owning
// user's topic.
func (b *Bus) UserNotification(ctx context.Context, userID, serviceID, deploymentID string, status types.DeploymentStatus) {
	p := UserNotification{
		UserID:       userID,
		ServiceID:    serviceID,
		DeploymentID: deploymentID,
		Status:       status,
		Timestamp:    time.Now().UTC(),
	}
	b.emit(ctx, UserTopic(userID), KindUserNotification, p)
}

func (b *Bus) emit(ctx context.Context, topic string, kind Kind, payload any) {
	if err := b.Publish(ctx, topic, kind, payload); err != nil {
		b.logger.Warn().Err(err).Str("topic", topic).Str("kind", string(kind)).Msg("Dropping event")
	}
}
