package events

import (
	"encoding/json"
	"time"

	"github.com/renderlite/renderlite/pkg/types"
)

// Channel is the shared Redis pub/sub channel all processes publish to.
// The hub in the API process holds the single subscription and re-emits
// to local topic rooms.
const Channel = "renderlite:realtime:events"

// Kind identifies what an event payload describes.
type Kind string

const (
	KindDeploymentLog    Kind = "deployment:log"
	KindDeploymentStatus Kind = "deployment:status"
	KindServiceStatus    Kind = "service:status"
	KindServiceMetrics   Kind = "service:metrics"
	KindUserNotification Kind = "user:notification"
)

// DeploymentTopic is the room carrying log and status events for one
// deployment.
func DeploymentTopic(deploymentID string) string {
	return "deployment:" + deploymentID
}

// ServiceTopic is the room carrying status and metrics events for one
// service.
func ServiceTopic(serviceID string) string {
	return "service:" + serviceID
}

// UserTopic is the room carrying personal notifications for one user.
func UserTopic(userID string) string {
	return "user:" + userID
}

// Event is the wire envelope carried over the shared channel. Payload is
// one of the typed payloads below, chosen by Kind.
type Event struct {
	Topic     string          `json:"topic"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// DeploymentLog is a single chunk of build or runtime output. Delivery is
// best-effort; the full log is persisted on the deployment row when the
// pipeline terminates.
type DeploymentLog struct {
	DeploymentID string    `json:"deploymentId"`
	Log          string    `json:"log"`
	Timestamp    time.Time `json:"timestamp"`
}

// DeploymentStatus announces a deployment state transition.
type DeploymentStatus struct {
	DeploymentID string                 `json:"deploymentId"`
	Status       types.DeploymentStatus `json:"status"`
	ContainerID  *string                `json:"containerId,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// ServiceStatus announces a service state transition.
type ServiceStatus struct {
	ServiceID string              `json:"serviceId"`
	Status    types.ServiceStatus `json:"status"`
	Timestamp time.Time           `json:"timestamp"`
}

// ServiceMetrics carries one resource sample for a running service.
type ServiceMetrics struct {
	ServiceID string               `json:"serviceId"`
	Metrics   types.ContainerStats `json:"metrics"`
	Timestamp time.Time            `json:"timestamp"`
}

// UserNotification tells a service owner that one of their deployments
// reached a terminal state.
type UserNotification struct {
	UserID       string                 `json:"userId"`
	ServiceID    string                 `json:"serviceId"`
	DeploymentID string                 `json:"deploymentId"`
	Status       types.DeploymentStatus `json:"status"`
	Timestamp    time.Time              `json:"timestamp"`
}
