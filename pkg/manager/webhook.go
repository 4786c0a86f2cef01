package manager

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/renderlite/renderlite/pkg/errdefs"
	"github.com/renderlite/renderlite/pkg/secrets"
	"github.com/renderlite/renderlite/pkg/types"
)

// pushEvent is the slice of a source-control push payload the webhook
// handler cares about.
type pushEvent struct {
	Ref   string `json:"ref"`
	After string `json:"after"`
}

// HandleWebhook verifies the HMAC signature of a push payload against the
// service's webhook secret and, when the pushed branch matches the
// service's branch, triggers a deployment. A push to any other branch is
// ignored and returns (nil, nil).
//
// Identical pushes are deliberately not deduplicated: two equal webhook
// deliveries produce two deployments.
func (m *Manager) HandleWebhook(ctx context.Context, serviceID string, body []byte, signature string) (*types.Deployment, error) {
	svc, err := m.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if !secrets.VerifySignature(svc.WebhookSecret, body, signature) {
		return nil, errdefs.Validation("webhook signature mismatch")
	}

	var push pushEvent
	if err := json.Unmarshal(body, &push); err != nil {
		return nil, errdefs.Validation("webhook payload is not valid JSON")
	}
	branch := strings.TrimPrefix(push.Ref, "refs/heads/")
	if branch == "" {
		return nil, errdefs.Validation("webhook payload has no ref")
	}
	if branch != svc.Branch {
		m.logger.Debug().
			Str("service_id", svc.ID).
			Str("pushed", branch).
			Str("tracked", svc.Branch).
			Msg("Ignoring push to untracked branch")
		return nil, nil
	}

	m.logger.Info().
		Str("service_id", svc.ID).
		Str("branch", branch).
		Str("commit", push.After).
		Msg("Webhook push accepted")
	return m.TriggerDeployment(ctx, serviceID)
}
