package manager

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/renderlite/renderlite/pkg/errdefs"
	"github.com/renderlite/renderlite/pkg/secrets"
	"github.com/renderlite/renderlite/pkg/types"
)

// AddDomain binds a custom hostname to a service. The domain starts
// unverified and carries a token the owner must publish in DNS; only
// verified domains are routed.
func (m *Manager) AddDomain(ctx context.Context, serviceID, hostname string) (*types.Domain, error) {
	svc, err := m.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	hostname = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(hostname), "."))
	if hostname == "" || !strings.Contains(hostname, ".") || strings.ContainsAny(hostname, " /:") {
		return nil, errdefs.Validation("hostname %q is not a valid domain name", hostname)
	}

	token, err := secrets.GenerateWebhookSecret()
	if err != nil {
		return nil, err
	}
	d := &types.Domain{
		ID:                uuid.NewString(),
		ServiceID:         svc.ID,
		Hostname:          hostname,
		VerificationToken: token,
	}
	if err := m.store.CreateDomain(ctx, d); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("domain_id", d.ID).
		Str("service_id", svc.ID).
		Str("hostname", hostname).
		Msg("Domain added")
	return d, nil
}

// VerifyDomain marks a domain verified. Proving ownership (the TXT record
// carrying the verification token) is the caller's job; the next deploy
// picks the hostname up for routing.
func (m *Manager) VerifyDomain(ctx context.Context, domainID string) (*types.Domain, error) {
	if err := m.store.MarkDomainVerified(ctx, domainID); err != nil {
		return nil, err
	}
	d, err := m.store.GetDomain(ctx, domainID)
	if err != nil {
		return nil, err
	}
	m.logger.Info().
		Str("domain_id", d.ID).
		Str("hostname", d.Hostname).
		Msg("Domain verified")
	return d, nil
}

// ListDomains returns all domains of a service, verified or not.
func (m *Manager) ListDomains(ctx context.Context, serviceID string) ([]*types.Domain, error) {
	if _, err := m.store.GetService(ctx, serviceID); err != nil {
		return nil, err
	}
	return m.store.ListDomains(ctx, serviceID)
}
