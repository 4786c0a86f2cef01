package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderlite/renderlite/pkg/errdefs"
)

func TestAddAndVerifyDomain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	svc, err := f.m.CreateService(ctx, validInput())
	require.NoError(t, err)

	d, err := f.m.AddDomain(ctx, svc.ID, "App.Example.COM.")
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", d.Hostname)
	assert.False(t, d.Verified)
	assert.NotEmpty(t, d.VerificationToken)

	// Unverified domains do not route.
	verified, err := f.st.ListVerifiedDomains(ctx, svc.ID)
	require.NoError(t, err)
	assert.Empty(t, verified)

	got, err := f.m.VerifyDomain(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, got.Verified)

	verified, err = f.st.ListVerifiedDomains(ctx, svc.ID)
	require.NoError(t, err)
	require.Len(t, verified, 1)
	assert.Equal(t, "app.example.com", verified[0].Hostname)
}

func TestAddDomainConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.m.CreateService(ctx, validInput())
	require.NoError(t, err)
	second, err := f.m.CreateService(ctx, validInput())
	require.NoError(t, err)

	_, err = f.m.AddDomain(ctx, first.ID, "app.example.com")
	require.NoError(t, err)

	// The hostname namespace is global, not per service.
	_, err = f.m.AddDomain(ctx, second.ID, "app.example.com")
	assert.True(t, errdefs.IsConflict(err), "got %v", err)
}

func TestAddDomainValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	svc, err := f.m.CreateService(ctx, validInput())
	require.NoError(t, err)

	for _, hostname := range []string{"", "localhost", "has space.com", "http://x.com"} {
		_, err := f.m.AddDomain(ctx, svc.ID, hostname)
		assert.True(t, errdefs.IsValidation(err), "hostname %q should be rejected, got %v", hostname, err)
	}

	_, err = f.m.AddDomain(ctx, "nope", "ok.example.com")
	assert.True(t, errdefs.IsNotFound(err))
}
