package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderlite/renderlite/pkg/config"
	"github.com/renderlite/renderlite/pkg/errdefs"
	"github.com/renderlite/renderlite/pkg/store"
	"github.com/renderlite/renderlite/pkg/types"
)

type fakeContainer struct {
	id    string
	state string
}

type fakeRuntime struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer
	removed    []string
	inspectErr error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{containers: make(map[string]*fakeContainer)}
}

func (f *fakeRuntime) add(id, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[id] = &fakeContainer{id: id, state: state}
}

func (f *fakeRuntime) IsRunning(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inspectErr != nil {
		return false, f.inspectErr
	}
	c, ok := f.containers[id]
	return ok && c.state == types.ContainerStateRunning, nil
}

func (f *fakeRuntime) RemoveContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeRuntime) ReapExited(ctx context.Context) (int, error) {
	f.mu.Lock()
	var exited []string
	for id, c := range f.containers {
		if c.state == types.ContainerStateExited {
			exited = append(exited, id)
		}
	}
	f.mu.Unlock()
	for _, id := range exited {
		_ = f.RemoveContainer(ctx, id)
	}
	return len(exited), nil
}

type eventRecorder struct {
	mu       sync.Mutex
	statuses []types.ServiceStatus
}

func (r *eventRecorder) ServiceStatus(_ context.Context, _ string, status types.ServiceStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *eventRecorder) all() []types.ServiceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ServiceStatus(nil), r.statuses...)
}

type fixture struct {
	r   *Reconciler
	st  *store.SQLStore
	rt  *fakeRuntime
	bus *eventRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		st:  st,
		rt:  newFakeRuntime(),
		bus: &eventRecorder{},
	}
	cfg := config.Default()
	cfg.FailedContainerTTL = 0 // every FAILED row with a container is stale
	f.r = New(st, f.rt, f.bus, cfg)
	return f
}

func (f *fixture) seedService(t *testing.T, status types.ServiceStatus, containerID string) *types.Service {
	t.Helper()
	ctx := context.Background()

	svc := &types.Service{
		ID:        uuid.NewString(),
		Name:      "api-x",
		ProjectID: "proj-1",
		UserID:    "user-1",
		RepoURL:   "https://github.com/acme/api-x",
		Branch:    "main",
		Subdomain: "api-x-" + uuid.NewString()[:6],
		Status:    types.ServiceStatusCreated,
	}
	require.NoError(t, f.st.CreateService(ctx, svc))
	if containerID != "" {
		require.NoError(t, f.st.SetServiceContainer(ctx, svc.ID, status, &containerID))
	} else if status != types.ServiceStatusCreated {
		require.NoError(t, f.st.UpdateServiceStatus(ctx, svc.ID, status))
	}

	out, err := f.st.GetService(ctx, svc.ID)
	require.NoError(t, err)
	return out
}

func TestReconcileRepairsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The row claims RUNNING but no such container exists.
	svc := f.seedService(t, types.ServiceStatusRunning, "c-gone")

	f.r.reconcile(ctx)

	got, err := f.st.GetService(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ServiceStatusStopped, got.Status)
	assert.Nil(t, got.ContainerID)
	assert.Equal(t, []types.ServiceStatus{types.ServiceStatusStopped}, f.bus.all())
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	svc := f.seedService(t, types.ServiceStatusRunning, "c-gone")

	f.r.reconcile(ctx)
	first, err := f.st.GetService(ctx, svc.ID)
	require.NoError(t, err)

	// Nothing changed externally: the second pass must write nothing.
	f.r.reconcile(ctx)
	second, err := f.st.GetService(ctx, svc.ID)
	require.NoError(t, err)

	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
	assert.Len(t, f.bus.all(), 1, "no second drift event")
}

func TestReconcileLeavesHealthyServicesAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.rt.add("c-live", types.ContainerStateRunning)
	svc := f.seedService(t, types.ServiceStatusRunning, "c-live")
	before := svc.UpdatedAt

	f.r.reconcile(ctx)

	got, err := f.st.GetService(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ServiceStatusRunning, got.Status)
	assert.Equal(t, before, got.UpdatedAt)
	assert.Empty(t, f.bus.all())
}

func TestReconcileSkipsDeployingServices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Mid-deploy rows belong to the pipeline even when their container
	// is not running yet.
	svc := f.seedService(t, types.ServiceStatusDeploying, "c-staging")

	f.r.reconcile(ctx)

	got, err := f.st.GetService(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ServiceStatusDeploying, got.Status)
	require.NotNil(t, got.ContainerID)
}

func TestReconcileDoesNotDemoteOnRuntimeErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	svc := f.seedService(t, types.ServiceStatusRunning, "c-live")
	f.rt.inspectErr = errdefs.RuntimeUnavailable("docker daemon unreachable", nil)

	f.r.reconcile(ctx)

	got, err := f.st.GetService(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ServiceStatusRunning, got.Status, "runtime trouble is not drift")
	assert.Empty(t, f.bus.all())
}

func TestReconcileReapsExitedContainers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.rt.add("c-exited", types.ContainerStateExited)
	f.rt.add("c-live", types.ContainerStateRunning)

	f.r.reconcile(ctx)

	assert.Equal(t, []string{"c-exited"}, f.rt.removed)
	_, live := f.rt.containers["c-live"]
	assert.True(t, live)
}

func TestReconcileTrimsDeploymentHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	svc := f.seedService(t, types.ServiceStatusCreated, "")
	for i := 0; i < 13; i++ {
		dep := &types.Deployment{
			ID:        uuid.NewString(),
			ServiceID: svc.ID,
			Status:    types.DeploymentStatusQueued,
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, f.st.CreateDeployment(ctx, dep))
		require.NoError(t, f.st.FinishDeployment(ctx, dep.ID, types.DeploymentStatusSuccess, ""))
	}

	f.r.reconcile(ctx)

	deps, err := f.st.ListDeployments(ctx, svc.ID, 0)
	require.NoError(t, err)
	assert.Len(t, deps, 10)

	// Stable afterwards.
	f.r.reconcile(ctx)
	deps, err = f.st.ListDeployments(ctx, svc.ID, 0)
	require.NoError(t, err)
	assert.Len(t, deps, 10)
}

func TestReconcileReapsStaleFailedServices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.rt.add("c-failed", types.ContainerStateExited)
	svc := f.seedService(t, types.ServiceStatusFailed, "c-failed")

	f.r.reconcile(ctx)

	got, err := f.st.GetService(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ServiceStatusFailed, got.Status, "status stays FAILED")
	assert.Nil(t, got.ContainerID)
	assert.Contains(t, f.rt.removed, "c-failed")
}

func TestReconcilerStartStop(t *testing.T) {
	f := newFixture(t)

	svc := f.seedService(t, types.ServiceStatusRunning, "c-gone")

	f.r.startDelay = time.Millisecond
	f.r.interval = 10 * time.Millisecond
	f.r.Start()

	require.Eventually(t, func() bool {
		got, err := f.st.GetService(context.Background(), svc.ID)
		return err == nil && got.Status == types.ServiceStatusStopped
	}, 5*time.Second, 10*time.Millisecond)

	f.r.Stop()
	f.r.Stop() // second Stop is harmless
}
