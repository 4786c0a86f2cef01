package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderlite/renderlite/pkg/errdefs"
	"github.com/renderlite/renderlite/pkg/store"
	"github.com/renderlite/renderlite/pkg/types"
)

type fakeStatsSource struct {
	mu    sync.Mutex
	stats map[string]*types.ContainerStats
	calls int
}

func (f *fakeStatsSource) Stats(ctx context.Context, containerID string) (*types.ContainerStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	st, ok := f.stats[containerID]
	if !ok {
		return nil, errdefs.Integrity("no such container: "+containerID, nil)
	}
	return st, nil
}

func (f *fakeStatsSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newSamplerFixture(t *testing.T) (*Sampler, *Hub, *store.SQLStore, *fakeStatsSource) {
	t.Helper()

	bus, hub := newTestHub(t)
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	src := &fakeStatsSource{stats: make(map[string]*types.ContainerStats)}
	return NewSampler(hub, bus, st, src, time.Hour), hub, st, src
}

func createRunningService(t *testing.T, st *store.SQLStore, id, containerID string) {
	t.Helper()
	ctx := context.Background()

	svc := &types.Service{
		ID:        id,
		Name:      "web",
		ProjectID: "proj-1",
		UserID:    "user-1",
		RepoURL:   "https://github.com/acme/web",
		Branch:    "main",
		Subdomain: "web-" + id,
		Status:    types.ServiceStatusCreated,
	}
	require.NoError(t, st.CreateService(ctx, svc))
	if containerID != "" {
		cid := containerID
		require.NoError(t, st.SetServiceContainer(ctx, id, types.ServiceStatusRunning, &cid))
	}
}

func TestSamplerPublishesMetrics(t *testing.T) {
	s, hub, st, src := newSamplerFixture(t)
	ctx := context.Background()

	createRunningService(t, st, "svc-1", "cid-1")
	src.stats["cid-1"] = &types.ContainerStats{
		CPUPercent:  12.5,
		MemoryUsage: 64 << 20,
		MemoryLimit: 512 << 20,
		NetworkRx:   100,
		NetworkTx:   50,
		Timestamp:   time.Now().UTC(),
	}

	sub := hub.Subscribe(ServiceTopic("svc-1"))
	defer hub.Unsubscribe(sub)

	s.sample(ctx)

	ev := recvEvent(t, sub)
	assert.Equal(t, KindServiceMetrics, ev.Kind)

	var p ServiceMetrics
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	assert.Equal(t, "svc-1", p.ServiceID)
	assert.Equal(t, 12.5, p.Metrics.CPUPercent)
	assert.Equal(t, uint64(64<<20), p.Metrics.MemoryUsage)
}

func TestSamplerMarksStoppedWhenContainerVanishes(t *testing.T) {
	s, hub, st, src := newSamplerFixture(t)
	ctx := context.Background()

	createRunningService(t, st, "svc-1", "cid-gone")

	sub := hub.Subscribe(ServiceTopic("svc-1"))
	defer hub.Unsubscribe(sub)

	s.sample(ctx)

	ev := recvEvent(t, sub)
	assert.Equal(t, KindServiceStatus, ev.Kind)
	var p ServiceStatus
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	assert.Equal(t, types.ServiceStatusStopped, p.Status)

	svc, err := st.GetService(ctx, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, types.ServiceStatusStopped, svc.Status)
	assert.Nil(t, svc.ContainerID)

	// The cleared pointer keeps later ticks from re-sampling.
	before := src.callCount()
	s.sample(ctx)
	assert.Equal(t, before, src.callCount())
	assert.Len(t, sub.C, 0)
}

func TestSamplerSkipsServiceWithoutContainer(t *testing.T) {
	s, hub, st, src := newSamplerFixture(t)
	ctx := context.Background()

	createRunningService(t, st, "svc-1", "")

	sub := hub.Subscribe(ServiceTopic("svc-1"))
	defer hub.Unsubscribe(sub)

	s.sample(ctx)
	assert.Equal(t, 0, src.callCount())
	assert.Len(t, sub.C, 0)
}

func TestSamplerIgnoresUnknownService(t *testing.T) {
	s, hub, _, src := newSamplerFixture(t)

	sub := hub.Subscribe(ServiceTopic("ghost"))
	defer hub.Unsubscribe(sub)

	s.sample(context.Background())
	assert.Equal(t, 0, src.callCount())
	assert.Len(t, sub.C, 0)
}

func TestSamplerStartStop(t *testing.T) {
	bus, hub := newTestHub(t)
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	createRunningService(t, st, "svc-1", "cid-1")
	src := &fakeStatsSource{stats: map[string]*types.ContainerStats{
		"cid-1": {CPUPercent: 1},
	}}

	sub := hub.Subscribe(ServiceTopic("svc-1"))
	defer hub.Unsubscribe(sub)

	s := NewSampler(hub, bus, st, src, 10*time.Millisecond)
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return src.callCount() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop() // repeat is harmless
}
