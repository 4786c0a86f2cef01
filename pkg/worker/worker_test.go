package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderlite/renderlite/pkg/config"
	"github.com/renderlite/renderlite/pkg/queue"
	"github.com/renderlite/renderlite/pkg/secrets"
	"github.com/renderlite/renderlite/pkg/store"
	"github.com/renderlite/renderlite/pkg/types"
)

type fakePipeline struct {
	mu          sync.Mutex
	deployErr   error
	rollbackErr error
	deployed    chan *types.DeploymentJob
	rolledBack  chan *types.RollbackJob

	// onDeploy, when set, runs before the configured error is returned.
	onDeploy func(ctx context.Context, job *types.DeploymentJob)
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		deployed:   make(chan *types.DeploymentJob, 16),
		rolledBack: make(chan *types.RollbackJob, 16),
	}
}

func (f *fakePipeline) Deploy(ctx context.Context, job *types.DeploymentJob) error {
	f.mu.Lock()
	hook, err := f.onDeploy, f.deployErr
	f.mu.Unlock()
	if hook != nil {
		hook(ctx, job)
	}
	f.deployed <- job
	return err
}

func (f *fakePipeline) Rollback(ctx context.Context, job *types.RollbackJob) error {
	f.mu.Lock()
	err := f.rollbackErr
	f.mu.Unlock()
	f.rolledBack <- job
	return err
}

type eventRecorder struct {
	mu          sync.Mutex
	depStatuses []types.DeploymentStatus
	svcStatuses []types.ServiceStatus
	notified    []string
}

func (r *eventRecorder) DeploymentStatus(_ context.Context, _ string, status types.DeploymentStatus, _ *string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.depStatuses = append(r.depStatuses, status)
}

func (r *eventRecorder) ServiceStatus(_ context.Context, _ string, status types.ServiceStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.svcStatuses = append(r.svcStatuses, status)
}

func (r *eventRecorder) UserNotification(_ context.Context, userID, _, _ string, _ types.DeploymentStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified = append(r.notified, userID)
}

func (r *eventRecorder) deploymentStatuses() []types.DeploymentStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.DeploymentStatus(nil), r.depStatuses...)
}

func (r *eventRecorder) notifiedUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notified...)
}

type fixture struct {
	w   *Worker
	q   *queue.Queue
	st  *store.SQLStore
	sec *secrets.Manager
	fp  *fakePipeline
	bus *eventRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sec, err := secrets.NewManager(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	cfg := config.Default()
	cfg.QueueConcurrency = 2
	cfg.QueueMaxAttempts = 2
	cfg.QueueBackoffBase = 5 * time.Millisecond
	cfg.QueueRateMax = 0

	f := &fixture{
		q:   queue.New(rdb),
		st:  st,
		sec: sec,
		fp:  newFakePipeline(),
		bus: &eventRecorder{},
	}
	f.w = New(f.q, f.fp, st, f.bus, sec, cfg)

	require.NoError(t, f.w.Start(context.Background()))
	t.Cleanup(f.w.Stop)
	return f
}

func (f *fixture) seed(t *testing.T) (*types.Service, *types.Deployment) {
	t.Helper()
	ctx := context.Background()

	svc := &types.Service{
		ID:        uuid.NewString(),
		Name:      "api-x",
		ProjectID: "proj-1",
		UserID:    "user-1",
		RepoURL:   "https://github.com/acme/api-x",
		Branch:    "main",
		Subdomain: "api-x-ab12cd",
		Status:    types.ServiceStatusDeploying,
	}
	require.NoError(t, f.st.CreateService(ctx, svc))

	dep := &types.Deployment{
		ID:        uuid.NewString(),
		ServiceID: svc.ID,
		Status:    types.DeploymentStatusQueued,
	}
	require.NoError(t, f.st.CreateDeployment(ctx, dep))
	return svc, dep
}

func (f *fixture) enqueueDeploy(t *testing.T, svc *types.Service, dep *types.Deployment, env map[string]string, token string) []byte {
	t.Helper()

	sealed, err := f.sec.EncryptMap(env)
	require.NoError(t, err)

	job := types.DeploymentJob{
		DeploymentID: dep.ID,
		ServiceID:    svc.ID,
		RepoURL:      svc.RepoURL,
		Branch:       svc.Branch,
		Subdomain:    svc.Subdomain,
		Env:          sealed,
	}
	if token != "" {
		job.GitToken, err = f.sec.Encrypt(token)
		require.NoError(t, err)
	}

	payload, err := json.Marshal(job)
	require.NoError(t, err)
	require.NoError(t, f.q.Enqueue(context.Background(), queue.QueueBuild, dep.ID, payload))
	return payload
}

func recvDeploy(t *testing.T, f *fakePipeline) *types.DeploymentJob {
	t.Helper()
	select {
	case job := <-f.deployed:
		return job
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for deploy")
		return nil
	}
}

func TestWorkerDecryptsDeploymentJob(t *testing.T) {
	f := newFixture(t)
	svc, dep := f.seed(t)

	payload := f.enqueueDeploy(t, svc, dep,
		map[string]string{"API_KEY": "plain-secret"}, "ghp-token-123")

	job := recvDeploy(t, f.fp)
	assert.Equal(t, dep.ID, job.DeploymentID)
	assert.Equal(t, svc.ID, job.ServiceID)
	assert.Equal(t, "plain-secret", job.Env["API_KEY"])
	assert.Equal(t, "ghp-token-123", job.GitToken)

	// The queue payload itself must never carry plaintext.
	assert.NotContains(t, string(payload), "plain-secret")
	assert.NotContains(t, string(payload), "ghp-token-123")
}

func TestWorkerRoutesRollbackQueue(t *testing.T) {
	f := newFixture(t)
	svc, dep := f.seed(t)

	sealed, err := f.sec.EncryptMap(map[string]string{"API_KEY": "plain-secret"})
	require.NoError(t, err)

	payload, err := json.Marshal(types.RollbackJob{
		DeploymentID: dep.ID,
		ServiceID:    svc.ID,
		Subdomain:    svc.Subdomain,
		ImageTag:     "renderlite-api-x-ab12cd:ab12cd3",
		CommitSHA:    "ab12cd3",
		Env:          sealed,
	})
	require.NoError(t, err)
	require.NoError(t, f.q.Enqueue(context.Background(), queue.QueueRollback, dep.ID, payload))

	select {
	case job := <-f.fp.rolledBack:
		assert.Equal(t, dep.ID, job.DeploymentID)
		assert.Equal(t, "renderlite-api-x-ab12cd:ab12cd3", job.ImageTag)
		assert.Equal(t, "plain-secret", job.Env["API_KEY"])
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for rollback")
	}
	assert.Empty(t, f.fp.deployed)
}

func TestWorkerMarksFailedAfterRetries(t *testing.T) {
	f := newFixture(t)
	svc, dep := f.seed(t)

	f.fp.deployErr = errors.New("docker daemon unreachable")
	f.enqueueDeploy(t, svc, dep, nil, "")

	require.Eventually(t, func() bool {
		got, err := f.st.GetDeployment(context.Background(), dep.ID)
		return err == nil && got.Status == types.DeploymentStatusFailed
	}, 5*time.Second, 20*time.Millisecond)

	got, err := f.st.GetDeployment(context.Background(), dep.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Logs, "exhausting retries")
	assert.Contains(t, got.Logs, "docker daemon unreachable")

	gotSvc, err := f.st.GetService(context.Background(), svc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ServiceStatusFailed, gotSvc.Status)

	assert.Equal(t, []types.DeploymentStatus{types.DeploymentStatusFailed}, f.bus.deploymentStatuses())
	assert.Equal(t, []string{"user-1"}, f.bus.notifiedUsers())

	// Both attempts reached the pipeline.
	assert.Len(t, f.fp.deployed, 2)
}

func TestWorkerLeavesTerminalRowAlone(t *testing.T) {
	f := newFixture(t)
	svc, dep := f.seed(t)

	// Simulate a pipeline that records its own outcome but still returns an
	// error, so the exhausted-retries path runs against a terminal row.
	f.fp.deployErr = errors.New("late infra error")
	f.fp.onDeploy = func(ctx context.Context, job *types.DeploymentJob) {
		_ = f.st.FinishDeployment(ctx, job.DeploymentID, types.DeploymentStatusFailed, "build exploded")
	}
	f.enqueueDeploy(t, svc, dep, nil, "")

	require.Eventually(t, func() bool {
		return len(f.fp.deployed) == 2
	}, 5*time.Second, 20*time.Millisecond)

	got, err := f.st.GetDeployment(context.Background(), dep.ID)
	require.NoError(t, err)
	assert.Equal(t, "build exploded", got.Logs)
	assert.Empty(t, f.bus.deploymentStatuses())
}

func TestWorkerMalformedPayload(t *testing.T) {
	f := newFixture(t)
	_, dep := f.seed(t)

	require.NoError(t, f.q.Enqueue(context.Background(), queue.QueueBuild, dep.ID, []byte("{not json")))

	require.Eventually(t, func() bool {
		got, err := f.st.GetDeployment(context.Background(), dep.ID)
		return err == nil && got.Status == types.DeploymentStatusFailed
	}, 5*time.Second, 20*time.Millisecond)

	got, err := f.st.GetDeployment(context.Background(), dep.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Logs, "failed to decode deployment job")

	// The pipeline never saw the job.
	assert.Empty(t, f.fp.deployed)
}

func TestWorkerStopWaitsForInflight(t *testing.T) {
	f := newFixture(t)
	svc, dep := f.seed(t)

	started := make(chan struct{})
	release := make(chan struct{})
	f.fp.onDeploy = func(ctx context.Context, job *types.DeploymentJob) {
		close(started)
		<-release
	}
	f.enqueueDeploy(t, svc, dep, nil, "")

	<-started
	done := make(chan struct{})
	go func() {
		f.w.Stop()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Stop returned while a job was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the job finished")
	}
}

func TestWorkerTokenStaysOutOfRedis(t *testing.T) {
	f := newFixture(t)
	svc, dep := f.seed(t)

	token := "ghp-super-secret-value"
	payload := f.enqueueDeploy(t, svc, dep, map[string]string{"DB_URL": "postgres://u:p@x"}, token)

	var onWire types.DeploymentJob
	require.NoError(t, json.Unmarshal(payload, &onWire))
	assert.True(t, strings.Count(onWire.GitToken, ":") == 2,
		"token must be an iv:tag:ciphertext envelope, got %q", onWire.GitToken)

	job := recvDeploy(t, f.fp)
	assert.Equal(t, token, job.GitToken)
	assert.Equal(t, "postgres://u:p@x", job.Env["DB_URL"])
}
