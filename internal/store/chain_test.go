package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mehular0ra/forge/internal/store/memory"
	"github.com/mehular0ra/forge/model"
	"github.com/stretchr/testify/require"
)

// fakeDurable is a scriptable durable backend.
type fakeDurable struct {
	*memory.Store
	failWrites bool
	failReads  bool
	creates    int
	updates    int
}

func (f *fakeDurable) Name() string { return "fake-durable" }

func (f *fakeDurable) Create(ctx context.Context, job *model.Job) error {
	f.creates++
	if f.failWrites {
		return errors.New("durable backend down")
	}
	return f.Store.Create(ctx, job)
}

func (f *fakeDurable) Update(ctx context.Context, jobID string, upd model.JobUpdate) (*model.Job, error) {
	f.updates++
	if f.failWrites {
		return nil, errors.New("durable backend down")
	}
	return f.Store.Update(ctx, jobID, upd)
}

func (f *fakeDurable) Get(ctx context.Context, jobID string) (*model.Job, error) {
	if f.failReads {
		return nil, errors.New("durable backend down")
	}
	return f.Store.Get(ctx, jobID)
}

func newJob(id string) *model.Job {
	now := model.NormalizeTime(time.Now())
	return &model.Job{
		ID: id, UserID: "u1", AppName: "demo",
		Status: model.StatusRunning, Stage: model.StageInitializing,
		Output: []string{}, CreatedAt: now, UpdatedAt: now,
	}
}

func TestChainPrefersDurable(t *testing.T) {
	t.Parallel()

	durable := &fakeDurable{Store: memory.New()}
	chain := NewChain(durable, memory.New(), nil)
	ctx := context.Background()

	require.NoError(t, chain.Create(ctx, newJob("j1")))
	require.Equal(t, 1, durable.creates)

	got, err := chain.Get(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, "j1", got.ID)
}

func TestChainFallsBackOnCreateFailure(t *testing.T) {
	t.Parallel()

	durable := &fakeDurable{Store: memory.New(), failWrites: true}
	fallback := memory.New()
	chain := NewChain(durable, fallback, nil)
	ctx := context.Background()

	require.NoError(t, chain.Create(ctx, newJob("j1")), "create must succeed via the fallback")
	require.True(t, fallback.Has("j1"))

	// The whole round-trip stays in the fallback.
	stage := model.StageCreating
	merged, err := chain.Update(ctx, "j1", model.JobUpdate{Stage: &stage})
	require.NoError(t, err)
	require.Equal(t, model.StageCreating, merged.Stage)

	got, err := chain.Get(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, model.StageCreating, got.Stage)
}

func TestChainUpdateFallsBackWithSameData(t *testing.T) {
	t.Parallel()

	durable := &fakeDurable{Store: memory.New()}
	fallback := memory.New()
	chain := NewChain(durable, fallback, nil)
	ctx := context.Background()

	require.NoError(t, chain.Create(ctx, newJob("j1")))

	durable.failWrites = true
	status := model.StatusFailed
	merged, err := chain.Update(ctx, "j1", model.JobUpdate{Status: &status})
	require.NoError(t, err, "update must not surface durable failure")
	require.Equal(t, model.StatusFailed, merged.Status)
	require.Equal(t, "demo", merged.AppName, "record seeded from the durable copy before merging")
	require.True(t, fallback.Has("j1"))
}

func TestChainStaysOnFallbackForKnownJobs(t *testing.T) {
	t.Parallel()

	durable := &fakeDurable{Store: memory.New(), failWrites: true}
	fallback := memory.New()
	chain := NewChain(durable, fallback, nil)
	chain.cooldownDur = 0 // durable retried immediately for unknown jobs
	ctx := context.Background()

	require.NoError(t, chain.Create(ctx, newJob("j1")))
	writesBefore := durable.updates

	stage := model.StageCreating
	_, err := chain.Update(ctx, "j1", model.JobUpdate{Stage: &stage})
	require.NoError(t, err)
	require.Equal(t, writesBefore, durable.updates, "fallback-owned job never touches durable again")
}

func TestChainGetSurfacesDurableReadFailure(t *testing.T) {
	t.Parallel()

	durable := &fakeDurable{Store: memory.New()}
	chain := NewChain(durable, memory.New(), nil)
	ctx := context.Background()

	require.NoError(t, chain.Create(ctx, newJob("j1")))

	durable.failReads = true
	_, err := chain.Get(ctx, "j1")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNotFound), "a read outage is not a missing record")

	durable.failReads = false
	got, err := chain.Get(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, "j1", got.ID)
}

func TestChainGetNotFound(t *testing.T) {
	t.Parallel()

	chain := NewChain(&fakeDurable{Store: memory.New()}, memory.New(), nil)
	_, err := chain.Get(context.Background(), "missing")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestChainWithoutDurable(t *testing.T) {
	t.Parallel()

	chain := NewChain(nil, memory.New(), nil)
	ctx := context.Background()

	require.NoError(t, chain.Create(ctx, newJob("j1")))
	got, err := chain.Get(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, "j1", got.ID)
}

func TestChainRetention(t *testing.T) {
	t.Parallel()

	durable := &fakeDurable{Store: memory.New()}
	fallback := memory.New()
	chain := NewChain(durable, fallback, nil)
	ctx := context.Background()

	old := newJob("old")
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, durable.Store.Create(ctx, old))
	fresh := newJob("fresh")
	require.NoError(t, fallback.Create(ctx, fresh))

	n, err := chain.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
