package freecache

import (
	"context"
	"testing"

	"github.com/mehular0ra/forge/model"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	c := NewFreeCache(1024*1024, 60)
	ctx := context.Background()

	job := model.Job{ID: "j1", UserID: "u1", Status: model.StatusRunning, Stage: model.StageCreating, Output: []string{"a", "b"}}
	require.NoError(t, c.Put(ctx, "job:j1", job, c.GetDefaultTTL()))

	var out model.Job
	require.NoError(t, c.Get(ctx, "job:j1", &out))
	require.Equal(t, job.ID, out.ID)
	require.Equal(t, job.Output, out.Output)
}

func TestGetMiss(t *testing.T) {
	t.Parallel()

	c := NewFreeCache(1024*1024, 60)
	var out model.Job
	require.Error(t, c.Get(context.Background(), "missing", &out))
}

func TestPutZeroTTLUsesDefault(t *testing.T) {
	t.Parallel()

	c := NewFreeCache(1024*1024, 60)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "job:j1", model.Job{ID: "j1"}, 0))

	var out model.Job
	require.NoError(t, c.Get(ctx, "job:j1", &out))
	require.Equal(t, "j1", out.ID)
}

func TestEmptyKeyRejected(t *testing.T) {
	t.Parallel()

	c := NewFreeCache(1024*1024, 60)
	require.Error(t, c.Put(context.Background(), "", "v", 10))
	require.Error(t, c.Get(context.Background(), "", nil))
}
