package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mehular0ra/forge/internal/apperr"
	"github.com/mehular0ra/forge/model"
	"github.com/stretchr/testify/require"
)

func newJob(id string) *model.Job {
	now := model.NormalizeTime(time.Now())
	return &model.Job{
		ID:        id,
		UserID:    "u1",
		AppName:   "demo app",
		Status:    model.StatusRunning,
		Stage:     model.StageInitializing,
		Output:    []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateGetUpdate(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newJob("j1")))
	require.True(t, s.Has("j1"))

	stage := model.StageCreating
	merged, err := s.Update(ctx, "j1", model.JobUpdate{Stage: &stage, Output: []string{"line one"}})
	require.NoError(t, err)
	require.Equal(t, model.StageCreating, merged.Stage)
	require.Equal(t, []string{"line one"}, merged.Output)
	require.Equal(t, model.StatusRunning, merged.Status, "untouched fields survive the merge")

	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, merged.Output, got.Output)
}

func TestUpdateRefreshesUpdatedAt(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	j := newJob("j1")
	j.UpdatedAt = j.UpdatedAt.Add(-time.Hour)
	require.NoError(t, s.Create(ctx, j))

	merged, err := s.Update(ctx, "j1", model.JobUpdate{Output: []string{"x"}})
	require.NoError(t, err)
	require.True(t, merged.UpdatedAt.After(j.UpdatedAt))
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	s := New()
	_, err := s.Get(context.Background(), "missing")
	require.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = s.Update(context.Background(), "missing", model.JobUpdate{})
	require.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestDeleteOlderThan(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	old := newJob("old")
	old.UpdatedAt = time.Now().Add(-25 * time.Hour)
	fresh := newJob("fresh")
	require.NoError(t, s.Create(ctx, old))
	require.NoError(t, s.Create(ctx, fresh))

	n, err := s.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.False(t, s.Has("old"))
	require.True(t, s.Has("fresh"))
}

func TestCloneIsolation(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newJob("j1")))

	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	got.Output = append(got.Output, "mutated by caller")

	again, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	require.Empty(t, again.Output)
}
