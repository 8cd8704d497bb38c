// Package store persists JobRecords behind a ranked chain of backends:
// a durable document backend first, an in-process map as fallback. Callers
// never see which backend served them.
package store

import (
	"context"
	"time"

	"github.com/mehular0ra/forge/internal/apperr"
	"github.com/mehular0ra/forge/model"
)

// ErrNotFound aliases the shared sentinel so store callers can match either.
var ErrNotFound = apperr.ErrNotFound

// JobStore is the persistence contract for job records.
type JobStore interface {
	Create(ctx context.Context, job *model.Job) error
	// Update shallow-merges upd over the stored record, refreshes UpdatedAt
	// and returns the merged record.
	Update(ctx context.Context, jobID string, upd model.JobUpdate) (*model.Job, error)
	Get(ctx context.Context, jobID string) (*model.Job, error)
	// DeleteOlderThan removes records not updated since cutoff and returns
	// how many were dropped.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Backend is one ranked member of the store chain.
type Backend interface {
	JobStore
	Name() string
}
