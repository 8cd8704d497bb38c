// Package memory is the in-process fallback backend. It is authoritative for
// every job created through it for the lifetime of the process.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mehular0ra/forge/internal/apperr"
	"github.com/mehular0ra/forge/model"
)

type Store struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

func New() *Store {
	return &Store{jobs: make(map[string]*model.Job)}
}

func (s *Store) Name() string { return "memory" }

// Has reports whether this backend is authoritative for the job.
func (s *Store) Has(jobID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.jobs[jobID]
	return ok
}

func (s *Store) Create(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Put force-writes a full record, used when the chain degrades a job from
// the durable backend into this one.
func (s *Store) Put(job *model.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
}

func (s *Store) Update(ctx context.Context, jobID string, upd model.JobUpdate) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	upd.Apply(j, model.NormalizeTime(time.Now()))
	return j.Clone(), nil
}

func (s *Store) Get(ctx context.Context, jobID string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return j.Clone(), nil
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, j := range s.jobs {
		if j.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}
