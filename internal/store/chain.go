package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mehular0ra/forge/internal/cache"
	"github.com/mehular0ra/forge/internal/logger"
	"github.com/mehular0ra/forge/internal/store/memory"
	"github.com/mehular0ra/forge/model"
)

// durableRetryCooldown is how long the chain stays routed to the in-process
// map after a durable write failure before the durable backend is retried
// for new jobs.
const durableRetryCooldown = 30 * time.Second

// Chain routes between a durable backend and the in-process fallback.
// Rules:
//   - a job created in the fallback stays there for its lifetime
//   - a failed durable write degrades the chain and the operation falls back,
//     logged but invisible to the caller
//   - Create surfaces an error only when both backends fail
type Chain struct {
	durable Backend // nil when not configured
	mem     *memory.Store
	cache   cache.Cache // read-through cache over the durable backend, may be nil

	mu          sync.Mutex
	degradedAt  time.Time
	degraded    bool
	nowFn       func() time.Time
	cooldownDur time.Duration
}

func NewChain(durable Backend, mem *memory.Store, c cache.Cache) *Chain {
	return &Chain{
		durable:     durable,
		mem:         mem,
		cache:       c,
		nowFn:       time.Now,
		cooldownDur: durableRetryCooldown,
	}
}

func cacheKey(jobID string) string { return "job:" + jobID }

// useFallback decides routing for a write on jobID.
func (c *Chain) useFallback(jobID string) bool {
	if c.durable == nil {
		return true
	}
	if c.mem.Has(jobID) {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.degraded && c.nowFn().Sub(c.degradedAt) < c.cooldownDur {
		return true
	}
	return false
}

func (c *Chain) markDegraded(op string, err error) {
	c.mu.Lock()
	c.degraded = true
	c.degradedAt = c.nowFn()
	c.mu.Unlock()
	logger.Log.Warn().Err(err).Str("op", op).
		Msg("durable job store unavailable, degraded to in-process fallback")
}

func (c *Chain) markHealthy() {
	c.mu.Lock()
	c.degraded = false
	c.mu.Unlock()
}

func (c *Chain) Create(ctx context.Context, job *model.Job) error {
	if !c.useFallback(job.ID) {
		if err := c.durable.Create(ctx, job); err == nil {
			c.markHealthy()
			c.cachePut(ctx, job)
			return nil
		} else {
			c.markDegraded("create", err)
		}
	}

	if err := c.mem.Create(ctx, job); err != nil {
		return fmt.Errorf("job store create failed on all backends: %w", err)
	}
	return nil
}

func (c *Chain) Update(ctx context.Context, jobID string, upd model.JobUpdate) (*model.Job, error) {
	if c.useFallback(jobID) {
		return c.fallbackUpdate(ctx, jobID, upd)
	}

	merged, err := c.durable.Update(ctx, jobID, upd)
	if err == nil {
		c.markHealthy()
		c.cachePut(ctx, merged)
		return merged, nil
	}
	if errors.Is(err, ErrNotFound) && !c.mem.Has(jobID) {
		return nil, ErrNotFound
	}
	c.markDegraded("update", err)
	return c.fallbackUpdate(ctx, jobID, upd)
}

// fallbackUpdate applies the update in the in-process map, seeding it with
// the best known copy of the record when the job lived in the durable
// backend before degradation.
func (c *Chain) fallbackUpdate(ctx context.Context, jobID string, upd model.JobUpdate) (*model.Job, error) {
	if !c.mem.Has(jobID) {
		if base := c.bestKnown(ctx, jobID); base != nil {
			c.mem.Put(base)
		}
	}

	merged, err := c.mem.Update(ctx, jobID, upd)
	if err == nil {
		c.cachePut(ctx, merged)
	}
	return merged, err
}

// bestKnown recovers a record copy from cache or the durable backend, best
// effort only.
func (c *Chain) bestKnown(ctx context.Context, jobID string) *model.Job {
	if c.cache != nil {
		var j model.Job
		if err := c.cache.Get(ctx, cacheKey(jobID), &j); err == nil && j.ID == jobID {
			return &j
		}
	}
	if c.durable != nil {
		if j, err := c.durable.Get(ctx, jobID); err == nil {
			return j
		}
	}
	return nil
}

func (c *Chain) Get(ctx context.Context, jobID string) (*model.Job, error) {
	// The in-process map is authoritative for jobs created there.
	if j, err := c.mem.Get(ctx, jobID); err == nil {
		return j, nil
	}

	if c.cache != nil {
		var j model.Job
		if err := c.cache.Get(ctx, cacheKey(jobID), &j); err == nil && j.ID == jobID {
			return &j, nil
		}
	}

	if c.durable == nil {
		return nil, ErrNotFound
	}
	j, err := c.durable.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		// A transient read failure is not a missing record. Surface it so
		// callers can retry instead of concluding the job is gone.
		logger.Log.Warn().Err(err).Str("job_id", jobID).Msg("durable job store read failed")
		return nil, fmt.Errorf("durable job store get: %w", err)
	}
	c.cachePut(ctx, j)
	return j, nil
}

func (c *Chain) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	n, _ := c.mem.DeleteOlderThan(ctx, cutoff)
	if c.durable != nil {
		dn, err := c.durable.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			logger.Log.Warn().Err(err).Msg("durable job store retention sweep failed")
		} else {
			n += dn
		}
	}
	return n, nil
}

func (c *Chain) cachePut(ctx context.Context, job *model.Job) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Put(ctx, cacheKey(job.ID), *job, c.cache.GetDefaultTTL()); err != nil {
		logger.Log.Error().Err(err).Msg("unable to add job to cache")
	}
}
