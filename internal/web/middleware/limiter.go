// Package middleware holds HTTP middleware beyond chi's stock set.
package middleware

import (
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/mehular0ra/forge/internal/logger"
)

// retryAfterSeconds is the hint sent with a shed response. Generation runs
// for minutes, so there is no point inviting an immediate retry.
const retryAfterSeconds = 5

type queued struct {
	w    http.ResponseWriter
	r    *http.Request
	next http.Handler
	done chan struct{}
}

// Limiter bounds concurrent handling of expensive endpoints: up to
// maxInflight requests run at once, up to queueSize wait, the rest are shed
// with 503 and a Retry-After hint.
type Limiter struct {
	queue    chan queued
	inflight chan struct{}

	// running totals, for shed-rate logging
	admitted atomic.Int64
	shed     atomic.Int64
}

func NewLimiter(queueSize, maxInflight int) *Limiter {
	l := &Limiter{
		queue:    make(chan queued, queueSize),
		inflight: make(chan struct{}, maxInflight),
	}

	go l.dispatch()

	return l
}

func (l *Limiter) dispatch() {
	for q := range l.queue {
		l.admitted.Add(1)

		// acquire inflight slot (blocks if full)
		l.inflight <- struct{}{}

		go func(q queued) {
			defer func() {
				<-l.inflight // release slot
				close(q.done)
			}()

			q.next.ServeHTTP(q.w, q.r)
		}(q)
	}
}

func (l *Limiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := queued{
			w:    w,
			r:    r,
			next: next,
			done: make(chan struct{}),
		}

		select {
		case l.queue <- q:
			// Wait until the request is processed or the caller gives up.
			select {
			case <-q.done:
			case <-r.Context().Done():
				logger.Log.Warn().Str("path", r.URL.Path).
					Msg("caller abandoned a queued request")
				http.Error(w, "request canceled or timed out", http.StatusGatewayTimeout)
				return
			}
		default:
			logger.Log.Warn().Str("path", r.URL.Path).
				Int64("shed_total", l.shed.Add(1)).
				Int64("admitted_total", l.admitted.Load()).
				Msg("generation capacity exhausted, shedding request")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
			http.Error(w, "server busy", http.StatusServiceUnavailable)
			return
		}
	})
}
