package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/mehular0ra/forge/internal/logger"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.Init("middleware-test")
	os.Exit(m.Run())
}

func TestLimiterShedsWhenSaturatedAndRecovers(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := make(chan struct{}, 4)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		w.WriteHeader(http.StatusOK)
	})

	// Capacity three in total: one inflight, one held by the dispatcher, one
	// buffered in the queue. Anything beyond that is shed.
	l := NewLimiter(1, 1)
	wrapped := l.Limit(handler)

	var wg sync.WaitGroup
	launch := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		wg.Add(1)
		go func() {
			defer wg.Done()
			wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/generate", nil))
		}()
		return rec
	}

	// Admit requests one at a time so none is shed before saturation. The
	// first occupies the inflight slot, the second is held by the dispatcher,
	// the third fills the queue buffer.
	rec1 := launch()
	<-entered
	rec2 := launch()
	require.Eventually(t, func() bool { return l.admitted.Load() == 2 },
		2*time.Second, 5*time.Millisecond, "dispatcher picks up the second request")
	rec3 := launch()
	require.Eventually(t, func() bool { return len(l.queue) == cap(l.queue) },
		2*time.Second, 5*time.Millisecond, "queue buffer fills")

	// The next request finds the buffer full and is shed immediately.
	shed := httptest.NewRecorder()
	wrapped.ServeHTTP(shed, httptest.NewRequest(http.MethodPost, "/generate", nil))
	require.Equal(t, http.StatusServiceUnavailable, shed.Code)
	require.NotEmpty(t, shed.Header().Get("Retry-After"))

	close(release)
	wg.Wait()
	for _, rec := range []*httptest.ResponseRecorder{rec1, rec2, rec3} {
		require.Equal(t, http.StatusOK, rec.Code, "held requests complete once capacity frees")
	}

	// Capacity is back once the held requests drain.
	after := httptest.NewRecorder()
	wrapped.ServeHTTP(after, httptest.NewRequest(http.MethodPost, "/generate", nil))
	require.Equal(t, http.StatusOK, after.Code)
}
