package apiworker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// startDrainLoop runs Drain on a tight loop until stop is closed, standing
// in for the scheduler tick loop calling Worker.Drain once per tick.
func startDrainLoop(t *testing.T, worker *Worker) (stop func()) {
	t.Helper()
	stopCh := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				worker.Drain(t.Context())
			}
		}
	}()
	return func() {
		close(stopCh)
		<-done
	}
}

func TestServerLoadGraphRoundTrip(t *testing.T) {
	worker, deps := newTestWorker(t)
	srv := NewServer(worker, "default")

	stop := startDrainLoop(t, worker)
	defer stop()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/graphs", strings.NewReader(blueprintYAML))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	_, ok := deps.Router.Lookup("n1")
	require.True(t, ok)
}

func TestServerTriggerNodeUnknownUUIDReturnsBadRequest(t *testing.T) {
	worker, _ := newTestWorker(t)
	srv := NewServer(worker, "default")

	stop := startDrainLoop(t, worker)
	defer stop()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/nodes/missing/trigger", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
