package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envgrid/store"
	"envgrid/trader"
)

type stubRunner struct {
	last *trader.RunReport
	runs atomic.Int32
}

func (s *stubRunner) LastReport() *trader.RunReport { return s.last }

func (s *stubRunner) Run(context.Context) (*trader.RunReport, error) {
	s.runs.Add(1)
	return &trader.RunReport{}, nil
}

type stubHistory struct {
	runs   []store.RunRecord
	orders []trader.OrderRecord
	err    error
	limit  int
}

func (h *stubHistory) RecentRuns(_ context.Context, limit int) ([]store.RunRecord, error) {
	h.limit = limit
	return h.runs, h.err
}

func (h *stubHistory) RunOrders(context.Context, string) ([]trader.OrderRecord, error) {
	return h.orders, h.err
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealthAndLastRun(t *testing.T) {
	runner := &stubRunner{}
	s := NewServer(runner, nil, nil, 0)

	w := serve(s, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = serve(s, http.MethodGet, "/api/runs/last")
	assert.Equal(t, http.StatusNotFound, w.Code)

	runner.last = &trader.RunReport{ID: "run-9", Exchange: "paper", Balance: 42, FinishedAt: time.Now()}
	w = serve(s, http.MethodGet, "/api/runs/last")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "run-9", body["id"])
	assert.Equal(t, 42.0, body["balance"])

	w = serve(s, http.MethodGet, "/api/health")
	assert.Contains(t, w.Body.String(), `"last_run_id":"run-9"`)
}

func TestTriggerRun(t *testing.T) {
	runner := &stubRunner{}
	s := NewServer(runner, nil, nil, 0)

	w := serve(s, http.MethodPost, "/api/runs")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Eventually(t, func() bool { return runner.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRunHistory(t *testing.T) {
	s := NewServer(&stubRunner{}, nil, nil, 0)
	assert.Equal(t, http.StatusServiceUnavailable, serve(s, http.MethodGet, "/api/runs").Code)

	h := &stubHistory{runs: []store.RunRecord{{ID: "a"}, {ID: "b"}}, orders: []trader.OrderRecord{{Kind: trader.KindGrid}}}
	s = NewServer(&stubRunner{}, h, nil, 0)

	w := serve(s, http.MethodGet, "/api/runs?limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, h.limit)
	var body struct {
		Runs []store.RunRecord `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Runs, 2)

	assert.Equal(t, http.StatusBadRequest, serve(s, http.MethodGet, "/api/runs?limit=abc").Code)

	w = serve(s, http.MethodGet, "/api/runs/a/orders")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"grid"`)

	h.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, serve(s, http.MethodGet, "/api/runs").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "envgrid_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s := NewServer(&stubRunner{}, nil, reg, 0)
	w := serve(s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "envgrid_test_total 1")
}

func TestShutdownWithoutStart(t *testing.T) {
	s := NewServer(&stubRunner{}, nil, nil, 0)
	assert.NoError(t, s.Shutdown())
}
