package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/hype-trader/internal/config"
	"github.com/camuig/hype-trader/internal/logger"
	"github.com/camuig/hype-trader/internal/status"
	"github.com/camuig/hype-trader/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *storage.Repository) {
	t.Helper()
	db, err := storage.Open(config.StorageConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })

	repo := storage.NewRepository(db)
	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{Interval: "5m"},
		Web:       config.WebConfig{Enabled: true, Port: 8080},
	}
	return NewServer(repo, "SANDBOX", cfg, logger.Discard()), repo
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	s, repo := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, repo.SavePortfolioState(ctx, &storage.PortfolioStateRecord{PeakEquity: 100_000, CurrentEquity: 99_000}))

	rec := get(t, s, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var report status.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "SANDBOX", report.Mode)
	assert.Equal(t, 100_000.0, report.Portfolio.PeakEquity)
	assert.Nil(t, report.LastCycle)
}

func TestHealthz(t *testing.T) {
	s, repo := newTestServer(t)
	ctx := context.Background()

	rec := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	started := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.CreateCycle(ctx, &storage.Cycle{CycleID: "c1", StartedAt: started, Status: storage.CycleCompleted}))

	s.now = func() time.Time { return started.Add(10 * time.Minute) }
	rec = get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	s.now = func() time.Time { return started.Add(time.Hour) }
	rec = get(t, s, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var h health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "stale", h.Status)
}

func TestUnknownRoute(t *testing.T) {
	s, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/").Code)
}
