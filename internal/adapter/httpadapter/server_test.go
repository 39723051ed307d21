package httpadapter_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/conus404-etl/internal/adapter/httpadapter"
	"github.com/couchcryptid/conus404-etl/internal/domain"
	"github.com/couchcryptid/conus404-etl/internal/observability"
	"github.com/couchcryptid/conus404-etl/internal/pipeline"
)

// mockRun reports fixed readiness and progress.
type mockRun struct {
	err      error
	progress pipeline.Progress
}

func (m *mockRun) CheckReadiness(_ context.Context) error { return m.err }
func (m *mockRun) Progress() pipeline.Progress          { return m.progress }

func newTestServer(readyErr error) *httpadapter.Server {
	run := &mockRun{err: readyErr, progress: pipeline.Progress{
		RunID:    "run-1",
		Stage:    "ingest",
		InFlight: 2,
		Outcomes: map[domain.Outcome]int{domain.OutcomeSucceeded: 3, domain.OutcomeFailed: 1},
		Failures: []pipeline.JobFailure{{Stage: "ingest", Index: 7, Fatal: true, Error: "time mismatch"}},
	}}
	return httpadapter.NewServer(":0", run, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func serve(t *testing.T, srv *httpadapter.Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := serve(t, newTestServer(nil), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   int
		status string
	}{
		{name: "ready", code: http.StatusOK, status: "ready"},
		{name: "no job finished", err: errors.New("no job has completed yet"), code: http.StatusServiceUnavailable, status: "not ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, newTestServer(tt.err), "/readyz")
			assert.Equal(t, tt.code, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.status, body["status"])
			if tt.err != nil {
				assert.Equal(t, tt.err.Error(), body["error"])
			}
		})
	}
}

func TestReadyzFollowsRunner(t *testing.T) {
	runner := pipeline.NewRunner(1, pipeline.RetryPolicy{Attempts: 1}, nil, "run-2",
		slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())
	srv := httpadapter.NewServer(":0", runner, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Equal(t, http.StatusServiceUnavailable, serve(t, srv, "/readyz").Code)
	runner.Run(context.Background(), "derive", []pipeline.Task{{Run: func(context.Context) error { return nil }}})
	assert.Equal(t, http.StatusOK, serve(t, srv, "/readyz").Code)
}

func TestProgress(t *testing.T) {
	rec := serve(t, newTestServer(nil), "/progress")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var got struct {
		pipeline.Progress
		Uptime string `json:"uptime"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ingest", got.Stage)
	assert.Equal(t, 2, got.InFlight)
	assert.Equal(t, 3, got.Outcomes[domain.OutcomeSucceeded])
	assert.Equal(t, 1, got.Outcomes[domain.OutcomeFailed])
	require.Len(t, got.Failures, 1)
	assert.Equal(t, 7, got.Failures[0].Index)
	assert.NotEmpty(t, got.Uptime)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(t, newTestServer(nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
