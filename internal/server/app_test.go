package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/pstest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.Port = 0
	cfg.Logging.Development = false
	cfg.Logging.Level = "error"
	cfg.Worker.Concurrency = 2
	cfg.Providers.BackoffMs = 1
	cfg.Providers.PageSpeed.APIKey = ""
	cfg.Providers.OpenPageRank.APIKey = ""
	cfg.Providers.Serp.APIKey = ""
	cfg.Providers.PageSpeed.RPS = 0
	cfg.Providers.OpenPageRank.RPS = 0
	cfg.Providers.Serp.RPS = 0
	cfg.Storage.Archive = config.BackendLocal
	cfg.Storage.LocalDir = t.TempDir()
	return cfg
}

func isolateRegistry(t *testing.T) {
	t.Helper()
	original := progressRegisterer
	progressRegisterer = prometheus.NewRegistry()
	t.Cleanup(func() { progressRegisterer = original })
}

func TestAppServesAuditEndToEnd(t *testing.T) {
	isolateRegistry(t)
	app, err := Build(context.Background(), testConfig(t), ModeServe)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	body, err := json.Marshal(map[string]string{
		"url":     "https://www.example.com/pricing",
		"keyword": "pricing software",
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/audits/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted struct {
		AuditID string `json:"audit_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.NotEmpty(t, submitted.AuditID)

	var got audit.Record
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audits/"+submitted.AuditID, nil))
		if rec.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			return false
		}
		return got.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, audit.StatusDone, got.Status)
	require.NotNil(t, got.Domain)
	require.Equal(t, "example.com", *got.Domain)
	require.NotNil(t, got.Scores.SEO)
	require.NotEmpty(t, got.ArchiveURI)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not shut down")
	}
}

func TestWorkerModeServesOnlyProbes(t *testing.T) {
	isolateRegistry(t)
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	t.Setenv("PUBSUB_EMULATOR_HOST", srv.Addr)

	cfg := testConfig(t)
	cfg.Worker.Queue = config.BackendPubSub
	cfg.PubSub.ProjectID = "audit-project"
	cfg.PubSub.JobsTopic = "audit-jobs"
	cfg.PubSub.JobsSubscription = "audit-workers"
	app, err := Build(context.Background(), cfg, ModeWorker)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/providers/health", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWorkerModeRejectsMemoryQueue(t *testing.T) {
	isolateRegistry(t)
	cfg := testConfig(t)
	cfg.Worker.Queue = config.BackendMemory
	_, err := Build(context.Background(), cfg, ModeWorker)
	require.ErrorContains(t, err, "worker.queue=pubsub")
}

func TestBuildRejectsBadLocalArchive(t *testing.T) {
	isolateRegistry(t)
	cfg := testConfig(t)
	cfg.Storage.LocalDir = ""
	_, err := Build(context.Background(), cfg, ModeServe)
	require.ErrorContains(t, err, "local blob store init failed")
}
