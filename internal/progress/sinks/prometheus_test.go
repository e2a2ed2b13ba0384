package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/site-audit/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{AuditID: "a1", TS: now, Stage: progress.StageAuditStart},
		{AuditID: "a1", TS: now, Stage: progress.StageAuditStart},
		{AuditID: "a1", TS: now, Stage: progress.StageProviderDone, Provider: "serp", Outcome: progress.OutcomeFallback, Attempts: 3},
		{AuditID: "a1", TS: now, Stage: progress.StageAuditDone, Dur: 2 * time.Second},
		{AuditID: "a2", TS: now, Stage: progress.StageAuditStart},
		{AuditID: "a2", TS: now, Stage: progress.StageAuditError, Note: "store down"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 3.0, testutil.ToFloat64(sink.auditsStarted), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.auditsCompleted.WithLabelValues("success")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.auditsCompleted.WithLabelValues("error")), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.auditsRunning), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.providerResults.WithLabelValues("serp", "fallback")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.auditRuntime, "audit_runtime_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestLogSink(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{AuditID: "a1", TS: time.Now(), Stage: progress.StageProviderDone, Provider: "pagespeed", Outcome: progress.OutcomeOK, Attempts: 1},
		{AuditID: "a1", TS: time.Now(), Stage: progress.StageAuditError, Note: "boom"},
	}))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "pagespeed", entries[0].ContextMap()["provider"])
	require.Equal(t, zap.WarnLevel, entries[1].Level)
	require.Equal(t, "boom", entries[1].ContextMap()["note"])
	require.NoError(t, sink.Close(context.Background()))
}
