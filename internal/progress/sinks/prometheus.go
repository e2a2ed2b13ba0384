package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/site-audit/internal/progress"
)

// PrometheusSink exports audit lifecycle metrics.
type PrometheusSink struct {
	auditsStarted   prometheus.Counter
	auditsCompleted *prometheus.CounterVec
	auditsRunning   prometheus.Gauge
	auditRuntime    *prometheus.HistogramVec
	providerResults *prometheus.CounterVec
	providerAttempt *prometheus.HistogramVec

	mu      sync.Mutex
	running map[string]struct{}
}

// NewPrometheusSink registers the collectors against reg (the default registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		auditsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_started_total",
			Help: "Total audits that have been claimed by a worker.",
		}),
		auditsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_completed_total",
			Help: "Total audits settled, partitioned by result.",
		}, []string{"result"}),
		auditsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audit_running",
			Help: "Audits currently in the running state on this process.",
		}),
		auditRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audit_runtime_seconds",
			Help:    "Wall time per settled audit.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"result"}),
		providerResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_provider_results_total",
			Help: "Provider settlements partitioned by provider and outcome.",
		}, []string{"provider", "outcome"}),
		providerAttempt: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audit_provider_attempts",
			Help:    "Attempts used per provider call.",
			Buckets: []float64{1, 2, 3, 4, 6, 10},
		}, []string{"provider"}),
		running: make(map[string]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.auditsStarted, s.auditsCompleted, s.auditsRunning,
		s.auditRuntime, s.providerResults, s.providerAttempt,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageAuditStart:
			s.auditsStarted.Inc()
			if s.track(evt.AuditID, true) {
				s.auditsRunning.Inc()
			}
		case progress.StageAuditDone:
			s.settle(evt, "success")
		case progress.StageAuditError:
			s.settle(evt, "error")
		case progress.StageProviderDone:
			s.providerResults.WithLabelValues(evt.Provider, string(evt.Outcome)).Inc()
			if evt.Attempts > 0 {
				s.providerAttempt.WithLabelValues(evt.Provider).Observe(float64(evt.Attempts))
			}
		}
	}
	return nil
}

func (s *PrometheusSink) settle(evt progress.Event, result string) {
	s.auditsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.auditRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.track(evt.AuditID, false) {
		s.auditsRunning.Dec()
	}
}

// track records a start (add) or settle and reports whether the set changed.
func (s *PrometheusSink) track(id string, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	switch {
	case add && !ok:
		s.running[id] = struct{}{}
		return true
	case !add && ok:
		delete(s.running, id)
		return true
	default:
		return false
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
