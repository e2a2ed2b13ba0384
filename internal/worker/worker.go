// Package worker implements the audit consumer loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/metrics"
)

// DefaultErrorBackoff is the pause after a failed Dequeue.
const DefaultErrorBackoff = time.Second

// Processor runs one audit. pipeline.Processor satisfies it.
type Processor interface {
	Process(ctx context.Context, auditID string) error
}

// Config controls Worker behavior.
type Config struct {
	// ID labels the worker in logs.
	ID int
	// JobTimeout bounds a single Process call. Zero means no limit.
	JobTimeout   time.Duration
	ErrorBackoff time.Duration
}

// Worker consumes queue deliveries and hands them to a Processor.
type Worker struct {
	queue     audit.Queue
	processor Processor
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(queue audit.Queue, processor Processor, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = DefaultErrorBackoff
	}
	return &Worker{
		queue:     queue,
		processor: processor,
		cfg:       cfg,
		logger:    logger.With(zap.Int("worker_id", cfg.ID)),
	}
}

// Run blocks, consuming deliveries until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		d, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, audit.ErrQueueClosed) {
				w.logger.Info("queue closed, worker exiting")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			if !sleep(ctx, w.cfg.ErrorBackoff) {
				return
			}
			continue
		}
		w.handle(ctx, d)
	}
}

func (w *Worker) handle(ctx context.Context, d audit.Delivery) {
	item := d.Item()
	logger := w.logger.With(zap.String("audit_id", item.AuditID), zap.Int("attempt", item.Attempt))
	logger.Debug("dequeued audit")

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	jobCtx := withDeliveryTrace(ctx, d)
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, w.cfg.JobTimeout)
		defer cancel()
	}

	if err := w.process(jobCtx, item.AuditID); err != nil {
		status := "failed"
		if ctx.Err() != nil {
			status = "canceled"
		}
		metrics.ObserveJob(status)
		logger.Error("audit processing failed", zap.Error(err))
		d.Nack(err)
		return
	}
	metrics.ObserveJob("done")
	d.Ack()
}

func (w *Worker) process(ctx context.Context, auditID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return w.processor.Process(ctx, auditID)
}

// withDeliveryTrace copies the span context carried by a delivery (Pub/Sub
// messages propagate it in attributes) onto the worker context.
func withDeliveryTrace(ctx context.Context, d audit.Delivery) context.Context {
	carrier, ok := d.(interface{ Context() context.Context })
	if !ok {
		return ctx
	}
	dctx := carrier.Context()
	if dctx == nil {
		return ctx
	}
	if sc := trace.SpanContextFromContext(dctx); sc.IsValid() {
		return trace.ContextWithRemoteSpanContext(ctx, sc)
	}
	return ctx
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
