package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/metrics"
	"github.com/JakeFAU/site-audit/internal/progress"
	"github.com/JakeFAU/site-audit/internal/retry"
)

// fetch runs one provider call under the retry policy. When every attempt
// fails it substitutes the fallback (if enabled) or a failure envelope.
func fetch[T any](
	ctx context.Context,
	p *Processor,
	auditID string,
	kind audit.ProviderKind,
	call func(context.Context) audit.ProviderResult[T],
	fb func() audit.ProviderResult[T],
) audit.ProviderResult[T] {
	name := string(kind)
	ctx, span := p.tracer.Start(ctx, "provider."+name)
	defer span.End()

	logger := p.logger.With(zap.String("audit_id", auditID), zap.String("provider", name))
	started := p.clock.Now()
	attempts := 0
	policy := retry.Policy{
		MaxRetries: p.cfg.Retries,
		Delay:      p.cfg.Backoff,
		OnFailure: func(attempt int, err error) {
			metrics.ObserveProviderRetry(name)
			logger.Debug("provider attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		},
	}
	res, err := retry.Do(ctx, policy, func(ctx context.Context) audit.ProviderResult[T] {
		attempts++
		if p.limiter != nil {
			if werr := p.limiter.Wait(ctx, name); werr != nil {
				return audit.Failure[T]("rate limit wait: " + werr.Error())
			}
		}
		return call(ctx)
	})

	outcome := progress.OutcomeOK
	note := ""
	if err != nil {
		note = failureText(err)
		if p.cfg.FallbackEnabled {
			res = fb()
			outcome = progress.OutcomeFallback
			logger.Warn("provider exhausted, using fallback", zap.Int("attempts", attempts), zap.Error(err))
		} else {
			res = audit.Failure[T](note)
			outcome = progress.OutcomeFailed
			logger.Warn("provider exhausted", zap.Int("attempts", attempts), zap.Error(err))
		}
		span.SetStatus(codes.Error, note)
	}

	elapsed := nonNegative(p.clock.Now().Sub(started))
	span.SetAttributes(
		attribute.Int("provider.attempts", attempts),
		attribute.String("provider.outcome", string(outcome)),
	)
	metrics.ObserveProviderCall(name, string(outcome), elapsed)
	p.emit(progress.Event{
		AuditID:  auditID,
		Stage:    progress.StageProviderDone,
		Provider: name,
		Outcome:  outcome,
		Attempts: attempts,
		Dur:      elapsed,
		Note:     note,
	})
	return res
}

// failureText reports the last attempt's failure rather than the wrapper.
func failureText(err error) string {
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) && exhausted.Last != nil {
		return exhausted.Last.Error()
	}
	return err.Error()
}

// PreviewResult is the synchronous provider snapshot returned by Preview.
type PreviewResult struct {
	TargetURL    string             `json:"target_url"`
	Domain       string             `json:"domain"`
	Keyword      string             `json:"keyword,omitempty"`
	ProviderData audit.ProviderData `json:"provider_data"`
	Scores       audit.ScoreSet     `json:"scores"`
	Elapsed      time.Duration      `json:"elapsed_ns"`
}

// guard runs one fan-out branch. A panic outside the retried provider call
// (fallback, events, metrics) becomes a failure envelope instead of taking
// the process down.
func guard[T any](p *Processor, auditID string, kind audit.ProviderKind, run func() audit.ProviderResult[T]) (res *audit.ProviderResult[T]) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("provider branch panic",
				zap.String("audit_id", auditID),
				zap.String("provider", string(kind)),
				zap.Any("panic", r),
			)
			failed := audit.Failure[T](fmt.Sprintf("provider panic: %v", r))
			res = &failed
		}
	}()
	out := run()
	return &out
}
