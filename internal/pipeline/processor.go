// Package pipeline runs one audit from claim to settlement.
//
// A Processor claims a queued record, fans out to the three providers (each
// rate limited, retried and optionally replaced by a deterministic fallback),
// aggregates the scores, archives the raw bundle and settles the record as
// done or failed. Provider failures never fail an audit; only job-level
// faults such as an unavailable store do.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/clock/system"
	"github.com/JakeFAU/site-audit/internal/fallback"
	"github.com/JakeFAU/site-audit/internal/hash/sha256"
	"github.com/JakeFAU/site-audit/internal/progress"
	"github.com/JakeFAU/site-audit/internal/score"
	"github.com/JakeFAU/site-audit/internal/telemetry"
)

// DefaultSettleTimeout bounds the terminal store write and notification.
const DefaultSettleTimeout = 10 * time.Second

// Config tunes provider handling.
type Config struct {
	FallbackEnabled bool
	Retries         int
	Backoff         time.Duration
	// ArchivePrefix is the blob path prefix for raw provider bundles.
	ArchivePrefix string
	// SettleTimeout bounds the final Complete/Fail write and the notification.
	// Those run detached from the job context so a timed-out or canceled job
	// still leaves running.
	SettleTimeout time.Duration
}

// Deps are the collaborators of a Processor. Store and the three providers
// are required; everything else is optional.
type Deps struct {
	Store        audit.Store
	PageSpeed    audit.PageSpeedProvider
	OpenPageRank audit.DomainRankProvider
	Serp         audit.SearchRankProvider
	Limiter      audit.Limiter
	Blobs        audit.BlobStore
	Hasher       audit.Hasher
	Publisher    audit.Publisher
	Emitter      progress.Emitter
	Clock        audit.Clock
	Logger       *zap.Logger
}

// Processor implements the audit state machine.
type Processor struct {
	cfg       Config
	store     audit.Store
	pagespeed audit.PageSpeedProvider
	opr       audit.DomainRankProvider
	serp      audit.SearchRankProvider
	limiter   audit.Limiter
	blobs     audit.BlobStore
	hasher    audit.Hasher
	publisher audit.Publisher
	emitter   progress.Emitter
	clock     audit.Clock
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New validates deps and returns a Processor.
func New(cfg Config, deps Deps) (*Processor, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case deps.PageSpeed == nil, deps.OpenPageRank == nil, deps.Serp == nil:
		return nil, errors.New("pipeline: all three providers are required")
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "audits"
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = DefaultSettleTimeout
	}
	p := &Processor{
		cfg:       cfg,
		store:     deps.Store,
		pagespeed: deps.PageSpeed,
		opr:       deps.OpenPageRank,
		serp:      deps.Serp,
		limiter:   deps.Limiter,
		blobs:     deps.Blobs,
		hasher:    deps.Hasher,
		publisher: deps.Publisher,
		emitter:   deps.Emitter,
		clock:     deps.Clock,
		logger:    deps.Logger,
		tracer:    telemetry.Tracer(),
	}
	if p.hasher == nil {
		p.hasher = sha256.NewShort(16)
	}
	if p.emitter == nil {
		p.emitter = progress.NopEmitter{}
	}
	if p.clock == nil {
		p.clock = system.New()
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logger = p.logger.Named("pipeline")
	return p, nil
}

// Process runs the audit identified by auditID. Redelivery of a record that
// is no longer queued, or of an unknown id, is logged and ignored. A returned
// error means the audit could not be claimed or was settled as failed.
func (p *Processor) Process(ctx context.Context, auditID string) (err error) {
	logger := p.logger.With(zap.String("audit_id", auditID))
	rec, err := p.store.Claim(ctx, auditID)
	switch {
	case errors.Is(err, audit.ErrNotFound):
		logger.Warn("audit not found, skipping delivery")
		return nil
	case errors.Is(err, audit.ErrNotClaimable):
		logger.Info("audit already claimed, skipping redelivery", zap.Error(err))
		return nil
	case err != nil:
		return fmt.Errorf("claim audit %s: %w", auditID, err)
	}

	ctx, span := p.tracer.Start(ctx, "audit.process", trace.WithAttributes(
		attribute.String("audit.id", auditID),
		attribute.String("audit.target_url", rec.TargetURL),
	))
	defer span.End()

	started := p.clock.Now()
	p.emit(progress.Event{AuditID: auditID, Stage: progress.StageAuditStart})
	logger.Info("audit started", zap.String("target_url", rec.TargetURL))

	defer func() {
		if r := recover(); r != nil {
			err = p.fail(ctx, logger, rec, fmt.Errorf("audit panic: %v", r), started)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	completion, err := p.run(ctx, rec)
	if err != nil {
		return p.fail(ctx, logger, rec, err, started)
	}
	settleCtx, cancel := p.settleContext(ctx)
	defer cancel()
	if err := p.store.Complete(settleCtx, auditID, completion); err != nil {
		return p.fail(ctx, logger, rec, fmt.Errorf("complete audit: %w", err), started)
	}

	elapsed := p.clock.Now().Sub(started)
	p.emit(progress.Event{AuditID: auditID, Stage: progress.StageAuditDone, Dur: nonNegative(elapsed)})
	logger.Info("audit done", zap.Duration("elapsed", elapsed), overallField(completion.Scores))
	p.notify(settleCtx, logger, rec, audit.StatusDone, completion.Scores)
	return nil
}

// settleContext keeps ctx's values (trace span) but not its deadline or
// cancellation.
func (p *Processor) settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.cfg.SettleTimeout)
}

func (p *Processor) run(ctx context.Context, rec audit.Record) (audit.Completion, error) {
	data := p.fanOut(ctx, rec)

	var social *int
	if p.cfg.FallbackEnabled {
		social = audit.Ptr(fallback.Social(domainSeed(rec)))
	}
	scores := score.Compute(score.Inputs{
		PageSpeed:    normalized(data.PageSpeed),
		OpenPageRank: normalized(data.OpenPageRank),
		Serp:         normalized(data.Serp),
		Social:       social,
	})

	uri, err := p.archive(ctx, rec, data)
	if err != nil {
		return audit.Completion{}, err
	}
	return audit.Completion{Scores: scores, ProviderData: data, ArchiveURI: uri}, nil
}

func (p *Processor) fanOut(ctx context.Context, rec audit.Record) audit.ProviderData {
	var (
		data    audit.ProviderData
		g       errgroup.Group
		seed    = domainSeed(rec)
		domain  = deref(rec.Domain)
		keyword = deref(rec.Keyword)
	)
	g.Go(func() error {
		data.PageSpeed = guard(p, rec.ID, audit.ProviderPageSpeed, func() audit.ProviderResult[audit.PageSpeedMetrics] {
			return fetch(ctx, p, rec.ID, audit.ProviderPageSpeed,
				func(ctx context.Context) audit.ProviderResult[audit.PageSpeedMetrics] {
					return p.pagespeed.Fetch(ctx, rec.TargetURL)
				},
				func() audit.ProviderResult[audit.PageSpeedMetrics] { return fallback.PageSpeed(rec.TargetURL) })
		})
		return nil
	})
	g.Go(func() error {
		data.OpenPageRank = guard(p, rec.ID, audit.ProviderOpenPageRank, func() audit.ProviderResult[audit.DomainRankMetrics] {
			return fetch(ctx, p, rec.ID, audit.ProviderOpenPageRank,
				func(ctx context.Context) audit.ProviderResult[audit.DomainRankMetrics] {
					return p.opr.Fetch(ctx, seed)
				},
				func() audit.ProviderResult[audit.DomainRankMetrics] { return fallback.OpenPageRank(seed) })
		})
		return nil
	})
	g.Go(func() error {
		if keyword == "" || domain == "" {
			p.emit(progress.Event{
				AuditID: rec.ID, Stage: progress.StageProviderDone,
				Provider: string(audit.ProviderSerp), Outcome: progress.OutcomeSkipped,
			})
			return nil
		}
		data.Serp = guard(p, rec.ID, audit.ProviderSerp, func() audit.ProviderResult[audit.SerpMetrics] {
			res := fetch(ctx, p, rec.ID, audit.ProviderSerp,
				func(ctx context.Context) audit.ProviderResult[audit.SerpMetrics] {
					return p.serp.Fetch(ctx, keyword, domain)
				},
				func() audit.ProviderResult[audit.SerpMetrics] { return fallback.Serp(keyword, domain) })
			if p.cfg.FallbackEnabled && res.OK && !res.Fallback && res.Normalized != nil && res.Normalized.Rank == nil {
				res = fallback.Serp(keyword, domain)
			}
			return res
		})
		return nil
	})
	_ = g.Wait()
	return data
}

// archiveBundle is the document written to the blob store.
type archiveBundle struct {
	AuditID      string             `json:"audit_id"`
	TargetURL    string             `json:"target_url"`
	Domain       *string            `json:"domain"`
	Keyword      *string            `json:"keyword"`
	ArchivedAt   time.Time          `json:"archived_at"`
	ProviderData audit.ProviderData `json:"provider_data"`
}

func (p *Processor) archive(ctx context.Context, rec audit.Record, data audit.ProviderData) (string, error) {
	if p.blobs == nil {
		return "", nil
	}
	body, err := json.Marshal(archiveBundle{
		AuditID:      rec.ID,
		TargetURL:    rec.TargetURL,
		Domain:       rec.Domain,
		Keyword:      rec.Keyword,
		ArchivedAt:   p.clock.Now(),
		ProviderData: data,
	})
	if err != nil {
		return "", fmt.Errorf("marshal archive: %w", err)
	}
	digest, err := p.hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash archive: %w", err)
	}
	key := path.Join(p.cfg.ArchivePrefix, rec.ID, digest+".json")
	uri, err := p.blobs.PutObject(ctx, key, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("archive provider data: %w", err)
	}
	return uri, nil
}

func (p *Processor) fail(ctx context.Context, logger *zap.Logger, rec audit.Record, cause error, started time.Time) error {
	logger.Error("audit failed", zap.Error(cause))
	p.emit(progress.Event{
		AuditID: rec.ID,
		Stage:   progress.StageAuditError,
		Dur:     nonNegative(p.clock.Now().Sub(started)),
		Note:    cause.Error(),
	})
	settleCtx, cancel := p.settleContext(ctx)
	defer cancel()
	if err := p.store.Fail(settleCtx, rec.ID, cause.Error()); err != nil {
		logger.Error("failed to record audit failure", zap.Error(err))
		return errors.Join(cause, fmt.Errorf("record failure: %w", err))
	}
	p.notify(settleCtx, logger, rec, audit.StatusFailed, audit.ScoreSet{})
	return cause
}

func (p *Processor) notify(ctx context.Context, logger *zap.Logger, rec audit.Record, status audit.Status, scores audit.ScoreSet) {
	if p.publisher == nil {
		return
	}
	msg := audit.Notification{
		AuditID:   rec.ID,
		TargetURL: rec.TargetURL,
		Status:    status,
		Scores:    scores,
		Timestamp: p.clock.Now().Format(time.RFC3339Nano),
	}
	if _, err := p.publisher.Publish(ctx, "audit."+string(status), msg); err != nil {
		logger.Warn("failed to publish audit notification", zap.Error(err))
	}
}

func (p *Processor) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = p.clock.Now()
	}
	p.emitter.Emit(evt)
}

// domainSeed prefers the normalized domain and falls back to the target URL.
func domainSeed(rec audit.Record) string {
	if d := deref(rec.Domain); d != "" {
		return d
	}
	return rec.TargetURL
}

func normalized[T any](r *audit.ProviderResult[T]) *T {
	if r == nil || !r.OK {
		return nil
	}
	return r.Normalized
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

func overallField(s audit.ScoreSet) zap.Field {
	if s.Overall == nil {
		return zap.Skip()
	}
	return zap.Int("overall", *s.Overall)
}
