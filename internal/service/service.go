// Package service implements audit submission and lookup on top of the store
// and the dispatcher.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/id/uuid"
)

// List limits.
const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

// DefaultEnqueueTimeout bounds the queue hand-off during Submit.
const DefaultEnqueueTimeout = 5 * time.Second

// Enqueuer hands queue items to the worker pool. dispatcher.Dispatcher
// satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, item audit.QueueItem) error
}

// SubmitRequest is a new audit request.
type SubmitRequest struct {
	URL     string `json:"url"`
	Domain  string `json:"domain,omitempty"`
	Keyword string `json:"keyword,omitempty"`
}

// Service creates and reads audit records.
type Service struct {
	store          audit.Store
	enqueuer       Enqueuer
	ids            audit.IDGenerator
	clock          audit.Clock
	logger         *zap.Logger
	enqueueTimeout time.Duration
}

// Option customizes a Service.
type Option func(*Service)

// WithEnqueueTimeout overrides DefaultEnqueueTimeout.
func WithEnqueueTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.enqueueTimeout = d
		}
	}
}

// New constructs a Service.
func New(store audit.Store, enqueuer Enqueuer, ids audit.IDGenerator, clock audit.Clock, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:          store,
		enqueuer:       enqueuer,
		ids:            ids,
		clock:          clock,
		logger:         logger.Named("service"),
		enqueueTimeout: DefaultEnqueueTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates req, persists a queued record and enqueues it. A record
// whose enqueue fails is left queued and the error is returned.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (audit.Record, error) {
	target := strings.TrimSpace(req.URL)
	if target == "" {
		return audit.Record{}, fmt.Errorf("%w: url is required", audit.ErrValidation)
	}
	domain := audit.NormalizeDomain(req.Domain)
	if domain == "" {
		domain = audit.NormalizeDomain(target)
	}

	id, err := s.ids.NewID()
	if err != nil {
		return audit.Record{}, fmt.Errorf("generate audit id: %w", err)
	}
	now := s.clock.Now()
	rec := audit.Record{
		ID:        id,
		TargetURL: target,
		Domain:    audit.StringOrNil(domain),
		Keyword:   audit.StringOrNil(strings.TrimSpace(req.Keyword)),
		Status:    audit.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return audit.Record{}, fmt.Errorf("create audit: %w", err)
	}

	queueCtx, cancel := context.WithTimeout(ctx, s.enqueueTimeout)
	defer cancel()
	item := audit.QueueItem{AuditID: id, Attempt: 1, Submitted: now.Unix()}
	if err := s.enqueuer.Enqueue(queueCtx, item); err != nil {
		s.logger.Error("enqueue failed, audit left queued", zap.String("audit_id", id), zap.Error(err))
		return rec, fmt.Errorf("enqueue audit: %w", err)
	}
	s.logger.Info("audit queued",
		zap.String("audit_id", id),
		zap.String("target_url", target),
		zap.String("domain", domain),
	)
	return rec, nil
}

// Get returns one record. Malformed ids are reported as audit.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (audit.Record, error) {
	if !uuid.Valid(id) {
		return audit.Record{}, audit.ErrNotFound
	}
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return audit.Record{}, fmt.Errorf("get audit %s: %w", id, err)
	}
	return rec, nil
}

// List returns the newest audits for targetURL. limit is clamped to
// [1, MaxListLimit]; zero selects DefaultListLimit.
func (s *Service) List(ctx context.Context, targetURL string, limit int) ([]audit.Record, error) {
	target := strings.TrimSpace(targetURL)
	if target == "" {
		return nil, fmt.Errorf("%w: target_url is required", audit.ErrValidation)
	}
	recs, err := s.store.ListByTarget(ctx, target, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list audits: %w", err)
	}
	return recs, nil
}

// ClampLimit applies the list limit rules.
func ClampLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultListLimit
	case limit < 1:
		return 1
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
