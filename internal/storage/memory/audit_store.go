package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/site-audit/internal/audit"
)

// AuditStore is an in-memory audit.Store for development and tests.
type AuditStore struct {
	mu      sync.RWMutex
	records map[string]audit.Record
	now     func() time.Time
}

// NewAuditStore constructs an AuditStore. clock may be nil.
func NewAuditStore(clock audit.Clock) *AuditStore {
	now := func() time.Time { return time.Now().UTC() }
	if clock != nil {
		now = clock.Now
	}
	return &AuditStore{
		records: make(map[string]audit.Record),
		now:     now,
	}
}

// Create stores a new record.
func (s *AuditStore) Create(_ context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("audit %s already exists", rec.ID)
	}
	s.records[rec.ID] = rec
	return nil
}

// Get fetches a record by id.
func (s *AuditStore) Get(_ context.Context, id string) (audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return audit.Record{}, audit.ErrNotFound
	}
	return rec, nil
}

// ListByTarget returns up to limit records for targetURL, newest first.
func (s *AuditStore) ListByTarget(_ context.Context, targetURL string, limit int) ([]audit.Record, error) {
	s.mu.RLock()
	out := make([]audit.Record, 0)
	for _, rec := range s.records {
		if rec.TargetURL == targetURL {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Claim moves a queued record to running.
func (s *AuditStore) Claim(_ context.Context, id string) (audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return audit.Record{}, audit.ErrNotFound
	}
	if !audit.CanTransition(rec.Status, audit.StatusRunning) {
		return rec, fmt.Errorf("%w: status %s", audit.ErrNotClaimable, rec.Status)
	}
	now := s.now()
	rec.Status = audit.StatusRunning
	rec.StartedAt = &now
	rec.UpdatedAt = now
	s.records[id] = rec
	return rec, nil
}

// Complete settles a running record as done.
func (s *AuditStore) Complete(_ context.Context, id string, c audit.Completion) error {
	return s.settle(id, audit.StatusDone, func(rec *audit.Record) {
		rec.Scores = c.Scores
		rec.ProviderData = c.ProviderData
		rec.ArchiveURI = c.ArchiveURI
		rec.Error = nil
	})
}

// Fail settles a running record as failed. Scores are left untouched.
func (s *AuditStore) Fail(_ context.Context, id string, errText string) error {
	return s.settle(id, audit.StatusFailed, func(rec *audit.Record) {
		rec.Error = &errText
	})
}

func (s *AuditStore) settle(id string, to audit.Status, apply func(*audit.Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return audit.ErrNotFound
	}
	if !audit.CanTransition(rec.Status, to) {
		return fmt.Errorf("%w: %s -> %s", audit.ErrInvalidTransition, rec.Status, to)
	}
	apply(&rec)
	now := s.now()
	rec.Status = to
	rec.UpdatedAt = now
	rec.FinishedAt = &now
	s.records[id] = rec
	return nil
}
