// Package audit defines core types shared across subsystems.
package audit

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of an audit.
type Status string

// Audit status values persisted in the store.
const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// CanTransition reports whether moving from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusDone || to == StatusFailed
	default:
		return false
	}
}

// ProviderKind names one upstream data source.
type ProviderKind string

// Supported providers.
const (
	ProviderPageSpeed    ProviderKind = "pagespeed"
	ProviderOpenPageRank ProviderKind = "openpagerank"
	ProviderSerp         ProviderKind = "serp"
)

// Record is the persisted state of one audit request.
type Record struct {
	ID           string       `json:"id"`
	TargetURL    string       `json:"target_url"`
	Domain       *string      `json:"domain"`
	Keyword      *string      `json:"keyword"`
	Status       Status       `json:"status"`
	Error        *string      `json:"error"`
	Scores       ScoreSet     `json:"scores"`
	ProviderData ProviderData `json:"provider_data"`
	ArchiveURI   string       `json:"archive_uri,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
}

// ScoreSet holds the 0-100 category scores. A nil entry means no data.
type ScoreSet struct {
	SEO        *int `json:"seo"`
	Rank       *int `json:"rank"`
	DomainRank *int `json:"domain_rank"`
	Social     *int `json:"social"`
	Overall    *int `json:"overall"`
}

// ProviderResult is the uniform envelope returned by every provider adapter.
// Normalized is set iff OK; Error is set iff !OK.
type ProviderResult[T any] struct {
	OK         bool            `json:"ok"`
	Normalized *T              `json:"normalized,omitempty"`
	Error      string          `json:"error,omitempty"`
	Fallback   bool            `json:"fallback"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// FailureReason satisfies retry.Outcome.
func (r ProviderResult[T]) FailureReason() (string, bool) {
	if r.OK {
		return "", false
	}
	if r.Error == "" {
		return "provider error", true
	}
	return r.Error, true
}

// Success builds an OK envelope.
func Success[T any](normalized T, raw json.RawMessage) ProviderResult[T] {
	return ProviderResult[T]{OK: true, Normalized: &normalized, Raw: raw}
}

// Failure builds a failed envelope.
func Failure[T any](msg string) ProviderResult[T] {
	return ProviderResult[T]{OK: false, Error: msg}
}

// PageSpeedMetrics is the normalized performance provider output.
type PageSpeedMetrics struct {
	Performance *int     `json:"performance"`
	FCPMs       *float64 `json:"fcp_ms"`
	LCPMs       *float64 `json:"lcp_ms"`
	TBTMs       *float64 `json:"tbt_ms"`
	CLS         *float64 `json:"cls"`
}

// DomainRankMetrics is the normalized domain authority output on a 0-10 scale.
type DomainRankMetrics struct {
	Domain *string  `json:"domain"`
	Rank   *float64 `json:"rank"`
}

// SerpMetrics is the normalized search position output. Rank is nil when the
// domain is not in the top 50 results.
type SerpMetrics struct {
	Keyword string `json:"keyword"`
	Domain  string `json:"domain"`
	Rank    *int   `json:"rank"`
}

// ProviderData keeps every provider envelope for debugging. Serp is nil when
// the audit had no keyword or domain.
type ProviderData struct {
	PageSpeed    *ProviderResult[PageSpeedMetrics]  `json:"pagespeed"`
	OpenPageRank *ProviderResult[DomainRankMetrics] `json:"openpagerank"`
	Serp         *ProviderResult[SerpMetrics]       `json:"serp"`
}

// Completion carries everything written on the running -> done transition.
type Completion struct {
	Scores       ScoreSet
	ProviderData ProviderData
	ArchiveURI   string
}

// QueueItem wraps an audit ready to run.
type QueueItem struct {
	AuditID   string `json:"audit_id"`
	Attempt   int    `json:"attempt"`
	Submitted int64  `json:"submitted"`
}

// Notification is published after an audit settles.
type Notification struct {
	AuditID   string   `json:"audit_id"`
	TargetURL string   `json:"target_url"`
	Status    Status   `json:"status"`
	Scores    ScoreSet `json:"scores"`
	Timestamp string   `json:"timestamp"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// StringOrNil returns nil for the empty string.
func StringOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
