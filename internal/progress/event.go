package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported stages.
const (
	StageAuditStart   Stage = "AUDIT_START"
	StageProviderDone Stage = "PROVIDER_DONE"
	StageAuditDone    Stage = "AUDIT_DONE"
	StageAuditError   Stage = "AUDIT_ERROR"
)

// Outcome classifies how a provider call settled.
type Outcome string

// Provider outcomes.
const (
	OutcomeOK       Outcome = "ok"
	OutcomeFallback Outcome = "fallback"
	OutcomeFailed   Outcome = "failed"
	OutcomeSkipped  Outcome = "skipped"
)

// Event captures one step of an audit.
type Event struct {
	AuditID string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Provider and Outcome are set on PROVIDER_DONE.
	Provider string
	Outcome  Outcome
	Attempts int
	// Dur is the provider call time or the whole audit time.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.AuditID == "" {
		return errors.New("audit id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageAuditStart, StageAuditDone, StageAuditError:
	case StageProviderDone:
		if e.Provider == "" {
			return errors.New("provider done requires provider")
		}
		if e.Outcome == "" {
			return errors.New("provider done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
