package audit

import "errors"

var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("audit not found")
	// ErrInvalidTransition is returned when a status change breaks the lifecycle.
	ErrInvalidTransition = errors.New("invalid audit status transition")
	// ErrNotClaimable is returned by Store.Claim when the record is no longer queued.
	ErrNotClaimable = errors.New("audit not claimable")
	// ErrQueueClosed is wrapped by queue implementations once Dequeue can no
	// longer return deliveries.
	ErrQueueClosed = errors.New("queue closed")
	// ErrValidation marks input rejected before any work is queued.
	ErrValidation = errors.New("invalid audit request")
)
