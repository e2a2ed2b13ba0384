package audit

import (
	"context"
	"io"
	"time"
)

// Store persists audit records. Implementations enforce the lifecycle rules
// from CanTransition and return ErrInvalidTransition otherwise.
type Store interface {
	Create(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	ListByTarget(ctx context.Context, targetURL string, limit int) ([]Record, error)
	// Claim moves a queued record to running and returns the updated record.
	Claim(ctx context.Context, id string) (Record, error)
	Complete(ctx context.Context, id string, c Completion) error
	Fail(ctx context.Context, id string, errText string) error
}

// PageSpeedProvider fetches performance metrics for a URL.
type PageSpeedProvider interface {
	Fetch(ctx context.Context, targetURL string) ProviderResult[PageSpeedMetrics]
}

// DomainRankProvider fetches the authority rank for a domain or URL.
type DomainRankProvider interface {
	Fetch(ctx context.Context, domainOrURL string) ProviderResult[DomainRankMetrics]
}

// SearchRankProvider finds the position of a domain for a keyword.
type SearchRankProvider interface {
	Fetch(ctx context.Context, keyword, domain string) ProviderResult[SerpMetrics]
}

// Queue provides at-least-once enqueue/dequeue semantics for audit jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (Delivery, error)
}

// Delivery is one dequeued item. Exactly one of Ack or Nack must be called.
type Delivery interface {
	Item() QueueItem
	Ack()
	Nack(err error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Limiter throttles outbound calls per key.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Hasher computes digests for archive naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces audit IDs.
type IDGenerator interface {
	NewID() (string, error)
}
