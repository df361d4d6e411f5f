package collector

import (
	"context"
	"time"
)

// SearchQuery parameterizes one listing page request.
type SearchQuery struct {
	DepartmentID string
	From         time.Time
	To           time.Time
	Offset       int
	Limit        int
}

// ResultPayload is the raw detail response for one test identifier. Empty is
// set when the gateway answered successfully but carried no usable content.
type ResultPayload struct {
	HTML  string
	Empty bool
}

// Gateway is the upstream medical-record system, reduced to the two typed
// requests the pipeline needs.
type Gateway interface {
	SearchTests(ctx context.Context, q SearchQuery) ([]RawListingRecord, error)
	LoadResult(ctx context.Context, resultID string) (ResultPayload, error)
}

// ResultStore persists canonical records and answers the watermark query.
type ResultStore interface {
	PersistBatches(ctx context.Context, records []CanonicalRecord) (PersistReport, error)
	MaxTestDate(ctx context.Context) (time.Time, bool, error)
}

// Hasher computes the dedup digest of a result text. ok is false when the
// text is empty: a record without a result carries no hash.
type Hasher interface {
	Hash(text string) (digest string, ok bool)
}

// Sanitizer reduces a raw detail payload to storable text.
type Sanitizer interface {
	Clean(html string) (string, error)
}

// Notifier delivers out-of-band alerts. Implementations are best-effort;
// delivery failures must never fail the pipeline.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
