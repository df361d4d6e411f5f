package collector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultPageSize is the listing page size used when none is configured.
const DefaultPageSize = 100

// Lister retrieves the complete raw record sequence for a department and
// date range by walking listing pages with increasing offsets.
type Lister struct {
	gateway  Gateway
	pageSize int
	logger   *zap.Logger
}

// NewLister constructs a Lister.
func NewLister(gateway Gateway, pageSize int, logger *zap.Logger) *Lister {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lister{
		gateway:  gateway,
		pageSize: pageSize,
		logger:   logger,
	}
}

// List pages through the gateway listing until a short or empty page signals
// end of data. Listing errors are not retried here; they fail the current
// day's collection.
func (l *Lister) List(ctx context.Context, departmentID string, from, to time.Time) ([]RawListingRecord, error) {
	var out []RawListingRecord
	for offset := 0; ; offset += l.pageSize {
		page, err := l.gateway.SearchTests(ctx, SearchQuery{
			DepartmentID: departmentID,
			From:         from,
			To:           to,
			Offset:       offset,
			Limit:        l.pageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("list page at offset %d: %w", offset, err)
		}
		out = append(out, page...)
		l.logger.Debug("listing page fetched",
			zap.String("department", departmentID),
			zap.Int("offset", offset),
			zap.Int("page_size", len(page)),
		)
		if len(page) < l.pageSize {
			return out, nil
		}
	}
}
