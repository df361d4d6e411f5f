package collector

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CompletionPolicy selects how the coordinator treats per-record failures.
type CompletionPolicy string

// Supported completion policies.
const (
	// PolicyFailFast cancels all in-flight fetches on the first
	// unrecoverable error and fails the whole batch.
	PolicyFailFast CompletionPolicy = "fail-fast"
	// PolicyBestEffort collects each record's outcome independently; the
	// batch always completes.
	PolicyBestEffort CompletionPolicy = "best-effort"
)

// DefaultFetchConcurrency caps in-flight detail fetches. It must not exceed
// the gateway connection-pool limit.
const DefaultFetchConcurrency = 30

// Coordinator runs the detail fetcher over a record set under a bounded
// concurrency limit.
type Coordinator struct {
	fetcher *Fetcher
	limit   int
	policy  CompletionPolicy
	logger  *zap.Logger
}

// NewCoordinator constructs a Coordinator. Zero limit falls back to
// DefaultFetchConcurrency; an unknown policy falls back to fail-fast.
func NewCoordinator(fetcher *Fetcher, limit int, policy CompletionPolicy, logger *zap.Logger) *Coordinator {
	if limit <= 0 {
		limit = DefaultFetchConcurrency
	}
	if policy != PolicyBestEffort {
		policy = PolicyFailFast
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		fetcher: fetcher,
		limit:   limit,
		policy:  policy,
		logger:  logger,
	}
}

// FetchAll resolves result texts for every record, concurrently and bounded.
func (c *Coordinator) FetchAll(ctx context.Context, records []CanonicalRecord) (FetchReport, error) {
	if len(records) == 0 {
		return FetchReport{}, nil
	}
	if c.policy == PolicyBestEffort {
		return c.fetchBestEffort(ctx, records)
	}
	return c.fetchFailFast(ctx, records)
}

func (c *Coordinator) fetchFailFast(ctx context.Context, records []CanonicalRecord) (FetchReport, error) {
	out := make([]CanonicalRecord, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.limit)
	for i, rec := range records {
		g.Go(func() error {
			r := rec
			if err := c.fetcher.Fetch(gctx, &r); err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return FetchReport{}, err
	}
	return FetchReport{Records: out}, nil
}

func (c *Coordinator) fetchBestEffort(ctx context.Context, records []CanonicalRecord) (FetchReport, error) {
	out := make([]CanonicalRecord, len(records))
	ok := make([]bool, len(records))

	sem := make(chan struct{}, c.limit)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed []ItemError

	for i, rec := range records {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			r := rec
			if err := c.fetcher.Fetch(ctx, &r); err != nil {
				c.logger.Warn("detail fetch failed",
					zap.String("test_id", rec.TestID),
					zap.Error(err),
				)
				mu.Lock()
				failed = append(failed, ItemError{Record: rec, Err: err})
				mu.Unlock()
				return
			}
			out[i] = r
			ok[i] = true
		}()
	}
	wg.Wait()

	report := FetchReport{Failed: failed}
	for i := range out {
		if ok[i] {
			report.Records = append(report.Records, out[i])
		}
	}
	return report, nil
}
