package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/labgate/resultsync/internal/metrics"
)

// EmptyResultSentinel is stored in place of a result that never arrived.
// It marks "no data obtained" as distinct from a real value.
const EmptyResultSentinel = "Result pending"

// FetchConfig tunes the two retry policies of the detail fetcher.
type FetchConfig struct {
	// MaxAttempts bounds total tries against transient gateway errors.
	MaxAttempts uint
	// RetryDelay is the fixed pause between transient retries.
	RetryDelay time.Duration
	// EmptyMaxAttempts bounds tries when the gateway answers with no payload.
	EmptyMaxAttempts int
	// EmptyRetryDelay is the fixed pause between empty-content retries.
	EmptyRetryDelay time.Duration
}

func (c FetchConfig) withDefaults() FetchConfig {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.EmptyMaxAttempts <= 0 {
		c.EmptyMaxAttempts = 5
	}
	if c.EmptyRetryDelay <= 0 {
		c.EmptyRetryDelay = 2 * time.Second
	}
	return c
}

// Fetcher resolves the free-text result for one canonical record. Transient
// gateway errors and empty payloads are retried under independent policies;
// exhausted empty retries degrade to the sentinel instead of failing.
type Fetcher struct {
	gateway   Gateway
	sanitizer Sanitizer
	notifier  Notifier
	cfg       FetchConfig
	logger    *zap.Logger
}

// NewFetcher constructs a Fetcher.
func NewFetcher(gateway Gateway, sanitizer Sanitizer, notifier Notifier, cfg FetchConfig, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		gateway:   gateway,
		sanitizer: sanitizer,
		notifier:  notifier,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Fetch fills in the record's result text, or the sentinel when the upstream
// record never becomes ready. Only transport-level exhaustion and data errors
// are returned as errors.
func (f *Fetcher) Fetch(ctx context.Context, rec *CanonicalRecord) error {
	if rec.TestID == "" {
		return NewDataError("fetch result", errors.New("missing result identifier"))
	}

	for attempt := 1; attempt <= f.cfg.EmptyMaxAttempts; attempt++ {
		payload, err := f.load(ctx, rec.TestID)
		if err != nil {
			return err
		}
		if !payload.Empty && strings.TrimSpace(payload.HTML) != "" {
			text, err := f.sanitizer.Clean(payload.HTML)
			if err != nil {
				return NewDataError("clean result", err)
			}
			rec.Result = text
			rec.HasResult = true
			return nil
		}
		f.logger.Debug("empty result payload",
			zap.String("test_id", rec.TestID),
			zap.Int("attempt", attempt),
		)
		if attempt < f.cfg.EmptyMaxAttempts {
			if err := sleep(ctx, f.cfg.EmptyRetryDelay); err != nil {
				return err
			}
		}
	}

	// The upstream record is not ready yet. This is missing data, not a
	// system error: mark the record and alert a human.
	rec.Result = EmptyResultSentinel
	rec.HasResult = false
	f.alertEmpty(ctx, rec)
	return nil
}

// load performs one detail request under the transient-error retry policy.
func (f *Fetcher) load(ctx context.Context, resultID string) (ResultPayload, error) {
	op := func() (ResultPayload, error) {
		payload, err := f.gateway.LoadResult(ctx, resultID)
		if err != nil && !IsTransient(err) {
			return ResultPayload{}, backoff.Permanent(err)
		}
		return payload, err
	}
	// Notify runs only when another attempt follows, so the counter tracks
	// actual retries rather than failed attempts.
	payload, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(f.cfg.RetryDelay)),
		backoff.WithMaxTries(f.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.IncFetchRetries()
			f.logger.Debug("retrying result load",
				zap.String("test_id", resultID),
				zap.Duration("delay", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		return ResultPayload{}, fmt.Errorf("load result %s: %w", resultID, err)
	}
	return payload, nil
}

func (f *Fetcher) alertEmpty(ctx context.Context, rec *CanonicalRecord) {
	msg := fmt.Sprintf(
		"Result still empty after %d attempts\nPatient: %s %s %s\nDate: %s\nTest: %s (%s)\nIdentifier: %s",
		f.cfg.EmptyMaxAttempts,
		rec.LastName, rec.FirstName, rec.MiddleName,
		rec.TestDate.Format(DateLayout),
		rec.TestName, rec.TestCode,
		rec.TestID,
	)
	if f.notifier == nil {
		return
	}
	if err := f.notifier.Send(ctx, msg); err != nil {
		f.logger.Warn("empty-result alert failed", zap.String("test_id", rec.TestID), zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
