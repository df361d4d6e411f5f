// Package audit validates the integrity of persisted results before backup.
package audit

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/labgate/resultsync/internal/collector"
)

// Store is the subset of the result store the auditor scans.
type Store interface {
	CountByResultFlag(ctx context.Context, hasResult bool) (int64, error)
	ScanResults(ctx context.Context, hasResult bool, offset, limit int) ([]collector.PersistedRecord, error)
}

// Config tunes the audit pass.
type Config struct {
	BatchSize int
	// MinResultLength is the shortest decoded result considered intact.
	MinResultLength int
	// MaxProblems bounds the sample of offending records in the report.
	MaxProblems int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.MinResultLength <= 0 {
		c.MinResultLength = 5
	}
	if c.MaxProblems <= 0 {
		c.MaxProblems = 10
	}
	return c
}

// Problem describes one record that failed validation.
type Problem struct {
	ID      int64  `json:"id"`
	TestID  string `json:"test_id"`
	Date    string `json:"date"`
	Patient string `json:"patient"`
	Reason  string `json:"reason"`
}

// Report summarizes one audit pass.
type Report struct {
	Status       string        `json:"status"`
	Duration     time.Duration `json:"duration"`
	TotalChecked int           `json:"total_checked"`
	EmptyCount   int64         `json:"empty_count"`
	BadCount     int           `json:"bad_count"`
	Problems     []Problem     `json:"problems"`
}

// OK reports whether the pass found no integrity problems.
func (r Report) OK() bool {
	return r.Status == "OK"
}

// Auditor scans records flagged as having a result and validates that the
// decoded content is present, long enough, and not the empty-result sentinel.
type Auditor struct {
	store  Store
	cfg    Config
	logger *zap.Logger
}

// New constructs an Auditor.
func New(store Store, cfg Config, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Run performs a full audit pass.
func (a *Auditor) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	a.logger.Info("audit started", zap.Int("batch_size", a.cfg.BatchSize))

	emptyCount, err := a.store.CountByResultFlag(ctx, false)
	if err != nil {
		return Report{}, err
	}

	var (
		problems []Problem
		badCount int
		checked  int
	)
	for offset := 0; ; offset += a.cfg.BatchSize {
		batch, err := a.store.ScanResults(ctx, true, offset, a.cfg.BatchSize)
		if err != nil {
			return Report{}, err
		}
		if len(batch) == 0 {
			break
		}
		for _, rec := range batch {
			if reason, ok := a.validate(rec); !ok {
				badCount++
				if len(problems) < a.cfg.MaxProblems {
					problems = append(problems, Problem{
						ID:      rec.ID,
						TestID:  rec.TestID,
						Date:    rec.TestDate.Format(collector.DateLayout),
						Patient: rec.LastName + " " + rec.FirstName,
						Reason:  reason,
					})
				}
			}
		}
		checked += len(batch)
	}

	status := "OK"
	if badCount > 0 {
		status = "FAIL"
	}
	report := Report{
		Status:       status,
		Duration:     time.Since(start),
		TotalChecked: checked,
		EmptyCount:   emptyCount,
		BadCount:     badCount,
		Problems:     problems,
	}
	a.logger.Info("audit finished",
		zap.String("status", status),
		zap.Int("checked", checked),
		zap.Int64("empty", emptyCount),
		zap.Int("bad", badCount),
	)
	return report, nil
}

func (a *Auditor) validate(rec collector.PersistedRecord) (string, bool) {
	content := strings.TrimSpace(rec.Result)
	switch {
	case content == "":
		return "result is missing", false
	case len([]rune(content)) < a.cfg.MinResultLength:
		return "result is too short: " + content, false
	case content == collector.EmptyResultSentinel:
		return "sentinel stored with has_result set", false
	default:
		return "", true
	}
}
