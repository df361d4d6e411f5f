package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/labgate/resultsync/internal/metrics"
)

// Config tunes the day pipeline.
type Config struct {
	PageSize int
	// DebugDir, when set, receives a JSON report of skipped duplicates.
	DebugDir string
}

// Collector drives the full pipeline for single days: listing,
// canonicalization, concurrent detail fetch, hashing and persistence.
type Collector struct {
	lister      *Lister
	coordinator *Coordinator
	hasher      Hasher
	store       ResultStore
	departments []Department
	debugDir    string
	logger      *zap.Logger
}

// New constructs a Collector.
func New(
	lister *Lister,
	coordinator *Coordinator,
	hasher Hasher,
	store ResultStore,
	departments []Department,
	cfg Config,
	logger *zap.Logger,
) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		lister:      lister,
		coordinator: coordinator,
		hasher:      hasher,
		store:       store,
		departments: departments,
		debugDir:    cfg.DebugDir,
		logger:      logger,
	}
}

// CollectDay lists, completes and persists every test event of one day
// across all configured departments.
func (c *Collector) CollectDay(ctx context.Context, day time.Time) (DayReport, error) {
	report := DayReport{Day: day}
	var built []CanonicalRecord

	for _, dept := range c.departments {
		c.logger.Info("collecting department",
			zap.String("day", day.Format(DateLayout)),
			zap.String("prefix", dept.Prefix),
		)
		raws, err := c.lister.List(ctx, dept.ID, day, day)
		if err != nil {
			return report, err
		}
		report.Listed += len(raws)
		for _, raw := range raws {
			if rec, ok := Canonicalize(raw, dept); ok {
				built = append(built, rec)
			}
		}
	}
	metrics.AddRecordsListed(report.Listed)

	if len(built) == 0 {
		c.logger.Info("no records for day", zap.String("day", day.Format(DateLayout)))
		return report, nil
	}

	fetched, err := c.coordinator.FetchAll(ctx, built)
	if err != nil {
		return report, err
	}
	records := fetched.Records
	for i := range records {
		if !records[i].HasResult {
			metrics.IncEmptyResults()
			continue
		}
		if digest, ok := c.hasher.Hash(records[i].Result); ok {
			records[i].ResultHash = digest
		}
	}
	report.Built = len(records)

	persisted, err := c.store.PersistBatches(ctx, records)
	if err != nil {
		return report, err
	}
	report.Inserted = persisted.Inserted
	report.Skipped = len(persisted.Skipped)
	metrics.AddRecordsInserted(persisted.Inserted)
	metrics.AddRecordsSkipped(len(persisted.Skipped))

	if len(persisted.Skipped) > 0 && c.debugDir != "" {
		if err := c.writeSkippedReport(persisted.Skipped); err != nil {
			c.logger.Error("skipped-duplicates report failed", zap.Error(err))
		}
	}

	c.logger.Info("day collected",
		zap.String("day", day.Format(DateLayout)),
		zap.Int("listed", report.Listed),
		zap.Int("built", report.Built),
		zap.Int("inserted", report.Inserted),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

// skippedRecord is the duplicate-report shape: identity and test fields only,
// no result text or hash.
type skippedRecord struct {
	LastName   string `json:"last_name"`
	FirstName  string `json:"first_name"`
	MiddleName string `json:"middle_name"`
	Birthday   string `json:"birthday"`
	TestDate   string `json:"test_date"`
	TestCode   string `json:"test_code"`
	TestName   string `json:"test_name"`
}

func (c *Collector) writeSkippedReport(skipped []CanonicalRecord) error {
	rows := make([]skippedRecord, 0, len(skipped))
	for _, rec := range skipped {
		rows = append(rows, skippedRecord{
			LastName:   rec.LastName,
			FirstName:  rec.FirstName,
			MiddleName: rec.MiddleName,
			Birthday:   rec.Birthday.Format(time.DateOnly),
			TestDate:   rec.TestDate.Format(time.DateOnly),
			TestCode:   rec.TestCode,
			TestName:   rec.TestName,
		})
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal skipped records: %w", err)
	}
	if err := os.MkdirAll(c.debugDir, 0o750); err != nil {
		return fmt.Errorf("create debug dir: %w", err)
	}
	path := filepath.Join(c.debugDir, "skipped_duplicates.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write skipped records: %w", err)
	}
	return nil
}
