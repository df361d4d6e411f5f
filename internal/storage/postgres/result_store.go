// Package postgres provides Postgres-backed persistence for canonical
// records.
//
// Expected schema:
//
//	CREATE TABLE test_results (
//	    id BIGSERIAL PRIMARY KEY,
//	    last_name TEXT NOT NULL,
//	    first_name TEXT NOT NULL,
//	    middle_name TEXT NOT NULL DEFAULT '',
//	    birthday DATE,
//	    test_id TEXT NOT NULL,
//	    test_date DATE,
//	    test_code TEXT NOT NULL,
//	    test_name TEXT NOT NULL,
//	    service_name TEXT NOT NULL,
//	    prefix TEXT NOT NULL,
//	    result TEXT,
//	    has_result BOOLEAN NOT NULL DEFAULT FALSE,
//	    result_hash TEXT,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    CONSTRAINT uq_patient_test_hash UNIQUE NULLS NOT DISTINCT
//	        (last_name, first_name, middle_name, birthday,
//	         test_date, test_code, prefix, result_hash)
//	);
//	CREATE INDEX ix_test_results_patient
//	    ON test_results (last_name, first_name, birthday);
//
// The result column holds the free text under at-rest protection; the store
// passes it through the configured Codec on every write and read.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/labgate/resultsync/internal/collector"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultBatchSize bounds one multi-row insert.
const DefaultBatchSize = 1000

// insertColumns lists the columns of one inserted row, in placeholder order.
var insertColumns = []string{
	"last_name", "first_name", "middle_name", "birthday",
	"test_id", "test_date", "test_code", "test_name",
	"service_name", "prefix", "result", "has_result", "result_hash",
}

// Codec is the opaque at-rest transform applied to result texts.
type Codec interface {
	Encode(plain string) (string, error)
	Decode(stored string) (string, error)
}

// Config controls the Postgres connection pool used for result rows.
type Config struct {
	DSN             string
	Table           string
	BatchSize       int
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// ResultStore reads and writes canonical records in Postgres.
type ResultStore struct {
	pool      dbPool
	table     string
	batchSize int
	codec     Codec
	logger    *zap.Logger
}

// NewResultStore creates a Postgres-backed ResultStore using the provided
// config. codec may be nil for plaintext storage.
func NewResultStore(ctx context.Context, cfg Config, codec Codec, logger *zap.Logger) (*ResultStore, error) {
	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newResultStore(pool, cfg, codec, logger)
}

func poolConfig(cfg Config) (*pgxpool.Config, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	return poolCfg, nil
}

// NewResultStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewResultStoreWithPool(pool dbPool, cfg Config, codec Codec, logger *zap.Logger) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newResultStore(pool, cfg, codec, logger)
}

func newResultStore(pool dbPool, cfg Config, codec Codec, logger *zap.Logger) (*ResultStore, error) {
	table := cfg.Table
	if table == "" {
		table = "test_results"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if codec == nil {
		codec = passthroughCodec{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultStore{
		pool:      pool,
		table:     table,
		batchSize: batchSize,
		codec:     codec,
		logger:    logger,
	}, nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// PersistBatches inserts records in fixed-size batches with conflict-skip
// semantics and reports exactly which records were newly inserted vs. skipped
// as duplicates. Each batch is one statement committing independently; a
// failing batch aborts the operation while earlier batches stay committed.
func (s *ResultStore) PersistBatches(ctx context.Context, records []collector.CanonicalRecord) (collector.PersistReport, error) {
	report := collector.PersistReport{}
	if len(records) == 0 {
		return report, nil
	}

	for start := 0; start < len(records); start += s.batchSize {
		end := start + s.batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		inserted, skipped, err := s.persistBatch(ctx, batch)
		if err != nil {
			return report, collector.NewPersistenceError("persist batch", err)
		}
		report.Inserted += inserted
		report.Skipped = append(report.Skipped, skipped...)

		s.logger.Info("batch persisted",
			zap.Int("batch", start/s.batchSize+1),
			zap.Int("attempted", len(batch)),
			zap.Int("inserted", inserted),
		)
	}
	return report, nil
}

func (s *ResultStore) persistBatch(ctx context.Context, batch []collector.CanonicalRecord) (int, []collector.CanonicalRecord, error) {
	// Collapse in-batch duplicates up front. The constraint would drop the
	// extra copies anyway, and reporting them as skipped keeps
	// Inserted+Skipped equal to the batch size.
	byKey := make(map[collector.RecordKey]collector.CanonicalRecord, len(batch))
	unique := make([]collector.CanonicalRecord, 0, len(batch))
	var skipped []collector.CanonicalRecord
	for _, rec := range batch {
		key := rec.Key()
		if _, seen := byKey[key]; seen {
			skipped = append(skipped, rec)
			continue
		}
		byKey[key] = rec
		unique = append(unique, rec)
	}

	query, args, err := s.buildInsert(unique)
	if err != nil {
		return 0, nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("insert records: %w", err)
	}
	defer rows.Close()

	inserted := 0
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return 0, nil, fmt.Errorf("scan returned key: %w", err)
		}
		inserted++
		delete(byKey, key)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("read returned keys: %w", err)
	}

	for _, rec := range byKey {
		skipped = append(skipped, rec)
	}
	return inserted, skipped, nil
}

func (s *ResultStore) buildInsert(batch []collector.CanonicalRecord) (string, []any, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ",
		s.table, strings.Join(insertColumns, ", "))

	args := make([]any, 0, len(batch)*len(insertColumns))
	for i, rec := range batch {
		stored, err := s.codec.Encode(rec.Result)
		if err != nil {
			return "", nil, fmt.Errorf("encode result for %s: %w", rec.TestID, err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * len(insertColumns)
		sb.WriteByte('(')
		for j := range insertColumns {
			if j > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "$%d", base+j+1)
		}
		sb.WriteByte(')')
		args = append(args,
			rec.LastName, rec.FirstName, rec.MiddleName, dateArg(rec.Birthday),
			rec.TestID, dateArg(rec.TestDate), rec.TestCode, rec.TestName,
			rec.ServiceName, rec.Prefix, stored, rec.HasResult, hashArg(rec.ResultHash),
		)
	}

	sb.WriteString(" ON CONFLICT ON CONSTRAINT uq_patient_test_hash DO NOTHING")
	sb.WriteString(" RETURNING last_name, first_name, middle_name, birthday, test_date, test_code, prefix, result_hash")
	return sb.String(), args, nil
}

// MaxTestDate returns the collection watermark: the latest test date already
// in storage. ok is false when the table is empty.
func (s *ResultStore) MaxTestDate(ctx context.Context) (time.Time, bool, error) {
	query := fmt.Sprintf("SELECT MAX(test_date) FROM %s", s.table)
	var latest *time.Time
	if err := s.pool.QueryRow(ctx, query).Scan(&latest); err != nil {
		return time.Time{}, false, collector.NewPersistenceError("max test date", err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return *latest, true, nil
}

// PatientQuery identifies a patient. A nil MiddleName matches the empty
// string, mirroring how canonicalization stores missing middle names.
type PatientQuery struct {
	LastName   string
	FirstName  string
	MiddleName *string
	Birthday   time.Time
}

// FindByPatient returns every stored record for one patient identity.
func (s *ResultStore) FindByPatient(ctx context.Context, q PatientQuery) ([]collector.PersistedRecord, error) {
	middle := ""
	if q.MiddleName != nil {
		middle = *q.MiddleName
	}
	sql := fmt.Sprintf(`SELECT %s FROM %s
WHERE last_name = $1 AND first_name = $2 AND middle_name = $3 AND birthday = $4
ORDER BY test_date, id`, selectColumns(), s.table)

	rows, err := s.pool.Query(ctx, sql, q.LastName, q.FirstName, middle, q.Birthday)
	if err != nil {
		return nil, collector.NewPersistenceError("find by patient", err)
	}
	defer rows.Close()
	return s.collectRecords(rows)
}

// CountByResultFlag counts stored records by their has_result flag.
func (s *ResultStore) CountByResultFlag(ctx context.Context, hasResult bool) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE has_result = $1", s.table)
	var n int64
	if err := s.pool.QueryRow(ctx, query, hasResult).Scan(&n); err != nil {
		return 0, collector.NewPersistenceError("count by flag", err)
	}
	return n, nil
}

// ScanResults pages through stored records with the given has_result flag in
// id order, decoding result texts.
func (s *ResultStore) ScanResults(ctx context.Context, hasResult bool, offset, limit int) ([]collector.PersistedRecord, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s
WHERE has_result = $1 ORDER BY id OFFSET $2 LIMIT $3`, selectColumns(), s.table)

	rows, err := s.pool.Query(ctx, sql, hasResult, offset, limit)
	if err != nil {
		return nil, collector.NewPersistenceError("scan results", err)
	}
	defer rows.Close()
	return s.collectRecords(rows)
}

func selectColumns() string {
	return "id, " + strings.Join(insertColumns, ", ") + ", created_at"
}

func (s *ResultStore) collectRecords(rows pgx.Rows) ([]collector.PersistedRecord, error) {
	var out []collector.PersistedRecord
	for rows.Next() {
		var (
			rec      collector.PersistedRecord
			birthday *time.Time
			testDate *time.Time
			result   *string
			hash     *string
		)
		err := rows.Scan(
			&rec.ID,
			&rec.LastName, &rec.FirstName, &rec.MiddleName, &birthday,
			&rec.TestID, &testDate, &rec.TestCode, &rec.TestName,
			&rec.ServiceName, &rec.Prefix, &result, &rec.HasResult, &hash,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, collector.NewPersistenceError("scan record", err)
		}
		if birthday != nil {
			rec.Birthday = *birthday
		}
		if testDate != nil {
			rec.TestDate = *testDate
		}
		if hash != nil {
			rec.ResultHash = *hash
		}
		if result != nil {
			plain, err := s.codec.Decode(*result)
			if err != nil {
				s.logger.Warn("result decode failed", zap.Int64("id", rec.ID), zap.Error(err))
			} else {
				rec.Result = plain
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, collector.NewPersistenceError("read records", err)
	}
	return out, nil
}

func scanKey(rows pgx.Rows) (collector.RecordKey, error) {
	var (
		key      collector.RecordKey
		birthday *time.Time
		testDate *time.Time
		hash     *string
	)
	err := rows.Scan(
		&key.LastName, &key.FirstName, &key.MiddleName, &birthday,
		&testDate, &key.TestCode, &key.Prefix, &hash,
	)
	if err != nil {
		return collector.RecordKey{}, err
	}
	key.Birthday = keyDate(birthday)
	key.TestDate = keyDate(testDate)
	if hash != nil {
		key.ResultHash = *hash
	}
	return key, nil
}

func keyDate(t *time.Time) string {
	if t == nil {
		return time.Time{}.Format(time.DateOnly)
	}
	return t.Format(time.DateOnly)
}

func dateArg(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func hashArg(h string) any {
	if h == "" {
		return nil
	}
	return h
}

// passthroughCodec stores result texts unmodified.
type passthroughCodec struct{}

func (passthroughCodec) Encode(plain string) (string, error)  { return plain, nil }
func (passthroughCodec) Decode(stored string) (string, error) { return stored, nil }
