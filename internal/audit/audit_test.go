package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/labgate/resultsync/internal/collector"
)

type fakeStore struct {
	records    []collector.PersistedRecord
	emptyCount int64
	countErr   error
	scanErr    error
}

func (s *fakeStore) CountByResultFlag(_ context.Context, hasResult bool) (int64, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	if hasResult {
		return int64(len(s.records)), nil
	}
	return s.emptyCount, nil
}

func (s *fakeStore) ScanResults(_ context.Context, _ bool, offset, limit int) ([]collector.PersistedRecord, error) {
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	if offset >= len(s.records) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.records) {
		end = len(s.records)
	}
	return s.records[offset:end], nil
}

func persisted(id int64, result string) collector.PersistedRecord {
	return collector.PersistedRecord{
		ID: id,
		CanonicalRecord: collector.CanonicalRecord{
			LastName:  "Ivanov",
			FirstName: "Petr",
			TestID:    fmt.Sprintf("xml-%d", id),
			TestDate:  time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC),
			Result:    result,
			HasResult: true,
		},
	}
}

func TestAuditor_Run_AllHealthy(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		records: []collector.PersistedRecord{
			persisted(1, "hemoglobin 140 g/l"),
			persisted(2, "glucose 5.1 mmol/l"),
		},
		emptyCount: 3,
	}
	report, err := New(store, Config{}, nil).Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.OK())
	require.Equal(t, 2, report.TotalChecked)
	require.Equal(t, int64(3), report.EmptyCount)
	require.Zero(t, report.BadCount)
	require.Empty(t, report.Problems)
}

func TestAuditor_Run_FlagsBadRecords(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		records: []collector.PersistedRecord{
			persisted(1, "hemoglobin 140 g/l"),
			persisted(2, " "),
			persisted(3, "ok"),
			persisted(4, collector.EmptyResultSentinel),
		},
	}
	report, err := New(store, Config{MinResultLength: 5}, nil).Run(context.Background())
	require.NoError(t, err)
	require.False(t, report.OK())
	require.Equal(t, "FAIL", report.Status)
	require.Equal(t, 3, report.BadCount)
	require.Len(t, report.Problems, 3)
	require.Equal(t, "result is missing", report.Problems[0].Reason)
	require.Contains(t, report.Problems[1].Reason, "too short")
	require.Equal(t, "sentinel stored with has_result set", report.Problems[2].Reason)
	require.Equal(t, "Ivanov Petr", report.Problems[0].Patient)
}

func TestAuditor_Run_ProblemSampleIsBounded(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	for i := int64(1); i <= 30; i++ {
		store.records = append(store.records, persisted(i, "x"))
	}
	report, err := New(store, Config{MaxProblems: 10, BatchSize: 7}, nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 30, report.BadCount)
	require.Equal(t, 30, report.TotalChecked)
	require.Len(t, report.Problems, 10)
}

func TestAuditor_Run_MinLengthCountsRunes(t *testing.T) {
	t.Parallel()

	store := &fakeStore{records: []collector.PersistedRecord{persisted(1, "анализ")}}
	report, err := New(store, Config{MinResultLength: 5}, nil).Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.OK())
}

func TestAuditor_Run_StoreErrorsPropagate(t *testing.T) {
	t.Parallel()

	_, err := New(&fakeStore{countErr: errors.New("boom")}, Config{}, nil).Run(context.Background())
	require.Error(t, err)

	_, err = New(&fakeStore{scanErr: errors.New("boom")}, Config{}, nil).Run(context.Background())
	require.Error(t, err)
}
