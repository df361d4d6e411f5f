package orchestrator

import (
	"context"
	"time"

	"github.com/labgate/resultsync/internal/collector"
)

// DefaultOverlapDays is how far behind the latest persisted test date a run
// restarts, so late-arriving results in already-collected days are re-checked.
const DefaultOverlapDays = 2

// computeWindow derives the date range to collect. It starts overlapDays
// before the latest persisted test date, or at January 1 of the current year
// when the store is empty, and ends today. A start past today yields an empty
// window.
func computeWindow(ctx context.Context, store collector.ResultStore, now time.Time, overlapDays int) (collector.CollectionWindow, error) {
	today := truncateDay(now)
	latest, ok, err := store.MaxTestDate(ctx)
	if err != nil {
		return collector.CollectionWindow{}, err
	}
	var start time.Time
	if ok {
		start = truncateDay(latest).AddDate(0, 0, -overlapDays)
	} else {
		start = time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return collector.CollectionWindow{Start: start, End: today}, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
