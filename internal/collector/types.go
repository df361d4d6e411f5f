// Package collector defines core types shared across the sync pipeline.
package collector

import (
	"time"
)

// DateLayout is the wire format the gateway uses for every date field.
const DateLayout = "02.01.2006"

// RawListingRecord mirrors one row of a gateway listing page. It lives only
// for the duration of the page that produced it.
type RawListingRecord struct {
	LastName   string `json:"Person_Surname"`
	FirstName  string `json:"Person_Firname"`
	MiddleName string `json:"Person_Secname"`
	Birthday   string `json:"Person_Birthday"`
	TestDate   string `json:"EvnUslugaPar_setDate"`
	TestName   string `json:"Usluga_Name"`
	TestCode   string `json:"Usluga_Code"`
	ResultID   string `json:"EvnXml_id"`
}

// CanonicalRecord is the normalized, storage-ready form of one test event.
// Name fields are capitalized and MiddleName is "" when absent, never null,
// so key comparisons stay stable.
type CanonicalRecord struct {
	LastName    string    `json:"last_name"`
	FirstName   string    `json:"first_name"`
	MiddleName  string    `json:"middle_name"`
	Birthday    time.Time `json:"birthday"`
	Prefix      string    `json:"prefix"`
	TestID      string    `json:"test_id"`
	TestDate    time.Time `json:"test_date"`
	TestCode    string    `json:"test_code"`
	TestName    string    `json:"test_name"`
	ServiceName string    `json:"service_name"`
	Result      string    `json:"result,omitempty"`
	HasResult   bool      `json:"has_result"`
	ResultHash  string    `json:"result_hash,omitempty"`
}

// RecordKey is the natural key enforced by the storage uniqueness constraint.
// Dates are carried as formatted strings so the key is comparable.
type RecordKey struct {
	LastName   string
	FirstName  string
	MiddleName string
	Birthday   string
	TestDate   string
	TestCode   string
	Prefix     string
	ResultHash string
}

// Key derives the natural key of the record.
func (r CanonicalRecord) Key() RecordKey {
	return RecordKey{
		LastName:   r.LastName,
		FirstName:  r.FirstName,
		MiddleName: r.MiddleName,
		Birthday:   r.Birthday.Format(time.DateOnly),
		TestDate:   r.TestDate.Format(time.DateOnly),
		TestCode:   r.TestCode,
		Prefix:     r.Prefix,
		ResultHash: r.ResultHash,
	}
}

// PersistedRecord is a CanonicalRecord materialized in storage.
type PersistedRecord struct {
	CanonicalRecord
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Department identifies one source department whose test events are collected.
type Department struct {
	ID     string `json:"id" mapstructure:"id"`
	Prefix string `json:"prefix" mapstructure:"prefix"`
	Name   string `json:"name" mapstructure:"name"`
}

// CollectionWindow is the contiguous date range a sync run re-collects.
type CollectionWindow struct {
	Start time.Time
	End   time.Time
}

// Empty reports whether the window contains no days.
func (w CollectionWindow) Empty() bool {
	return w.Start.After(w.End)
}

// Days enumerates every day of the window in order, inclusive on both ends.
func (w CollectionWindow) Days() []time.Time {
	if w.Empty() {
		return nil
	}
	var days []time.Time
	for d := w.Start; !d.After(w.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// PersistReport summarizes one persist operation: how many records were newly
// inserted and exactly which input records were skipped as duplicates.
type PersistReport struct {
	Inserted int
	Skipped  []CanonicalRecord
}

// DayReport summarizes the collection of a single day across all departments.
type DayReport struct {
	Day      time.Time
	Listed   int
	Built    int
	Inserted int
	Skipped  int
}

// ItemError annotates a single record whose detail fetch failed under the
// best-effort completion policy.
type ItemError struct {
	Record CanonicalRecord
	Err    error
}

// FetchReport is the outcome of running the detail fetch over a record set.
type FetchReport struct {
	Records []CanonicalRecord
	Failed  []ItemError
}
