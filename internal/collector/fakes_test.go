package collector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// fakeGateway scripts listing pages and detail payloads. It tracks in-flight
// LoadResult calls so tests can assert the concurrency bound.
type fakeGateway struct {
	mu sync.Mutex

	pages     [][]RawListingRecord
	pageCalls []SearchQuery

	payloads    map[string]ResultPayload
	payloadSeq  map[string][]ResultPayload
	loadErrs    map[string][]error
	loadCalls   map[string]int
	inFlight    int
	maxInFlight int
	loadDelay   time.Duration
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		payloads:   map[string]ResultPayload{},
		payloadSeq: map[string][]ResultPayload{},
		loadErrs:   map[string][]error{},
		loadCalls:  map[string]int{},
	}
}

func (g *fakeGateway) SearchTests(_ context.Context, q SearchQuery) ([]RawListingRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pageCalls = append(g.pageCalls, q)
	idx := len(g.pageCalls) - 1
	if idx >= len(g.pages) {
		return nil, nil
	}
	return g.pages[idx], nil
}

func (g *fakeGateway) LoadResult(_ context.Context, resultID string) (ResultPayload, error) {
	g.mu.Lock()
	g.loadCalls[resultID]++
	g.inFlight++
	if g.inFlight > g.maxInFlight {
		g.maxInFlight = g.inFlight
	}
	var err error
	if errs := g.loadErrs[resultID]; len(errs) > 0 {
		err = errs[0]
		g.loadErrs[resultID] = errs[1:]
	}
	payload := g.payloads[resultID]
	if seq := g.payloadSeq[resultID]; len(seq) > 0 {
		payload = seq[0]
		g.payloadSeq[resultID] = seq[1:]
	}
	delay := g.loadDelay
	g.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	g.mu.Lock()
	g.inFlight--
	g.mu.Unlock()

	if err != nil {
		return ResultPayload{}, err
	}
	return payload, nil
}

func (g *fakeGateway) calls(resultID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loadCalls[resultID]
}

// fakeSanitizer passes text through trimmed.
type fakeSanitizer struct{}

func (fakeSanitizer) Clean(html string) (string, error) {
	return strings.TrimSpace(html), nil
}

// fakeNotifier records every message sent.
type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Send(_ context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func (n *fakeNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

// fakeHasher derives a deterministic digest from the text itself.
type fakeHasher struct{}

func (fakeHasher) Hash(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	return fmt.Sprintf("digest(%s)", text), true
}

// fakeStore keeps records in memory and enforces natural-key uniqueness the
// way the database constraint does.
type fakeStore struct {
	mu   sync.Mutex
	seen map[RecordKey]struct{}
	rows []CanonicalRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{seen: map[RecordKey]struct{}{}}
}

func (s *fakeStore) PersistBatches(_ context.Context, records []CanonicalRecord) (PersistReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var report PersistReport
	for _, rec := range records {
		key := rec.Key()
		if _, dup := s.seen[key]; dup {
			report.Skipped = append(report.Skipped, rec)
			continue
		}
		s.seen[key] = struct{}{}
		s.rows = append(s.rows, rec)
		report.Inserted++
	}
	return report, nil
}

func (s *fakeStore) MaxTestDate(context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest time.Time
	for _, rec := range s.rows {
		if rec.TestDate.After(latest) {
			latest = rec.TestDate
		}
	}
	return latest, !latest.IsZero(), nil
}

func rawRecord(i int) RawListingRecord {
	return RawListingRecord{
		LastName:   "ivanov",
		FirstName:  "PETR",
		MiddleName: "sergeevich",
		Birthday:   "15.03.1980",
		TestDate:   "10.06.2026",
		TestName:   "Blood panel",
		TestCode:   fmt.Sprintf("B%03d", i),
		ResultID:   fmt.Sprintf("xml-%d", i),
	}
}
