package collector

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func recordsForFetch(n int) []CanonicalRecord {
	out := make([]CanonicalRecord, 0, n)
	for i := 0; i < n; i++ {
		rec, _ := Canonicalize(rawRecord(i), Department{Prefix: "lab"})
		out = append(out, rec)
	}
	return out
}

func TestCoordinator_FetchAll_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.loadDelay = 5 * time.Millisecond
	for i := 0; i < 100; i++ {
		gw.payloads[fmt.Sprintf("xml-%d", i)] = ResultPayload{HTML: fmt.Sprintf("result %d", i)}
	}
	f := NewFetcher(gw, fakeSanitizer{}, nil, fastFetchConfig(), nil)
	c := NewCoordinator(f, 10, PolicyFailFast, nil)

	report, err := c.FetchAll(context.Background(), recordsForFetch(100))
	require.NoError(t, err)
	require.Len(t, report.Records, 100)
	require.Empty(t, report.Failed)
	require.LessOrEqual(t, gw.maxInFlight, 10)
}

func TestCoordinator_FetchAll_PreservesOrder(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	for i := 0; i < 20; i++ {
		gw.payloads[fmt.Sprintf("xml-%d", i)] = ResultPayload{HTML: fmt.Sprintf("result %d", i)}
	}
	f := NewFetcher(gw, fakeSanitizer{}, nil, fastFetchConfig(), nil)
	c := NewCoordinator(f, 4, PolicyFailFast, nil)

	report, err := c.FetchAll(context.Background(), recordsForFetch(20))
	require.NoError(t, err)
	for i, rec := range report.Records {
		require.Equal(t, fmt.Sprintf("result %d", i), rec.Result)
	}
}

func TestCoordinator_FetchAll_FailFastAbortsBatch(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	for i := 0; i < 10; i++ {
		gw.payloads[fmt.Sprintf("xml-%d", i)] = ResultPayload{HTML: "ok"}
	}
	gw.loadErrs["xml-3"] = []error{NewUpstreamError("load", errors.New("404"), false)}
	f := NewFetcher(gw, fakeSanitizer{}, nil, fastFetchConfig(), nil)
	c := NewCoordinator(f, 2, PolicyFailFast, nil)

	report, err := c.FetchAll(context.Background(), recordsForFetch(10))
	require.Error(t, err)
	require.Empty(t, report.Records)
}

func TestCoordinator_FetchAll_BestEffortCollectsFailures(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	for i := 0; i < 10; i++ {
		gw.payloads[fmt.Sprintf("xml-%d", i)] = ResultPayload{HTML: "ok"}
	}
	terminal := NewUpstreamError("load", errors.New("404"), false)
	gw.loadErrs["xml-3"] = []error{terminal}
	gw.loadErrs["xml-7"] = []error{terminal}
	f := NewFetcher(gw, fakeSanitizer{}, nil, fastFetchConfig(), nil)
	c := NewCoordinator(f, 4, PolicyBestEffort, nil)

	report, err := c.FetchAll(context.Background(), recordsForFetch(10))
	require.NoError(t, err)
	require.Len(t, report.Records, 8)
	require.Len(t, report.Failed, 2)
	for _, fail := range report.Failed {
		require.Contains(t, []string{"xml-3", "xml-7"}, fail.Record.TestID)
		require.Error(t, fail.Err)
	}
}

func TestCoordinator_FetchAll_EmptyInput(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(NewFetcher(newFakeGateway(), fakeSanitizer{}, nil, fastFetchConfig(), nil), 4, PolicyFailFast, nil)
	report, err := c.FetchAll(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, report.Records)
}
