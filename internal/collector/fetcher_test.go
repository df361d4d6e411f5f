package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/labgate/resultsync/internal/metrics"
)

func fastFetchConfig() FetchConfig {
	return FetchConfig{
		MaxAttempts:      3,
		RetryDelay:       time.Millisecond,
		EmptyMaxAttempts: 5,
		EmptyRetryDelay:  time.Millisecond,
	}
}

func TestFetcher_Fetch_Success(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.payloads["xml-1"] = ResultPayload{HTML: "  <p>hemoglobin 140</p>  "}
	f := NewFetcher(gw, fakeSanitizer{}, nil, fastFetchConfig(), nil)

	rec, _ := Canonicalize(rawRecord(1), Department{Prefix: "lab"})
	require.NoError(t, f.Fetch(context.Background(), &rec))
	require.True(t, rec.HasResult)
	require.Equal(t, "<p>hemoglobin 140</p>", rec.Result)
}

func TestFetcher_Fetch_MissingIdentifierFails(t *testing.T) {
	t.Parallel()

	f := NewFetcher(newFakeGateway(), fakeSanitizer{}, nil, fastFetchConfig(), nil)
	rec := CanonicalRecord{}

	err := f.Fetch(context.Background(), &rec)
	require.Error(t, err)
	require.Equal(t, KindData, KindOf(err))
}

func TestFetcher_Fetch_EmptyRetriesExhaustToSentinel(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.payloads["xml-1"] = ResultPayload{Empty: true}
	notifier := &fakeNotifier{}
	f := NewFetcher(gw, fakeSanitizer{}, notifier, fastFetchConfig(), nil)

	rec, _ := Canonicalize(rawRecord(1), Department{Prefix: "lab"})
	require.NoError(t, f.Fetch(context.Background(), &rec))

	require.Equal(t, EmptyResultSentinel, rec.Result)
	require.False(t, rec.HasResult)
	require.Equal(t, 5, gw.calls("xml-1"))

	messages := notifier.sent()
	require.Len(t, messages, 1)
	require.Contains(t, messages[0], "Ivanov")
	require.Contains(t, messages[0], "xml-1")
}

func TestFetcher_Fetch_EmptyThenFilledStopsRetrying(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.payloadSeq["xml-1"] = []ResultPayload{
		{Empty: true},
		{Empty: true},
		{HTML: "value"},
	}
	notifier := &fakeNotifier{}
	f := NewFetcher(gw, fakeSanitizer{}, notifier, fastFetchConfig(), nil)

	rec, _ := Canonicalize(rawRecord(1), Department{Prefix: "lab"})
	require.NoError(t, f.Fetch(context.Background(), &rec))
	require.True(t, rec.HasResult)
	require.Equal(t, "value", rec.Result)
	require.Equal(t, 3, gw.calls("xml-1"))
	require.Empty(t, notifier.sent())
}

func TestFetcher_Fetch_TransientErrorsRetriedThenSucceed(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	transient := NewUpstreamError("load", errors.New("503"), true)
	gw.loadErrs["xml-1"] = []error{transient, transient}
	gw.payloads["xml-1"] = ResultPayload{HTML: "value"}
	f := NewFetcher(gw, fakeSanitizer{}, nil, fastFetchConfig(), nil)

	rec, _ := Canonicalize(rawRecord(1), Department{Prefix: "lab"})
	require.NoError(t, f.Fetch(context.Background(), &rec))
	require.True(t, rec.HasResult)
	require.Equal(t, 3, gw.calls("xml-1"))
}

func TestFetcher_Fetch_TransientExhaustionFails(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	transient := NewUpstreamError("load", errors.New("503"), true)
	gw.loadErrs["xml-1"] = []error{transient, transient, transient}
	f := NewFetcher(gw, fakeSanitizer{}, nil, fastFetchConfig(), nil)

	rec, _ := Canonicalize(rawRecord(1), Department{Prefix: "lab"})
	err := f.Fetch(context.Background(), &rec)
	require.Error(t, err)
	require.Equal(t, 3, gw.calls("xml-1"))
	require.False(t, rec.HasResult)
}

// Not parallel: reads the process-global retry counter.
func TestFetcher_Fetch_RetryCounterExcludesFinalAttempt(t *testing.T) {
	metrics.Init()

	gw := newFakeGateway()
	transient := NewUpstreamError("load", errors.New("503"), true)
	gw.loadErrs["xml-1"] = []error{transient, transient, transient}
	f := NewFetcher(gw, fakeSanitizer{}, nil, fastFetchConfig(), nil)

	before := counterValue(t, "resultsync_fetch_retries_total")

	rec, _ := Canonicalize(rawRecord(1), Department{Prefix: "lab"})
	require.Error(t, f.Fetch(context.Background(), &rec))
	require.Equal(t, 3, gw.calls("xml-1"))

	// Three attempts, but only the first two were followed by a retry.
	require.Equal(t, before+2, counterValue(t, "resultsync_fetch_retries_total"))
}

func counterValue(t *testing.T, name string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestFetcher_Fetch_TerminalErrorNotRetried(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	terminal := NewUpstreamError("load", errors.New("404"), false)
	gw.loadErrs["xml-1"] = []error{terminal}
	f := NewFetcher(gw, fakeSanitizer{}, nil, fastFetchConfig(), nil)

	rec, _ := Canonicalize(rawRecord(1), Department{Prefix: "lab"})
	err := f.Fetch(context.Background(), &rec)
	require.Error(t, err)
	require.Equal(t, 1, gw.calls("xml-1"))
}
