package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/labgate/resultsync/internal/audit"
	"github.com/labgate/resultsync/internal/collector"
	"github.com/labgate/resultsync/internal/config"
	"github.com/labgate/resultsync/internal/orchestrator"
	"github.com/labgate/resultsync/internal/storage/postgres"
)

type fakeSyncer struct {
	err   error
	delay time.Duration
	calls int
}

func (s *fakeSyncer) Trigger(ctx context.Context) error {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

type fakeDayCollector struct {
	days []time.Time
	err  error
}

func (c *fakeDayCollector) CollectDay(_ context.Context, day time.Time) (collector.DayReport, error) {
	if c.err != nil {
		return collector.DayReport{}, c.err
	}
	c.days = append(c.days, day)
	return collector.DayReport{Day: day, Listed: 5, Built: 5, Inserted: 4, Skipped: 1}, nil
}

type fakeAuditor struct {
	report audit.Report
}

func (a *fakeAuditor) Run(context.Context) (audit.Report, error) {
	return a.report, nil
}

type fakePatientFinder struct {
	gotQuery postgres.PatientQuery
	records  []collector.PersistedRecord
}

func (f *fakePatientFinder) FindByPatient(_ context.Context, q postgres.PatientQuery) ([]collector.PersistedRecord, error) {
	f.gotQuery = q
	return f.records, nil
}

type serverFixture struct {
	syncer   *fakeSyncer
	dayc     *fakeDayCollector
	auditor  *fakeAuditor
	patients *fakePatientFinder
	server   *Server
}

func newServerFixture(cfg config.Config) *serverFixture {
	f := &serverFixture{
		syncer:   &fakeSyncer{},
		dayc:     &fakeDayCollector{},
		auditor:  &fakeAuditor{report: audit.Report{Status: "OK"}},
		patients: &fakePatientFinder{},
	}
	f.server = NewServer(f.syncer, f.dayc, f.auditor, f.patients, zap.NewNop(), cfg)
	return f
}

func (f *serverFixture) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	f := newServerFixture(config.Config{})
	res := f.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.NotEmpty(t, res.Header().Get("X-Request-ID"))
}

func TestServer_TriggerSync_FastRunReportsComplete(t *testing.T) {
	t.Parallel()

	f := newServerFixture(config.Config{})
	res := f.do(http.MethodPost, "/v1/sync", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, 1, f.syncer.calls)
}

func TestServer_TriggerSync_SlowRunReportsStarted(t *testing.T) {
	t.Parallel()

	f := newServerFixture(config.Config{})
	f.syncer.delay = time.Second
	res := f.do(http.MethodPost, "/v1/sync", "", nil)
	require.Equal(t, http.StatusAccepted, res.Code)
}

func TestServer_TriggerSync_ConflictWhenRunning(t *testing.T) {
	t.Parallel()

	f := newServerFixture(config.Config{})
	f.syncer.err = orchestrator.ErrRunInProgress
	res := f.do(http.MethodPost, "/v1/sync", "", nil)
	require.Equal(t, http.StatusConflict, res.Code)
}

func TestServer_CollectDay(t *testing.T) {
	t.Parallel()

	f := newServerFixture(config.Config{})
	res := f.do(http.MethodPost, "/v1/collect/day", `{"date":"2026-06-10"}`, nil)
	require.Equal(t, http.StatusOK, res.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Equal(t, "2026-06-10", body["day"])
	require.Equal(t, float64(4), body["inserted"])
	require.Len(t, f.dayc.days, 1)
}

func TestServer_CollectDay_BadDate(t *testing.T) {
	t.Parallel()

	f := newServerFixture(config.Config{})
	res := f.do(http.MethodPost, "/v1/collect/day", `{"date":"10.06.2026"}`, nil)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestServer_CollectMonth_WalksEveryDay(t *testing.T) {
	t.Parallel()

	f := newServerFixture(config.Config{})
	res := f.do(http.MethodPost, "/v1/collect/month", `{"year":2026,"month":2}`, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Len(t, f.dayc.days, 28)
	require.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), f.dayc.days[0])
	require.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), f.dayc.days[27])
}

func TestServer_PatientRecords(t *testing.T) {
	t.Parallel()

	f := newServerFixture(config.Config{})
	f.patients.records = []collector.PersistedRecord{{ID: 9}}

	res := f.do(http.MethodGet,
		"/v1/patients/records?last_name=Ivanov&first_name=Petr&middle_name=Sergeevich&birthday=1980-03-15",
		"", nil)
	require.Equal(t, http.StatusOK, res.Code)

	require.Equal(t, "Ivanov", f.patients.gotQuery.LastName)
	require.NotNil(t, f.patients.gotQuery.MiddleName)
	require.Equal(t, "Sergeevich", *f.patients.gotQuery.MiddleName)
	require.Equal(t, time.Date(1980, 3, 15, 0, 0, 0, 0, time.UTC), f.patients.gotQuery.Birthday)

	var body map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Equal(t, float64(1), body["count"])
}

func TestServer_PatientRecords_RequiresNames(t *testing.T) {
	t.Parallel()

	f := newServerFixture(config.Config{})
	res := f.do(http.MethodGet, "/v1/patients/records?last_name=Ivanov", "", nil)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestServer_RunAudit(t *testing.T) {
	t.Parallel()

	f := newServerFixture(config.Config{})
	f.auditor.report = audit.Report{Status: "FAIL", BadCount: 2}

	res := f.do(http.MethodPost, "/v1/audit", "", nil)
	require.Equal(t, http.StatusOK, res.Code)

	var report audit.Report
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &report))
	require.Equal(t, "FAIL", report.Status)
	require.Equal(t, 2, report.BadCount)
}

func TestServer_APIKeyGuard(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "sekrit"
	f := newServerFixture(cfg)

	res := f.do(http.MethodPost, "/v1/sync", "", nil)
	require.Equal(t, http.StatusForbidden, res.Code)

	res = f.do(http.MethodPost, "/v1/sync", "", map[string]string{"X-API-Key": "sekrit"})
	require.Equal(t, http.StatusOK, res.Code)

	res = f.do(http.MethodPost, "/v1/sync?api_key=sekrit", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
}
