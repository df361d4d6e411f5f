// Package api exposes the HTTP interface for the result sync service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/labgate/resultsync/internal/audit"
	"github.com/labgate/resultsync/internal/collector"
	"github.com/labgate/resultsync/internal/config"
	"github.com/labgate/resultsync/internal/metrics"
	"github.com/labgate/resultsync/internal/orchestrator"
	"github.com/labgate/resultsync/internal/storage/postgres"
)

// SyncTrigger starts a full sync run.
type SyncTrigger interface {
	Trigger(ctx context.Context) error
}

// DayCollector collects a single calendar day on demand.
type DayCollector interface {
	CollectDay(ctx context.Context, day time.Time) (collector.DayReport, error)
}

// Auditor validates persisted result content on demand.
type Auditor interface {
	Run(ctx context.Context) (audit.Report, error)
}

// PatientFinder looks up all stored records for one patient.
type PatientFinder interface {
	FindByPatient(ctx context.Context, q postgres.PatientQuery) ([]collector.PersistedRecord, error)
}

// Server wires HTTP handlers to the orchestrator, collector and store.
type Server struct {
	router    chi.Router
	syncer    SyncTrigger
	collector DayCollector
	auditor   Auditor
	patients  PatientFinder
	logger    *zap.Logger
	cfg       config.Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	syncer SyncTrigger,
	dc DayCollector,
	auditor Auditor,
	patients PatientFinder,
	logger *zap.Logger,
	cfg config.Config,
) *Server {
	s := &Server{
		syncer:    syncer,
		collector: dc,
		auditor:   auditor,
		patients:  patients,
		logger:    logger,
		cfg:       cfg,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sync", s.triggerSync)
		r.Route("/collect", func(r chi.Router) {
			r.Post("/day", s.collectDay)
			r.Post("/month", s.collectMonth)
		})
		r.Get("/patients/records", s.patientRecords)
		r.Post("/audit", s.runAudit)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// triggerSync kicks off a full run in the background and returns immediately.
// A run already in flight is reported as a conflict.
func (s *Server) triggerSync(w http.ResponseWriter, r *http.Request) {
	started := make(chan error, 1)
	go func() {
		err := s.syncer.Trigger(context.WithoutCancel(r.Context()))
		select {
		case started <- err:
		default:
		}
	}()
	select {
	case err := <-started:
		if errors.Is(err, orchestrator.ErrRunInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "complete"})
	case <-time.After(200 * time.Millisecond):
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

type collectDayRequest struct {
	Date string `json:"date"`
}

func (s *Server) collectDay(w http.ResponseWriter, r *http.Request) {
	var req collectDayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	day, err := time.Parse(time.DateOnly, req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	report, err := s.collector.CollectDay(r.Context(), day)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dayReportResponse(report))
}

type collectMonthRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

func (s *Server) collectMonth(w http.ResponseWriter, r *http.Request) {
	var req collectMonthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Year < 2000 || req.Month < 1 || req.Month > 12 {
		writeError(w, http.StatusBadRequest, "year and month must be valid")
		return
	}
	first := time.Date(req.Year, time.Month(req.Month), 1, 0, 0, 0, 0, time.UTC)
	var reports []map[string]any
	for day := first; day.Month() == time.Month(req.Month); day = day.AddDate(0, 0, 1) {
		report, err := s.collector.CollectDay(r.Context(), day)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		reports = append(reports, dayReportResponse(report))
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": reports})
}

func (s *Server) patientRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	last := q.Get("last_name")
	first := q.Get("first_name")
	if last == "" || first == "" {
		writeError(w, http.StatusBadRequest, "last_name and first_name are required")
		return
	}
	birthday, err := time.Parse(time.DateOnly, q.Get("birthday"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "birthday must be YYYY-MM-DD")
		return
	}
	query := postgres.PatientQuery{
		LastName:  last,
		FirstName: first,
		Birthday:  birthday,
	}
	if middle := q.Get("middle_name"); middle != "" {
		query.MiddleName = &middle
	}
	records, err := s.patients.FindByPatient(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(records), "records": records})
}

func (s *Server) runAudit(w http.ResponseWriter, r *http.Request) {
	report, err := s.auditor.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func dayReportResponse(r collector.DayReport) map[string]any {
	return map[string]any{
		"day":      r.Day.Format(time.DateOnly),
		"listed":   r.Listed,
		"built":    r.Built,
		"inserted": r.Inserted,
		"skipped":  r.Skipped,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
