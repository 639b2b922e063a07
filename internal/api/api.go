// Package api exposes the training supervisor over HTTP.
package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conceptmaps/trainsvc/internal/corpus"
	"github.com/conceptmaps/trainsvc/internal/log"
	"github.com/conceptmaps/trainsvc/internal/service"
	"github.com/conceptmaps/trainsvc/internal/store"
)

const (
	maxBodySize         = 64 << 20
	defaultHistoryLimit = 20
	problemContentType  = "application/problem+json"
)

type Config struct {
	Supervisor *service.Supervisor
	Validator  corpus.Validator
	// History is nil when the run history is disabled.
	History *sql.DB
	// Metrics is nil when metrics are not exported.
	Metrics prometheus.Gatherer
}

type server struct {
	supervisor *service.Supervisor
	validator  corpus.Validator
	history    *sql.DB
}

// New returns the handler serving all endpoints.
func New(cfg Config) http.Handler {
	s := server{
		supervisor: cfg.Supervisor,
		validator:  cfg.Validator,
		history:    cfg.History,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /training/{type}/start", s.start)
	mux.HandleFunc("POST /training/{type}/start/{source}", s.start)
	mux.HandleFunc("POST /training/{type}/cancel", s.cancel)
	mux.HandleFunc("GET /training/{type}/status", s.status)
	mux.HandleFunc("GET /training/{type}/history", s.runs)
	mux.HandleFunc("POST /convert_rel", s.convert)
	mux.HandleFunc("GET /health", s.health)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{}))
	}
	return logRequests(mux)
}

func (s server) start(w http.ResponseWriter, r *http.Request) {
	jobType := r.PathValue("type")
	source := r.PathValue("source")
	target := r.URL.Query().Get("target")
	if target == "" {
		target = jobType
	}

	data, ok := readBody(w, r)
	if !ok {
		return
	}
	if err := s.supervisor.Start(r.Context(), jobType, data, target, source); err != nil {
		writeError(w, r, err)
		return
	}
	status, err := s.supervisor.Status(r.Context(), jobType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, status)
}

func (s server) cancel(w http.ResponseWriter, r *http.Request) {
	jobType := r.PathValue("type")
	if err := s.supervisor.Cancel(r.Context(), jobType); err != nil {
		writeError(w, r, err)
		return
	}
	status, err := s.supervisor.Status(r.Context(), jobType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

func (s server) status(w http.ResponseWriter, r *http.Request) {
	status, err := s.supervisor.Status(r.Context(), r.PathValue("type"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

func (s server) runs(w http.ResponseWriter, r *http.Request) {
	jobType := r.PathValue("type")
	if _, err := s.supervisor.Job(jobType); err != nil {
		writeError(w, r, err)
		return
	}
	if s.history == nil {
		writeProblem(w, r, http.StatusNotFound, "run history is disabled")
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeProblem(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := store.List(r.Context(), s.history, jobType, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, runs)
}

func (s server) convert(w http.ResponseWriter, r *http.Request) {
	data, ok := readBody(w, r)
	if !ok {
		return
	}
	records, err := s.validator.Parse(data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, corpus.Sentences(records))
}

func (s server) health(w http.ResponseWriter, r *http.Request) {
	if s.history != nil {
		if err := s.history.PingContext(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "health check failed", "error", err)
			writeProblem(w, r, http.StatusServiceUnavailable, "run history: "+err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeProblem(w, r, http.StatusRequestEntityTooLarge, err.Error())
		} else {
			writeProblem(w, r, http.StatusBadRequest, "reading request body: "+err.Error())
		}
		return nil, false
	}
	return data, true
}

// statusCode maps errors of the supervisor to HTTP status codes.
func statusCode(err error) int {
	var convErr *service.ConversionError
	var spawnErr *service.SpawnError
	switch {
	case errors.Is(err, service.ErrUnknownJobType):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyActive), errors.Is(err, service.ErrNotActive):
		return http.StatusConflict
	case errors.Is(err, service.ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, corpus.ErrInvalid) && !errors.As(err, &convErr):
		return http.StatusBadRequest
	case errors.As(err, &convErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &spawnErr):
		return http.StatusInternalServerError
	case errors.Is(err, service.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "error", err)
	}
	writeProblem(w, r, code, err.Error())
}

// Problem is an RFC 9457 problem detail.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func writeProblem(w http.ResponseWriter, r *http.Request, code int, detail string) {
	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(code)
	err := json.NewEncoder(w).Encode(Problem{
		Type:   "about:blank",
		Title:  http.StatusText(code),
		Status: code,
		Detail: detail,
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "writing response", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "writing response", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := log.ContextAttrs(r.Context(), slog.Group("request",
			slog.String("id", uuid.NewString()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		))
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		slog.DebugContext(ctx, "request served", "status", rec.code, "duration", time.Since(start))
	})
}
