// Package api exposes verdict over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/verdict/internal/chat"
	"github.com/MikeSquared-Agency/verdict/internal/model"
	"github.com/MikeSquared-Agency/verdict/internal/processor"
	"github.com/MikeSquared-Agency/verdict/internal/store"
)

const maxBodyBytes = 32 << 20

// Processor is the part of processor.Processor the API needs.
type Processor interface {
	Process(ctx context.Context, sourceRef string, src io.Reader, labels func(int) (chat.Label, bool)) (*processor.Run, error)
	Stats() processor.Stats
}

// Info describes the running model for the status endpoint.
type Info struct {
	Tokenizer string `json:"tokenizer"`
	Pooler    string `json:"pooler"`
	Encoder   string `json:"encoder"`
}

// Lookup reads stored classifications.
type Lookup interface {
	GetClassification(ctx context.Context, id uuid.UUID) (*store.ClassificationRow, error)
	ListBySource(ctx context.Context, sourceRef string) ([]store.ClassificationRow, error)
}

type Server struct {
	router *chi.Mux
	port   int
	proc   Processor
	lookup Lookup
	broker func() bool
	info   Info
	logger *slog.Logger
}

func NewServer(port int, apiToken string, proc Processor, info Info, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		proc:   proc,
		info:   info,
		logger: logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/verdict/status", s.status)
	router.Group(func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Post("/api/v1/verdict/classify", s.classify)
		r.Get("/api/v1/verdict/classifications", s.listClassifications)
		r.Get("/api/v1/verdict/classifications/{id}", s.getClassification)
	})

	return s
}

// WithLookup enables the stored-classification endpoints.
func (s *Server) WithLookup(l Lookup) *Server {
	s.lookup = l
	return s
}

// WithBroker reports the NATS connection state on /status.
func (s *Server) WithBroker(connected func() bool) *Server {
	s.broker = connected
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"agent":  "verdict",
		"model":  s.info,
		"stats":  s.proc.Stats(),
		"stored": s.lookup != nil,
	}
	if s.broker != nil {
		body["nats_connected"] = s.broker()
	}
	writeJSON(w, http.StatusOK, body)
}

// ClassifyRequest is the body of POST /api/v1/verdict/classify.
type ClassifyRequest struct {
	SourceRef  string `json:"source_ref"`
	Transcript string `json:"transcript"`
	Labels     []int  `json:"labels,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Line      int    `json:"line,omitempty"`
	Completed int    `json:"completed,omitempty"`
}

func (s *Server) classify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req ClassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid JSON: %v", err)})
		return
	}
	if req.Transcript == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "transcript is required"})
		return
	}
	if req.SourceRef == "" {
		req.SourceRef = "api-" + middleware.GetReqID(r.Context())
	}

	labels, err := processor.LabelsFromInts(req.Labels)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	run, err := s.proc.Process(r.Context(), req.SourceRef, strings.NewReader(req.Transcript), labels)
	if err != nil {
		completed := 0
		if run != nil {
			completed = len(run.Results)
		}
		status, body := classifyError(err)
		body.Completed = completed
		if status >= http.StatusInternalServerError {
			s.logger.Error("classification failed", "source_ref", req.SourceRef, "error", err)
		}
		writeJSON(w, status, body)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (s *Server) listClassifications(w http.ResponseWriter, r *http.Request) {
	if s.lookup == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "storage not configured"})
		return
	}
	sourceRef := r.URL.Query().Get("source_ref")
	if sourceRef == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "source_ref is required"})
		return
	}

	rows, err := s.lookup.ListBySource(r.Context(), sourceRef)
	if err != nil {
		s.logger.Error("failed to list classifications", "source_ref", sourceRef, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "lookup failed"})
		return
	}
	if rows == nil {
		rows = []store.ClassificationRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"source_ref": sourceRef, "classifications": rows})
}

func (s *Server) getClassification(w http.ResponseWriter, r *http.Request) {
	if s.lookup == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "storage not configured"})
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid classification id"})
		return
	}

	row, err := s.lookup.GetClassification(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "classification not found"})
		return
	}
	if err != nil {
		s.logger.Error("failed to get classification", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// classifyError maps pipeline errors to HTTP statuses.
func classifyError(err error) (int, errorResponse) {
	var pe *chat.ParseError
	switch {
	case errors.As(err, &pe):
		return http.StatusBadRequest, errorResponse{Error: err.Error(), Line: pe.Line}
	case errors.Is(err, chat.ErrIO):
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	case errors.Is(err, model.ErrInvalidRecord):
		return http.StatusUnprocessableEntity, errorResponse{Error: err.Error()}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, errorResponse{Error: err.Error()}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "classification failed"}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
