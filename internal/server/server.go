// Package server exposes retrieval and the solve pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/cfsource/internal/budget"
	"github.com/hyperifyio/cfsource/internal/clean"
	"github.com/hyperifyio/cfsource/internal/codeforces"
	"github.com/hyperifyio/cfsource/internal/orchestrator"
	"github.com/hyperifyio/cfsource/internal/solve"
)

const maxBodyBytes = 1 << 20

// Solver runs the full problem pipeline.
type Solver interface {
	Solve(ctx context.Context, problemURL, input string) (solve.Solution, error)
}

// Deps are the collaborators behind each route. A nil dependency makes its
// route answer 503.
type Deps struct {
	Retriever solve.Retriever
	Cleaner   solve.Cleaner
	Runner    solve.Runner
	Solver    Solver
	// Events feeds GET /events.
	Events EventSource
}

type Server struct {
	deps Deps
}

func New(deps Deps) *Server {
	return &Server{deps: deps}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(instrument)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/events", s.handleEvents)
	r.Post("/retrieve", s.handleRetrieve)
	r.Post("/process", s.handleProcess)
	r.Post("/run", s.handleRun)
	r.Post("/solve", s.handleSolve)
	return r
}

// ListenAndServe serves until ctx is cancelled, then drains for up to five
// seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

type retrieveRequest struct {
	ContestID    string `json:"contestId"`
	SubmissionID string `json:"submissionId"`
}

type retrieveResponse struct {
	Code     string `json:"code"`
	TimedOut bool   `json:"timedOut"`
	URL      string `json:"url"`
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	if s.deps.Retriever == nil {
		respondError(w, http.StatusServiceUnavailable, "retrieval disabled", nil)
		return
	}
	var in retrieveRequest
	if !decode(w, r, &in) {
		return
	}
	res, err := s.deps.Retriever.RetrieveResult(r.Context(), orchestrator.Request{SourceID: in.ContestID, DocumentID: in.SubmissionID})
	if err != nil {
		respondError(w, statusFor(err), "Retrieval failed", err)
		return
	}
	respondJSON(w, http.StatusOK, retrieveResponse{Code: res.Text, TimedOut: res.TimedOut, URL: res.URL})
}

type processRequest struct {
	SourceCode string `json:"sourceCode"`
	Language   string `json:"language"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cleaner == nil {
		respondError(w, http.StatusServiceUnavailable, "cleaner disabled", nil)
		return
	}
	var in processRequest
	if !decode(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.SourceCode) == "" {
		respondError(w, http.StatusBadRequest, "sourceCode is required", nil)
		return
	}
	out, err := s.deps.Cleaner.Clean(r.Context(), in.SourceCode, in.Language)
	if err != nil {
		respondError(w, statusFor(err), "Cleaning failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"cleanCode": out})
}

type runRequest struct {
	Code     string `json:"code"`
	Input    string `json:"input"`
	Language string `json:"language"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runner == nil {
		respondError(w, http.StatusServiceUnavailable, "runner disabled", nil)
		return
	}
	var in runRequest
	if !decode(w, r, &in) {
		return
	}
	out, err := s.deps.Runner.Run(r.Context(), in.Code, in.Input, in.Language)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Judge0 failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"output": out})
}

type solveRequest struct {
	ProblemURL string `json:"problemUrl"`
	Input      string `json:"input"`
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	if s.deps.Solver == nil {
		respondError(w, http.StatusServiceUnavailable, "solver disabled", nil)
		return
	}
	var in solveRequest
	if !decode(w, r, &in) {
		return
	}
	sol, err := s.deps.Solver.Solve(r.Context(), in.ProblemURL, in.Input)
	if err != nil {
		respondError(w, statusFor(err), "Solve failed", err)
		return
	}
	respondJSON(w, http.StatusOK, sol)
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest), errors.Is(err, codeforces.ErrInvalidProblemURL):
		return http.StatusBadRequest
	case errors.Is(err, codeforces.ErrNoAccepted):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrDeliveryTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, solve.ErrSourceUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, budget.ErrPromptTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, clean.ErrCacheMiss):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", err)
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func respondError(w http.ResponseWriter, status int, msg string, err error) {
	resp := errorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	if status >= 500 {
		log.Error().Err(err).Int("status", status).Msg(msg)
	}
	respondJSON(w, status, resp)
}
