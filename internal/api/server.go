// Package api serves the ledger, the integrity gate, the trust filter and
// round aggregation over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"FedGuard/internal/aggregation"
	"FedGuard/internal/checkpoint"
	"FedGuard/internal/digest"
	"FedGuard/internal/integrity"
	"FedGuard/internal/ledger"
	"FedGuard/internal/logger"
	"FedGuard/internal/sync"
	"FedGuard/internal/trust"
)

// Services are the components the API exposes.
type Services struct {
	Ledger     *ledger.Ledger          // Ledger is the hash ledger
	Gate       *integrity.Gate         // Gate verifies and commits rounds
	Filter     *trust.Filter           // Filter screens training data
	Collector  *aggregation.Collector  // Collector gathers round updates
	Aggregator *aggregation.Aggregator // Aggregator commits averaged rounds
	Snapshots  *sync.SnapshotManager   // Snapshots serves ledger snapshots
}

// Server is the HTTP API server.
type Server struct {
	addr   string       // addr is the HTTP listen address
	svc    Services     // svc are the exposed components
	server *http.Server // server is the underlying HTTP server
}

// New creates a new HTTP API server.
func New(addr string, svc Services) *Server {
	return &Server{addr: addr, svc: svc}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /ledger", s.handleChain)
	mux.HandleFunc("GET /ledger/tip", s.handleTip)
	mux.HandleFunc("GET /ledger/blocks/{index}", s.handleBlock)
	mux.HandleFunc("GET /ledger/verify", s.handleVerify)
	mux.HandleFunc("GET /ledger/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /model", s.handleModel)
	mux.HandleFunc("POST /model/seed", s.handleSeed)
	mux.HandleFunc("POST /rounds/verify", s.handleVerifyRound)
	mux.HandleFunc("POST /rounds/{round}/commit", s.handleCommit)
	mux.HandleFunc("POST /rounds/{round}/updates", s.handleSubmitUpdate)
	mux.HandleFunc("POST /rounds/{round}/failures", s.handleSubmitFailure)
	mux.HandleFunc("POST /rounds/{round}/aggregate", s.handleAggregate)
	mux.HandleFunc("POST /filter", s.handleFilter)

	return withRequestID(mux)
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// withRequestID tags every request with an ID and logs it.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		next.ServeHTTP(w, r)

		logger.Debug("http request", "id", id, "method", r.Method, "path", r.URL.Path, logger.Timed(start))
	})
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tip, err := s.svc.Ledger.Tip()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	status := map[string]any{
		"tip_index":  tip.Index,
		"tip_hash":   tip.Hash,
		"tip_model":  tip.ModelHash,
		"blocks":     s.svc.Ledger.Len(),
		"gate_state": s.svc.Gate.State().String(),
		"has_model":  s.svc.Aggregator.Global() != nil,
		"violations": len(s.svc.Ledger.Verify()),
	}

	if rec := s.svc.Ledger.Recovered(); rec != nil {
		status["recovered"] = rec.Error()
	}
	if p := s.svc.Filter.Profile(); p != nil {
		status["profile"] = p
	}

	writeJSON(w, http.StatusOK, status)
}

// handleChain handles GET /ledger requests with the full block document.
func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Ledger.Chain())
}

// handleTip handles GET /ledger/tip requests.
func (s *Server) handleTip(w http.ResponseWriter, r *http.Request) {
	tip, err := s.svc.Ledger.Tip()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, tip)
}

// handleBlock handles GET /ledger/blocks/{index} requests.
func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(r.PathValue("index"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid block index")
		return
	}

	b, ok := s.svc.Ledger.Block(index)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("block %d not found", index))
		return
	}

	writeJSON(w, http.StatusOK, b)
}

// VerifyResponse is the body of GET /ledger/verify.
type VerifyResponse struct {
	Valid      bool               `json:"valid"`
	Blocks     int                `json:"blocks"`
	Violations []ledger.Violation `json:"violations"`
}

// handleVerify handles GET /ledger/verify requests.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	violations := s.svc.Ledger.Verify()

	resp := VerifyResponse{
		Valid:      len(violations) == 0,
		Blocks:     s.svc.Ledger.Len(),
		Violations: violations,
	}
	if resp.Violations == nil {
		resp.Violations = []ledger.Violation{}
	}

	status := http.StatusOK
	if !resp.Valid {
		status = http.StatusConflict
	}

	writeJSON(w, status, resp)
}

// handleSnapshot handles GET /ledger/snapshot requests.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	data, tip, err := s.svc.Snapshots.Latest()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("X-Tip-Index", strconv.FormatUint(tip, 10))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleModel handles GET /model requests with the encoded global model.
func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	weights := s.svc.Aggregator.Global()
	if weights == nil {
		writeError(w, http.StatusNotFound, "no global model")
		return
	}

	data, err := checkpoint.Encode(weights)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Model-Digest", digest.Sum(weights))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleSeed handles POST /model/seed requests installing the initial model.
func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	var req WeightsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	tip, err := s.svc.Ledger.Tip()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if tip.Index != 0 {
		writeError(w, http.StatusConflict, fmt.Sprintf("ledger already at block %d", tip.Index))
		return
	}

	if err := s.svc.Aggregator.Seed(req.Weights); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"digest": digest.Sum(req.Weights)})
}

// handleVerifyRound handles POST /rounds/verify requests.
func (s *Server) handleVerifyRound(w http.ResponseWriter, r *http.Request) {
	var req WeightsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	verdict := s.svc.Gate.VerifyRound(req.Weights)

	status := http.StatusOK
	if !verdict.Accepted() {
		status = http.StatusConflict
	}

	writeJSON(w, status, verdict)
}

// handleCommit handles POST /rounds/{round}/commit requests.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	round, ok := parseRound(w, r)
	if !ok {
		return
	}

	var req CommitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	b, err := s.svc.Gate.CommitRound(round, req.Weights, req.Metadata)
	if err != nil {
		writeCommitError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, b)
}

// handleSubmitUpdate handles POST /rounds/{round}/updates requests.
func (s *Server) handleSubmitUpdate(w http.ResponseWriter, r *http.Request) {
	round, ok := parseRound(w, r)
	if !ok {
		return
	}

	var u aggregation.Update
	if !decodeBody(w, r, &u) {
		return
	}

	err := s.svc.Collector.Submit(round, u)
	switch {
	case errors.Is(err, aggregation.ErrDuplicateUpdate):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"round":   round,
			"pending": s.svc.Collector.Pending(round),
		})
	}
}

// handleSubmitFailure handles POST /rounds/{round}/failures requests.
func (s *Server) handleSubmitFailure(w http.ResponseWriter, r *http.Request) {
	round, ok := parseRound(w, r)
	if !ok {
		return
	}

	var f aggregation.Failure
	if !decodeBody(w, r, &f) {
		return
	}
	if f.Participant == "" {
		writeError(w, http.StatusBadRequest, "missing participant")
		return
	}

	s.svc.Collector.Fail(round, f)
	writeJSON(w, http.StatusAccepted, map[string]any{"round": round})
}

// handleAggregate handles POST /rounds/{round}/aggregate requests.
// Updates in the body are used as given; an empty body aggregates what the
// collector gathered for the round.
func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	round, ok := parseRound(w, r)
	if !ok {
		return
	}

	var req AggregateRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	tip, err := s.svc.Ledger.Tip()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if round != tip.Index+1 {
		writeError(w, http.StatusConflict, fmt.Sprintf("%v: got round %d, tip is %d", ledger.ErrRoundOutOfOrder, round, tip.Index))
		return
	}

	updates, failures := req.Updates, req.Failures
	drained := len(updates) == 0
	if drained {
		updates, failures = s.svc.Collector.Drain(round)
	}

	res, err := s.svc.Aggregator.Aggregate(round, updates, failures)
	if err != nil && drained {
		s.svc.Collector.Requeue(round, updates, failures)
	}

	switch {
	case errors.Is(err, aggregation.ErrNoUpdates), errors.Is(err, aggregation.ErrInvalidUpdate):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeCommitError(w, err)
	default:
		writeJSON(w, http.StatusCreated, res)
	}
}

// handleFilter handles POST /filter requests with a CSV body.
func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	ds, err := trust.ReadCSV(http.MaxBytesReader(w, r.Body, maxCSVSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid csv: %v", err))
		return
	}

	if r.URL.Query().Get("refit") == "true" {
		if err := s.svc.Filter.Refit(ds); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}

	res, err := s.svc.Filter.Filter(ds)
	switch {
	case errors.Is(err, trust.ErrMissingField), errors.Is(err, trust.ErrSchemaMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// writeCommitError maps a commit failure to a status.
func writeCommitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrRoundOutOfOrder):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrInvalidMetadata):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("commit failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
