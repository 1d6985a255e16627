// Package httpapi serves backtests over a JSON HTTP API.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"mabacktest/internal/config"
	"mabacktest/internal/domain"
	"mabacktest/internal/store"
	"mabacktest/internal/strategy"
	"mabacktest/internal/util"
)

// maxBodyBytes bounds POST bodies.
const maxBodyBytes = 1 << 20

// Server serves the backtest HTTP API.
type Server struct {
	bt       *strategy.Backtester
	runs     store.RunStore    // nil disables persistence and the list/get routes
	curves   store.CurveWriter // nil disables curve export
	defaults config.Backtest
	lookback string
	now      func() time.Time
	log      *slog.Logger
}

// NewServer creates a Server. runs and curves may be nil.
func NewServer(bt *strategy.Backtester, runs store.RunStore, curves store.CurveWriter, cfg *config.Config, log *slog.Logger) *Server {
	return &Server{
		bt:       bt,
		runs:     runs,
		curves:   curves,
		defaults: cfg.Backtest,
		lookback: cfg.Data.Lookback,
		now:      time.Now,
		log:      log,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/strategies", s.handleStrategies)
	mux.HandleFunc("POST /api/backtests", s.handleRunBacktest)
	mux.HandleFunc("GET /api/backtests", s.handleListBacktests)
	mux.HandleFunc("GET /api/backtests/{id}", s.handleGetBacktest)
}

// Handler returns an http.Handler with CORS and request logging middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(s.logMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "elapsed", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, strategy.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, strategy.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	reg := s.bt.Registry()
	resp := StrategyListResponse{Strategies: []StrategyInfo{}}
	for _, name := range reg.List() {
		cfg, _ := reg.Get(name)
		resp.Strategies = append(resp.Strategies, StrategyInfo{
			Name:    cfg.Name,
			LotSize: cfg.LotSize,
			Windows: cfg.RequiredWindows(),
			Rules:   cfg.Rules,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var body BacktestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	req, err := s.buildRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.bt.Run(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.log.Error("backtest failed", "symbol", req.Symbol, "strategy", req.Strategy, "error", err)
		}
		writeError(w, status, err.Error())
		return
	}

	resp := BacktestResponse{Run: run}
	if s.runs != nil && (body.Save == nil || *body.Save) {
		if err := s.runs.SaveRun(r.Context(), run); err != nil {
			s.log.Error("saving run", "error", err)
			writeError(w, http.StatusInternalServerError, "saving run: "+err.Error())
			return
		}
		resp.Saved = true
	}
	if s.curves != nil {
		path, err := s.curves.WriteCurve(r.Context(), run)
		if err != nil {
			s.log.Warn("writing curve", "error", err)
		} else {
			resp.CurvePath = path
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// buildRequest fills defaults and resolves the date range.
func (s *Server) buildRequest(body BacktestRequest) (strategy.Request, error) {
	req := strategy.Request{
		Symbol:   body.Symbol,
		Strategy: body.Strategy,
		LotSize:  body.LotSize,
	}
	if req.Strategy == "" {
		req.Strategy = s.defaults.Strategy
	}
	if req.LotSize == 0 {
		req.LotSize = s.defaults.LotSize
	}
	if body.InitialCapital.Valid {
		req.InitialCapital = body.InitialCapital.Decimal
	} else {
		req.InitialCapital = decimal.NewFromFloat(s.defaults.InitialCapital)
	}

	lookback := body.Lookback
	if lookback == "" {
		lookback = s.lookback
	}
	start, end, err := util.ResolveRange(body.Start, body.End, lookback, s.now())
	if err != nil {
		return strategy.Request{}, err
	}
	req.Start, req.End = start, end
	return req, nil
}

func (s *Server) handleListBacktests(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotImplemented, "run store not configured")
		return
	}
	q := r.URL.Query()
	f := store.RunFilter{Symbol: q.Get("symbol"), Strategy: q.Get("strategy"), Limit: 50}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}
	runs, err := s.runs.ListRuns(r.Context(), f)
	if err != nil {
		s.log.Error("listing runs", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []domain.Run{}
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs})
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotImplemented, "run store not configured")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	run, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if r.URL.Query().Get("days") == "false" {
		run.Days = nil
	}
	writeJSON(w, http.StatusOK, run)
}
