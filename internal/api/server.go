// Package api provides the HTTP and WebSocket boundary around the engine.
// It treats the engine as a pure function call: load series, run, return
// the result. Authentication and persistence of results are out of scope.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantdesk/ibs-backtester/internal/backtester"
	"github.com/quantdesk/ibs-backtester/internal/data"
	"github.com/quantdesk/ibs-backtester/internal/options"
	"github.com/quantdesk/ibs-backtester/pkg/types"
)

// Server is the HTTP/WebSocket API server.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	hub        *Hub
	hubOnce    sync.Once
	store      *data.Store
	metrics    *serverMetrics
	runs       map[string]*RunState
}

// RunState tracks a completed or failed run by ID.
type RunState struct {
	ID          string                `json:"id"`
	Kind        string                `json:"kind"` // "stock" or "options"
	Status      string                `json:"status"`
	Error       string                `json:"error,omitempty"`
	Started     time.Time             `json:"started"`
	Completed   time.Time             `json:"completed,omitempty"`
	Result      *types.BacktestResult `json:"result,omitempty"`
	OptionsData *types.OptionsResult  `json:"optionsResult,omitempty"`
}

// BacktestRequest is the POST body for a stock engine run.
type BacktestRequest struct {
	Symbols        []string             `json:"symbols"`
	Params         types.StrategyParams `json:"params"`
	InitialCapital float64              `json:"initialCapital"`
	SlippageBps    float64              `json:"slippageBps,omitempty"`
}

// OptionsRequest is the POST body for an options overlay run. When Trades is
// empty the stock engine runs first and supplies the ledger.
type OptionsRequest struct {
	BacktestRequest
	Options types.OptionsParams `json:"options"`
	Trades  []types.Trade       `json:"trades,omitempty"`
}

// NewServer creates the API server.
func NewServer(logger *zap.Logger, config *types.ServerConfig, store *data.Store) *Server {
	s := &Server{
		logger:  logger,
		config:  config,
		router:  mux.NewRouter(),
		hub:     NewHub(logger),
		store:   store,
		metrics: newServerMetrics(),
		runs:    make(map[string]*RunState),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.metrics.middleware)

	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/data/symbols", s.handleGetSymbols).Methods("GET")
	s.router.HandleFunc("/api/v1/data/history/{symbol}", s.handleGetHistory).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/run", s.handleRunBacktest).Methods("POST")
	s.router.HandleFunc("/api/v1/backtest/options", s.handleRunOptions).Methods("POST")
	s.router.HandleFunc("/api/v1/backtest/{id}", s.handleGetRun).Methods("GET")

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", s.metrics.handler())
	}

	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Handler returns the full middleware-wrapped handler and ensures the
// WebSocket hub is pumping, so it can serve directly under httptest.
func (s *Server) Handler() http.Handler {
	s.hubOnce.Do(func() { go s.hub.Run() })
	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)
}

// Start starts the HTTP server and the WebSocket hub.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"symbols": s.store.Symbols(),
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	bars, err := s.store.LoadBars(r.Context(), symbol)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"bars":   bars,
		"count":  len(bars),
	})
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	state := s.newRun("stock")
	result, err := s.runStock(r.Context(), &req)
	s.finishRun(state, err, func() { state.Result = result })
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": state.ID, "result": result})
}

func (s *Server) handleRunOptions(w http.ResponseWriter, r *http.Request) {
	var req OptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	state := s.newRun("options")
	result, err := s.runOptions(r.Context(), &req)
	s.finishRun(state, err, func() { state.OptionsData = result })
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": state.ID, "result": result})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	state, ok := s.runs[id]
	s.mu.RUnlock()

	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown run %s", id))
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// runStock loads the requested series and executes one engine run.
func (s *Server) runStock(ctx context.Context, req *BacktestRequest) (*types.BacktestResult, error) {
	series, err := s.store.LoadSeries(ctx, req.Symbols)
	if err != nil {
		return nil, err
	}

	var slippage backtester.SlippageModel
	if req.SlippageBps > 0 {
		slippage = backtester.NewFixedSlippage(decimal.NewFromFloat(req.SlippageBps))
	}

	timer := s.metrics.timeRun("stock")
	defer timer()

	engine := backtester.NewEngine(s.logger, slippage)
	return engine.Run(series, req.Params, decimal.NewFromFloat(req.InitialCapital))
}

// runOptions executes the overlay, running the stock engine first when no
// external ledger is supplied.
func (s *Server) runOptions(ctx context.Context, req *OptionsRequest) (*types.OptionsResult, error) {
	series, err := s.store.LoadSeries(ctx, req.Symbols)
	if err != nil {
		return nil, err
	}

	trades := req.Trades
	if len(trades) == 0 {
		engine := backtester.NewEngine(s.logger, nil)
		stock, err := engine.Run(series, req.Params, decimal.NewFromFloat(req.InitialCapital))
		if err != nil {
			return nil, err
		}
		trades = stock.Trades
	}

	timer := s.metrics.timeRun("options")
	defer timer()

	overlay := options.NewOverlay(s.logger, nil, nil)
	return overlay.RunMulti(series, trades, req.Options, decimal.NewFromFloat(req.InitialCapital))
}

func (s *Server) newRun(kind string) *RunState {
	state := &RunState{
		ID:      uuid.New().String(),
		Kind:    kind,
		Status:  "running",
		Started: time.Now(),
	}
	s.mu.Lock()
	s.runs[state.ID] = state
	s.mu.Unlock()
	return state
}

func (s *Server) finishRun(state *RunState, err error, attach func()) {
	s.mu.Lock()
	state.Completed = time.Now()
	if err != nil {
		state.Status = "failed"
		state.Error = err.Error()
	} else {
		state.Status = "completed"
		attach()
	}
	s.mu.Unlock()

	s.hub.BroadcastRunEvent(state)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
