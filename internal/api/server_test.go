package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantdesk/ibs-backtester/internal/api"
	"github.com/quantdesk/ibs-backtester/internal/data"
	"github.com/quantdesk/ibs-backtester/pkg/types"
)

func newTestServer(t *testing.T) (*api.Server, *data.Store) {
	t.Helper()
	logger := zap.NewNop()

	store, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	config := &types.ServerConfig{
		Host:          "localhost",
		Port:          0,
		WebSocketPath: "/ws",
		EnableMetrics: true,
	}
	return api.NewServer(logger, config, store), store
}

func seedSignalBars(t *testing.T, store *data.Store, symbol string) {
	t.Helper()
	d0 := types.NewDay(2024, 1, 2)
	bars := []types.Bar{
		{Date: d0, High: decimal.NewFromInt(110), Low: decimal.NewFromInt(100), Close: decimal.NewFromInt(101)},
		{Date: d0 + 1, High: decimal.NewFromInt(110), Low: decimal.NewFromInt(100), Close: decimal.NewFromInt(109)},
		{Date: d0 + 2, High: decimal.NewFromInt(110), Low: decimal.NewFromInt(100), Close: decimal.NewFromInt(105)},
	}
	if err := store.SaveBars(symbol, bars); err != nil {
		t.Fatalf("SaveBars failed: %v", err)
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(t, server.Handler(), "GET", "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if payload["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", payload["status"])
	}
}

func TestSymbolsEndpoint(t *testing.T) {
	server, store := newTestServer(t)
	seedSignalBars(t, store, "SPY")

	rec := doJSON(t, server.Handler(), "GET", "/api/v1/data/symbols", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var payload struct {
		Symbols []string `json:"symbols"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(payload.Symbols) != 1 || payload.Symbols[0] != "SPY" {
		t.Errorf("Expected [SPY], got %v", payload.Symbols)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	server, store := newTestServer(t)
	seedSignalBars(t, store, "SPY")

	rec := doJSON(t, server.Handler(), "GET", "/api/v1/data/history/SPY", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var payload struct {
		Symbol string      `json:"symbol"`
		Bars   []types.Bar `json:"bars"`
		Count  int         `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if payload.Symbol != "SPY" || payload.Count != 3 || len(payload.Bars) != 3 {
		t.Errorf("Unexpected history payload: %s, %d bars", payload.Symbol, payload.Count)
	}

	rec = doJSON(t, server.Handler(), "GET", "/api/v1/data/history/MISSING", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown symbol, got %d", rec.Code)
	}
}

func TestRunBacktestEndpoint(t *testing.T) {
	server, store := newTestServer(t)
	seedSignalBars(t, store, "SPY")

	req := api.BacktestRequest{
		Symbols: []string{"SPY"},
		Params: types.StrategyParams{
			LowIBS:      0.2,
			HighIBS:     0.8,
			MaxHoldDays: 5,
		},
		InitialCapital: 10000,
	}
	rec := doJSON(t, server.Handler(), "POST", "/api/v1/backtest/run", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var payload struct {
		ID     string                `json:"id"`
		Result *types.BacktestResult `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if payload.ID == "" {
		t.Error("Expected a run ID")
	}
	if payload.Result == nil || len(payload.Result.Trades) != 1 {
		t.Fatalf("Expected 1 trade in result, got %+v", payload.Result)
	}
	if payload.Result.Trades[0].ExitReason != types.ExitIBSSignal {
		t.Errorf("Expected ibs_signal exit, got %s", payload.Result.Trades[0].ExitReason)
	}

	// Completed runs are retrievable by ID.
	rec = doJSON(t, server.Handler(), "GET", "/api/v1/backtest/"+payload.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 for run lookup, got %d", rec.Code)
	}
	var state api.RunState
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if state.Status != "completed" || state.Kind != "stock" {
		t.Errorf("Unexpected run state: %s/%s", state.Kind, state.Status)
	}
}

func TestRunBacktestRejectsBadRequests(t *testing.T) {
	server, store := newTestServer(t)
	seedSignalBars(t, store, "SPY")

	rec := doJSON(t, server.Handler(), "POST", "/api/v1/backtest/run", map[string]any{
		"symbols": []string{"UNKNOWN"},
		"params":  map[string]any{"lowIbs": 0.2, "highIbs": 0.8, "maxHoldDays": 5},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown symbol, got %d", rec.Code)
	}

	req := httptest.NewRequest("POST", "/api/v1/backtest/run", bytes.NewBufferString("{not json"))
	rec2 := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec2, req)
	if rec2.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", rec2.Code)
	}
}

func TestRunOptionsEndpoint(t *testing.T) {
	server, store := newTestServer(t)
	seedSignalBars(t, store, "SPY")

	req := api.OptionsRequest{
		BacktestRequest: api.BacktestRequest{
			Symbols: []string{"SPY"},
			Params: types.StrategyParams{
				LowIBS:      0.2,
				HighIBS:     0.8,
				MaxHoldDays: 5,
			},
			InitialCapital: 10000,
		},
		Options: types.OptionsParams{CapitalPct: 10},
	}
	rec := doJSON(t, server.Handler(), "POST", "/api/v1/backtest/options", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var payload struct {
		ID     string               `json:"id"`
		Result *types.OptionsResult `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if payload.Result == nil {
		t.Fatal("Expected an options result")
	}
	// Three bars cannot seed a volatility estimate; the overlay runs but
	// opens nothing.
	if len(payload.Result.Trades) != 0 {
		t.Errorf("Expected no option trades on short history, got %d", len(payload.Result.Trades))
	}
}

func TestUnknownRunLookup(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(t, server.Handler(), "GET", "/api/v1/backtest/no-such-id", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestWebSocketRunEvents(t *testing.T) {
	server, store := newTestServer(t)
	seedSignalBars(t, store, "SPY")

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	// Registration happens after the handshake completes; give the hub a
	// beat to pick it up before triggering a run.
	time.Sleep(100 * time.Millisecond)

	req := api.BacktestRequest{
		Symbols: []string{"SPY"},
		Params: types.StrategyParams{
			LowIBS:      0.2,
			HighIBS:     0.8,
			MaxHoldDays: 5,
		},
		InitialCapital: 10000,
	}
	rec := doJSON(t, server.Handler(), "POST", "/api/v1/backtest/run", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	var msg api.WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if msg.Type != api.MsgTypeRunEvent {
		t.Fatalf("Expected %s frame, got %s", api.MsgTypeRunEvent, msg.Type)
	}

	var event struct {
		ID     string `json:"id"`
		Kind   string `json:"kind"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if event.ID == "" || event.Kind != "stock" || event.Status != "completed" {
		t.Errorf("Unexpected run event: %+v", event)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	// Generate one request so the counter has a sample.
	doJSON(t, server.Handler(), "GET", "/api/v1/health", nil)

	rec := doJSON(t, server.Handler(), "GET", "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("ibs_api_requests_total")) {
		t.Error("Expected request counter in metrics exposition")
	}
}
