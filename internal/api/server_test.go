package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/emily-flambe/get-money-get-paid/internal/eventbus"
	"github.com/emily-flambe/get-money-get-paid/internal/metrics"
	"github.com/emily-flambe/get-money-get-paid/internal/store"
)

type memStore struct {
	mu        sync.Mutex
	algos     []store.Algorithm
	trades    []store.Trade
	positions map[string][]store.Position
	snapshots map[string][]store.Snapshot
	pnls      map[string][]float64
	err       error
}

func newMemStore() *memStore {
	return &memStore{
		positions: map[string][]store.Position{},
		snapshots: map[string][]store.Snapshot{},
		pnls:      map[string][]float64{},
	}
}

func (m *memStore) ListAlgorithms(context.Context) ([]store.Algorithm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Algorithm(nil), m.algos...), m.err
}

func (m *memStore) GetAlgorithm(_ context.Context, id string) (store.Algorithm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.algos {
		if a.ID == id {
			return a, nil
		}
	}
	return store.Algorithm{}, store.ErrNotFound
}

func (m *memStore) CreateAlgorithm(_ context.Context, in store.NewAlgorithm) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	id := "algo-" + in.Name
	enabled := in.Enabled == nil || *in.Enabled
	m.algos = append(m.algos, store.Algorithm{
		ID: id, Name: in.Name, StrategyType: in.StrategyType, Symbols: in.Symbols, Enabled: enabled,
	})
	return id, nil
}

func (m *memStore) UpdateAlgorithm(_ context.Context, id string, patch store.AlgorithmPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.algos {
		if m.algos[i].ID != id {
			continue
		}
		if patch.Enabled != nil {
			m.algos[i].Enabled = *patch.Enabled
		}
		if patch.Name != nil {
			m.algos[i].Name = *patch.Name
		}
		if patch.Symbols != nil {
			m.algos[i].Symbols = *patch.Symbols
		}
		return nil
	}
	return store.ErrNotFound
}

func (m *memStore) DeleteAlgorithm(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.algos[:0]
	for _, a := range m.algos {
		if a.ID != id {
			out = append(out, a)
		}
	}
	m.algos = out
	return nil
}

func (m *memStore) ListTrades(_ context.Context, algoID string, limit int) ([]store.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Trade
	for _, t := range m.trades {
		if t.AlgorithmID == algoID && len(out) < limit {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) InsertTrade(_ context.Context, t store.Trade) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	t.ID = "trade-" + t.Symbol
	m.trades = append(m.trades, t)
	return t.ID, nil
}

func (m *memStore) CountTrades(_ context.Context, algoID string) (int, error) {
	trades, _ := m.ListTrades(context.Background(), algoID, 1<<30)
	return len(trades), nil
}

func (m *memStore) TradePnLs(_ context.Context, algoID string) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pnls[algoID], nil
}

func (m *memStore) ListPositions(_ context.Context, algoID string) ([]store.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions[algoID], nil
}

func (m *memStore) ListSnapshots(_ context.Context, algoID string) ([]store.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshots[algoID], nil
}

type stubAccount struct {
	raw string
	err error
}

func (a stubAccount) AccountRaw(context.Context) (json.RawMessage, error) {
	return json.RawMessage(a.raw), a.err
}

func snapshots(algoID string, equities ...int64) []store.Snapshot {
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	out := make([]store.Snapshot, len(equities))
	for i, eq := range equities {
		out[i] = store.Snapshot{
			AlgorithmID:  algoID,
			SnapshotDate: day.AddDate(0, 0, i),
			Equity:       decimal.NewFromInt(eq),
		}
	}
	return out
}

func newTestServer(t *testing.T, st *memStore) (*Server, *metrics.Metrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	srv := NewServer(":0", Options{
		Store:    st,
		Account:  stubAccount{raw: `{"equity":"100000","cash":"50000"}`},
		Metrics:  m,
		Registry: reg,
		Logger:   zaptest.NewLogger(t),
	})
	return srv, m
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, newMemStore())
	rec := do(t, srv.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflightReturnsNoContent(t *testing.T) {
	srv, _ := newTestServer(t, newMemStore())
	rec := do(t, srv.Handler(), http.MethodOptions, "/api/algorithms", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
	assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestAlgorithmLifecycle(t *testing.T) {
	st := newMemStore()
	srv, _ := newTestServer(t, st)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/algorithms", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{}, decode(t, rec)["algorithms"])

	rec = do(t, h, http.MethodPost, "/api/algorithms",
		`{"name":"spy-sma","strategy_type":"sma_crossover","symbols":[" spy "]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	assert.Equal(t, "Algorithm created", created["message"])
	id := created["id"].(string)
	assert.Equal(t, []string{"SPY"}, st.algos[0].Symbols)

	rec = do(t, h, http.MethodGet, "/api/algorithms/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "spy-sma", decode(t, rec)["name"])

	rec = do(t, h, http.MethodPut, "/api/algorithms/"+id, `{"enabled":false}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Algorithm updated", decode(t, rec)["message"])
	assert.False(t, st.algos[0].Enabled)

	rec = do(t, h, http.MethodDelete, "/api/algorithms/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Algorithm deleted", decode(t, rec)["message"])
	assert.Empty(t, st.algos)

	rec = do(t, h, http.MethodGet, "/api/algorithms/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Algorithm not found", decode(t, rec)["error"])
}

func TestCreateAlgorithmRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t, newMemStore())
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/algorithms", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/algorithms", `{"name":"x","strategy_type":"martingale"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "martingale")
}

func TestUpdateUnknownAlgorithm(t *testing.T) {
	srv, _ := newTestServer(t, newMemStore())
	rec := do(t, srv.Handler(), http.MethodPut, "/api/algorithms/missing", `{"name":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStoreErrorIs500(t *testing.T) {
	st := newMemStore()
	st.err = errors.New("connection refused")
	srv, _ := newTestServer(t, st)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/algorithms", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "connection refused", decode(t, rec)["error"])
}

func TestAlgorithmSubresources(t *testing.T) {
	st := newMemStore()
	st.trades = []store.Trade{
		{AlgorithmID: "a1", Symbol: "SPY", Side: "buy"},
		{AlgorithmID: "a1", Symbol: "QQQ", Side: "buy"},
		{AlgorithmID: "a2", Symbol: "IWM", Side: "buy"},
	}
	st.positions["a1"] = []store.Position{{AlgorithmID: "a1", Symbol: "SPY", Quantity: decimal.NewFromInt(2)}}
	st.snapshots["a1"] = snapshots("a1", 100000, 110000)
	st.pnls["a1"] = []float64{10, -5}
	srv, _ := newTestServer(t, st)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/algorithms/a1/trades?limit=1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["trades"], 1)

	rec = do(t, h, http.MethodGet, "/api/algorithms/a1/trades?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/algorithms/a1/positions", "")
	assert.Len(t, decode(t, rec)["positions"], 1)

	rec = do(t, h, http.MethodGet, "/api/algorithms/a1/snapshots", "")
	assert.Len(t, decode(t, rec)["snapshots"], 2)

	rec = do(t, h, http.MethodGet, "/api/algorithms/a2/snapshots", "")
	assert.Equal(t, []interface{}{}, decode(t, rec)["snapshots"])

	rec = do(t, h, http.MethodGet, "/api/algorithms/a1/performance", "")
	perf := decode(t, rec)
	assert.Equal(t, "a1", perf["algorithm_id"])
	assert.Equal(t, 10.0, perf["total_return_pct"])
	assert.Equal(t, 110000.0, perf["final_equity"])
	assert.Equal(t, 0.5, perf["win_rate"])
	assert.Equal(t, 2.0, perf["total_trades"])
	assert.Equal(t, 2.0, perf["days_active"])
}

func TestComparisonSortedByReturn(t *testing.T) {
	st := newMemStore()
	st.algos = []store.Algorithm{{ID: "flat", Name: "Flat"}, {ID: "up", Name: "Up"}, {ID: "down", Name: "Down"}}
	st.snapshots["up"] = snapshots("up", 100, 120)
	st.snapshots["down"] = snapshots("down", 100, 90)
	srv, _ := newTestServer(t, st)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/comparison", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Comparison []struct {
			Name           string  `json:"name"`
			TotalReturnPct float64 `json:"total_return_pct"`
		} `json:"comparison"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Comparison, 3)
	assert.Equal(t, "Up", body.Comparison[0].Name)
	assert.Equal(t, 20.0, body.Comparison[0].TotalReturnPct)
	assert.Equal(t, "Flat", body.Comparison[1].Name)
	assert.Equal(t, "Down", body.Comparison[2].Name)
}

func TestIngestTrade(t *testing.T) {
	st := newMemStore()
	srv, m := newTestServer(t, st)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/trades",
		`{"algorithm_id":"a1","symbol":"spy","side":"BUY","quantity":2,"filled_price":500.5}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "trade-SPY", decode(t, rec)["id"])
	require.Len(t, st.trades, 1)
	assert.Equal(t, "buy", st.trades[0].Side)
	assert.True(t, st.trades[0].FilledPrice.Decimal.Equal(decimal.RequireFromString("500.5")))

	rec = do(t, h, http.MethodPost, "/api/trades", `{"algorithm_id":"a1","side":"hold"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/trades", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradeEvents.WithLabelValues("http", "stored")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TradeEvents.WithLabelValues("http", "invalid")))
}

func TestIngestTradeFromStream(t *testing.T) {
	st := newMemStore()
	srv, m := newTestServer(t, st)

	err := srv.IngestTrade(context.Background(), eventbus.TradeEvent{AlgorithmID: "a1", Symbol: "QQQ", Side: "sell", Quantity: 1})
	require.NoError(t, err)
	assert.Len(t, st.trades, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradeEvents.WithLabelValues("redis", "stored")))

	st.err = errors.New("db down")
	err = srv.IngestTrade(context.Background(), eventbus.TradeEvent{AlgorithmID: "a1", Symbol: "QQQ", Side: "sell", Quantity: 1})
	assert.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradeEvents.WithLabelValues("redis", "error")))
}

func TestAccountProxy(t *testing.T) {
	srv, _ := newTestServer(t, newMemStore())
	rec := do(t, srv.Handler(), http.MethodGet, "/api/account", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"equity":"100000","cash":"50000"}`, rec.Body.String())

	failing := NewServer(":0", Options{
		Store:   newMemStore(),
		Account: stubAccount{err: errors.New("alpaca: 401")},
		Logger:  zaptest.NewLogger(t),
	})
	rec = do(t, failing.Handler(), http.MethodGet, "/api/account", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "alpaca: 401", decode(t, rec)["error"])
}

func TestUnknownAPIPath(t *testing.T) {
	srv, _ := newTestServer(t, newMemStore())
	rec := do(t, srv.Handler(), http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Not found", body["error"])
	assert.Equal(t, "/api/nope", body["path"])
}

func TestServesUIAndMetrics(t *testing.T) {
	srv, m := newTestServer(t, newMemStore())
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<html")

	rec = do(t, h, http.MethodGet, "/app.js", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	do(t, h, http.MethodGet, "/api/algorithms", "")
	assert.Positive(t, testutil.CollectAndCount(m.APIRequests))

	rec = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/api/algorithms`)
}

func TestStartAndShutdown(t *testing.T) {
	srv := NewServer("127.0.0.1:0", Options{Store: newMemStore(), Logger: zaptest.NewLogger(t)})
	require.NoError(t, srv.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))
}
