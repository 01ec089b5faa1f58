package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "key", SecretKey: "secret", BaseURL: srv.URL, DataURL: srv.URL})
}

func TestClientAccountSendsAuthHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/account", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		assert.Equal(t, "secret", r.Header.Get("APCA-API-SECRET-KEY"))
		_, _ = w.Write([]byte(`{"id":"acct","status":"ACTIVE","cash":"1000.50","equity":"2500.25","buying_power":"5000","portfolio_value":"2500.25"}`))
	})

	acct, err := c.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acct", acct.ID)
	assert.True(t, acct.Equity.Equal(decimal.RequireFromString("2500.25")))
	assert.True(t, acct.BuyingPower.Equal(decimal.NewFromInt(5000)))
}

func TestClientAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":40310000,"message":"insufficient buying power"}`))
	})

	_, err := c.Account(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "insufficient buying power", apiErr.Message)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestClientPositionNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/positions/SPY", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":40410000,"message":"position does not exist"}`))
	})

	_, err := c.Position(context.Background(), "SPY")
	assert.ErrorIs(t, err, ErrNoPosition)
}

func TestClientSubmitNotionalOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/orders", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "SPY", body["symbol"])
		assert.Equal(t, "123.46", body["notional"])
		assert.Equal(t, "market", body["type"])
		assert.Equal(t, "day", body["time_in_force"])
		_, hasQty := body["qty"]
		assert.False(t, hasQty)
		_, _ = w.Write([]byte(`{"id":"o-1","symbol":"SPY","side":"buy","status":"filled","filled_qty":"0.25","filled_avg_price":"493.84","notional":"123.46","qty":null}`))
	})

	o, err := c.SubmitOrder(context.Background(), MarketNotional("SPY", "buy", 123.456))
	require.NoError(t, err)
	assert.Equal(t, "o-1", o.ID)
	assert.True(t, o.Filled())
	assert.False(t, o.Qty.Valid)
	assert.Equal(t, "493.84", o.FilledAvgPrice.Decimal.String())
}

func TestClientSubmitQtyOrderUnfilled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "3", body["qty"])
		_, _ = w.Write([]byte(`{"id":"o-2","status":"accepted","filled_qty":"0","filled_avg_price":null}`))
	})

	o, err := c.SubmitOrder(context.Background(), MarketQty("AAPL", "sell", decimal.NewFromInt(3)))
	require.NoError(t, err)
	assert.False(t, o.Filled())
}

func TestClientBars(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/stocks/AAPL/bars", r.URL.Path)
		assert.Equal(t, "1Day", r.URL.Query().Get("timeframe"))
		assert.Equal(t, "55", r.URL.Query().Get("limit"))
		assert.Equal(t, "iex", r.URL.Query().Get("feed"))
		_, _ = w.Write([]byte(`{"symbol":"AAPL","bars":[
			{"t":"2024-06-03T04:00:00Z","o":190,"h":192,"l":189,"c":191.5,"v":1000},
			{"t":"2024-06-04T04:00:00Z","o":191.5,"h":195,"l":191,"c":194.2,"v":1200}]}`))
	})

	bars, err := c.Bars(context.Background(), "AAPL", "1Day", 55)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, []float64{191.5, 194.2}, Closes(bars))
}

func TestClientClock(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"timestamp":"2024-06-03T14:00:00Z","is_open":true,"next_open":"2024-06-04T13:30:00Z","next_close":"2024-06-03T20:00:00Z"}`))
	})

	clk, err := c.Clock(context.Background())
	require.NoError(t, err)
	assert.True(t, clk.IsOpen)
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{})
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
	assert.Equal(t, DefaultDataURL, c.dataURL)
	assert.Equal(t, "iex", c.feed)
}
