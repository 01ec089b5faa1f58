package dashsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emily-flambe/get-money-get-paid/internal/config"
	"github.com/emily-flambe/get-money-get-paid/internal/eventbus"
)

func TestRecordTradePostsEvent(t *testing.T) {
	var got eventbus.TradeEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/trades", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"t-1"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", 0)
	err := c.RecordTrade(context.Background(), eventbus.TradeEvent{
		AlgorithmID: "rsi-qqq", Symbol: "QQQ", Side: "sell", Quantity: 3, FilledPrice: eventbus.Float(400),
	})
	require.NoError(t, err)
	assert.Equal(t, "rsi-qqq", got.AlgorithmID)
	require.NotNil(t, got.FilledPrice)
	assert.Equal(t, 400.0, *got.FilledPrice)
}

func TestRecordTradeRequiresCreated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, 0).RecordTrade(context.Background(),
		eventbus.TradeEvent{AlgorithmID: "a", Symbol: "SPY", Side: "buy", Quantity: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "200")
}

func TestRecordTradeValidates(t *testing.T) {
	err := NewClient("http://127.0.0.1:1", 0).RecordTrade(context.Background(), eventbus.TradeEvent{Symbol: "SPY"})
	assert.ErrorIs(t, err, eventbus.ErrInvalidEvent)
}

func TestNewSinkModes(t *testing.T) {
	cfg := config.Default()

	sink, closeFn, err := NewSink(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, Nop(), sink)
	assert.NoError(t, closeFn())

	cfg.Sync.Mode = "HTTP"
	_, _, err = NewSink(cfg, nil)
	assert.Error(t, err, "http without url")

	cfg.Sync.DashboardURL = "http://dashboard:8080"
	sink, _, err = NewSink(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &Client{}, sink)

	cfg.Sync.Mode = "redis"
	sink, closeFn, err = NewSink(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &eventbus.Publisher{}, sink)
	assert.NoError(t, closeFn())

	cfg.Sync.Mode = "kafka"
	_, _, err = NewSink(cfg, nil)
	assert.Error(t, err)
}
