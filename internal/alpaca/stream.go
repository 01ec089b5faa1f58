package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultStreamURL = "wss://stream.data.alpaca.markets/v2/iex"

	maxBackoff = 30 * time.Second
)

type Trade struct {
	Symbol string    `json:"S"`
	Price  float64   `json:"p"`
	Size   float64   `json:"s"`
	Time   time.Time `json:"t"`
}

type StreamBar struct {
	Symbol string    `json:"S"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
	Time   time.Time `json:"t"`
}

type Quote struct {
	Symbol   string    `json:"S"`
	BidPrice float64   `json:"bp"`
	AskPrice float64   `json:"ap"`
	BidSize  float64   `json:"bs"`
	AskSize  float64   `json:"as"`
	Time     time.Time `json:"t"`
}

// Mid returns the quote midpoint, or 0 when either side is missing.
func (q Quote) Mid() float64 {
	if q.BidPrice <= 0 || q.AskPrice <= 0 {
		return 0
	}
	return (q.BidPrice + q.AskPrice) / 2
}

// Handler receives decoded stream messages. Calls happen on the read
// goroutine, one at a time.
type Handler interface {
	OnTrade(Trade)
	OnBar(StreamBar)
	OnQuote(Quote)
}

type StreamConfig struct {
	URL       string
	APIKey    string
	SecretKey string
	Trades    []string
	Bars      []string
	Quotes    []string
	// PingAfter is the read idle time before a ping is sent. Default 30s.
	PingAfter time.Duration
}

// Stream is a reconnecting client for the Alpaca market data websocket.
type Stream struct {
	cfg     StreamConfig
	handler Handler
	log     *zap.Logger

	connected atomic.Bool
	messages  atomic.Int64
}

func NewStream(cfg StreamConfig, h Handler, log *zap.Logger) *Stream {
	if cfg.URL == "" {
		cfg.URL = DefaultStreamURL
	}
	if cfg.PingAfter <= 0 {
		cfg.PingAfter = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Stream{cfg: cfg, handler: h, log: log.Named("stream")}
}

// Connected reports whether a session is currently authenticated.
func (s *Stream) Connected() bool { return s.connected.Load() }

// Messages returns the number of data messages dispatched so far.
func (s *Stream) Messages() int64 { return s.messages.Load() }

// Run keeps a session open until ctx is done, reconnecting with exponential
// backoff capped at 30s.
func (s *Stream) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		authed, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if authed {
			backoff = time.Second
		}
		s.log.Warn("stream disconnected", zap.Error(err), zap.Duration("retry_in", backoff))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

type subscribeMsg struct {
	Action string   `json:"action"`
	Trades []string `json:"trades,omitempty"`
	Bars   []string `json:"bars,omitempty"`
	Quotes []string `json:"quotes,omitempty"`
}

type controlMsg struct {
	T    string `json:"T"`
	Msg  string `json:"msg"`
	Code int    `json:"code"`
}

// runOnce runs a single session. The bool reports whether auth succeeded.
func (s *Stream) runOnce(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := s.handshake(conn); err != nil {
		return false, err
	}
	s.connected.Store(true)
	defer s.connected.Store(false)
	s.log.Info("stream subscribed",
		zap.Strings("trades", s.cfg.Trades),
		zap.Strings("bars", s.cfg.Bars),
		zap.Strings("quotes", s.cfg.Quotes))

	var lastRead atomic.Int64
	lastRead.Store(time.Now().UnixNano())
	idle := 2*s.cfg.PingAfter + 10*time.Second
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		lastRead.Store(time.Now().UnixNano())
		return conn.SetReadDeadline(time.Now().Add(idle))
	})

	errCh := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			lastRead.Store(time.Now().UnixNano())
			_ = conn.SetReadDeadline(time.Now().Add(idle))
			s.dispatch(data)
		}
	}()

	check := time.NewTicker(s.cfg.PingAfter / 3)
	defer check.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return true, ctx.Err()
		case err := <-errCh:
			return true, err
		case <-check.C:
			if time.Since(time.Unix(0, lastRead.Load())) >= s.cfg.PingAfter {
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return true, fmt.Errorf("ping: %w", err)
				}
			}
		}
	}
}

func (s *Stream) handshake(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	if _, err := readControl(conn, "connected"); err != nil {
		return fmt.Errorf("welcome: %w", err)
	}
	auth := map[string]string{"action": "auth", "key": s.cfg.APIKey, "secret": s.cfg.SecretKey}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("auth write: %w", err)
	}
	if _, err := readControl(conn, "authenticated"); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	sub := subscribeMsg{Action: "subscribe", Trades: s.cfg.Trades, Bars: s.cfg.Bars, Quotes: s.cfg.Quotes}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe write: %w", err)
	}
	return nil
}

// readControl reads one frame and requires a success message with the given msg.
func readControl(conn *websocket.Conn, want string) (controlMsg, error) {
	var msgs []controlMsg
	if err := conn.ReadJSON(&msgs); err != nil {
		return controlMsg{}, err
	}
	for _, m := range msgs {
		if m.T == "error" {
			return m, fmt.Errorf("server error %d: %s", m.Code, m.Msg)
		}
		if m.Msg == want {
			return m, nil
		}
	}
	return controlMsg{}, errors.New("expected " + want)
}

func (s *Stream) dispatch(data []byte) {
	var msgs []json.RawMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		s.log.Debug("unparseable frame", zap.Error(err))
		return
	}
	for _, raw := range msgs {
		var head struct {
			T string `json:"T"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			continue
		}
		switch head.T {
		case "t":
			var t Trade
			if err := json.Unmarshal(raw, &t); err == nil {
				s.messages.Add(1)
				s.handler.OnTrade(t)
			}
		case "b":
			var b StreamBar
			if err := json.Unmarshal(raw, &b); err == nil {
				s.messages.Add(1)
				s.handler.OnBar(b)
			}
		case "q":
			var q Quote
			if err := json.Unmarshal(raw, &q); err == nil {
				s.messages.Add(1)
				s.handler.OnQuote(q)
			}
		case "error":
			var m controlMsg
			_ = json.Unmarshal(raw, &m)
			s.log.Error("stream error", zap.Int("code", m.Code), zap.String("msg", m.Msg))
		case "subscription":
			s.log.Debug("subscription ack", zap.ByteString("raw", raw))
		}
	}
}
