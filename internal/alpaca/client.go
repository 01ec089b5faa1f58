package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://paper-api.alpaca.markets"
	DefaultDataURL = "https://data.alpaca.markets"
)

var (
	// ErrNotFound matches any 404 response.
	ErrNotFound   = errors.New("alpaca: not found")
	ErrNoPosition = errors.New("alpaca: no open position")
)

// APIError is a non-2xx response from Alpaca.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("alpaca: http %d", e.StatusCode)
	}
	return fmt.Sprintf("alpaca: http %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

type Config struct {
	APIKey     string
	SecretKey  string
	BaseURL    string
	DataURL    string
	Feed       string
	HTTPClient *http.Client
}

// Client talks to the Alpaca trading and market data REST APIs.
type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	dataURL    string
	feed       string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	c := &Client{
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		dataURL:    strings.TrimRight(cfg.DataURL, "/"),
		feed:       cfg.Feed,
		httpClient: cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.dataURL == "" {
		c.dataURL = DefaultDataURL
	}
	if c.feed == "" {
		c.feed = "iex"
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return c
}

// BaseURL returns the trading API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Account(ctx context.Context) (Account, error) {
	var a Account
	err := c.do(ctx, http.MethodGet, c.baseURL+"/v2/account", nil, &a)
	return a, err
}

// AccountRaw returns the account document unmodified.
func (c *Client) AccountRaw(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, c.baseURL+"/v2/account", nil, &raw)
	return raw, err
}

func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	var out []Position
	err := c.do(ctx, http.MethodGet, c.baseURL+"/v2/positions", nil, &out)
	return out, err
}

// Position returns the open position for symbol, or ErrNoPosition.
func (c *Client) Position(ctx context.Context, symbol string) (Position, error) {
	var p Position
	err := c.do(ctx, http.MethodGet, c.baseURL+"/v2/positions/"+url.PathEscape(symbol), nil, &p)
	if errors.Is(err, ErrNotFound) {
		return Position{}, ErrNoPosition
	}
	return p, err
}

func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (Order, error) {
	var o Order
	err := c.do(ctx, http.MethodPost, c.baseURL+"/v2/orders", req, &o)
	return o, err
}

func (c *Client) Order(ctx context.Context, id string) (Order, error) {
	var o Order
	err := c.do(ctx, http.MethodGet, c.baseURL+"/v2/orders/"+url.PathEscape(id), nil, &o)
	return o, err
}

func (c *Client) Clock(ctx context.Context) (Clock, error) {
	var clk Clock
	err := c.do(ctx, http.MethodGet, c.baseURL+"/v2/clock", nil, &clk)
	return clk, err
}

// Bars fetches the most recent bars for symbol, oldest first.
func (c *Client) Bars(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error) {
	q := url.Values{}
	q.Set("timeframe", timeframe)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("feed", c.feed)
	endpoint := fmt.Sprintf("%s/v2/stocks/%s/bars?%s", c.dataURL, url.PathEscape(symbol), q.Encode())

	var resp struct {
		Bars   []Bar  `json:"bars"`
		Symbol string `json:"symbol"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Bars, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("alpaca: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("alpaca: build request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("alpaca: %s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("alpaca: decode %s: %w", req.URL.Path, err)
	}
	return nil
}
