package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"
)

// Notifier sends alerts to a Telegram chat via the Bot API.
type Notifier struct {
	botToken   string
	chatID     string
	httpClient *http.Client
	enabled    bool
	baseURL    string // overridable for testing; defaults to Telegram API
}

// NewNotifier creates a Notifier. Notifications are enabled only when both
// botToken and chatID are non-empty.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken:   botToken,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		enabled:    botToken != "" && chatID != "",
	}
}

// Enabled reports whether the notifier is active.
func (n *Notifier) Enabled() bool { return n.enabled }

// Send posts an HTML message to the configured chat. It is a no-op when disabled.
func (n *Notifier) Send(ctx context.Context, msg string) error {
	if !n.enabled {
		return nil
	}

	endpoint := n.baseURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.botToken)
	}
	payload, err := json.Marshal(map[string]string{
		"chat_id":    n.chatID,
		"text":       msg,
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("notify: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("notify: telegram %d: %s", resp.StatusCode, body.Description)
	}
	return nil
}

// NotifyOrder sends an accepted order alert.
func (n *Notifier) NotifyOrder(ctx context.Context, strategy, symbol, side string, dollars, price float64, reason string) error {
	msg := fmt.Sprintf("<b>%s %s</b>\nStrategy: <code>%s</code>\nPrice: %.2f\nAmount: $%.2f\nReason: %s",
		strings.ToUpper(side), html.EscapeString(symbol), html.EscapeString(strategy), price, dollars, html.EscapeString(reason))
	return n.Send(ctx, msg)
}

// NotifyBlocked sends an alert for an order stopped by the safety rails.
func (n *Notifier) NotifyBlocked(ctx context.Context, symbol, side, reason string) error {
	msg := fmt.Sprintf("<b>Order Blocked</b>\n%s %s\nReason: %s",
		strings.ToUpper(side), html.EscapeString(symbol), html.EscapeString(reason))
	return n.Send(ctx, msg)
}

func (n *Notifier) NotifyEmergencyStop(ctx context.Context, active bool) error {
	if active {
		return n.Send(ctx, "<b>EMERGENCY STOP</b>\nAll new orders are blocked.")
	}
	return n.Send(ctx, "<b>Emergency stop cleared</b>\nOrder flow resumed.")
}

// NotifyDailySummary sends the realtime engine's end of day counters.
func (n *Notifier) NotifyDailySummary(ctx context.Context, ticks, signals, orders, blocked int, realizedPnL float64) error {
	msg := fmt.Sprintf("<b>Daily Summary</b>\nTicks: %d\nSignals: %d\nOrders: %d\nBlocked: %d\nRealized P&amp;L: %.2f USD",
		ticks, signals, orders, blocked, realizedPnL)
	return n.Send(ctx, msg)
}

// NotifyWorkerRun reports a scheduled worker run that placed orders or failed.
func (n *Notifier) NotifyWorkerRun(ctx context.Context, algorithms, orders int, failures []string) error {
	msg := fmt.Sprintf("<b>Worker Run</b>\nAlgorithms: %d\nOrders: %d", algorithms, orders)
	if len(failures) > 0 {
		msg += "\nFailures:\n" + html.EscapeString(strings.Join(failures, "\n"))
	}
	return n.Send(ctx, msg)
}
