// internal/provider/chainwatcher/client.go
package chainwatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client is the outbound HTTP client for the Chain Watcher collaborator. The
// watcher owns address generation, chain observation and payout broadcast;
// this client only issues "watch" and "broadcast" instructions and relies on
// the webhook for everything coming back.
type Client struct {
	BaseURL    string
	Secret     string
	HttpClient *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL, secret string, logger *zap.Logger) *Client {
	return &Client{
		BaseURL:    baseURL,
		Secret:     secret,
		HttpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type watchRequest struct {
	TicketID string `json:"ticket_id"`
	Currency string `json:"currency"`
}

type payoutRequest struct {
	TicketID  string  `json:"ticket_id"`
	Address   string  `json:"address"`
	AmountUSD float64 `json:"amount_usd"`
	Currency  string  `json:"currency"`
}

// WatchAddress asks the watcher to assign (or re-arm) an escrow deposit
// address for the ticket and start observing it.
func (c *Client) WatchAddress(ctx context.Context, ticketID, currency string) error {
	return c.post(ctx, "/watch", watchRequest{TicketID: ticketID, Currency: currency})
}

// BroadcastPayout asks the watcher to send the escrowed funds to the
// receiver's confirmed payout address.
func (c *Client) BroadcastPayout(ctx context.Context, ticketID, address string, amountUSD float64, currency string) error {
	return c.post(ctx, "/payout", payoutRequest{
		TicketID:  ticketID,
		Address:   address,
		AmountUSD: amountUSD,
		Currency:  currency,
	})
}

// CancelWatch stops observation for a ticket whose transfer was aborted.
func (c *Client) CancelWatch(ctx context.Context, ticketID string) error {
	return c.post(ctx, "/watch/cancel", watchRequest{TicketID: ticketID})
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal watcher request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build watcher request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Watcher-Secret", c.Secret)

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chain watcher unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		c.logger.Error("Chain watcher rejected request",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", respBody))
		return fmt.Errorf("chain watcher returned %d", resp.StatusCode)
	}
	return nil
}
