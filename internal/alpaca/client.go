// Package alpaca is a minimal Alpaca trading API client covering what the
// trader needs: order history, order lookup by client order id, and market
// order submission.
package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Credentials is the broker record's credential blob for type "alpaca".
// Endpoint overrides the derived REST base URL when set.
type Credentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	Paper     bool   `json:"paper"`
	Endpoint  string `json:"base_url,omitempty"`
}

func (c Credentials) BaseURL() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	if c.Paper {
		return "https://paper-api.alpaca.markets"
	}
	return "https://api.alpaca.markets"
}

func (c Credentials) StreamURL() string {
	if c.Paper {
		return "wss://paper-api.alpaca.markets/stream"
	}
	return "wss://api.alpaca.markets/stream"
}

type Client struct {
	creds   Credentials
	http    *http.Client
	baseURL string
}

func NewClient(creds Credentials) *Client {
	return &Client{
		creds:   creds,
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: creds.BaseURL(),
	}
}

// Order is an Alpaca order record. Quantities and prices come over the wire
// as strings; callers parse them into decimals.
type Order struct {
	ID             string `json:"id"`
	ClientOrderID  string `json:"client_order_id"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`   // "buy" or "sell"
	Status         string `json:"status"` // "new", "filled", "canceled", "expired", "rejected", ...
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
	FilledAt       string `json:"filled_at"`
	SubmittedAt    string `json:"submitted_at"`
}

// Terminal reports whether the order can no longer change at the broker.
func (o *Order) Terminal() bool {
	switch o.Status {
	case "filled", "canceled", "expired", "rejected":
		return true
	}
	return false
}

func (o *Order) FilledAtParsed() (time.Time, error) {
	return time.Parse(time.RFC3339, o.FilledAt)
}

const orderChunkSize = 500

// AllOrders pages through the account's full order history, newest first.
// Chunks overlap by a few orders to avoid losing entries that share a
// submission timestamp; duplicates are dropped by id.
func (c *Client) AllOrders(ctx context.Context) ([]Order, error) {
	var all []Order
	seen := make(map[string]bool)
	until := time.Now().UTC().Format(time.RFC3339Nano)

	for {
		params := url.Values{}
		params.Set("status", "all")
		params.Set("until", until)
		params.Set("direction", "desc")
		params.Set("limit", fmt.Sprint(orderChunkSize))
		params.Set("nested", "false")

		var chunk []Order
		if err := c.get(ctx, "/v2/orders", params, &chunk); err != nil {
			return nil, err
		}
		added := 0
		for _, o := range chunk {
			if seen[o.ID] {
				continue
			}
			seen[o.ID] = true
			all = append(all, o)
			added++
		}

		// A full chunk of already-seen orders means the until cursor cannot
		// advance any further; stop rather than re-requesting the same page.
		if len(chunk) < orderChunkSize || added == 0 {
			break
		}
		idx := len(all) - 3
		if idx < 0 {
			idx = len(all) - 1
		}
		until = all[idx].SubmittedAt
	}
	return all, nil
}

// GetOrderByClientID looks up a single order by its client order id.
func (c *Client) GetOrderByClientID(ctx context.Context, clientOrderID string) (*Order, error) {
	params := url.Values{}
	params.Set("client_order_id", clientOrderID)

	var order Order
	if err := c.get(ctx, "/v2/orders:by_client_order_id", params, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// OrderRequest is a new-order submission. Exactly one of Notional or Qty is
// set, matching the order's side.
type OrderRequest struct {
	Symbol        string `json:"symbol"`
	Notional      string `json:"notional,omitempty"`
	Qty           string `json:"qty,omitempty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	ClientOrderID string `json:"client_order_id"`
}

func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	var order Order
	if err := c.post(ctx, "/v2/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// --- HTTP helpers ---

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return err
	}
	return c.doRequest(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doRequest(req, out)
}

func (c *Client) doRequest(req *http.Request, out any) error {
	req.Header.Set("APCA-API-KEY-ID", c.creds.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.creds.SecretKey)
	req.Header.Set("Accept", "application/json")

	slog.Debug("alpaca request", "method", req.Method, "url", req.URL.String())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("alpaca request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("alpaca API error %d: %s", resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding response: %w (body: %s)", err, string(body))
		}
	}
	return nil
}
