package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// Stream tails Alpaca's trade_updates websocket channel and logs order
// events as they happen. It is an observability sidecar: order state of
// record still comes from the resolution pass, so a dropped stream never
// affects the ledger.
type Stream struct {
	creds Credentials
	wsURL string
	name  string
}

func NewStream(name string, creds Credentials) *Stream {
	return &Stream{creds: creds, wsURL: creds.StreamURL(), name: name}
}

// Run maintains the websocket connection with automatic reconnection until
// ctx is canceled.
func (s *Stream) Run(ctx context.Context) error {
	for {
		if err := s.connect(ctx); err != nil {
			slog.Warn("alpaca stream disconnected", "broker", s.name, "err", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			slog.Info("alpaca stream reconnecting", "broker", s.name)
		}
	}
}

type streamMessage struct {
	Action string          `json:"action,omitempty"`
	Stream string          `json:"stream,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type tradeUpdate struct {
	Event string `json:"event"`
	Order Order  `json:"order"`
	Qty   string `json:"qty"`
	Price string `json:"price"`
}

func (s *Stream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))

	auth := map[string]any{
		"action": "authenticate",
		"data": map[string]string{
			"key_id":     s.creds.APIKey,
			"secret_key": s.creds.SecretKey,
		},
	}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	listen := map[string]any{
		"action": "listen",
		"data":   map[string][]string{"streams": {"trade_updates"}},
	}
	if err := conn.WriteJSON(listen); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	slog.Info("alpaca stream connected", "broker", s.name)

	ctx2, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.pingLoop(ctx2, conn)

	return s.readLoop(ctx2, conn)
}

func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				slog.Debug("alpaca stream ping failed", "err", err)
				return
			}
		}
	}
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		var env streamMessage
		if err := json.Unmarshal(msg, &env); err != nil {
			slog.Debug("alpaca stream: unmarshal error", "err", err)
			continue
		}

		switch env.Stream {
		case "trade_updates":
			var u tradeUpdate
			if err := json.Unmarshal(env.Data, &u); err != nil {
				slog.Debug("alpaca stream: trade update unmarshal error", "err", err)
				continue
			}
			slog.Info("trade update",
				"broker", s.name,
				"event", u.Event,
				"client_order_id", u.Order.ClientOrderID,
				"symbol", u.Order.Symbol,
				"qty", u.Qty,
				"price", u.Price,
			)
		case "authorization", "listening":
			slog.Debug("alpaca stream control", "stream", env.Stream, "data", string(env.Data))
		default:
			slog.Debug("alpaca stream: unknown message", "stream", env.Stream)
		}
	}
}
