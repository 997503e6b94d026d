package noren

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"breakout-bot/internal/broker"
	"breakout-bot/internal/logger"
	"breakout-bot/internal/metrics"
	"breakout-bot/internal/types"
)

const reconnectDelay = 5 * time.Second

// StartStreaming opens the tick WebSocket and blocks for the caller's
// lifetime. Unexpected closures reconnect after a fixed delay, and every
// registered token is resubscribed on each connect. The only way out is
// context cancellation.
func (c *Client) StartStreaming(ctx context.Context) error {
	if !c.Session().Valid() {
		return broker.ErrNotAuthenticated
	}

	for {
		if err := c.runConnection(ctx); err != nil {
			logger.Warn(ctx, "streaming connection closed", "broker", c.ep.Name, "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
			metrics.StreamReconnect(c.ep.Name)
			logger.Info(ctx, "reconnecting stream", "broker", c.ep.Name)
		}
	}
}

// runConnection dials, performs the connect handshake and pumps frames
// until the connection drops.
func (c *Client) runConnection(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.ep.WebSocketURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Close the socket when the context dies so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	logger.Info(ctx, "websocket connection opened", "broker", c.ep.Name)
	if err := conn.WriteJSON(connectFrame{
		T:         "c",
		UserID:    c.userID,
		AccountID: c.accountID,
		Source:    "API",
		Token:     c.token(),
	}); err != nil {
		return fmt.Errorf("connect frame: %w", err)
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleFrame(ctx, conn, message)
	}
}

func (c *Client) handleFrame(ctx context.Context, conn *websocket.Conn, message []byte) {
	var frame inFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		logger.Warn(ctx, "malformed stream frame", "broker", c.ep.Name, "error", err)
		return
	}

	switch frame.T {
	case "ck":
		if frame.S == "OK" {
			logger.Debug(ctx, "connection acknowledged", "broker", c.ep.Name)
			c.sendSubscriptions(ctx, conn)
		} else {
			logger.Warn(ctx, "connect rejected", "broker", c.ep.Name, "status", frame.S)
		}
	case "tk":
		logger.Debug(ctx, "subscription acknowledged", "broker", c.ep.Name)
	case "tf":
		// Feed frames without a last price carry depth-only updates.
		if frame.LastPrice == "" {
			return
		}
		token, err := strconv.ParseUint(frame.Token, 10, 32)
		if err != nil {
			return
		}
		ltp, err := strconv.ParseFloat(frame.LastPrice, 64)
		if err != nil {
			return
		}
		metrics.TickReceived(c.ep.Name)
		c.registry.Dispatch(types.Tick{Time: time.Now().In(ist), Token: uint32(token), LTP: ltp})
	case "om":
		logger.Debug(ctx, "order update", "broker", c.ep.Name, "frame", string(message))
	default:
		logger.Debug(ctx, "unrecognized stream frame", "broker", c.ep.Name, "frame", string(message))
	}
}

// sendSubscriptions subscribes every registered token plus the order update
// channel. Called after each connect ack, so reconnects resubscribe the
// whole registry.
func (c *Client) sendSubscriptions(ctx context.Context, conn *websocket.Conn) {
	tokens := c.registry.Tokens()
	if len(tokens) > 0 {
		keys := make([]string, 0, len(tokens))
		for _, t := range tokens {
			keys = append(keys, "NSE|"+strconv.FormatUint(uint64(t), 10))
		}
		if err := conn.WriteJSON(subscribeFrame{
			T:     "t",
			Keys:  strings.Join(keys, "#"),
			Token: c.token(),
		}); err != nil {
			logger.ErrorWithErr(ctx, "token subscribe failed", err, "broker", c.ep.Name)
			return
		}
	}

	if err := conn.WriteJSON(orderSubFrame{
		T:         "o",
		AccountID: c.accountID,
		Token:     c.token(),
	}); err != nil {
		logger.ErrorWithErr(ctx, "order subscribe failed", err, "broker", c.ep.Name)
	}
}
