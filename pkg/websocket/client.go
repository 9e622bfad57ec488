package websocket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/betcore/sprintbet/pkg/types"
)

// Client maintains one connection to the CLOB market channel and streams
// book snapshots and price changes for the tokens of active rounds.
type Client struct {
	url          string
	conn         *websocket.Conn
	logger       *zap.Logger
	backoff      *Backoff
	config       Config
	messageChan  chan *types.OrderbookMessage
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	mu           sync.RWMutex
	subscribed   map[string]bool // token IDs
	connected    atomic.Bool
	lastPongTime atomic.Int64
}

// Config holds market feed client configuration.
type Config struct {
	URL               string
	DialTimeout       time.Duration
	PingInterval      time.Duration
	PongTimeout       time.Duration // silence longer than this drops the connection
	MessageBufferSize int
	Backoff           BackoffConfig
	Logger            *zap.Logger
}

// NewClient creates a market feed client. Start must be called before
// messages flow.
func NewClient(cfg Config) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		url:         cfg.URL,
		logger:      cfg.Logger,
		backoff:     NewBackoff(cfg.Backoff),
		config:      cfg,
		messageChan: make(chan *types.OrderbookMessage, cfg.MessageBufferSize),
		ctx:         ctx,
		cancel:      cancel,
		subscribed:  make(map[string]bool),
	}
}

// Start connects and launches the read, ping and reconnect loops.
func (c *Client) Start() error {
	c.logger.Info("market-feed-starting", zap.String("url", c.url))

	err := c.connect(c.ctx)
	if err != nil {
		return fmt.Errorf("initial connection: %w", err)
	}

	c.wg.Add(3)
	go c.readLoop()
	go c.pingLoop()
	go c.reconnectLoop()

	return nil
}

func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.DialTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		c.lastPongTime.Store(time.Now().Unix())
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.connected.Store(true)
	c.lastPongTime.Store(time.Now().Unix())
	ActiveConnections.Set(1)

	c.logger.Info("market-feed-connected")

	return nil
}

// Subscribe adds token IDs to the market channel subscription. Tokens of a
// finished round are removed with Unsubscribe.
func (c *Client) Subscribe(tokenIDs []string) error {
	if len(tokenIDs) == 0 {
		return nil
	}

	c.mu.Lock()

	newTokens := make([]string, 0, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		if !c.subscribed[tokenID] {
			newTokens = append(newTokens, tokenID)
			c.subscribed[tokenID] = true
		}
	}

	if len(newTokens) == 0 {
		c.mu.Unlock()
		return nil
	}

	// The first message on a connection uses the channel-open form; later
	// additions use the subscribe operation.
	var msg map[string]interface{}
	if len(c.subscribed) == len(newTokens) {
		msg = map[string]interface{}{
			"assets_ids": newTokens,
			"type":       "market",
		}
	} else {
		msg = map[string]interface{}{
			"assets_ids": newTokens,
			"operation":  "subscribe",
		}
	}

	total := len(c.subscribed)
	c.mu.Unlock()

	err := c.conn.WriteJSON(msg)
	if err != nil {
		c.mu.Lock()
		for _, tokenID := range newTokens {
			delete(c.subscribed, tokenID)
		}
		total = len(c.subscribed)
		c.mu.Unlock()

		SubscriptionCount.Set(float64(total))
		return fmt.Errorf("write subscribe message: %w", err)
	}

	SubscriptionCount.Set(float64(total))
	c.logger.Info("subscribed-to-tokens",
		zap.Int("new-count", len(newTokens)),
		zap.Int("total-count", total))

	return nil
}

// Unsubscribe removes token IDs from the subscription.
func (c *Client) Unsubscribe(tokenIDs []string) error {
	if len(tokenIDs) == 0 {
		return nil
	}

	c.mu.Lock()

	removed := make([]string, 0, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		if c.subscribed[tokenID] {
			removed = append(removed, tokenID)
			delete(c.subscribed, tokenID)
		}
	}

	if len(removed) == 0 {
		c.mu.Unlock()
		return nil
	}

	msg := map[string]interface{}{
		"assets_ids": removed,
		"operation":  "unsubscribe",
	}

	total := len(c.subscribed)
	c.mu.Unlock()

	err := c.conn.WriteJSON(msg)
	if err != nil {
		c.mu.Lock()
		for _, tokenID := range removed {
			c.subscribed[tokenID] = true
		}
		total = len(c.subscribed)
		c.mu.Unlock()

		SubscriptionCount.Set(float64(total))
		return fmt.Errorf("write unsubscribe message: %w", err)
	}

	SubscriptionCount.Set(float64(total))
	c.logger.Info("unsubscribed-from-tokens",
		zap.Int("count", len(removed)),
		zap.Int("remaining-count", total))

	return nil
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("read-error", zap.Error(err))
			c.connected.Store(false)
			ActiveConnections.Set(0)
			return
		}

		// The market channel sends arrays of book/price_change events.
		var obMsgs []types.OrderbookMessage
		err = json.Unmarshal(message, &obMsgs)
		if err != nil {
			// Heartbeats and subscription confirmations land here.
			if len(message) < 10 {
				continue
			}
			c.logger.Debug("unparseable-feed-message",
				zap.Error(err),
				zap.Int("bytes", len(message)))
			continue
		}

		for i := range obMsgs {
			obMsg := &obMsgs[i]
			MessagesReceivedTotal.WithLabelValues(obMsg.EventType).Inc()

			select {
			case c.messageChan <- obMsg:
			default:
				c.logger.Warn("message-channel-full", zap.String("event-type", obMsg.EventType))
				MessagesDroppedTotal.Inc()
			}
		}
	}
}

func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if !c.connected.Load() {
				continue
			}

			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()

			if conn == nil {
				continue
			}

			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second))
			if err != nil {
				c.logger.Warn("ping-error", zap.Error(err))
			}
		}
	}
}

func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if c.connected.Load() {
			if c.pongStale() {
				c.logger.Warn("pong-timeout-dropping-connection",
					zap.Duration("timeout", c.config.PongTimeout))
				c.connected.Store(false)
				ActiveConnections.Set(0)

				// Closing unblocks the read loop on its dead socket.
				c.mu.RLock()
				if c.conn != nil {
					c.conn.Close()
				}
				c.mu.RUnlock()
				continue
			}
			time.Sleep(time.Second)
			continue
		}

		c.logger.Warn("connection-lost-reconnecting")

		delay := c.backoff.Next()
		ReconnectAttemptsTotal.Inc()

		select {
		case <-time.After(delay):
		case <-c.ctx.Done():
			return
		}

		err := c.connect(c.ctx)
		if err != nil {
			c.logger.Warn("reconnection-failed", zap.Error(err))
			continue
		}
		c.backoff.Reset()

		err = c.resubscribeAll()
		if err != nil {
			c.logger.Error("resubscribe-failed", zap.Error(err))
			c.connected.Store(false)
			continue
		}

		c.wg.Add(1)
		go c.readLoop()
	}
}

// pongStale reports whether the server has gone silent past the configured
// pong timeout.
func (c *Client) pongStale() bool {
	if c.config.PongTimeout <= 0 {
		return false
	}
	return time.Since(time.Unix(c.lastPongTime.Load(), 0)) > c.config.PongTimeout
}

func (c *Client) resubscribeAll() error {
	c.mu.RLock()
	tokenIDs := make([]string, 0, len(c.subscribed))
	for tokenID := range c.subscribed {
		tokenIDs = append(tokenIDs, tokenID)
	}
	c.mu.RUnlock()

	if len(tokenIDs) == 0 {
		return nil
	}

	msg := map[string]interface{}{
		"assets_ids": tokenIDs,
		"type":       "market",
	}

	c.mu.RLock()
	err := c.conn.WriteJSON(msg)
	c.mu.RUnlock()

	if err != nil {
		return fmt.Errorf("write resubscribe message: %w", err)
	}

	c.logger.Info("resubscribed-after-reconnect", zap.Int("count", len(tokenIDs)))

	return nil
}

// MessageChan returns the channel feed consumers read from.
func (c *Client) MessageChan() <-chan *types.OrderbookMessage {
	return c.messageChan
}

// Close shuts the connection down and waits for the loops to exit.
func (c *Client) Close() error {
	c.logger.Info("market-feed-closing")

	c.cancel()

	c.mu.RLock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.RUnlock()

	c.wg.Wait()
	close(c.messageChan)
	ActiveConnections.Set(0)

	return nil
}
