package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"token-ledger/internal/api"
	"token-ledger/internal/domain"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// RequestTimeout bounds the wait for a subscribe or unsubscribe reply.
	RequestTimeout time.Duration
	// Logger receives connection errors. Defaults to discard.
	Logger *log.Logger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		RequestTimeout:    30 * time.Second,
	}
}

// subscription is a client-side subscription that survives reconnects.
type subscription struct {
	filter  api.SubscribeParams
	ch      chan *domain.Event
	lastSeq uint64
}

// pendingRequest waits for one response. onResult runs on the read loop
// before any later message is handled.
type pendingRequest struct {
	ch       chan *api.Response
	onResult func(result json.RawMessage)
}

// WSClient streams committed events from the ledger feed.
type WSClient struct {
	endpoint string
	config   WSClientConfig
	logger   *log.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs maps the server subscription ID to its subscription
	subs   map[uint64]*subscription
	subsMu sync.RWMutex

	// pending maps request ID to the request waiting for its response
	pending   map[uint64]*pendingRequest
	pendingMu sync.Mutex

	// done signals shutdown
	done chan struct{}
	wg   sync.WaitGroup

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool
}

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClient, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultWSConfig().RequestTimeout
	}

	c := &WSClient{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		subs:     make(map[uint64]*subscription),
		pending:  make(map[uint64]*pendingRequest),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	// Start reader goroutine
	c.wg.Add(1)
	go c.readLoop()

	// Start ping goroutine
	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// connect establishes WebSocket connection.
func (c *WSClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// Subscribe streams events matching filter. The channel is closed when the
// client closes. After a reconnect the subscription is renewed and events
// already delivered are not repeated; events committed while disconnected
// are not replayed and can be fetched with HTTPClient.Events.
func (c *WSClient) Subscribe(ctx context.Context, filter api.SubscribeParams) (<-chan *domain.Event, error) {
	// Buffer absorbs bursts; delivery blocks rather than drops.
	sub := &subscription{filter: filter, ch: make(chan *domain.Event, 1024)}

	raw, err := c.request(ctx, "eventsSubscribe", filter, func(result json.RawMessage) {
		c.register(result, 0, sub)
	})
	if err != nil {
		return nil, err
	}
	if _, err := decodeSubID(raw); err != nil {
		return nil, err
	}
	return sub.ch, nil
}

func decodeSubID(raw json.RawMessage) (uint64, error) {
	var id uint64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, fmt.Errorf("decode subscription id: %w", err)
	}
	return id, nil
}

// register maps the server subscription ID in result to sub, replacing
// oldID when non-zero.
func (c *WSClient) register(result json.RawMessage, oldID uint64, sub *subscription) {
	id, err := decodeSubID(result)
	if err != nil {
		return
	}
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if oldID != 0 {
		delete(c.subs, oldID)
	}
	c.subs[id] = sub
}

// request sends one JSON-RPC request and waits for its response.
func (c *WSClient) request(ctx context.Context, method string, params any, onResult func(json.RawMessage)) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("client closed")
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	reqID := c.requestID.Add(1)
	req := api.Request{JSONRPC: "2.0", ID: reqID, Method: method, Params: raw}

	// Create channel to receive the response
	respCh := make(chan *api.Response, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = &pendingRequest{ch: respCh, onResult: onResult}
	c.pendingMu.Unlock()
	forget := func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		forget()
		return nil, fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err = c.conn.WriteJSON(req)
	c.connMu.Unlock()

	if err != nil {
		forget()
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, fmt.Errorf("client closed")
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-time.After(c.config.RequestTimeout):
		forget()
		return nil, fmt.Errorf("%s timeout after %s", method, c.config.RequestTimeout)
	case <-c.done:
		return nil, fmt.Errorf("client closed")
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	}
}

// Close closes the WebSocket connection.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()

	// Close all subscription channels
	c.subsMu.Lock()
	for id, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, id)
	}
	c.subsMu.Unlock()

	// Close pending request channels
	c.pendingMu.Lock()
	for id, p := range c.pending {
		close(p.ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	return nil
}

// readLoop reads messages from WebSocket and dispatches to subscribers.
func (c *WSClient) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			// A failed reconnect leaves no connection; try again.
			if !c.reconnecting.Swap(true) {
				go c.reconnect(nil, reconnectDelay)
				reconnectDelay = c.backoff(reconnectDelay)
			}
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			// Connection error - attempt reconnect with exponential backoff
			if !c.reconnecting.Swap(true) {
				c.logger.Printf("ws read: %v, reconnecting in %s", err, reconnectDelay)
				go c.reconnect(conn, reconnectDelay)
			}

			reconnectDelay = c.backoff(reconnectDelay)

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

// backoff doubles delay up to MaxReconnectDelay.
func (c *WSClient) backoff(delay time.Duration) time.Duration {
	delay *= 2
	if delay > c.config.MaxReconnectDelay {
		delay = c.config.MaxReconnectDelay
	}
	return delay
}

// reconnect replaces the failed connection and resubscribes.
func (c *WSClient) reconnect(failed *websocket.Conn, delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil && c.conn != failed {
		// Already replaced.
		c.connMu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		// Reconnect failed, will retry on next read error
		c.logger.Printf("ws reconnect: %v", err)
		return
	}
	if c.closed.Load() {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.resubscribeAll()
	}()
}

// resubscribeAll renews every active subscription on the new connection.
func (c *WSClient) resubscribeAll() {
	c.subsMu.RLock()
	old := make(map[uint64]*subscription, len(c.subs))
	for id, sub := range c.subs {
		old[id] = sub
	}
	c.subsMu.RUnlock()

	for oldID, sub := range old {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := c.request(ctx, "eventsSubscribe", sub.filter, func(result json.RawMessage) {
			c.register(result, oldID, sub)
		})
		cancel()
		if err != nil {
			// Keep old mapping, retried on the next reconnect
			c.logger.Printf("ws resubscribe %d: %v", oldID, err)
		}
	}
}

// handleMessage processes incoming WebSocket message.
func (c *WSClient) handleMessage(message []byte) {
	var probe struct {
		ID     uint64 `json:"id"`
		Method string `json:"method"`
	}
	if err := json.Unmarshal(message, &probe); err != nil {
		c.logger.Printf("ws decode: %v", err)
		return
	}

	if probe.Method == api.NotificationMethod {
		var notif api.Notification
		if err := json.Unmarshal(message, &notif); err == nil {
			c.handleNotification(&notif)
		}
		return
	}

	var resp api.Response
	if err := json.Unmarshal(message, &resp); err != nil {
		return
	}
	c.pendingMu.Lock()
	p, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.pendingMu.Unlock()

	if ok {
		if resp.Error == nil && p.onResult != nil {
			p.onResult(resp.Result)
		}
		p.ch <- &resp
	} else if resp.Error != nil {
		c.logger.Printf("ws error response: %v", resp.Error)
	}
}

// handleNotification dispatches an event to its subscriber.
func (c *WSClient) handleNotification(notif *api.Notification) {
	if notif.Params == nil || notif.Params.Result == nil {
		return
	}

	c.subsMu.RLock()
	sub, ok := c.subs[notif.Params.Subscription]
	c.subsMu.RUnlock()
	if !ok {
		return
	}

	event, err := notif.Params.Result.Domain()
	if err != nil {
		c.logger.Printf("ws decode event: %v", err)
		return
	}
	if event.Seq <= sub.lastSeq {
		return
	}
	sub.lastSeq = event.Seq

	// Block until we can send - never drop events
	select {
	case sub.ch <- event:
	case <-c.done:
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// A dead connection surfaces as a read error and reconnects.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}
