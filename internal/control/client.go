package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/crosspost-dev/crosspost/internal/events"
	"github.com/crosspost-dev/crosspost/pkg/logger"
)

const (
	// Reconnect backoff starts here and doubles per failed attempt.
	reconnectInitialDelay = 1 * time.Second

	// reconnectMaxDelay is the backoff ceiling.
	reconnectMaxDelay = 30 * time.Second

	heartbeatInterval = 30 * time.Second
	callTimeout       = 15 * time.Minute
)

// ErrClientDisabled is returned by Call while the client is disabled.
var ErrClientDisabled = errors.New("control client disabled")

// EventHandler receives events pushed by the server.
type EventHandler func(events.Event)

// Client maintains one control connection and transparently reconnects
// when it drops. Disable cancels any pending reconnect timer; Enable
// starts connecting again from the initial backoff.
type Client struct {
	url     string
	token   string
	onEvent EventHandler
	log     *logger.Logger

	// writeMu serializes frame writes; the websocket package allows only
	// one concurrent writer per connection.
	writeMu sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	enabled  bool
	delay    time.Duration
	retry    *time.Timer
	pending  map[string]chan Response
	connGen  int
	stopPing chan struct{}
}

// NewClient creates a disabled client; call Enable to connect.
func NewClient(url, token string, onEvent EventHandler, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		url:     url,
		token:   token,
		onEvent: onEvent,
		log:     log,
		delay:   reconnectInitialDelay,
		pending: make(map[string]chan Response),
	}
}

// Enable starts the connection loop. Safe to call repeatedly.
func (c *Client) Enable() {
	c.mu.Lock()
	if c.enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = true
	c.delay = reconnectInitialDelay
	c.mu.Unlock()

	go c.connect()
}

// Disable tears the connection down and cancels any pending reconnect.
func (c *Client) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = false
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.closeConnLocked()
}

// Connected reports whether a live connection exists.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) connect() {
	c.mu.Lock()
	if !c.enabled || c.conn != nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		c.log.WithError(err).Warn("control dial failed")
		c.scheduleReconnect()
		return
	}

	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.delay = reconnectInitialDelay
	c.connGen++
	gen := c.connGen
	c.stopPing = make(chan struct{})
	stop := c.stopPing
	c.mu.Unlock()

	c.log.WithField("url", c.url).Info("control channel connected")
	go c.readLoop(conn, gen)
	go c.heartbeat(conn, stop)
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return
	}
	delay := c.delay
	c.delay *= 2
	if c.delay > reconnectMaxDelay {
		c.delay = reconnectMaxDelay
	}
	c.retry = time.AfterFunc(delay, c.connect)
}

func (c *Client) readLoop(conn *websocket.Conn, gen int) {
	for {
		var resp Response
		if err := conn.ReadJSON(&resp); err != nil {
			c.dropConn(gen)
			return
		}

		if resp.Event != nil {
			c.deliverEvent(resp.Event)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) deliverEvent(raw any) {
	if c.onEvent == nil {
		return
	}
	// Events round-trip through the envelope as generic JSON.
	buf, err := json.Marshal(raw)
	if err != nil {
		return
	}
	var ev events.Event
	if err := json.Unmarshal(buf, &ev); err != nil {
		return
	}
	c.onEvent(ev)
}

// dropConn clears the connection for generation gen, fails pending calls,
// and schedules a reconnect. A stale generation is ignored.
func (c *Client) dropConn(gen int) {
	c.mu.Lock()
	if c.connGen != gen || c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.closeConnLocked()
	enabled := c.enabled
	c.mu.Unlock()

	if enabled {
		c.log.Warn("control connection lost, reconnecting")
		c.scheduleReconnect()
	}
}

func (c *Client) closeConnLocked() {
	if c.stopPing != nil {
		close(c.stopPing)
		c.stopPing = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) heartbeat(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeJSON(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// Call sends one request and waits for its response. The result is decoded
// into result when non-nil. Safe for concurrent use.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return ErrClientDisabled
	}
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return errors.New("control channel not connected")
	}

	req := Request{ID: uuid.NewString(), Method: method, Token: c.token}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("encode params: %w", err)
		}
		req.Params = raw
	}

	ch := make(chan Response, 1)
	c.pending[req.ID] = ch
	c.mu.Unlock()

	if err := c.writeJSON(conn, req); err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return fmt.Errorf("send %s: %w", method, err)
	}

	timer := time.NewTimer(callTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return ctx.Err()
	case <-timer.C:
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return fmt.Errorf("%s: timed out", method)
	case resp, ok := <-ch:
		if !ok {
			return errors.New("connection lost before response")
		}
		if resp.Error != nil {
			return fmt.Errorf("%s: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
		}
		if result == nil {
			return nil
		}
		raw, err := json.Marshal(resp.Result)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, result)
	}
}
