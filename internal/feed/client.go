// ABOUTME: Reconnecting live feed client scoped to one seller account at a time
// ABOUTME: Owns the heartbeat ticker and the reconnect timer and cancels both together

package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Defaults for Options.
const (
	DefaultReconnectDelay    = 3 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultDialTimeout       = 10 * time.Second

	writeTimeout = 10 * time.Second
)

// ErrNotConnected is returned when sending while no connection is open.
var ErrNotConnected = errors.New("feed not connected")

// State is the connection state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Options configures a Client.
type Options struct {
	// BaseURL is the ws:// or wss:// origin; /ws/chat is appended.
	BaseURL string
	Token   string
	// DisableReconnect stops the client from redialing after a drop.
	DisableReconnect  bool
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
	Logger            *slog.Logger
	Dialer            Dialer
}

func (o *Options) defaults() {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Dialer == nil {
		o.Dialer = WebSocketDialer{}
	}
}

// Client keeps at most one feed connection open. Connect replaces any current
// connection; a dropped connection is redialed after a fixed delay for as long
// as reconnecting is enabled.
//
// After Close the client is stopped: every later call is a no-op and no
// observable state changes.
type Client struct {
	opts    Options
	logger  *slog.Logger
	handler Handler

	mu        sync.Mutex
	stopped   bool
	state     State
	lastErr   string
	accountID string
	conn      Conn
	// gen identifies the current connection attempt. Callbacks from older
	// attempts compare their gen and bail out.
	gen       uint64
	cancel    context.CancelFunc
	reconnect *time.Timer
}

// New creates a client that delivers inbound events to handler.
func New(opts Options, handler Handler) *Client {
	opts.defaults()
	if handler == nil {
		handler = func(Event) {}
	}
	return &Client{
		opts:    opts,
		logger:  opts.Logger.With("component", "feed"),
		handler: handler,
	}
}

// Connect opens a connection scoped to accountID, or the global feed when
// accountID is empty. Any existing connection and pending reconnect are torn
// down first. The dial happens in the background.
func (c *Client) Connect(accountID string) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	old := c.teardownLocked()
	c.connectLocked(accountID)
	c.mu.Unlock()

	closeConn(old)
}

// Disconnect cancels a pending reconnect, stops the heartbeat and closes the
// connection. Safe to call at any time and more than once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	old := c.teardownLocked()
	c.gen++
	c.state = StateDisconnected
	c.mu.Unlock()

	closeConn(old)
}

// Close stops the client for good.
func (c *Client) Close() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	old := c.teardownLocked()
	c.gen++
	c.mu.Unlock()

	closeConn(old)
}

// Connected reports whether a connection is open.
func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return StateDisconnected
	}
	return c.state
}

// LastError returns the most recent transport error, or "" once a connection
// opens successfully.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// AccountID returns the scope of the current or most recent connection.
func (c *Client) AccountID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accountID
}

// Send writes v as a JSON frame if a connection is open. It never queues.
func (c *Client) Send(v any) bool {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.SendContext(ctx, v) == nil
}

// SendContext is Send with a caller deadline and the failure reason.
func (c *Client) SendContext(ctx context.Context, v any) error {
	c.mu.Lock()
	conn, gen := c.conn, c.gen
	open := !c.stopped && c.state == StateConnected && conn != nil
	c.mu.Unlock()
	if !open {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	if err := conn.Write(ctx, data); err != nil {
		c.recordError(gen, err)
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// connectLocked starts a new attempt. Must be called with mu held and after
// teardownLocked.
func (c *Client) connectLocked(accountID string) {
	c.accountID = accountID
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = StateConnecting

	go c.run(ctx, gen, accountID)
}

// teardownLocked stops the reconnect timer and the current connection's
// goroutines, returning the connection for the caller to close outside the
// lock.
func (c *Client) teardownLocked() Conn {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	return conn
}

func closeConn(conn Conn) {
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) run(ctx context.Context, gen uint64, accountID string) {
	dialCtx, cancelDial := context.WithTimeout(ctx, c.opts.DialTimeout)
	conn, err := c.opts.Dialer.Dial(dialCtx, c.feedURL(accountID), c.header())
	cancelDial()
	if err != nil {
		c.logger.Warn("feed dial failed", "account_id", accountID, "error", err)
		c.handleClose(gen, err)
		return
	}

	c.mu.Lock()
	if c.stopped || gen != c.gen {
		c.mu.Unlock()
		closeConn(conn)
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.lastErr = ""
	c.mu.Unlock()

	c.logger.Info("feed connected", "account_id", accountID)

	go c.heartbeat(ctx, gen)
	c.readLoop(ctx, gen, conn)
}

func (c *Client) readLoop(ctx context.Context, gen uint64, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			c.handleClose(gen, err)
			return
		}

		var hdr frameHeader
		if err := json.Unmarshal(data, &hdr); err != nil || hdr.Type == "" {
			c.logger.Warn("dropping malformed feed frame", "bytes", len(data), "error", err)
			continue
		}
		if hdr.Type == TypePong {
			continue
		}

		ev, err := decodeEvent(data)
		if err != nil {
			c.logger.Warn("dropping malformed feed frame", "type", hdr.Type, "error", err)
			continue
		}
		if !c.current(gen) {
			return
		}
		c.handler(ev)
	}
}

func (c *Client) heartbeat(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.current(gen) {
				return
			}
			if err := c.SendContext(ctx, frameHeader{Type: TypePing}); err != nil {
				c.logger.Debug("heartbeat ping failed", "error", err)
			}
		}
	}
}

// handleClose runs when attempt gen ends, whether the dial failed or the
// connection dropped.
func (c *Client) handleClose(gen uint64, err error) {
	c.mu.Lock()
	if c.stopped || gen != c.gen {
		c.mu.Unlock()
		return
	}

	status := websocket.CloseStatus(err)
	if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
		c.lastErr = err.Error()
	}
	old := c.teardownLocked()
	c.state = StateDisconnected
	accountID := c.accountID

	if !c.opts.DisableReconnect {
		c.scheduleReconnectLocked(gen)
	}
	c.mu.Unlock()

	closeConn(old)
	c.logger.Info("feed disconnected", "account_id", accountID, "close_status", int(status), "error", err)
}

// scheduleReconnectLocked arms the single reconnect timer for attempt gen.
func (c *Client) scheduleReconnectLocked(gen uint64) {
	if c.reconnect != nil {
		return
	}
	delay := c.opts.ReconnectDelay
	c.reconnect = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.stopped || gen != c.gen {
			return
		}
		c.reconnect = nil
		c.logger.Debug("feed reconnecting", "account_id", c.accountID, "delay", delay)
		c.connectLocked(c.accountID)
	})
}

func (c *Client) recordError(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || gen != c.gen {
		return
	}
	c.lastErr = err.Error()
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.stopped && gen == c.gen
}

func (c *Client) feedURL(accountID string) string {
	base := strings.TrimSuffix(c.opts.BaseURL, "/") + "/ws/chat"
	if accountID != "" {
		base += "/" + url.PathEscape(accountID)
	}
	return base
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if c.opts.Token != "" {
		h.Set("Authorization", "Bearer "+c.opts.Token)
	}
	return h
}
