// Package transport is the client side of the push channel: a websocket that
// reconnects on its own, joins named groups and dispatches named events.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/gorilla/websocket"
)

var (
	ErrClosed       = errors.New("push channel closed")
	ErrDisconnected = errors.New("push channel disconnected")
)

// Handler receives the payload of one push event.
type Handler func(payload json.RawMessage)

type Settings struct {
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	PingInterval      time.Duration
	InvokeTimeout     time.Duration
	ReconnectAttempts uint
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
}

func DefaultSettings() *Settings {
	return &Settings{
		HandshakeTimeout:  5 * time.Second,
		WriteTimeout:      5 * time.Second,
		ReadTimeout:       30 * time.Second,
		PingInterval:      10 * time.Second,
		InvokeTimeout:     10 * time.Second,
		ReconnectAttempts: 20,
		ReconnectDelay:    500 * time.Millisecond,
		ReconnectMaxDelay: 30 * time.Second,
	}
}

// Channel is a persistent push connection. Reconnects are invisible to
// callers: handlers stay registered and joined groups are joined again.
type Channel struct {
	ctx    context.Context
	cancel context.CancelFunc

	endpoint string
	token    string
	settings *Settings
	dialer   *websocket.Dialer
	logger   *slog.Logger

	mu             sync.Mutex
	ws             *websocket.Conn
	handlers       map[string][]Handler
	groups         map[string]struct{}
	pending        map[string]chan error
	nextInvocation uint64

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// Connect dials endpoint and keeps the connection alive until Close. Only the
// first dial is reported; later drops are retried in the background.
func Connect(ctx context.Context, endpoint, token string, settings *Settings, logger *slog.Logger) (*Channel, error) {
	if settings == nil {
		settings = DefaultSettings()
	}
	if logger == nil {
		logger = slog.Default()
	}
	cancelCtx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		ctx:      cancelCtx,
		cancel:   cancel,
		endpoint: endpoint,
		token:    token,
		settings: settings,
		dialer:   &websocket.Dialer{HandshakeTimeout: settings.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		logger:   logger.With("component", "transport"),
		handlers: make(map[string][]Handler),
		groups:   make(map[string]struct{}),
		pending:  make(map[string]chan error),
		done:     make(chan struct{}),
	}

	ws, err := c.dial(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connect %s: %w", endpoint, err)
	}
	c.ws = ws
	go c.run(ws)
	return c, nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("parse endpoint: %w", err))
	}
	header := http.Header{}
	if c.token != "" {
		q := u.Query()
		q.Set("access_token", c.token)
		u.RawQuery = q.Encode()
		header.Set("Authorization", "Bearer "+c.token)
	}

	ws, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, retry.Unrecoverable(fmt.Errorf("handshake rejected with %d: %w", resp.StatusCode, err))
		}
		return nil, err
	}
	return ws, nil
}

func (c *Channel) run(ws *websocket.Conn) {
	defer close(c.done)

	for {
		c.serve(ws)
		c.drop(ws)
		if c.ctx.Err() != nil {
			return
		}

		c.logger.Warn("Push channel dropped, reconnecting", "endpoint", c.endpoint)
		next, err := c.reconnect()
		if err != nil {
			c.logger.Warn("Push channel gave up reconnecting", "endpoint", c.endpoint, "error", err)
			return
		}

		c.mu.Lock()
		if c.ctx.Err() != nil {
			c.mu.Unlock()
			next.Close()
			return
		}
		c.ws = next
		c.mu.Unlock()

		go c.rejoin()
		ws = next
	}
}

func (c *Channel) reconnect() (*websocket.Conn, error) {
	var next *websocket.Conn
	err := retry.Do(
		func() error {
			ws, err := c.dial(c.ctx)
			if err != nil {
				return err
			}
			next = ws
			return nil
		},
		retry.Attempts(c.settings.ReconnectAttempts),
		retry.Delay(c.settings.ReconnectDelay),
		retry.MaxDelay(c.settings.ReconnectMaxDelay),
		retry.Context(c.ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("Reconnect attempt failed", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (c *Channel) rejoin() {
	c.mu.Lock()
	groups := make([]string, 0, len(c.groups))
	for g := range c.groups {
		groups = append(groups, g)
	}
	c.mu.Unlock()

	for _, g := range groups {
		if err := c.Invoke(c.ctx, MethodJoinGroup, g); err != nil {
			c.logger.Warn("Rejoin failed", "group", g, "error", err)
		}
	}
}

// serve reads frames until the connection fails or the channel is closed.
func (c *Channel) serve(ws *websocket.Conn) {
	serveCtx, serveCancel := context.WithCancel(c.ctx)
	defer serveCancel()

	go func() {
		ticker := time.NewTicker(c.settings.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-serveCtx.Done():
				return
			case <-ticker.C:
				if err := c.write(ws, &Message{Type: MessagePing}); err != nil {
					c.logger.Debug("Ping failed", "error", err)
					ws.Close()
					return
				}
			}
		}
	}()

	for {
		ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			if c.ctx.Err() == nil {
				c.logger.Debug("Read failed", "error", err)
			}
			return
		}

		switch msg.Type {
		case MessageInvocation:
			c.dispatch(msg.Target, msg.Payload())
		case MessageCompletion:
			c.complete(msg.InvocationID, msg.Error)
		case MessagePing:
		default:
			c.logger.Debug("Ignoring frame", "type", msg.Type)
		}
	}
}

func (c *Channel) drop(ws *websocket.Conn) {
	ws.Close()

	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	pending := c.pending
	c.pending = make(map[string]chan error)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- ErrDisconnected
	}
}

func (c *Channel) dispatch(event string, payload json.RawMessage) {
	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[event]...)
	c.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("Push handler panicked", "event", event, "panic", r)
				}
			}()
			h(payload)
		}()
	}
}

func (c *Channel) complete(invocationID, errMessage string) {
	c.mu.Lock()
	ch, ok := c.pending[invocationID]
	delete(c.pending, invocationID)
	c.mu.Unlock()
	if !ok {
		return
	}
	if errMessage != "" {
		ch <- errors.New(errMessage)
		return
	}
	ch <- nil
}

func (c *Channel) write(ws *websocket.Conn, msg *Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
	return ws.WriteJSON(msg)
}

// On registers a handler for a named event. Every handler registered for an
// event runs, in registration order, on the channel's read loop.
func (c *Channel) On(event string, handler func(payload json.RawMessage)) {
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], handler)
	c.mu.Unlock()
}

// Invoke calls a hub method and waits for its completion.
func (c *Channel) Invoke(ctx context.Context, method string, args ...any) error {
	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return ErrClosed
	}
	ws := c.ws
	if ws == nil {
		c.mu.Unlock()
		return ErrDisconnected
	}
	c.nextInvocation++
	id := strconv.FormatUint(c.nextInvocation, 10)
	result := make(chan error, 1)
	c.pending[id] = result
	c.mu.Unlock()

	msg, err := NewInvocation(id, method, args...)
	if err == nil {
		err = c.write(ws, msg)
	}
	if err != nil {
		c.forget(id)
		return fmt.Errorf("invoke %s: %w", method, err)
	}

	timer := time.NewTimer(c.settings.InvokeTimeout)
	defer timer.Stop()

	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("invoke %s: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	case <-c.ctx.Done():
		c.forget(id)
		return ErrClosed
	case <-timer.C:
		c.forget(id)
		return fmt.Errorf("invoke %s: timed out after %s", method, c.settings.InvokeTimeout)
	}
}

func (c *Channel) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// JoinGroup subscribes to a group. The membership is remembered and restored
// after reconnects even if this call fails.
func (c *Channel) JoinGroup(ctx context.Context, group string) error {
	c.mu.Lock()
	c.groups[group] = struct{}{}
	c.mu.Unlock()

	return c.Invoke(ctx, MethodJoinGroup, group)
}

// LeaveGroup unsubscribes from a group. Leaving a group that was never joined,
// or over a connection that is already gone, succeeds.
func (c *Channel) LeaveGroup(ctx context.Context, group string) error {
	c.mu.Lock()
	_, joined := c.groups[group]
	delete(c.groups, group)
	c.mu.Unlock()
	if !joined {
		return nil
	}

	err := c.Invoke(ctx, MethodLeaveGroup, group)
	if errors.Is(err, ErrClosed) || errors.Is(err, ErrDisconnected) {
		return nil
	}
	return err
}

// Connected reports whether a live connection is established right now.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// Close tears the channel down. It is safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.cancel()
		ws := c.ws
		c.mu.Unlock()

		if ws != nil {
			c.writeMu.Lock()
			ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
			ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.writeMu.Unlock()
			ws.Close()
		}
	})
	return nil
}

// Done is closed once the channel stops for good, either after Close or after
// reconnection gave up.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}
