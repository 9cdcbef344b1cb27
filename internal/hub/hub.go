// Package hub is the server side of the push channel. Clients connect over a
// websocket, join course or lesson groups, and receive events broadcast to
// those groups.
package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/UkralStul/lesson-qa-sync/internal/transport"
)

const sendBuffer = 32

var ErrUnauthorized = errors.New("unauthorized")

// Authenticator maps an access token to a user id.
type Authenticator func(token string) (userID string, err error)

type Options struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

func DefaultOptions() Options {
	return Options{
		PingInterval: 10 * time.Second,
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  60 * time.Second,
	}
}

type client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
	groups map[string]struct{}
}

// Hub tracks connected clients and their group memberships.
type Hub struct {
	mu sync.RWMutex
	//      map[group] map[clientID] client
	groups  map[string]map[string]*client
	clients map[string]*client

	upgrader     websocket.Upgrader
	authenticate Authenticator
	opts         Options
	logger       *slog.Logger
}

// New creates a hub. A nil authenticator accepts any token as the user id.
func New(authenticate Authenticator, opts Options, logger *slog.Logger) *Hub {
	if authenticate == nil {
		authenticate = func(token string) (string, error) { return token, nil }
	}
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaults.ReadTimeout
	}
	return &Hub{
		groups:  make(map[string]map[string]*client),
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		authenticate: authenticate,
		opts:         opts,
		logger:       logger.With("component", "hub"),
	}
}

func tokenFrom(r *http.Request) string {
	if t := r.URL.Query().Get("access_token"); t != "" {
		return t
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authenticate(tokenFrom(r))
	if err != nil {
		http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		groups: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.logger.Debug("Client connected", "client_id", c.id, "user_id", userID)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	for {
		c.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
		var msg transport.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != transport.MessageInvocation {
			continue
		}

		err := h.invoke(c, &msg)
		if msg.InvocationID == "" {
			continue
		}
		b, encErr := json.Marshal(transport.NewCompletion(msg.InvocationID, err))
		if encErr != nil {
			continue
		}
		select {
		case c.send <- b:
		case <-time.After(h.opts.WriteTimeout):
			h.logger.Warn("Dropping completion for slow client", "client_id", c.id)
		}
	}
}

func (h *Hub) invoke(c *client, msg *transport.Message) error {
	var group string
	if err := json.Unmarshal(msg.Payload(), &group); err != nil || group == "" {
		return fmt.Errorf("%s expects a group name", msg.Target)
	}

	switch msg.Target {
	case transport.MethodJoinGroup:
		h.join(c, group)
	case transport.MethodLeaveGroup:
		h.leave(c, group)
	default:
		return fmt.Errorf("unknown method %q", msg.Target)
	}
	return nil
}

func (h *Hub) join(c *client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.groups[group] == nil {
		h.groups[group] = make(map[string]*client)
	}
	h.groups[group][c.id] = c
	c.groups[group] = struct{}{}
}

func (h *Hub) leave(c *client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromGroup(c, group)
}

// removeFromGroup must be called with mu held.
func (h *Hub) removeFromGroup(c *client, group string) {
	delete(c.groups, group)
	if members, ok := h.groups[group]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	for group := range c.groups {
		h.removeFromGroup(c, group)
	}
	delete(h.clients, c.id)
	close(c.send)
	h.mu.Unlock()

	h.logger.Debug("Client disconnected", "client_id", c.id)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	ping, _ := json.Marshal(transport.Message{Type: transport.MessagePing})
	for {
		select {
		case b, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				return
			}
		}
	}
}

// Broadcast sends a named event to every member of a group. Clients that are
// not keeping up miss the event rather than blocking the caller.
func (h *Hub) Broadcast(group, event string, payload any) error {
	msg, err := transport.NewInvocation("", event, payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.groups[group] {
		select {
		case c.send <- b:
		default:
			h.logger.Warn("Client too slow, event dropped", "client_id", c.id, "event", event)
		}
	}
	return nil
}

// Members returns how many clients are in a group.
func (h *Hub) Members(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// DisconnectAll closes every client connection. Clients see a dropped
// connection and reconnect on their own.
func (h *Hub) DisconnectAll() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for _, c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}
