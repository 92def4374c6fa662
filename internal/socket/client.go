// Package socket maintains the persistent push connection to the GoMess
// backend. It decodes wire frames into typed events on the bus and drives
// the connectivity state machine; it never touches the chat stores
// directly.
package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gomess/internal/bus"
	"gomess/internal/chat"
	"gomess/internal/status"
)

const (
	writeWait = 10 * time.Second
	// pongWait must exceed the ping interval or healthy connections get
	// reaped between pings.
	pongWait = 75 * time.Second
)

// TokenSource supplies the bearer token for the socket handshake.
type TokenSource interface {
	Token() string
}

// Options configures the client.
type Options struct {
	URL          string
	PingInterval time.Duration
	// ReconnectMax caps the backoff between reconnect attempts.
	ReconnectMax time.Duration
}

// Client owns the websocket connection lifecycle: dial, read, keepalive,
// reconnect with backoff. Inbound frames become push.* bus events; the
// only outbound frame is join-conversation.
type Client struct {
	opts    Options
	creds   TokenSource
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	running bool
}

// New creates a socket client.
func New(opts Options, creds TokenSource, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Client {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		opts:    opts,
		creds:   creds,
		bus:     b,
		machine: machine,
		logger:  logger,
	}
}

// Start runs the connect/read/reconnect loop until the context is
// cancelled or Stop is called. Starting an already-running client is a
// no-op; a stopped client may be started again (logout then login).
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go c.run(ctx)
}

// Stop tears the connection down. Safe to call when not running.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.running = false
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
}

func (c *Client) run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = c.opts.ReconnectMax
	b.MaxElapsedTime = 0 // reconnect forever

	for ctx.Err() == nil {
		conn, err := c.dial(ctx)
		if err != nil {
			wait := b.NextBackOff()
			c.logger.Warn("socket dial failed", zap.Error(err), zap.Duration("retry_in", wait))
			_ = c.machine.Transition(status.Offline)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return
			}
		}
		b.Reset()

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		_ = c.machine.Transition(status.Online)
		c.bus.Emit(bus.KindSocketConnected, nil)
		c.logger.Info("socket connected")

		pingCtx, stopPing := context.WithCancel(ctx)
		go c.pingLoop(pingCtx, conn)
		c.readLoop(conn)
		stopPing()

		c.mu.Lock()
		// A restarted loop may already own a newer connection.
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("socket disconnected")
		_ = c.machine.Transition(status.Offline)
		c.bus.Emit(bus.KindSocketDisconnected, nil)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	_ = c.machine.Transition(status.Connecting)
	header := http.Header{}
	if token := c.creds.Token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func (c *Client) readLoop(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleFrame(data)
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Join emits join-conversation for the given conversation. Safe to call
// for an already-joined channel; the server treats it as a no-op.
func (c *Client) Join(conversationID string) error {
	payload, err := json.Marshal(frame{
		Event: evtJoinConversation,
		Data:  mustJSON(joinPayload{ConversationID: conversationID}),
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// handleFrame decodes one wire frame and publishes the typed event. A
// malformed or partial payload drops the whole frame; nothing is ever
// partially applied.
func (c *Client) handleFrame(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Warn("dropping undecodable frame", zap.Error(err))
		return
	}

	switch f.Event {
	case evtNewMessage:
		var p NewMessagePush
		if err := json.Unmarshal(f.Data, &p); err != nil || p.Message == nil || p.Message.ID == "" || p.Message.ConversationID == "" {
			c.logger.Warn("dropping malformed new-message frame", zap.Error(err))
			return
		}
		c.bus.Emit(bus.KindPushNewMessage, &p)
	case evtNewConversation, evtNewGroup:
		var conv chat.Conversation
		if err := json.Unmarshal(f.Data, &conv); err != nil || conv.ID == "" {
			c.logger.Warn("dropping malformed conversation frame", zap.String("event", f.Event), zap.Error(err))
			return
		}
		kind := bus.KindPushNewConvo
		if f.Event == evtNewGroup {
			kind = bus.KindPushNewGroup
		}
		c.bus.Emit(kind, &conv)
	case evtNewFriendRequest:
		var req chat.FriendRequest
		if err := json.Unmarshal(f.Data, &req); err != nil {
			c.logger.Warn("dropping malformed friend-request frame", zap.Error(err))
			return
		}
		c.bus.Emit(bus.KindPushFriendRequest, &req)
	case evtMessageRead:
		var p ReadReceiptPush
		if err := json.Unmarshal(f.Data, &p); err != nil || p.ConversationID == "" {
			c.logger.Warn("dropping malformed message-read frame", zap.Error(err))
			return
		}
		c.bus.Emit(bus.KindPushMessageRead, &p)
	case evtOnlineUsers:
		var ids []string
		if err := json.Unmarshal(f.Data, &ids); err != nil {
			c.logger.Warn("dropping malformed online-users frame", zap.Error(err))
			return
		}
		c.bus.Emit(bus.KindPushOnlineUsers, ids)
	default:
		c.logger.Debug("ignoring unknown push event", zap.String("event", f.Event))
	}
}

func mustJSON(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
