// Package relay keeps the client subscribed to its conversation channels
// and tracks the ephemeral push state that belongs to no store: the set
// of online users and the queue of incoming friend requests.
package relay

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"gomess/internal/bus"
	"gomess/internal/chat"
)

// Joiner subscribes the push connection to a conversation channel.
type Joiner interface {
	Join(conversationID string) error
}

// ConversationIndex lists the conversation ids to re-join after a
// reconnect.
type ConversationIndex interface {
	IDs() []string
}

// Relay joins conversation channels whenever the socket comes up or a
// conversation appears, and mirrors online-users and friend-request
// pushes into queryable state.
type Relay struct {
	joiner Joiner
	convos ConversationIndex
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc

	mu       sync.Mutex
	online   map[string]struct{}
	requests []*chat.FriendRequest
}

// New creates a relay.
func New(joiner Joiner, convos ConversationIndex, b *bus.Bus, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		joiner: joiner,
		convos: convos,
		bus:    b,
		logger: logger,
		online: map[string]struct{}{},
	}
}

// Start subscribes to socket lifecycle, conversation list and push events.
func (r *Relay) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	sockCh, unsubSock := r.bus.Subscribe("socket.", 16)
	chatCh, unsubChat := r.bus.Subscribe(bus.KindChatConvosLoaded, 16)
	pushCh, unsubPush := r.bus.Subscribe("push.", 256)

	go func() {
		defer unsubSock()
		defer unsubChat()
		defer unsubPush()
		for {
			select {
			case evt := <-sockCh:
				if evt.Kind == bus.KindSocketConnected {
					r.joinAll(r.convos.IDs())
				}
			case evt := <-chatCh:
				if ids, ok := evt.Payload.([]string); ok {
					r.joinAll(ids)
				}
			case evt := <-pushCh:
				r.handlePush(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the relay.
func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// IsOnline reports whether the given user is in the last pushed online
// set.
func (r *Relay) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.online[userID]
	return ok
}

// OnlineUsers returns the last pushed online set.
func (r *Relay) OnlineUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.online))
	for id := range r.online {
		ids = append(ids, id)
	}
	return ids
}

// Drain returns the queued friend requests in arrival order and empties
// the queue.
func (r *Relay) Drain() []*chat.FriendRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.requests
	r.requests = nil
	return out
}

// Pending returns how many friend requests are queued.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func (r *Relay) handlePush(evt bus.Event) {
	switch evt.Kind {
	case bus.KindPushNewConvo, bus.KindPushNewGroup:
		conv, ok := evt.Payload.(*chat.Conversation)
		if !ok {
			return
		}
		r.join(conv.ID)
	case bus.KindPushOnlineUsers:
		ids, ok := evt.Payload.([]string)
		if !ok {
			return
		}
		// Wholesale replacement: the server pushes the complete set
		// every time, there is no delta protocol.
		next := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			next[id] = struct{}{}
		}
		r.mu.Lock()
		r.online = next
		r.mu.Unlock()
	case bus.KindPushFriendRequest:
		req, ok := evt.Payload.(*chat.FriendRequest)
		if !ok {
			return
		}
		r.mu.Lock()
		r.requests = append(r.requests, req)
		r.mu.Unlock()
		r.logger.Info("friend request queued", zap.String("sender_id", req.SenderID))
	}
}

func (r *Relay) joinAll(ids []string) {
	for _, id := range ids {
		r.join(id)
	}
}

// join is best effort. A failed join means the socket dropped again; the
// next socket.connected event retries every channel.
func (r *Relay) join(conversationID string) {
	if conversationID == "" {
		return
	}
	if err := r.joiner.Join(conversationID); err != nil {
		r.logger.Warn("failed to join conversation channel",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
}
