// Package sync routes decoded push events into the chat stores. It is
// the only writer that reacts to the socket stream, which keeps the
// stores free of transport concerns and makes replaying events in tests
// trivial.
package sync

import (
	"context"

	"go.uber.org/zap"

	"gomess/internal/bus"
	"gomess/internal/chat"
	"gomess/internal/socket"
	"gomess/internal/store"
)

// Engine handles idempotent ingestion of push events into the stores.
// It subscribes to "push." and "session." events on the bus.
type Engine struct {
	convos    *chat.Conversations
	timelines *chat.Timelines
	db        *store.DB
	bus       *bus.Bus
	logger    *zap.Logger
	cancel    context.CancelFunc
}

// NewEngine creates a new sync engine.
func NewEngine(convos *chat.Conversations, timelines *chat.Timelines, db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		convos:    convos,
		timelines: timelines,
		db:        db,
		bus:       b,
		logger:    logger,
	}
}

// Start subscribes to inbound push and session events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	pushCh, unsubPush := e.bus.Subscribe("push.", 256)
	sessCh, unsubSess := e.bus.Subscribe(bus.KindSessionCleared, 4)

	go func() {
		defer unsubPush()
		defer unsubSess()
		for {
			select {
			case evt := <-pushCh:
				e.handleEvent(ctx, evt)
			case <-sessCh:
				e.resetAll()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindPushNewMessage:
		p, ok := evt.Payload.(*socket.NewMessagePush)
		if !ok {
			return
		}
		e.ingestMessage(ctx, p)
	case bus.KindPushNewConvo, bus.KindPushNewGroup:
		conv, ok := evt.Payload.(*chat.Conversation)
		if !ok {
			return
		}
		e.convos.Upsert(conv)
		e.logger.Info("conversation added from push",
			zap.String("conversation_id", conv.ID),
			zap.String("type", string(conv.Kind)))
	case bus.KindPushMessageRead:
		p, ok := evt.Payload.(*socket.ReadReceiptPush)
		if !ok {
			return
		}
		e.convos.ApplyReadReceipt(p.ConversationID, p.SeenBy)
	}
}

// ingestMessage applies one pushed message to both stores. If the user
// is currently viewing the conversation the message lands in, it is
// marked read immediately so the unread badge never flashes.
func (e *Engine) ingestMessage(ctx context.Context, p *socket.NewMessagePush) {
	e.timelines.Append(ctx, p.Message)
	e.convos.ApplyIncomingMessage(p.Conversation, p.Message, p.UnreadCounts)

	if e.convos.Active() == p.Message.ConversationID && !p.Message.Own {
		e.convos.MarkAsRead(ctx, p.Message.ConversationID)
	}
}

// resetAll drops every store back to its empty state after the session
// is cleared. The next login starts from a clean slate.
func (e *Engine) resetAll() {
	e.convos.Reset()
	e.timelines.Reset()
	if e.db != nil {
		if err := e.db.Reset(); err != nil {
			e.logger.Error("failed to reset store", zap.Error(err))
		}
	}
	e.logger.Info("stores reset after session clear")
}
