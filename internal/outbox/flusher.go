// Package outbox buffers sends composed while offline and replays them in
// order when connectivity returns.
package outbox

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"gomess/internal/bus"
	"gomess/internal/chat"
	"gomess/internal/rest"
	"gomess/internal/status"
	"gomess/internal/store"
)

// MessageSender is the slice of the REST client the flusher sends through.
type MessageSender interface {
	SendDirectMessage(ctx context.Context, recipientID, content string, file *rest.Upload) (*chat.Message, error)
	SendGroupMessage(ctx context.Context, conversationID, content string, file *rest.Upload) (*chat.Message, error)
}

// TimelineReconciler swaps a provisional timeline entry for its confirmed
// counterpart once the replayed send lands.
type TimelineReconciler interface {
	ReplaceProvisional(conversationID, tempID string, confirmed *chat.Message)
}

// Flusher drains the persisted outbox on every offline→online transition.
// A single flush pass runs at a time; entries replay in FIFO order with
// at-most-once semantics per restoration: each entry is deleted from the
// queue before its send attempt, and a failed attempt is not re-queued.
type Flusher struct {
	db        *store.DB
	sender    MessageSender
	timelines TimelineReconciler
	bus       *bus.Bus
	logger    *zap.Logger

	flushing atomic.Bool
	cancel   context.CancelFunc
}

// NewFlusher creates an outbox flusher.
func NewFlusher(db *store.DB, sender MessageSender, timelines TimelineReconciler, b *bus.Bus, logger *zap.Logger) *Flusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flusher{
		db:        db,
		sender:    sender,
		timelines: timelines,
		bus:       b,
		logger:    logger,
	}
}

// Enqueue appends an offline-composed send to the persisted queue. The
// caller has already placed the matching provisional message in the
// timeline under entry.ClientMsgID.
func (f *Flusher) Enqueue(e *store.OutboxEntry) error {
	return f.db.QueueOutbox(e)
}

// Start subscribes to connectivity transitions and flushes on each
// offline→online edge.
func (f *Flusher) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	ch, unsub := f.bus.Subscribe(bus.KindStatusChanged, 16)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				change, ok := evt.Payload.(status.StatusChange)
				if !ok || change.To != status.Online {
					continue
				}
				f.Flush(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the flusher.
func (f *Flusher) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
}

// Flush replays all queued entries once. A second trigger while a pass is
// in progress performs zero sends.
func (f *Flusher) Flush(ctx context.Context) {
	if !f.flushing.CompareAndSwap(false, true) {
		return
	}
	defer f.flushing.Store(false)

	entries, err := f.db.PendingOutbox()
	if err != nil {
		f.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	sent := 0
	for i := range entries {
		entry := &entries[i]

		// Delete before attempting: an interrupted attempt must not replay
		// the same entry on the next restoration.
		if err := f.db.DeleteOutbox(entry.ClientMsgID); err != nil {
			f.logger.Error("failed to dequeue outbox entry",
				zap.String("client_msg_id", entry.ClientMsgID), zap.Error(err))
			continue
		}

		confirmed, err := f.send(ctx, entry)
		if err != nil {
			// Dropped, not retried: the provisional message stays pending
			// until the user retries by hand.
			f.logger.Error("outbox send failed",
				zap.String("client_msg_id", entry.ClientMsgID), zap.Error(err))
			f.bus.Emit(bus.KindOutboxSendFailed, entry.ClientMsgID)
			continue
		}

		f.timelines.ReplaceProvisional(entry.ConversationID, entry.ClientMsgID, confirmed)
		sent++
	}

	if sent > 0 {
		f.logger.Info("outbox flushed", zap.Int("sent", sent), zap.Int("queued", len(entries)))
	}
	f.bus.Emit(bus.KindOutboxFlushed, sent)
}

func (f *Flusher) send(ctx context.Context, entry *store.OutboxEntry) (*chat.Message, error) {
	if entry.IsGroup {
		return f.sender.SendGroupMessage(ctx, entry.ConversationID, entry.Content, nil)
	}
	return f.sender.SendDirectMessage(ctx, entry.RecipientID, entry.Content, nil)
}
