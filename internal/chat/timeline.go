package chat

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"gomess/internal/bus"
)

// HistoryFetcher pulls one page of timeline history. An empty cursor
// requests the newest page; an empty returned cursor signals exhaustion.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, conversationID, cursor string, limit int) ([]*Message, string, error)
}

// MessageUpsert is the payload published on chat.message_upserted.
type MessageUpsert struct {
	ConversationID string
	MessageID      string
}

// timeline is the per-conversation state: ordered items plus pagination.
type timeline struct {
	items []*Message
	page  PageState
}

// Timelines owns every conversation's ordered, deduplicated message list.
// REST page fetches, optimistic sends and push deliveries all merge through
// the methods here; nothing replaces items from outside. Timelines live
// only in memory and rehydrate from the paginated fetch after a restart.
type Timelines struct {
	mu       sync.Mutex
	byConvo  map[string]*timeline
	fetching map[string]bool

	fetcher  HistoryFetcher
	identity Identity
	bus      *bus.Bus
	logger   *zap.Logger
	pageSize int
}

// NewTimelines creates the timeline store.
func NewTimelines(fetcher HistoryFetcher, identity Identity, b *bus.Bus, logger *zap.Logger, pageSize int) *Timelines {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Timelines{
		byConvo:  make(map[string]*timeline),
		fetching: make(map[string]bool),
		fetcher:  fetcher,
		identity: identity,
		bus:      b,
		logger:   logger,
		pageSize: pageSize,
	}
}

// Get returns a copy of the conversation's timeline, oldest to newest, and
// whether older history remains unfetched.
func (t *Timelines) Get(conversationID string) ([]Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tl, ok := t.byConvo[conversationID]
	if !ok {
		return nil, true
	}
	out := make([]Message, len(tl.items))
	for i, m := range tl.items {
		out[i] = *m
	}
	return out, !tl.page.Done()
}

// Fetched reports whether the conversation's first history page has been
// requested yet.
func (t *Timelines) Fetched(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	tl, ok := t.byConvo[conversationID]
	return ok && tl.page.Phase != PageNotFetched
}

// FetchOlder loads the next page of history for the conversation. It is a
// no-op when history is exhausted or a fetch is already in flight. The
// fetched page is prepended to existing items, the result deduplicated by
// id preserving first-seen order.
func (t *Timelines) FetchOlder(ctx context.Context, conversationID string) error {
	t.mu.Lock()
	tl := t.ensure(conversationID)
	if tl.page.Done() || t.fetching[conversationID] {
		t.mu.Unlock()
		return nil
	}
	t.fetching[conversationID] = true
	cursor := tl.page.Cursor
	t.mu.Unlock()

	msgs, next, err := t.fetcher.FetchHistory(ctx, conversationID, cursor, t.pageSize)

	t.mu.Lock()
	delete(t.fetching, conversationID)
	if err != nil {
		t.mu.Unlock()
		t.logger.Error("history fetch failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return err
	}
	for _, m := range msgs {
		m.Own = t.identity.IsOwn(m.SenderID)
		m.Provisional = false
	}
	tl = t.ensure(conversationID)
	tl.items = normalize(append(msgs, tl.items...))
	tl.page.Advance(next)
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.Emit(bus.KindChatMessageUpserted, MessageUpsert{ConversationID: conversationID})
	}
	return nil
}

// Append merges a confirmed or push-delivered message into its timeline.
// If no history has been fetched yet, the first page is fetched before the
// append so a push racing the initial load cannot produce a lone message.
// Appending an already-present id is a no-op: sockets and REST responses
// may deliver the same message twice.
func (t *Timelines) Append(ctx context.Context, msg *Message) {
	if msg == nil || msg.ID == "" || msg.ConversationID == "" {
		return
	}

	t.mu.Lock()
	tl := t.ensure(msg.ConversationID)
	needHistory := tl.page.Phase == PageNotFetched && len(tl.items) == 0
	t.mu.Unlock()

	if needHistory {
		// Best effort: the append below proceeds either way, dedup keeps
		// the final state consistent regardless of arrival order.
		_ = t.FetchOlder(ctx, msg.ConversationID)
	}

	msg.Own = t.identity.IsOwn(msg.SenderID)
	msg.Provisional = false

	t.mu.Lock()
	tl = t.ensure(msg.ConversationID)
	if containsID(tl.items, msg.ID) {
		t.mu.Unlock()
		return
	}
	tl.items = normalize(append(tl.items, msg))
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.Emit(bus.KindChatMessageUpserted, MessageUpsert{
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
		})
	}
}

// AppendProvisional places a local not-yet-confirmed send at the tail of
// its timeline.
func (t *Timelines) AppendProvisional(msg *Message) {
	if msg == nil || msg.ID == "" || msg.ConversationID == "" {
		return
	}
	msg.Own = true
	msg.Provisional = true

	t.mu.Lock()
	tl := t.ensure(msg.ConversationID)
	if containsID(tl.items, msg.ID) {
		t.mu.Unlock()
		return
	}
	tl.items = append(tl.items, msg)
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.Emit(bus.KindChatMessageUpserted, MessageUpsert{
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
		})
	}
}

// ReplaceProvisional swaps a provisional entry for its confirmed
// counterpart, inserted in createdAt order. This is the only transition
// from provisional to confirmed; the two never coexist.
func (t *Timelines) ReplaceProvisional(conversationID, tempID string, confirmed *Message) {
	t.mu.Lock()
	tl := t.ensure(conversationID)
	items := make([]*Message, 0, len(tl.items))
	for _, m := range tl.items {
		if m.ID == tempID {
			continue
		}
		items = append(items, m)
	}
	tl.items = items
	if confirmed != nil && confirmed.ID != "" && !containsID(tl.items, confirmed.ID) {
		confirmed.Own = t.identity.IsOwn(confirmed.SenderID)
		confirmed.Provisional = false
		tl.items = normalize(append(tl.items, confirmed))
	}
	t.mu.Unlock()

	if t.bus != nil {
		upsert := MessageUpsert{ConversationID: conversationID}
		if confirmed != nil {
			upsert.MessageID = confirmed.ID
		}
		t.bus.Emit(bus.KindChatMessageUpserted, upsert)
	}
}

// RemoveProvisional drops a provisional entry without a replacement, used
// when the outbox flusher takes ownership of a send.
func (t *Timelines) RemoveProvisional(conversationID, tempID string) {
	t.ReplaceProvisional(conversationID, tempID, nil)
}

// HasMessage reports whether the id is present in the conversation's
// timeline.
func (t *Timelines) HasMessage(conversationID, messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	tl, ok := t.byConvo[conversationID]
	return ok && containsID(tl.items, messageID)
}

// Reset drops all timelines. Called when the session is cleared.
func (t *Timelines) Reset() {
	t.mu.Lock()
	t.byConvo = make(map[string]*timeline)
	t.fetching = make(map[string]bool)
	t.mu.Unlock()
}

// ensure must be called with the lock held.
func (t *Timelines) ensure(conversationID string) *timeline {
	tl, ok := t.byConvo[conversationID]
	if !ok {
		tl = &timeline{}
		t.byConvo[conversationID] = tl
	}
	return tl
}

func containsID(items []*Message, id string) bool {
	for _, m := range items {
		if m.ID == id {
			return true
		}
	}
	return false
}

// normalize enforces the timeline invariants: each id at most once (first
// occurrence wins), confirmed messages in non-decreasing createdAt order
// with equal timestamps keeping insertion order, provisional entries at
// the tail.
func normalize(items []*Message) []*Message {
	seen := make(map[string]struct{}, len(items))
	confirmed := make([]*Message, 0, len(items))
	var provisional []*Message
	for _, m := range items {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		if m.Provisional {
			provisional = append(provisional, m)
		} else {
			confirmed = append(confirmed, m)
		}
	}
	sort.SliceStable(confirmed, func(i, j int) bool {
		return confirmed[i].CreatedAt.Before(confirmed[j].CreatedAt)
	})
	return append(confirmed, provisional...)
}
