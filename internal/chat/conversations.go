package chat

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"gomess/internal/bus"
)

// Identity resolves "is this mine" questions against the session user.
type Identity interface {
	UserID() string
	IsOwn(senderID string) bool
}

// ConversationAPI is the slice of the REST client the conversation store
// calls.
type ConversationAPI interface {
	ListConversations(ctx context.Context) ([]*Conversation, error)
	MarkConversationRead(ctx context.Context, conversationID string) error
}

// Snapshot persists the conversation list between runs.
type Snapshot interface {
	SaveConversations(convos []*Conversation) error
	UpsertConversation(c *Conversation) error
	LoadConversations() ([]*Conversation, error)
}

// Conversations owns the authoritative client-side conversation list:
// unread counts, seen-by sets and last-message pointers. REST snapshots and
// push updates merge through here and nowhere else.
type Conversations struct {
	mu       sync.RWMutex
	list     []*Conversation
	activeID string

	api      ConversationAPI
	snapshot Snapshot
	identity Identity
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewConversations creates the conversation store. snapshot may be nil in
// tests; persistence is then skipped.
func NewConversations(api ConversationAPI, snapshot Snapshot, identity Identity, b *bus.Bus, logger *zap.Logger) *Conversations {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conversations{
		api:      api,
		snapshot: snapshot,
		identity: identity,
		bus:      b,
		logger:   logger,
	}
}

// Rehydrate restores the persisted snapshot at startup. Returns the number
// of conversations restored.
func (s *Conversations) Rehydrate() int {
	if s.snapshot == nil {
		return 0
	}
	convos, err := s.snapshot.LoadConversations()
	if err != nil {
		s.logger.Error("failed to rehydrate conversations", zap.Error(err))
		return 0
	}
	s.mu.Lock()
	s.list = dedupeByID(convos)
	n := len(s.list)
	s.mu.Unlock()
	return n
}

// Load fetches the conversation list from the backend and replaces the
// in-memory list. A transport fault is logged and leaves the prior list
// intact; nothing is partially overwritten.
func (s *Conversations) Load(ctx context.Context) error {
	convos, err := s.api.ListConversations(ctx)
	if err != nil {
		s.logger.Error("failed to load conversations", zap.Error(err))
		return err
	}

	deduped := dedupeByID(convos)

	s.mu.Lock()
	s.list = deduped
	s.mu.Unlock()

	s.persistAll()

	if s.bus != nil {
		ids := make([]string, len(deduped))
		for i, c := range deduped {
			ids[i] = c.ID
		}
		s.bus.Emit(bus.KindChatConvosLoaded, ids)
	}
	return nil
}

// All returns a copy of the conversation list.
func (s *Conversations) All() []*Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Conversation, len(s.list))
	copy(out, s.list)
	return out
}

// Get returns the conversation with the given id, or nil.
func (s *Conversations) Get(id string) *Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(id)
}

// IDs returns all known conversation ids.
func (s *Conversations) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, len(s.list))
	for i, c := range s.list {
		ids[i] = c.ID
	}
	return ids
}

// SetActive records which conversation the user is viewing. The caller is
// expected to follow with MarkAsRead.
func (s *Conversations) SetActive(id string) {
	s.mu.Lock()
	s.activeID = id
	s.mu.Unlock()
}

// Active returns the currently viewed conversation id, empty for none.
func (s *Conversations) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Upsert merges a conversation by id: absent conversations are prepended,
// present ones are shallow-merged with incoming non-zero fields winning.
func (s *Conversations) Upsert(incoming *Conversation) {
	if incoming == nil || incoming.ID == "" {
		return
	}
	s.mu.Lock()
	existing := s.find(incoming.ID)
	if existing == nil {
		s.list = append([]*Conversation{incoming}, s.list...)
		existing = incoming
	} else {
		mergeConversation(existing, incoming)
	}
	merged := *existing
	s.mu.Unlock()

	s.persistOne(&merged)
	if s.bus != nil {
		s.bus.Emit(bus.KindChatConvoUpdated, merged.ID)
	}
}

// MarkAsRead optimistically zeroes the current user's unread count, then
// issues the remote mark-read call. A remote failure does not roll the
// local zero back: the server stays the source of truth for counts on the
// next full load.
func (s *Conversations) MarkAsRead(ctx context.Context, conversationID string) {
	userID := s.identity.UserID()

	s.mu.Lock()
	c := s.find(conversationID)
	var snapshot *Conversation
	if c != nil {
		if c.UnreadCounts == nil {
			c.UnreadCounts = make(map[string]int)
		}
		c.UnreadCounts[userID] = 0
		copied := *c
		snapshot = &copied
	}
	s.mu.Unlock()

	if snapshot != nil {
		s.persistOne(snapshot)
	}
	if s.bus != nil {
		s.bus.Emit(bus.KindChatConvoUpdated, conversationID)
	}

	if err := s.api.MarkConversationRead(ctx, conversationID); err != nil {
		s.logger.Warn("mark read failed, keeping optimistic state",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

// ApplyIncomingMessage folds a pushed new-message into the list: the last
// message snapshot and unread counts are replaced, and seenBy resets to
// just the sender, since a new message invalidates everyone else's read
// receipts. The pushed conversation is upserted if unknown.
func (s *Conversations) ApplyIncomingMessage(conv *Conversation, msg *Message, unreadCounts map[string]int) {
	if msg == nil || msg.ConversationID == "" {
		return
	}

	last := &LastMessage{
		ID:        msg.ID,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
		Sender:    MessageRef{ID: msg.SenderID},
	}

	s.mu.Lock()
	existing := s.find(msg.ConversationID)
	if existing == nil {
		if conv == nil {
			s.mu.Unlock()
			return
		}
		copied := *conv
		existing = &copied
		s.list = append([]*Conversation{existing}, s.list...)
	}
	existing.LastMessage = last
	existing.LastMessageAt = msg.CreatedAt
	if unreadCounts != nil {
		existing.UnreadCounts = unreadCounts
	}
	existing.SeenBy = []SeenUser{{ID: msg.SenderID}}
	merged := *existing
	s.mu.Unlock()

	s.persistOne(&merged)
	if s.bus != nil {
		s.bus.Emit(bus.KindChatConvoUpdated, merged.ID)
	}
}

// ApplyReadReceipt replaces the conversation's seen-by set with the pushed
// list, deduplicated by user id.
func (s *Conversations) ApplyReadReceipt(conversationID string, seenBy []SeenUser) {
	unique := make([]SeenUser, 0, len(seenBy))
	seen := make(map[string]struct{}, len(seenBy))
	for _, u := range seenBy {
		if u.ID == "" {
			continue
		}
		if _, dup := seen[u.ID]; dup {
			continue
		}
		seen[u.ID] = struct{}{}
		unique = append(unique, u)
	}

	s.mu.Lock()
	c := s.find(conversationID)
	var snapshot *Conversation
	if c != nil {
		c.SeenBy = unique
		copied := *c
		snapshot = &copied
	}
	s.mu.Unlock()

	if snapshot == nil {
		return
	}
	s.persistOne(snapshot)
	if s.bus != nil {
		s.bus.Emit(bus.KindChatReadReceipt, conversationID)
	}
}

// Reset drops all state. Called when the session is cleared.
func (s *Conversations) Reset() {
	s.mu.Lock()
	s.list = nil
	s.activeID = ""
	s.mu.Unlock()
}

// find must be called with the lock held.
func (s *Conversations) find(id string) *Conversation {
	for _, c := range s.list {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (s *Conversations) persistAll() {
	if s.snapshot == nil {
		return
	}
	if err := s.snapshot.SaveConversations(s.All()); err != nil {
		s.logger.Error("failed to persist conversation snapshot", zap.Error(err))
	}
}

func (s *Conversations) persistOne(c *Conversation) {
	if s.snapshot == nil {
		return
	}
	if err := s.snapshot.UpsertConversation(c); err != nil {
		s.logger.Error("failed to persist conversation", zap.String("conversation_id", c.ID), zap.Error(err))
	}
}

// dedupeByID keeps the last occurrence per id, preserving the order of
// last occurrences as seen in the input.
func dedupeByID(convos []*Conversation) []*Conversation {
	byID := make(map[string]int, len(convos))
	out := make([]*Conversation, 0, len(convos))
	for _, c := range convos {
		if c == nil || c.ID == "" {
			continue
		}
		if i, ok := byID[c.ID]; ok {
			out[i] = c
			continue
		}
		byID[c.ID] = len(out)
		out = append(out, c)
	}
	return out
}

// mergeConversation shallow-merges incoming non-zero fields over dst.
func mergeConversation(dst, incoming *Conversation) {
	if incoming.Kind != "" {
		dst.Kind = incoming.Kind
	}
	if incoming.Group != nil {
		dst.Group = incoming.Group
	}
	if incoming.Participants != nil {
		dst.Participants = incoming.Participants
	}
	if !incoming.LastMessageAt.IsZero() {
		dst.LastMessageAt = incoming.LastMessageAt
	}
	if incoming.SeenBy != nil {
		dst.SeenBy = incoming.SeenBy
	}
	if incoming.LastMessage != nil {
		dst.LastMessage = incoming.LastMessage
	}
	if incoming.UnreadCounts != nil {
		dst.UnreadCounts = incoming.UnreadCounts
	}
	if !incoming.CreatedAt.IsZero() {
		dst.CreatedAt = incoming.CreatedAt
	}
	if !incoming.UpdatedAt.IsZero() {
		dst.UpdatedAt = incoming.UpdatedAt
	}
}
