package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"gomess/internal/bus"
)

type fakeIdentity struct{ id string }

func (f fakeIdentity) UserID() string          { return f.id }
func (f fakeIdentity) IsOwn(sender string) bool { return sender == f.id }

type fakeConvoAPI struct {
	convos    []*Conversation
	listErr   error
	readCalls []string
	readErr   error
}

func (f *fakeConvoAPI) ListConversations(context.Context) ([]*Conversation, error) {
	return f.convos, f.listErr
}

func (f *fakeConvoAPI) MarkConversationRead(_ context.Context, id string) error {
	f.readCalls = append(f.readCalls, id)
	return f.readErr
}

func newConvoStore(api *fakeConvoAPI) *Conversations {
	return NewConversations(api, nil, fakeIdentity{id: "me"}, bus.New(), nil)
}

func TestLoadDeduplicatesLastWriteWins(t *testing.T) {
	api := &fakeConvoAPI{convos: []*Conversation{
		{ID: "c1", UnreadCounts: map[string]int{"me": 1}},
		{ID: "c2"},
		{ID: "c1", UnreadCounts: map[string]int{"me": 7}},
	}}
	s := newConvoStore(api)

	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	all := s.All()
	if len(all) != 2 {
		t.Fatalf("got %d conversations, want 2", len(all))
	}
	if got := s.Get("c1").UnreadFor("me"); got != 7 {
		t.Errorf("c1 unread = %d, want 7 (last write wins)", got)
	}
}

func TestLoadFailureKeepsPriorList(t *testing.T) {
	api := &fakeConvoAPI{convos: []*Conversation{{ID: "c1"}}}
	s := newConvoStore(api)
	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	api.listErr = errors.New("network unreachable")
	if err := s.Load(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	if len(s.All()) != 1 {
		t.Error("transport fault overwrote the in-memory list")
	}
}

func TestLoadPublishesLoadedEvent(t *testing.T) {
	api := &fakeConvoAPI{convos: []*Conversation{{ID: "c1"}, {ID: "c2"}}}
	b := bus.New()
	s := NewConversations(api, nil, fakeIdentity{id: "me"}, b, nil)

	ch, unsub := b.Subscribe(bus.KindChatConvosLoaded, 4)
	defer unsub()

	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		ids, ok := evt.Payload.([]string)
		if !ok || len(ids) != 2 {
			t.Errorf("payload = %v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for loaded event")
	}
}

func TestUpsertPrependsNewAndMergesExisting(t *testing.T) {
	s := newConvoStore(&fakeConvoAPI{})
	s.Upsert(&Conversation{ID: "c1", Kind: KindDirect})
	s.Upsert(&Conversation{ID: "c2", Kind: KindGroup})
	s.Upsert(&Conversation{ID: "c1", UnreadCounts: map[string]int{"me": 2}})

	all := s.All()
	if len(all) != 2 {
		t.Fatalf("got %d conversations, want 2 (no duplicate)", len(all))
	}
	if all[0].ID != "c2" {
		t.Errorf("newest-inserted first, got %s", all[0].ID)
	}
	c1 := s.Get("c1")
	if c1.Kind != KindDirect {
		t.Error("merge dropped existing kind")
	}
	if c1.UnreadFor("me") != 2 {
		t.Error("merge did not apply incoming unread counts")
	}
}

func TestMarkAsReadIdempotent(t *testing.T) {
	api := &fakeConvoAPI{}
	s := newConvoStore(api)
	s.Upsert(&Conversation{ID: "c1", UnreadCounts: map[string]int{"me": 5, "other": 2}})

	s.MarkAsRead(context.Background(), "c1")
	s.MarkAsRead(context.Background(), "c1")

	c := s.Get("c1")
	if got := c.UnreadFor("me"); got != 0 {
		t.Errorf("unread = %d, want 0", got)
	}
	if got := c.UnreadCounts["other"]; got != 2 {
		t.Errorf("other's unread = %d, want untouched 2", got)
	}
	if len(api.readCalls) != 2 {
		t.Errorf("remote calls = %d, want exactly one per invocation", len(api.readCalls))
	}
}

func TestMarkAsReadNoRollbackOnRemoteFailure(t *testing.T) {
	api := &fakeConvoAPI{readErr: errors.New("boom")}
	s := newConvoStore(api)
	s.Upsert(&Conversation{ID: "c1", UnreadCounts: map[string]int{"me": 3}})

	s.MarkAsRead(context.Background(), "c1")

	if got := s.Get("c1").UnreadFor("me"); got != 0 {
		t.Errorf("unread = %d, want 0 (optimistic zero kept)", got)
	}
}

func TestApplyIncomingMessageResetsSeenBy(t *testing.T) {
	s := newConvoStore(&fakeConvoAPI{})
	s.Upsert(&Conversation{
		ID:     "c1",
		SeenBy: []SeenUser{{ID: "me"}, {ID: "u2"}, {ID: "u3"}},
	})

	msg := &Message{ID: "m1", ConversationID: "c1", SenderID: "u2", Content: "yo", CreatedAt: time.UnixMilli(5000)}
	s.ApplyIncomingMessage(nil, msg, map[string]int{"me": 1})

	c := s.Get("c1")
	if c.LastMessage == nil || c.LastMessage.ID != "m1" {
		t.Errorf("lastMessage = %+v", c.LastMessage)
	}
	if len(c.SeenBy) != 1 || c.SeenBy[0].ID != "u2" {
		t.Errorf("seenBy = %v, want just the sender", c.SeenBy)
	}
	if c.UnreadFor("me") != 1 {
		t.Errorf("unread = %d, want 1", c.UnreadFor("me"))
	}
}

func TestApplyIncomingMessageUnknownConversation(t *testing.T) {
	s := newConvoStore(&fakeConvoAPI{})

	conv := &Conversation{ID: "c9", Kind: KindGroup}
	msg := &Message{ID: "m1", ConversationID: "c9", SenderID: "u2"}
	s.ApplyIncomingMessage(conv, msg, nil)

	if s.Get("c9") == nil {
		t.Fatal("pushed conversation not upserted")
	}
	if got := len(s.All()); got != 1 {
		t.Errorf("got %d conversations, want 1", got)
	}
}

func TestApplyReadReceiptDeduplicates(t *testing.T) {
	s := newConvoStore(&fakeConvoAPI{})
	s.Upsert(&Conversation{ID: "c2"})

	s.ApplyReadReceipt("c2", []SeenUser{{ID: "u1"}, {ID: "u1"}, {ID: "u2"}})

	c := s.Get("c2")
	if len(c.SeenBy) != 2 {
		t.Fatalf("seenBy has %d entries, want 2 unique", len(c.SeenBy))
	}
	if c.SeenBy[0].ID != "u1" || c.SeenBy[1].ID != "u2" {
		t.Errorf("seenBy = %v", c.SeenBy)
	}
}

func TestResetDropsEverything(t *testing.T) {
	s := newConvoStore(&fakeConvoAPI{})
	s.Upsert(&Conversation{ID: "c1"})
	s.SetActive("c1")

	s.Reset()

	if len(s.All()) != 0 || s.Active() != "" {
		t.Error("reset left state behind")
	}
}
