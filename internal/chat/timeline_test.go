package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gomess/internal/bus"
)

// fakeFetcher serves scripted history pages keyed by cursor.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]fakePage
	calls []string
	err   error
	block chan struct{} // when set, FetchHistory waits on it
}

type fakePage struct {
	msgs []*Message
	next string
}

func (f *fakeFetcher) FetchHistory(_ context.Context, _ string, cursor string, _ int) ([]*Message, string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cursor)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, "", f.err
	}
	page := f.pages[cursor]
	return page.msgs, page.next, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func msg(id string, ts int64) *Message {
	return &Message{ID: id, ConversationID: "c1", SenderID: "u2", Content: id, CreatedAt: time.UnixMilli(ts)}
}

func newTL(f *fakeFetcher) *Timelines {
	return NewTimelines(f, fakeIdentity{id: "me"}, bus.New(), nil, 50)
}

func TestFetchOlderPrependsAndDedupes(t *testing.T) {
	f := &fakeFetcher{pages: map[string]fakePage{
		"":     {msgs: []*Message{msg("m3", 3000), msg("m4", 4000)}, next: "cur1"},
		"cur1": {msgs: []*Message{msg("m1", 1000), msg("m2", 2000), msg("m3", 3000)}, next: ""},
	}}
	tl := newTL(f)

	if err := tl.FetchOlder(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	if err := tl.FetchOlder(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	items, hasMore := tl.Get("c1")
	if len(items) != 4 {
		t.Fatalf("got %d items, want 4 (m3 deduplicated)", len(items))
	}
	for i, want := range []string{"m1", "m2", "m3", "m4"} {
		if items[i].ID != want {
			t.Errorf("items[%d] = %s, want %s", i, items[i].ID, want)
		}
	}
	if hasMore {
		t.Error("hasMore = true after exhaustion")
	}
}

func TestFetchOlderTerminatesAfterExhaustion(t *testing.T) {
	f := &fakeFetcher{pages: map[string]fakePage{
		"": {msgs: []*Message{msg("m1", 1000)}, next: ""},
	}}
	tl := newTL(f)

	for i := 0; i < 5; i++ {
		if err := tl.FetchOlder(context.Background(), "c1"); err != nil {
			t.Fatal(err)
		}
	}

	if n := f.callCount(); n != 1 {
		t.Errorf("fetch calls = %d, want 1 (exhausted cursor short-circuits)", n)
	}
}

func TestFetchOlderSingleFlight(t *testing.T) {
	block := make(chan struct{})
	f := &fakeFetcher{
		pages: map[string]fakePage{"": {msgs: []*Message{msg("m1", 1000)}, next: "cur1"}},
		block: block,
	}
	tl := newTL(f)

	done := make(chan struct{})
	go func() {
		_ = tl.FetchOlder(context.Background(), "c1")
		close(done)
	}()

	// Wait for the first fetch to be in flight.
	for f.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	// A second call while in flight must be a no-op, not a queued fetch.
	if err := tl.FetchOlder(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	if n := f.callCount(); n != 1 {
		t.Errorf("fetch calls = %d, want 1 during in-flight fetch", n)
	}

	close(block)
	<-done
}

func TestFetchOlderErrorKeepsStateRetryable(t *testing.T) {
	f := &fakeFetcher{err: errors.New("boom")}
	tl := newTL(f)

	if err := tl.FetchOlder(context.Background(), "c1"); err == nil {
		t.Fatal("expected error")
	}

	// The failed fetch must not mark history exhausted.
	f.err = nil
	f.pages = map[string]fakePage{"": {msgs: []*Message{msg("m1", 1000)}, next: ""}}
	if err := tl.FetchOlder(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	items, _ := tl.Get("c1")
	if len(items) != 1 {
		t.Errorf("got %d items after retry, want 1", len(items))
	}
}

func TestAppendIdempotentUnderDuplicateDelivery(t *testing.T) {
	f := &fakeFetcher{pages: map[string]fakePage{"": {next: ""}}}
	tl := newTL(f)

	m := msg("m1", 1000)
	tl.Append(context.Background(), m)
	dup := *m
	tl.Append(context.Background(), &dup)

	items, _ := tl.Get("c1")
	if len(items) != 1 {
		t.Errorf("got %d items, want 1 (duplicate delivery)", len(items))
	}
}

// TestAppendRacingFetch covers the push-before-history race: a push for an
// unloaded conversation first fetches page one, then appends only if the
// page did not already contain the message.
func TestAppendRacingFetch(t *testing.T) {
	f := &fakeFetcher{pages: map[string]fakePage{
		"": {msgs: []*Message{msg("m1", 1000), msg("m2", 2000)}, next: ""},
	}}
	tl := newTL(f)

	// The pushed message is already in page one.
	tl.Append(context.Background(), msg("m2", 2000))

	items, _ := tl.Get("c1")
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2 (exactly one copy of m2)", len(items))
	}
	if f.callCount() != 1 {
		t.Errorf("fetch calls = %d, want 1 (history loaded before append)", f.callCount())
	}

	// A genuinely new push appends without another fetch.
	tl.Append(context.Background(), msg("m3", 3000))
	items, _ = tl.Get("c1")
	if len(items) != 3 || items[2].ID != "m3" {
		t.Errorf("items = %v", ids(items))
	}
	if f.callCount() != 1 {
		t.Errorf("fetch calls = %d, want still 1", f.callCount())
	}
}

func TestAppendResolvesOwnership(t *testing.T) {
	f := &fakeFetcher{pages: map[string]fakePage{"": {next: ""}}}
	tl := newTL(f)

	own := &Message{ID: "m1", ConversationID: "c1", SenderID: "me", CreatedAt: time.UnixMilli(1000)}
	other := &Message{ID: "m2", ConversationID: "c1", SenderID: "u2", CreatedAt: time.UnixMilli(2000)}
	tl.Append(context.Background(), own)
	tl.Append(context.Background(), other)

	items, _ := tl.Get("c1")
	if !items[0].Own || items[1].Own {
		t.Errorf("ownership = %v, %v; want true, false", items[0].Own, items[1].Own)
	}
}

func TestOrderInvariant(t *testing.T) {
	f := &fakeFetcher{pages: map[string]fakePage{"": {next: ""}}}
	tl := newTL(f)

	// Out-of-order arrival.
	tl.Append(context.Background(), msg("m3", 3000))
	tl.Append(context.Background(), msg("m1", 1000))
	tl.AppendProvisional(&Message{ID: "tmp-1", ConversationID: "c1", Content: "draft", CreatedAt: time.UnixMilli(500)})
	tl.Append(context.Background(), msg("m2", 2000))

	items, _ := tl.Get("c1")
	if len(items) != 4 {
		t.Fatalf("got %d items, want 4", len(items))
	}
	for i, want := range []string{"m1", "m2", "m3", "tmp-1"} {
		if items[i].ID != want {
			t.Errorf("items[%d] = %s, want %s (provisional at tail)", i, items[i].ID, want)
		}
	}
	if !items[3].Provisional {
		t.Error("tail entry lost its provisional flag")
	}
}

func TestEqualTimestampsKeepInsertionOrder(t *testing.T) {
	f := &fakeFetcher{pages: map[string]fakePage{"": {next: ""}}}
	tl := newTL(f)

	tl.Append(context.Background(), msg("first", 1000))
	tl.Append(context.Background(), msg("second", 1000))

	items, _ := tl.Get("c1")
	if items[0].ID != "first" || items[1].ID != "second" {
		t.Errorf("order = %v, want insertion order for equal createdAt", ids(items))
	}
}

func TestReplaceProvisional(t *testing.T) {
	f := &fakeFetcher{pages: map[string]fakePage{"": {next: ""}}}
	tl := newTL(f)

	tl.Append(context.Background(), msg("m1", 1000))
	tl.AppendProvisional(&Message{ID: "tmp-1", ConversationID: "c1", Content: "hi", CreatedAt: time.UnixMilli(900)})

	confirmed := &Message{ID: "m2", ConversationID: "c1", SenderID: "me", Content: "hi", CreatedAt: time.UnixMilli(2000)}
	tl.ReplaceProvisional("c1", "tmp-1", confirmed)

	items, _ := tl.Get("c1")
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].ID != "m1" || items[1].ID != "m2" {
		t.Errorf("items = %v, want [m1 m2]", ids(items))
	}
	if items[1].Provisional {
		t.Error("confirmed message still marked provisional")
	}
	if !items[1].Own {
		t.Error("confirmed message lost ownership")
	}
}

func TestReplaceProvisionalWhenConfirmedAlreadyDelivered(t *testing.T) {
	f := &fakeFetcher{pages: map[string]fakePage{"": {next: ""}}}
	tl := newTL(f)

	tl.AppendProvisional(&Message{ID: "tmp-1", ConversationID: "c1", Content: "hi"})
	// The push beat the send response.
	tl.Append(context.Background(), msg("m2", 2000))

	tl.ReplaceProvisional("c1", "tmp-1", msg("m2", 2000))

	items, _ := tl.Get("c1")
	if len(items) != 1 || items[0].ID != "m2" {
		t.Errorf("items = %v, want exactly [m2]", ids(items))
	}
}

func TestDedupIgnoresContentEquality(t *testing.T) {
	f := &fakeFetcher{pages: map[string]fakePage{"": {next: ""}}}
	tl := newTL(f)

	// Distinct sends with identical text are distinct messages.
	a := &Message{ID: "m1", ConversationID: "c1", Content: "same", CreatedAt: time.UnixMilli(1000)}
	b := &Message{ID: "m2", ConversationID: "c1", Content: "same", CreatedAt: time.UnixMilli(2000)}
	tl.Append(context.Background(), a)
	tl.Append(context.Background(), b)

	items, _ := tl.Get("c1")
	if len(items) != 2 {
		t.Errorf("got %d items, want 2", len(items))
	}
}

func TestResetDropsTimelines(t *testing.T) {
	f := &fakeFetcher{pages: map[string]fakePage{"": {next: ""}}}
	tl := newTL(f)
	tl.Append(context.Background(), msg("m1", 1000))

	tl.Reset()

	items, hasMore := tl.Get("c1")
	if len(items) != 0 || !hasMore {
		t.Error("reset did not clear timeline state")
	}
}

func ids(items []Message) []string {
	out := make([]string, len(items))
	for i, m := range items {
		out[i] = m.ID
	}
	return out
}
