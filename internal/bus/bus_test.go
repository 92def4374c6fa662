package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("push.", 4)
	defer unsub()

	b.Emit(KindPushNewMessage, "payload")

	select {
	case evt := <-ch:
		if evt.Kind != KindPushNewMessage {
			t.Errorf("kind = %q, want %q", evt.Kind, KindPushNewMessage)
		}
		if evt.Payload != "payload" {
			t.Errorf("payload = %v, want payload", evt.Payload)
		}
		if evt.Timestamp.IsZero() {
			t.Error("timestamp not set")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	pushCh, unsub1 := b.Subscribe("push.", 4)
	defer unsub1()
	chatCh, unsub2 := b.Subscribe("chat.", 4)
	defer unsub2()

	b.Emit(KindChatMessageUpserted, nil)

	select {
	case <-chatCh:
	case <-time.After(time.Second):
		t.Fatal("chat subscriber did not receive chat event")
	}
	select {
	case evt := <-pushCh:
		t.Fatalf("push subscriber received %q", evt.Kind)
	default:
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 4)
	unsub()

	b.Emit(KindSocketConnected, nil)

	select {
	case evt := <-ch:
		t.Fatalf("received %q after unsubscribe", evt.Kind)
	default:
	}
}

func TestFullSubscriberDoesNotBlock(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("", 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Emit(KindSocketConnected, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on full subscriber")
	}
}
