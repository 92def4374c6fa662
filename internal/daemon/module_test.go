package daemon

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"gomess/internal/bus"
	"gomess/internal/status"
)

type stopRecorder struct {
	mu    sync.Mutex
	stops int
}

func (s *stopRecorder) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
}

func (s *stopRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

func TestSessionClearStopsPushAndRequiresAuth(t *testing.T) {
	b := bus.New()
	m := status.NewMachine(b)
	if err := m.Transition(status.Connecting); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(status.Online); err != nil {
		t.Fatal(err)
	}

	rec := &stopRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchSession(ctx, b, rec, m, zap.NewNop())

	b.Emit(bus.KindSessionCleared, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec.count() == 1 && m.Current() == status.AuthRequired {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("stops = %d, state = %s; want 1 stop and AUTH_REQUIRED", rec.count(), m.Current())
}
