package feed

import (
	"log/slog"
	"sync"
	"testing"
	"time"
)

func receive(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case ev := <-s.C():
		return ev
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestSubscribeCancel(t *testing.T) {
	b := NewBroker(slog.Default())

	s1 := b.Subscribe(1)
	s2 := b.Subscribe(1)
	if got := b.Count(); got != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", got)
	}

	s1.Cancel()
	if got := b.Count(); got != 1 {
		t.Fatalf("expected 1 subscription after cancel, got %d", got)
	}
	if _, ok := <-s1.C(); ok {
		t.Error("expected cancelled channel to be closed")
	}

	s2.Cancel()
	if got := b.Count(); got != 0 {
		t.Fatalf("expected 0 subscriptions, got %d", got)
	}
}

func TestDoubleCancel(t *testing.T) {
	b := NewBroker(slog.Default())
	s := b.Subscribe(1)
	s.Cancel()
	// Should not panic
	s.Cancel()

	if got := b.Count(); got != 0 {
		t.Fatalf("expected 0 subscriptions, got %d", got)
	}
}

func TestPublishScopedToHousehold(t *testing.T) {
	b := NewBroker(slog.Default())
	home := b.Subscribe(1)
	other := b.Subscribe(2)
	all := b.SubscribeAll()
	defer home.Cancel()
	defer other.Cancel()
	defer all.Cancel()

	b.Publish(NewEvent("chore", "accepted", 1, 42, 7, nil))

	ev := receive(t, home)
	if ev.Type != "chore_accepted" {
		t.Errorf("type = %q, want chore_accepted", ev.Type)
	}
	if ev.ID != 42 || ev.ActorID != 7 {
		t.Errorf("event = %+v, want id 42 actor 7", ev)
	}
	if got := receive(t, all); got.Type != "chore_accepted" {
		t.Errorf("all-households subscriber got %q", got.Type)
	}

	select {
	case ev := <-other.C():
		t.Errorf("other household received %+v", ev)
	default:
	}
}

func TestPublishEmptyBroker(t *testing.T) {
	b := NewBroker(slog.Default())
	// Should not panic
	b.Publish(NewEvent("chore", "finished", 1, 1, 0, nil))
}

func TestPublishFullBuffer(t *testing.T) {
	b := NewBroker(slog.Default())
	s := b.Subscribe(1)
	defer s.Cancel()

	for i := 0; i < bufferSize; i++ {
		b.Publish(NewEvent("test", "fill", 1, int64(i), 0, nil))
	}
	// This should drop the event, not block
	b.Publish(NewEvent("test", "dropped", 1, 999, 0, nil))

	count := 0
	for {
		select {
		case ev := <-s.C():
			if ev.ID == 999 {
				t.Error("overflow event should have been dropped")
			}
			count++
			continue
		default:
		}
		break
	}
	if count != bufferSize {
		t.Errorf("expected %d events, got %d", bufferSize, count)
	}
}

func TestNewEvent(t *testing.T) {
	ev := NewEvent("chat_message", "created", 3, 5, 9, map[string]any{"chore_id": int64(2)})
	if ev.Type != "chat_message_created" {
		t.Errorf("expected type chat_message_created, got %s", ev.Type)
	}
	if ev.HouseholdID != 3 {
		t.Errorf("household = %d, want 3", ev.HouseholdID)
	}
	if ev.Extra["chore_id"] != int64(2) {
		t.Errorf("extra = %v", ev.Extra)
	}
}

func TestConcurrentAccess(t *testing.T) {
	b := NewBroker(slog.Default())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(household int64) {
			defer wg.Done()
			s := b.Subscribe(household)
			b.Publish(NewEvent("test", "concurrent", household, 0, 0, nil))
			s.Cancel()
			for range s.C() {
			}
		}(int64(i % 3))
	}

	wg.Wait()

	if got := b.Count(); got != 0 {
		t.Errorf("expected 0 subscriptions after concurrent test, got %d", got)
	}
}
