package store

import "testing"

func TestPushSubscribeUpsert(t *testing.T) {
	f := setupChoreTestDB(t)
	ps := NewPushStore(f.cs.db)

	sub, err := ps.Subscribe(f.alice.ID, f.household.ID, "https://push.example.com/1", "p256", "auth", "Phone")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if sub.DeviceName != "Phone" {
		t.Errorf("device = %q, want Phone", sub.DeviceName)
	}

	again, err := ps.Subscribe(f.alice.ID, f.household.ID, "https://push.example.com/1", "p256-new", "auth-new", "Phone")
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	if again.ID != sub.ID || again.P256dhKey != "p256-new" {
		t.Errorf("resubscribe = %+v, want same id with new keys", again)
	}

	subs, err := ps.ListByUser(f.alice.ID, f.household.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(subs))
	}
}

func TestPushDelete(t *testing.T) {
	f := setupChoreTestDB(t)
	ps := NewPushStore(f.cs.db)

	sub, _ := ps.Subscribe(f.alice.ID, f.household.ID, "https://push.example.com/1", "p", "a", "")
	ps.Subscribe(f.alice.ID, f.household.ID, "https://push.example.com/2", "p", "a", "")

	// Another user cannot delete alice's subscription.
	ps.Delete(sub.ID, f.bob.ID)
	if subs, _ := ps.ListByUser(f.alice.ID, f.household.ID); len(subs) != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", len(subs))
	}

	if err := ps.Delete(sub.ID, f.alice.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := ps.DeleteByEndpoint("https://push.example.com/2"); err != nil {
		t.Fatalf("delete by endpoint: %v", err)
	}
	if subs, _ := ps.ListByUser(f.alice.ID, f.household.ID); len(subs) != 0 {
		t.Errorf("expected no subscriptions, got %d", len(subs))
	}
}
