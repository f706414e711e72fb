package realtime

import "testing"

func TestPresenceLastWriterWins(t *testing.T) {
	t.Parallel()

	p := NewPresence()

	phone := NewClient("alice", "s1", 4)
	laptop := NewClient("alice", "s2", 4)

	if evicted := p.Register(phone); evicted != nil {
		t.Fatalf("first Register evicted %q", evicted.SessionID)
	}
	if !p.Online("alice") {
		t.Fatal("alice should be online")
	}

	evicted := p.Register(laptop)
	if evicted == nil || evicted.SessionID != "s1" {
		t.Fatalf("expected s1 evicted, got %v", evicted)
	}
	if got := p.Get("alice"); got == nil || got.SessionID != "s2" {
		t.Fatal("current session should be s2")
	}

	// Re-registering the same session is not an eviction.
	if evicted := p.Register(laptop); evicted != nil {
		t.Fatalf("same-session Register evicted %q", evicted.SessionID)
	}
}

func TestPresenceUnregisterOnlyIfCurrent(t *testing.T) {
	t.Parallel()

	p := NewPresence()
	p.Register(NewClient("alice", "s1", 4))
	p.Register(NewClient("alice", "s2", 4))

	// The evicted session's teardown must not knock the replacement offline.
	if p.Unregister("alice", "s1") {
		t.Fatal("stale session Unregister reported offline")
	}
	if !p.Online("alice") {
		t.Fatal("alice should still be online via s2")
	}

	if !p.Unregister("alice", "s2") {
		t.Fatal("current session Unregister should report offline")
	}
	if p.Online("alice") {
		t.Fatal("alice should be offline")
	}

	if p.Unregister("alice", "s2") {
		t.Fatal("double Unregister reported offline again")
	}
}

func TestPresenceSnapshot(t *testing.T) {
	t.Parallel()

	p := NewPresence()
	p.Register(NewClient("alice", "s1", 4))
	p.Register(NewClient("bob", "s2", 4))

	if p.Len() != 2 {
		t.Fatalf("Len=%d want=2", p.Len())
	}

	online := make(map[string]bool)
	for _, u := range p.Snapshot() {
		online[u] = true
	}
	if !online["alice"] || !online["bob"] {
		t.Fatalf("Snapshot=%v", online)
	}
	if len(p.All()) != 2 {
		t.Fatalf("All()=%d sessions want=2", len(p.All()))
	}
}
