package realtime

import "testing"

func TestHubJoinLeave(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	c := NewClient("alice", "s1", 4)

	hub.Join("alice_bob", c)
	if !c.InRoom("alice_bob") {
		t.Fatal("client should record room membership")
	}
	room := hub.Room("alice_bob")
	if room == nil || len(room.Members()) != 1 {
		t.Fatal("room should hold one member")
	}

	// Redundant join is absorbed.
	hub.Join("alice_bob", c)
	if len(hub.Room("alice_bob").Members()) != 1 {
		t.Fatal("redundant join duplicated membership")
	}

	hub.Leave("alice_bob", c)
	if c.InRoom("alice_bob") {
		t.Fatal("client still records membership after leave")
	}
	if len(hub.Room("alice_bob").Members()) != 0 {
		t.Fatal("room still holds member after leave")
	}

	// Leaving never tears down the session.
	select {
	case <-c.Done():
		t.Fatal("leave closed the client")
	default:
	}
}

func TestHubLeaveAll(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	c := NewClient("alice", "s1", 4)

	hub.Join("alice_bob", c)
	hub.Join("group:g1", c)
	hub.Join(UserRoomKey("alice"), c)

	hub.LeaveAll(c)

	if len(c.Rooms()) != 0 {
		t.Fatalf("client still subscribed to %v", c.Rooms())
	}
	for _, key := range []string{"alice_bob", "group:g1", "alice"} {
		if len(hub.Room(key).Members()) != 0 {
			t.Fatalf("room %q still holds member", key)
		}
	}
}

func TestHubRoomUnknownKey(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	if hub.Room("never-joined") != nil {
		t.Fatal("unknown room should be nil")
	}
}
