package realtime

import (
	"sort"
	"testing"
)

func TestDirectRoomKeySymmetric(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b string
		want string
	}{
		{a: "alice", b: "bob", want: "alice_bob"},
		{a: "bob", b: "alice", want: "alice_bob"},
		{a: "u2", b: "u10", want: "u10_u2"}, // lexicographic, not numeric
	}

	for _, tc := range cases {
		got, err := DirectRoomKey(tc.a, tc.b)
		if err != nil {
			t.Fatalf("DirectRoomKey(%q,%q): %v", tc.a, tc.b, err)
		}
		if got != tc.want {
			t.Fatalf("DirectRoomKey(%q,%q)=%q want=%q", tc.a, tc.b, got, tc.want)
		}

		swapped, err := DirectRoomKey(tc.b, tc.a)
		if err != nil {
			t.Fatalf("DirectRoomKey(%q,%q): %v", tc.b, tc.a, err)
		}
		if swapped != got {
			t.Fatalf("room key not symmetric: %q vs %q", got, swapped)
		}
	}
}

func TestDirectRoomKeyRejectsBadIDs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b string
	}{
		{name: "empty a", a: "", b: "bob"},
		{name: "empty b", a: "alice", b: " "},
		{name: "same user", a: "alice", b: "alice"},
		{name: "reserved underscore", a: "al_ice", b: "bob"},
		{name: "reserved colon", a: "alice", b: "b:ob"},
	}

	for _, tc := range cases {
		if _, err := DirectRoomKey(tc.a, tc.b); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestGroupRoomKey(t *testing.T) {
	t.Parallel()

	got, err := GroupRoomKey("g1")
	if err != nil {
		t.Fatalf("GroupRoomKey: %v", err)
	}
	if got != "group:g1" {
		t.Fatalf("GroupRoomKey(g1)=%q", got)
	}
	if !IsGroupRoom(got) {
		t.Fatalf("IsGroupRoom(%q)=false", got)
	}

	gid, ok := GroupIDFromRoom(got)
	if !ok || gid != "g1" {
		t.Fatalf("GroupIDFromRoom(%q)=%q,%v", got, gid, ok)
	}

	if _, err := GroupRoomKey(""); err == nil {
		t.Fatal("expected error for empty group id")
	}
}

func TestAliasRooms(t *testing.T) {
	t.Parallel()

	cases := []struct {
		roomKey string
		want    []string
	}{
		{roomKey: "group:g1", want: []string{"g1"}},
		{roomKey: "alice_bob", want: []string{"alice", "bob"}},
		{roomKey: "solo", want: nil},
	}

	for _, tc := range cases {
		got := AliasRooms(tc.roomKey)
		sort.Strings(got)
		if len(got) != len(tc.want) {
			t.Fatalf("AliasRooms(%q)=%v want=%v", tc.roomKey, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("AliasRooms(%q)=%v want=%v", tc.roomKey, got, tc.want)
			}
		}
	}
}

func TestIsDirectParticipant(t *testing.T) {
	t.Parallel()

	if !IsDirectParticipant("alice_bob", "alice") {
		t.Fatal("alice should be a participant of alice_bob")
	}
	if !IsDirectParticipant("alice_bob", "bob") {
		t.Fatal("bob should be a participant of alice_bob")
	}
	if IsDirectParticipant("alice_bob", "carol") {
		t.Fatal("carol is not a participant of alice_bob")
	}
	if IsDirectParticipant("group:g1", "alice") {
		t.Fatal("group rooms have no direct participants")
	}
}
