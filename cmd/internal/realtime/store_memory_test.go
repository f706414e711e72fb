package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func mustCreate(t *testing.T, s *InMemoryStore, in CreateMessageInput) Message {
	t.Helper()
	msg, dup, err := s.CreateMessage(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if dup {
		t.Fatalf("CreateMessage unexpectedly deduplicated temp_id=%q", in.TempID)
	}
	return msg
}

func TestCreateMessageIdempotentPerTempID(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	ctx := context.Background()

	in := CreateMessageInput{
		RoomKey:     "alice_bob",
		TempID:      "tmp-1",
		SenderID:    "alice",
		RecipientID: "bob",
		Content:     "hi",
	}

	first := mustCreate(t, s, in)

	second, dup, err := s.CreateMessage(ctx, in)
	if err != nil {
		t.Fatalf("retry CreateMessage: %v", err)
	}
	if !dup {
		t.Fatal("retry with same temp id must be absorbed as duplicate")
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate returned different id: %q vs %q", second.ID, first.ID)
	}

	msgs, err := s.ListRoomMessages(ctx, "alice_bob", "alice", nil)
	if err != nil {
		t.Fatalf("ListRoomMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("room holds %d messages want 1", len(msgs))
	}

	// Same temp id in a different room is a distinct send.
	other := mustCreate(t, s, CreateMessageInput{
		RoomKey:  "alice_carol",
		TempID:   "tmp-1",
		SenderID: "alice",
		Content:  "hi carol",
	})
	if other.ID == first.ID {
		t.Fatal("temp id dedupe must be scoped per room")
	}
}

func TestCreateMessageStatus(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()

	offline := mustCreate(t, s, CreateMessageInput{
		RoomKey: "alice_bob", SenderID: "alice", Content: "x",
	})
	if offline.Status != StatusSent {
		t.Fatalf("status=%q want=%q", offline.Status, StatusSent)
	}

	online := mustCreate(t, s, CreateMessageInput{
		RoomKey: "alice_bob", SenderID: "alice", Content: "y", Delivered: true,
	})
	if online.Status != StatusDelivered {
		t.Fatalf("status=%q want=%q", online.Status, StatusDelivered)
	}
	if online.Kind != KindText {
		t.Fatalf("default kind=%q want=%q", online.Kind, KindText)
	}
}

func TestSetReaction(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	ctx := context.Background()
	msg := mustCreate(t, s, CreateMessageInput{RoomKey: "alice_bob", SenderID: "alice", Content: "x"})

	got, err := s.SetReaction(ctx, msg.ID, "bob", json.RawMessage(`"love"`))
	if err != nil {
		t.Fatalf("SetReaction: %v", err)
	}
	if got.Reactions["bob"] != "❤️" {
		t.Fatalf("reactions=%v want bob:❤️", got.Reactions)
	}

	// A second reaction from the same user replaces, never accumulates.
	got, err = s.SetReaction(ctx, msg.ID, "bob", json.RawMessage(`"🔥"`))
	if err != nil {
		t.Fatalf("SetReaction replace: %v", err)
	}
	if len(got.Reactions) != 1 || got.Reactions["bob"] != "🔥" {
		t.Fatalf("reactions=%v want exactly bob:🔥", got.Reactions)
	}

	// Empty payload clears the entry.
	got, err = s.SetReaction(ctx, msg.ID, "bob", json.RawMessage(`null`))
	if err != nil {
		t.Fatalf("SetReaction clear: %v", err)
	}
	if len(got.Reactions) != 0 {
		t.Fatalf("reactions=%v want empty", got.Reactions)
	}

	if _, err := s.SetReaction(ctx, "missing", "bob", json.RawMessage(`"like"`)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestUnsend(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	ctx := context.Background()
	msg := mustCreate(t, s, CreateMessageInput{
		RoomKey: "alice_bob", SenderID: "alice", RecipientID: "bob",
		Kind: KindImage, Content: "caption", FileURL: "https://files/img.png",
	})
	if _, err := s.SetReaction(ctx, msg.ID, "bob", json.RawMessage(`"like"`)); err != nil {
		t.Fatalf("SetReaction: %v", err)
	}

	// Only the sender may unsend.
	if _, err := s.Unsend(ctx, msg.ID, "bob"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err=%v want ErrForbidden", err)
	}

	got, err := s.Unsend(ctx, msg.ID, "alice")
	if err != nil {
		t.Fatalf("Unsend: %v", err)
	}
	if !got.IsUnsent || got.Kind != KindUnsent {
		t.Fatalf("tombstone state: IsUnsent=%v kind=%q", got.IsUnsent, got.Kind)
	}
	if got.Content != "" || got.FileURL != "" || len(got.Reactions) != 0 {
		t.Fatalf("tombstone must clear content/file/reactions: %+v", got)
	}
	if got.OriginalKind != KindImage || got.OriginalContent != "caption" {
		t.Fatalf("original fields not preserved: kind=%q content=%q", got.OriginalKind, got.OriginalContent)
	}

	// Idempotent: a second unsend does not re-capture originals.
	again, err := s.Unsend(ctx, msg.ID, "alice")
	if err != nil {
		t.Fatalf("second Unsend: %v", err)
	}
	if again.OriginalKind != KindImage {
		t.Fatalf("second Unsend overwrote originals: %q", again.OriginalKind)
	}

	// Tombstones stay reactable.
	got, err = s.SetReaction(ctx, msg.ID, "bob", json.RawMessage(`"sad"`))
	if err != nil {
		t.Fatalf("SetReaction on tombstone: %v", err)
	}
	if got.Reactions["bob"] != "😢" {
		t.Fatalf("reactions=%v want bob:😢", got.Reactions)
	}
}

func TestHideForMe(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	ctx := context.Background()
	msg := mustCreate(t, s, CreateMessageInput{RoomKey: "alice_bob", SenderID: "alice", Content: "x"})

	if _, err := s.HideForMe(ctx, msg.ID, "bob"); err != nil {
		t.Fatalf("HideForMe: %v", err)
	}
	// Idempotent.
	got, err := s.HideForMe(ctx, msg.ID, "bob")
	if err != nil {
		t.Fatalf("second HideForMe: %v", err)
	}
	if len(got.HiddenFor) != 1 {
		t.Fatalf("HiddenFor=%v want one entry", got.HiddenFor)
	}

	// Hidden only for bob; alice still sees it.
	forBob, err := s.ListRoomMessages(ctx, "alice_bob", "bob", nil)
	if err != nil {
		t.Fatalf("ListRoomMessages bob: %v", err)
	}
	if len(forBob) != 0 {
		t.Fatalf("bob sees %d messages want 0", len(forBob))
	}
	forAlice, err := s.ListRoomMessages(ctx, "alice_bob", "alice", nil)
	if err != nil {
		t.Fatalf("ListRoomMessages alice: %v", err)
	}
	if len(forAlice) != 1 {
		t.Fatalf("alice sees %d messages want 1", len(forAlice))
	}
}

func TestMarkSeen(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	ctx := context.Background()
	msg := mustCreate(t, s, CreateMessageInput{RoomKey: "alice_bob", SenderID: "alice", Content: "x"})

	if _, err := s.MarkSeen(ctx, msg.ID, "alice"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("sender MarkSeen err=%v want ErrForbidden", err)
	}

	got, err := s.MarkSeen(ctx, msg.ID, "bob")
	if err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if got.Status != StatusSeen {
		t.Fatalf("status=%q want=%q", got.Status, StatusSeen)
	}
}

func TestListRoomMessagesOrderAndAfter(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		mustCreate(t, s, CreateMessageInput{
			RoomKey:  "alice_bob",
			SenderID: "alice",
			Content:  string(rune('a' + i)),
			Now:      base.Add(time.Duration(i) * time.Minute),
		})
	}

	all, err := s.ListRoomMessages(ctx, "alice_bob", "alice", nil)
	if err != nil {
		t.Fatalf("ListRoomMessages: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d messages want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.Before(all[i-1].CreatedAt) {
			t.Fatal("messages not ascending by creation time")
		}
	}

	// after is a strict cursor.
	cursor := base.Add(time.Minute)
	newer, err := s.ListRoomMessages(ctx, "alice_bob", "alice", &cursor)
	if err != nil {
		t.Fatalf("ListRoomMessages after: %v", err)
	}
	if len(newer) != 1 || newer[0].Content != "c" {
		t.Fatalf("after cursor returned %d messages", len(newer))
	}
}
