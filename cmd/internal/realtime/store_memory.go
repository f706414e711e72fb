package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"
)

const memMaxMessagesPerRoom = 10_000

// InMemoryStore is the MessageStore used when no database is configured
// (dev, tests). It honors the same contracts as the Postgres store:
// idempotent create per (room, temp id), serialized per-message mutation,
// hidden-for filtering on reads.
type InMemoryStore struct {
	mu     sync.Mutex
	msgs   map[string]*memMessage
	rooms  map[string][]string // room key -> message ids in append order
	dedupe map[string]string   // room key + "\x00" + temp id -> message id
}

// memMessage carries its own lock so concurrent mutations of the same
// message serialize without a store-wide critical section.
type memMessage struct {
	mu sync.Mutex
	m  Message
}

// NewInMemoryStore constructs an in-memory MessageStore implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		msgs:   make(map[string]*memMessage),
		rooms:  make(map[string][]string),
		dedupe: make(map[string]string),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// CreateMessage persists a message with idempotency per (room, temp id).
func (s *InMemoryStore) CreateMessage(ctx context.Context, in CreateMessageInput) (Message, bool, error) {
	if in.RoomKey == "" || in.SenderID == "" {
		return Message{}, false, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, false, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	kind := in.Kind
	if kind == "" {
		kind = KindText
	}
	status := StatusSent
	if in.Delivered {
		status = StatusDelivered
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if in.TempID != "" {
		if id, ok := s.dedupe[dedupeKey(in.RoomKey, in.TempID)]; ok {
			if mm := s.msgs[id]; mm != nil {
				return cloneMessage(mm.snapshot()), true, nil
			}
		}
	}

	id, err := NewMessageID(now)
	if err != nil {
		return Message{}, false, err
	}

	msg := Message{
		ID:          id,
		TempID:      in.TempID,
		RoomKey:     in.RoomKey,
		SenderID:    in.SenderID,
		RecipientID: in.RecipientID,
		Kind:        kind,
		Content:     in.Content,
		FileURL:     in.FileURL,
		CreatedAt:   now,
		Reactions:   make(map[string]string),
		Status:      status,
	}

	s.msgs[id] = &memMessage{m: msg}
	s.rooms[in.RoomKey] = append(s.rooms[in.RoomKey], id)
	if in.TempID != "" {
		s.dedupe[dedupeKey(in.RoomKey, in.TempID)] = id
	}

	// Bound memory to avoid unbounded growth in dev.
	if ids := s.rooms[in.RoomKey]; len(ids) > memMaxMessagesPerRoom {
		drop := ids[:len(ids)-memMaxMessagesPerRoom]
		s.rooms[in.RoomKey] = append([]string(nil), ids[len(ids)-memMaxMessagesPerRoom:]...)
		for _, old := range drop {
			if mm := s.msgs[old]; mm != nil {
				if mm.m.TempID != "" {
					delete(s.dedupe, dedupeKey(in.RoomKey, mm.m.TempID))
				}
			}
			delete(s.msgs, old)
		}
	}

	return cloneMessage(msg), false, nil
}

// GetMessage returns a message by durable id.
func (s *InMemoryStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	mm, err := s.lookup(messageID)
	if err != nil {
		return Message{}, err
	}
	return cloneMessage(mm.snapshot()), nil
}

// SetReaction replaces userID's reaction on the message with the normalized
// form of raw. Empty raw clears the entry. Tombstoned messages remain
// reactable.
func (s *InMemoryStore) SetReaction(ctx context.Context, messageID, userID string, raw json.RawMessage) (Message, error) {
	if userID == "" {
		return Message{}, errors.New("missing user id")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	mm, err := s.lookup(messageID)
	if err != nil {
		return Message{}, err
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	if mm.m.Reactions == nil {
		mm.m.Reactions = make(map[string]string)
	}
	if IsEmptyReaction(raw) {
		delete(mm.m.Reactions, userID)
	} else {
		mm.m.Reactions[userID] = CanonicalEmoji(raw)
	}
	return cloneMessage(mm.m), nil
}

// Unsend tombstones the message. Sender-only; idempotent.
func (s *InMemoryStore) Unsend(ctx context.Context, messageID, requesterID string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	mm, err := s.lookup(messageID)
	if err != nil {
		return Message{}, err
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	if mm.m.SenderID != requesterID {
		return Message{}, ErrForbidden
	}
	if !mm.m.IsUnsent {
		mm.m.OriginalKind = mm.m.Kind
		mm.m.OriginalContent = mm.m.Content
		mm.m.Kind = KindUnsent
		mm.m.Content = ""
		mm.m.FileURL = ""
		mm.m.Reactions = make(map[string]string)
		mm.m.IsUnsent = true
	}
	return cloneMessage(mm.m), nil
}

// HideForMe idempotently hides the message for userID.
func (s *InMemoryStore) HideForMe(ctx context.Context, messageID, userID string) (Message, error) {
	if userID == "" {
		return Message{}, errors.New("missing user id")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	mm, err := s.lookup(messageID)
	if err != nil {
		return Message{}, err
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	if !mm.m.HiddenForUser(userID) {
		mm.m.HiddenFor = append(mm.m.HiddenFor, userID)
	}
	return cloneMessage(mm.m), nil
}

// MarkSeen advances the status to seen on behalf of a recipient. The sender
// cannot mark its own message; status never regresses.
func (s *InMemoryStore) MarkSeen(ctx context.Context, messageID, userID string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	mm, err := s.lookup(messageID)
	if err != nil {
		return Message{}, err
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	if mm.m.SenderID == userID {
		return Message{}, ErrForbidden
	}
	if mm.m.Status != StatusSeen {
		mm.m.Status = StatusSeen
	}
	return cloneMessage(mm.m), nil
}

// ListRoomMessages returns visible messages ascending by creation time.
func (s *InMemoryStore) ListRoomMessages(ctx context.Context, roomKey, viewerID string, after *time.Time) ([]Message, error) {
	if roomKey == "" {
		return nil, errors.New("missing room key")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	ids := append([]string(nil), s.rooms[roomKey]...)
	snap := make([]Message, 0, len(ids))
	for _, id := range ids {
		if mm := s.msgs[id]; mm != nil {
			snap = append(snap, mm.snapshot())
		}
	}
	s.mu.Unlock()

	out := make([]Message, 0, len(snap))
	for _, m := range snap {
		if m.HiddenForUser(viewerID) {
			continue
		}
		if after != nil && !m.CreatedAt.After(*after) {
			continue
		}
		out = append(out, cloneMessage(m))
	}

	// Ensure ordering defensively.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) lookup(messageID string) (*memMessage, error) {
	if messageID == "" {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	mm := s.msgs[messageID]
	s.mu.Unlock()
	if mm == nil {
		return nil, ErrNotFound
	}
	return mm, nil
}

func (mm *memMessage) snapshot() Message {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return cloneMessage(mm.m)
}

func cloneMessage(m Message) Message {
	out := m
	out.Reactions = make(map[string]string, len(m.Reactions))
	for k, v := range m.Reactions {
		out.Reactions[k] = v
	}
	out.HiddenFor = append([]string(nil), m.HiddenFor...)
	return out
}

func dedupeKey(roomKey, tempID string) string {
	return roomKey + "\x00" + tempID
}
