package realtime

import (
	"context"
	"encoding/json"
	"time"
)

// Kind is the message content kind.
type Kind string

// Message kinds (wire-stable).
const (
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindVideo  Kind = "video"
	KindAudio  Kind = "audio"
	KindFile   Kind = "file"
	KindUnsent Kind = "unsent"
)

// Status is the delivery status of a message. Strictly linear:
// sent -> delivered -> seen; it never regresses.
type Status string

// Delivery statuses.
const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"
)

// Message is the canonical persisted message representation. Reactions are
// always in the canonical userID -> emoji shape by the time a Message leaves
// the store.
type Message struct {
	ID          string
	TempID      string
	RoomKey     string
	SenderID    string
	RecipientID string
	Kind        Kind
	Content     string
	FileURL     string
	CreatedAt   time.Time

	Reactions map[string]string
	HiddenFor []string

	IsUnsent        bool
	OriginalKind    Kind
	OriginalContent string

	Status Status
}

// HiddenForUser reports whether the message is hidden for userID.
func (m Message) HiddenForUser(userID string) bool {
	for _, u := range m.HiddenFor {
		if u == userID {
			return true
		}
	}
	return false
}

// CreateMessageInput describes a message persist request.
type CreateMessageInput struct {
	RoomKey     string
	TempID      string
	SenderID    string
	RecipientID string
	Kind        Kind
	Content     string
	FileURL     string

	// Delivered is true when the recipient was present in the presence set
	// at persist time. Group messages start as sent.
	Delivered bool

	Now time.Time
}

// MessageStore is the only code path allowed to persist or mutate a message.
//
// Requirements:
//   - CreateMessage is idempotent per (room key, temp id)
//   - Concurrent mutations of the same message are serialized
//   - Reads on behalf of a user exclude messages hidden for that user
type MessageStore interface {
	// CreateMessage persists a message. The bool result is true when the
	// send was absorbed as a duplicate of an earlier identical temp id.
	CreateMessage(ctx context.Context, in CreateMessageInput) (Message, bool, error)

	// GetMessage returns a message by durable id.
	GetMessage(ctx context.Context, messageID string) (Message, error)

	// SetReaction normalizes raw and sets it as userID's single reaction on
	// the message, replacing any prior emoji from that user. An empty raw
	// reaction clears the user's entry.
	SetReaction(ctx context.Context, messageID, userID string, raw json.RawMessage) (Message, error)

	// Unsend tombstones a message. Fails with ErrForbidden unless
	// requesterID is the sender. Content, file fields and reactions are
	// cleared; the original kind and content are preserved for audit only.
	Unsend(ctx context.Context, messageID, requesterID string) (Message, error)

	// HideForMe idempotently hides the message for userID only.
	HideForMe(ctx context.Context, messageID, userID string) (Message, error)

	// MarkSeen advances delivery status to seen on behalf of a recipient.
	MarkSeen(ctx context.Context, messageID, userID string) (Message, error)

	// ListRoomMessages returns the room's messages ascending by creation
	// time, excluding messages hidden for viewerID. A non-nil after narrows
	// to messages created strictly after that instant.
	ListRoomMessages(ctx context.Context, roomKey, viewerID string, after *time.Time) ([]Message, error)

	Close() error
}
