// Package v1 defines the Relay Chat Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake and carries the auth token (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeRoomJoin subscribes the session to a room (client -> server) and is echoed back.
	TypeRoomJoin = "room.join"
	// TypeRoomLeave unsubscribes the session from a room (client -> server).
	TypeRoomLeave = "room.leave"

	// TypeMessageSend requests sending a new message (client -> server).
	TypeMessageSend = "message.send"
	// TypeMessageAck acknowledges a send request to the originating client (server -> client).
	TypeMessageAck = "message.ack"
	// TypeMessageNew broadcasts a newly accepted message (server -> room subscribers).
	TypeMessageNew = "message.new"
	// TypeMessageUpdated broadcasts a message state change: reaction, tombstone, seen (server -> room subscribers).
	TypeMessageUpdated = "message.updated"

	// TypeReactionSet sets or clears the sender's reaction on a message (client -> server).
	TypeReactionSet = "reaction.set"
	// TypeMessageUnsend tombstones a message globally (client -> server).
	TypeMessageUnsend = "message.unsend"
	// TypeMessageHide hides a message for the requesting user only (client -> server).
	TypeMessageHide = "message.hide"
	// TypeMessageSeen acknowledges that the recipient has read a message (client -> server).
	TypeMessageSeen = "message.seen"

	// TypeTypingStart / TypeTypingStop relay typing indicators (client -> server -> room).
	TypeTypingStart = "typing.start"
	TypeTypingStop  = "typing.stop"

	// TypeBacklogFetch requests missed messages for a room (client -> server).
	TypeBacklogFetch = "backlog.fetch"
	// TypeBacklogChunk returns the visible history of a room (server -> client).
	TypeBacklogChunk = "backlog.chunk"

	// TypePresenceUpdate announces a user going online/offline (server -> all sessions).
	TypePresenceUpdate = "presence.update"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
// The type must already be canonical; translate legacy aliases with
// CanonicalType before validating.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeRoomJoin,
		TypeRoomLeave,
		TypeMessageSend,
		TypeMessageAck,
		TypeMessageNew,
		TypeMessageUpdated,
		TypeReactionSet,
		TypeMessageUnsend,
		TypeMessageHide,
		TypeMessageSeen,
		TypeTypingStart,
		TypeTypingStop,
		TypeBacklogFetch,
		TypeBacklogChunk,
		TypePresenceUpdate,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload is sent by the client to initiate a session.
type HelloPayload struct {
	Token string `json:"token"`
}

// HelloAckPayload confirms authentication and carries the session identity.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// RoomJoinPayload requests subscription to a room.
// Clients derive the room key themselves: direct rooms sort the two user
// ids and join them with "_"; group rooms are "group:" + group id.
type RoomJoinPayload struct {
	RoomKey string `json:"room_key"`
}

// RoomLeavePayload requests unsubscription from a room.
type RoomLeavePayload struct {
	RoomKey string `json:"room_key"`
}

// MessageSendPayload requests sending a message.
//
// RoomKey may be omitted when To or GroupID is present; the server derives it.
// TempID is the client-generated correlation id for optimistic UI reconciliation.
type MessageSendPayload struct {
	RoomKey string `json:"room_key,omitempty"`
	To      string `json:"to,omitempty"`
	GroupID string `json:"group_id,omitempty"`
	TempID  string `json:"temp_id"`
	Kind    string `json:"kind,omitempty"`
	Content string `json:"content"`
	FileURL string `json:"file_url,omitempty"`
}

// MessageAckPayload acknowledges a send and returns the canonical server ids.
// Duplicate is true when the send was absorbed as an idempotent replay; the
// client should treat it as a successful no-op.
type MessageAckPayload struct {
	RoomKey   string `json:"room_key"`
	TempID    string `json:"temp_id"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// MessagePayload is the canonical outbound message representation used by
// message.new, message.updated and backlog.chunk.
type MessagePayload struct {
	MessageID   string            `json:"message_id"`
	TempID      string            `json:"temp_id,omitempty"`
	RoomKey     string            `json:"room_key"`
	SenderID    string            `json:"sender_id"`
	RecipientID string            `json:"recipient_id"`
	Kind        string            `json:"kind"`
	Content     string            `json:"content"`
	FileURL     string            `json:"file_url,omitempty"`
	Reactions   map[string]string `json:"reactions"`
	IsUnsent    bool              `json:"is_unsent,omitempty"`
	Status      string            `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ReactionSetPayload sets the sender's reaction on a message.
//
// Reaction is deliberately raw: heterogeneous client generations emit a bare
// emoji string, a keyword ("like", "love", ...), or an object carrying an
// "emoji" or "type" field. The server normalizes at the boundary. An empty or
// null reaction clears the sender's reaction.
type ReactionSetPayload struct {
	MessageID string          `json:"message_id"`
	Reaction  json.RawMessage `json:"reaction,omitempty"`
}

// MessageUnsendPayload tombstones a message. Sender-only.
type MessageUnsendPayload struct {
	MessageID string `json:"message_id"`
}

// MessageHidePayload hides a message for the requesting user only.
type MessageHidePayload struct {
	MessageID string `json:"message_id"`
}

// MessageSeenPayload acknowledges a read.
type MessageSeenPayload struct {
	MessageID string `json:"message_id"`
}

// TypingPayload relays a typing indicator for a room.
// UserID is filled by the server on the way out.
type TypingPayload struct {
	RoomKey string `json:"room_key"`
	UserID  string `json:"user_id,omitempty"`
}

// BacklogFetchPayload requests missed messages for a room.
// After is an optional cursor; legacy clients omit it and receive the full
// visible history, relying on client-side dedup by message id.
type BacklogFetchPayload struct {
	RoomKey string     `json:"room_key"`
	After   *time.Time `json:"after,omitempty"`
}

// BacklogChunkPayload returns the visible history of a room, ascending by
// creation time.
type BacklogChunkPayload struct {
	RoomKey  string           `json:"room_key"`
	Messages []MessagePayload `json:"messages"`
}

// PresenceUpdatePayload announces a presence transition.
type PresenceUpdatePayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
