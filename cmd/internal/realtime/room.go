package realtime

import (
	"errors"
	"fmt"
	"strings"
)

// Room keys are derived, never persisted. Both sides of a conversation
// compute the same key independently:
//
//	direct: min(a,b) + "_" + max(a,b)
//	group:  "group:" + groupID
//
// "_" and ":" are reserved separators and therefore rejected inside ids,
// which keeps every key unambiguous.
const (
	groupRoomPrefix = "group:"

	directRoomSep = "_"
)

// ValidateID rejects ids that are empty or contain reserved separator
// characters. Malformed ids are caller errors, not runtime conditions.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("empty id")
	}
	if strings.ContainsAny(id, "_:") {
		return fmt.Errorf("id contains reserved character: %q", id)
	}
	return nil
}

// DirectRoomKey returns the canonical room key for a direct conversation.
// Symmetric: DirectRoomKey(a, b) == DirectRoomKey(b, a).
func DirectRoomKey(a, b string) (string, error) {
	if err := ValidateID(a); err != nil {
		return "", err
	}
	if err := ValidateID(b); err != nil {
		return "", err
	}
	if a == b {
		return "", fmt.Errorf("direct room requires two distinct users: %q", a)
	}
	if a > b {
		a, b = b, a
	}
	return a + directRoomSep + b, nil
}

// GroupRoomKey returns the canonical room key for a group conversation.
func GroupRoomKey(groupID string) (string, error) {
	if err := ValidateID(groupID); err != nil {
		return "", err
	}
	return groupRoomPrefix + groupID, nil
}

// UserRoomKey is the per-user private room every session subscribes to at
// connect time. It doubles as a guaranteed-delivery fallback channel.
func UserRoomKey(userID string) string {
	return userID
}

// IsGroupRoom reports whether key names a group room.
func IsGroupRoom(key string) bool {
	return strings.HasPrefix(key, groupRoomPrefix)
}

// GroupIDFromRoom extracts the group id from a group room key.
func GroupIDFromRoom(key string) (string, bool) {
	if !IsGroupRoom(key) {
		return "", false
	}
	id := key[len(groupRoomPrefix):]
	if id == "" {
		return "", false
	}
	return id, true
}

// DirectRoomMembers splits a direct room key into its two participants.
func DirectRoomMembers(key string) (string, string, bool) {
	if IsGroupRoom(key) {
		return "", "", false
	}
	a, b, ok := strings.Cut(key, directRoomSep)
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

// AliasRooms returns the legacy room keys a message for roomKey must also
// fan out to. Older group clients subscribe to the bare group id; direct
// messages additionally fan to both participants' private rooms so delivery
// survives a failed room subscription.
//
// The dispatcher deduplicates subscribers across the alias set, so a
// session present in several of these rooms still receives one copy.
func AliasRooms(roomKey string) []string {
	if gid, ok := GroupIDFromRoom(roomKey); ok {
		return []string{gid}
	}
	if a, b, ok := DirectRoomMembers(roomKey); ok {
		return []string{UserRoomKey(a), UserRoomKey(b)}
	}
	return nil
}

// IsDirectParticipant reports whether userID is one of the two parties of a
// direct room key.
func IsDirectParticipant(roomKey, userID string) bool {
	a, b, ok := DirectRoomMembers(roomKey)
	return ok && (a == userID || b == userID)
}
