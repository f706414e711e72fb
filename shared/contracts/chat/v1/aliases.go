package v1

// Legacy wire vocabulary.
//
// Older client generations emit several event-name spellings for the same
// logical operation (camelCase, kebab-case and free-text socket event names).
// They are translated to the canonical vocabulary here, at the protocol
// boundary, so alias handling never reaches routing or dispatch logic.
var legacyAliases = map[string]string{
	"join-room":      TypeRoomJoin,
	"joinRoom":       TypeRoomJoin,
	"join chat room": TypeRoomJoin,
	"leave-room":     TypeRoomLeave,
	"leaveRoom":      TypeRoomLeave,

	"send-message":       TypeMessageSend,
	"sendMessage":        TypeMessageSend,
	"send-group-message": TypeMessageSend,
	"sendGroupMessage":   TypeMessageSend,

	"add-reaction":    TypeReactionSet,
	"addReaction":     TypeReactionSet,
	"remove-reaction": TypeReactionSet,
	"removeReaction":  TypeReactionSet,

	"typing":      TypeTypingStart,
	"stop typing": TypeTypingStop,
	"stopTyping":  TypeTypingStop,

	"request-missed-messages": TypeBacklogFetch,
	"requestMissedMessages":   TypeBacklogFetch,

	"unsend-message": TypeMessageUnsend,
	"unsendMessage":  TypeMessageUnsend,
	"hide-message":   TypeMessageHide,
	"hideMessage":    TypeMessageHide,
	"message-seen":   TypeMessageSeen,
	"messageSeen":    TypeMessageSeen,
}

// removeReactionAliases are the legacy removal event names. They translate to
// reaction.set, but a rename alone is lossy: the legacy removal payload names
// the emoji being removed, which reaction.set semantics would set instead.
// The gateway checks IsRemoveReactionAlias on the pre-translation type and
// forces the reaction empty for these.
var removeReactionAliases = map[string]struct{}{
	"remove-reaction": {},
	"removeReaction":  {},
}

// CanonicalType maps a wire event name to its canonical type.
// Canonical names pass through unchanged; unknown names are returned as-is
// and rejected later by Envelope.Validate.
func CanonicalType(t string) string {
	if c, ok := legacyAliases[t]; ok {
		return c
	}
	return t
}

// IsRemoveReactionAlias reports whether t is a legacy reaction-removal event.
func IsRemoveReactionAlias(t string) bool {
	_, ok := removeReactionAliases[t]
	return ok
}
