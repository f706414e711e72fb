package realtime

import (
	"encoding/json"
	"strings"
	"unicode"
)

// DefaultEmoji is the fallback for unknown or empty reaction input.
// A deliberate product choice, not an error path: any recognized reaction
// gesture degrades to a thumbs-up rather than failing.
const DefaultEmoji = "👍"

// emojiKeywords maps the fixed keyword vocabulary older clients emit to
// canonical emoji.
var emojiKeywords = map[string]string{
	"like":     "👍",
	"dislike":  "👎",
	"love":     "❤️",
	"heart":    "❤️",
	"haha":     "😂",
	"laugh":    "😂",
	"wow":      "😮",
	"sad":      "😢",
	"angry":    "😡",
	"fire":     "🔥",
	"clap":     "👏",
	"thumbsup": "👍",
}

// CanonicalEmoji resolves a raw reaction value to a canonical emoji.
//
// Accepted shapes, resolved at the boundary and never passed further:
//   - a bare emoji string
//   - a keyword string ("like", "love", ...)
//   - an object carrying an "emoji" or "type" field (one level deep)
//
// Unknown or empty input yields DefaultEmoji.
func CanonicalEmoji(raw json.RawMessage) string {
	return canonicalEmoji(raw, 1)
}

// CanonicalEmojiString resolves a reaction string (keyword or emoji).
func CanonicalEmojiString(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultEmoji
	}
	if e, ok := emojiKeywords[strings.ToLower(s)]; ok {
		return e
	}
	if looksLikeEmoji(s) {
		return s
	}
	return DefaultEmoji
}

// IsEmptyReaction reports whether raw carries no reaction at all.
// An empty reaction on a set operation means "clear my reaction".
func IsEmptyReaction(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || s == `""` {
		return true
	}
	return false
}

func canonicalEmoji(raw json.RawMessage, depth int) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return DefaultEmoji
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return CanonicalEmojiString(str)
	}

	if depth <= 0 {
		return DefaultEmoji
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return DefaultEmoji
	}
	if v, ok := obj["emoji"]; ok {
		return canonicalEmoji(v, depth-1)
	}
	if v, ok := obj["type"]; ok {
		return canonicalEmoji(v, depth-1)
	}
	return DefaultEmoji
}

// looksLikeEmoji reports whether s plausibly is an emoji rather than an
// unmapped keyword. Any rune outside ASCII qualifies; plain ASCII words
// fall back to the default.
func looksLikeEmoji(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return true
		}
	}
	return false
}

// CanonicalReactionMap folds either known raw reaction-map shape into the
// canonical userID -> emoji form:
//
//	canonical: {"user1": "❤️", "user2": "like"}
//	inverse:   {"❤️": ["user1"], "like": ["user2"]}
//
// The inverse shape is detected per entry by its list value, so mixed maps
// from partially migrated clients fold correctly too. Every emoji passes
// through CanonicalEmojiString. Applied on persistence and defensively again
// on every outbound broadcast, because older clients are never normalized at
// the source.
func CanonicalReactionMap(raw json.RawMessage) (map[string]string, error) {
	out := make(map[string]string)

	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return out, nil
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}

	for key, val := range m {
		var users []string
		if err := json.Unmarshal(val, &users); err == nil {
			// Inverse shape: key is the emoji, value lists the users.
			emoji := CanonicalEmojiString(key)
			for _, u := range users {
				if u == "" {
					continue
				}
				out[u] = emoji
			}
			continue
		}

		var emoji string
		if err := json.Unmarshal(val, &emoji); err == nil {
			if emoji == "" {
				continue
			}
			out[key] = CanonicalEmojiString(emoji)
			continue
		}

		// Structured reaction value ({"emoji": ...} / {"type": ...}).
		out[key] = canonicalEmoji(val, 1)
	}

	return out, nil
}

// CanonicalReactions normalizes an already-typed reaction map in place,
// returning a fresh map. Used on outbound broadcast as the defensive second
// normalization pass.
func CanonicalReactions(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for user, emoji := range m {
		if user == "" || emoji == "" {
			continue
		}
		out[user] = CanonicalEmojiString(emoji)
	}
	return out
}
