package realtime

import "errors"

// Error taxonomy surfaced across the gateway boundary.
//
// Duplicate suppression is deliberately not an error: an absorbed duplicate
// send is acknowledged to the originating client as a no-op.
var (
	// ErrUnauthorized means the connect-time token was missing or invalid.
	ErrUnauthorized = errors.New("realtime: unauthorized")

	// ErrForbidden means the requester may not mutate the target message or
	// act on a room they are not a member of.
	ErrForbidden = errors.New("realtime: forbidden")

	// ErrNotFound means the message, room or group no longer exists.
	ErrNotFound = errors.New("realtime: not found")
)
