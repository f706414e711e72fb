package token

import "errors"

var (
	// ErrKeyMissing means RELAY_TOKEN_HMAC_KEY is unset or blank.
	ErrKeyMissing = errors.New("token: HMAC key missing")

	// ErrKeyTooShort means the configured key is below MinKeyBytes.
	ErrKeyTooShort = errors.New("token: HMAC key too short")

	// ErrMalformedToken means the token does not match the expected format.
	ErrMalformedToken = errors.New("token: malformed token")

	// ErrBadSignature means the signature check failed.
	ErrBadSignature = errors.New("token: bad signature")
)
