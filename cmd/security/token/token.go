// Package token verifies connect-time auth tokens.
//
// Token issuance belongs to the external auth service; this package only
// checks that a presented token was minted with the shared HMAC key. The
// format is deliberately simple and stable:
//
//	<userID>.<hex HMAC-SHA256 of userID>
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the token HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "RELAY_TOKEN_HMAC_KEY"

	// MinKeyBytes is the minimum accepted HMAC key length.
	MinKeyBytes = 32
)

// Verifier checks token signatures with a fixed key.
type Verifier struct {
	key []byte
}

// NewVerifier constructs a Verifier, enforcing the minimum key length.
func NewVerifier(key []byte) (*Verifier, error) {
	if len(key) == 0 {
		return nil, ErrKeyMissing
	}
	if len(key) < MinKeyBytes {
		return nil, ErrKeyTooShort
	}
	return &Verifier{key: append([]byte(nil), key...)}, nil
}

// NewVerifierFromEnv reads the key from RELAY_TOKEN_HMAC_KEY.
func NewVerifierFromEnv() (*Verifier, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrKeyMissing
	}
	return NewVerifier([]byte(raw))
}

// VerifyToken validates the token and returns the user id it was minted for.
func (v *Verifier) VerifyToken(tok string) (string, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", ErrMalformedToken
	}

	userID, sig, ok := strings.Cut(tok, ".")
	if !ok || userID == "" || sig == "" {
		return "", ErrMalformedToken
	}

	want := HashHMACSHA256Hex(userID, v.key)
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(sig))) {
		return "", ErrBadSignature
	}
	return userID, nil
}

// Mint produces a token for userID. Exists for dev tooling and tests; the
// production issuer lives in the auth service.
func (v *Verifier) Mint(userID string) string {
	return userID + "." + HashHMACSHA256Hex(userID, v.key)
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}
