package token

import (
	"errors"
	"strings"
	"testing"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestMintVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	v, err := NewVerifier(testKey)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	tok := v.Mint("alice")
	userID, err := v.VerifyToken(tok)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if userID != "alice" {
		t.Fatalf("userID=%q want=alice", userID)
	}

	// Verification is case-insensitive on the hex digest.
	upper := strings.ToUpper(tok[strings.Index(tok, ".")+1:])
	if _, err := v.VerifyToken("alice." + upper); err != nil {
		t.Fatalf("uppercase digest rejected: %v", err)
	}
}

func TestVerifyTokenRejects(t *testing.T) {
	t.Parallel()

	v, err := NewVerifier(testKey)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	cases := []struct {
		name string
		tok  string
		want error
	}{
		{name: "empty", tok: "", want: ErrMalformedToken},
		{name: "no separator", tok: "alice", want: ErrMalformedToken},
		{name: "empty user", tok: ".deadbeef", want: ErrMalformedToken},
		{name: "empty signature", tok: "alice.", want: ErrMalformedToken},
		{name: "bad signature", tok: "alice.deadbeef", want: ErrBadSignature},
	}

	for _, tc := range cases {
		if _, err := v.VerifyToken(tc.tok); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err=%v want=%v", tc.name, err, tc.want)
		}
	}

	// A token minted for one user never verifies as another.
	tok := v.Mint("alice")
	forged := "bob." + tok[strings.Index(tok, ".")+1:]
	if _, err := v.VerifyToken(forged); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("forged token err=%v want=ErrBadSignature", err)
	}
}

func TestVerifyTokenWrongKey(t *testing.T) {
	t.Parallel()

	a, err := NewVerifier(testKey)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	b, err := NewVerifier([]byte("ffffffffffffffffffffffffffffffff"))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	if _, err := b.VerifyToken(a.Mint("alice")); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("cross-key token err=%v want=ErrBadSignature", err)
	}
}

func TestNewVerifierKeyLength(t *testing.T) {
	t.Parallel()

	if _, err := NewVerifier(nil); !errors.Is(err, ErrKeyMissing) {
		t.Fatalf("nil key err=%v want=ErrKeyMissing", err)
	}
	if _, err := NewVerifier([]byte("short")); !errors.Is(err, ErrKeyTooShort) {
		t.Fatalf("short key err=%v want=ErrKeyTooShort", err)
	}
	if _, err := NewVerifier(testKey); err != nil {
		t.Fatalf("32-byte key rejected: %v", err)
	}
}

func TestNewVerifierFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	if _, err := NewVerifierFromEnv(); !errors.Is(err, ErrKeyMissing) {
		t.Fatalf("empty env err=%v want=ErrKeyMissing", err)
	}

	t.Setenv(HMACEnvKey, string(testKey))
	v, err := NewVerifierFromEnv()
	if err != nil {
		t.Fatalf("NewVerifierFromEnv: %v", err)
	}
	if _, err := v.VerifyToken(v.Mint("alice")); err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
}
