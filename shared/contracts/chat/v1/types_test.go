package v1

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{name: "valid hello", env: Envelope{V: Version, Type: TypeHello}},
		{name: "valid message send", env: Envelope{V: Version, Type: TypeMessageSend}},
		{name: "missing version", env: Envelope{Type: TypeHello}, wantErr: true},
		{name: "wrong version", env: Envelope{V: "v0", Type: TypeHello}, wantErr: true},
		{name: "missing type", env: Envelope{V: Version}, wantErr: true},
		{name: "unknown type", env: Envelope{V: Version, Type: "nonsense"}, wantErr: true},
		{name: "legacy alias not pre-translated", env: Envelope{V: Version, Type: "sendMessage"}, wantErr: true},
	}

	for _, tc := range cases {
		err := tc.env.Validate()
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
	}
}

func TestCanonicalType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "join-room", want: TypeRoomJoin},
		{in: "joinRoom", want: TypeRoomJoin},
		{in: "join chat room", want: TypeRoomJoin},
		{in: "sendMessage", want: TypeMessageSend},
		{in: "send-group-message", want: TypeMessageSend},
		{in: "addReaction", want: TypeReactionSet},
		{in: "removeReaction", want: TypeReactionSet},
		{in: "typing", want: TypeTypingStart},
		{in: "stop typing", want: TypeTypingStop},
		{in: "request-missed-messages", want: TypeBacklogFetch},
		{in: "unsendMessage", want: TypeMessageUnsend},
		{in: "hideMessage", want: TypeMessageHide},
		{in: "messageSeen", want: TypeMessageSeen},
		{in: TypeMessageSend, want: TypeMessageSend}, // canonical passthrough
		{in: "nonsense", want: "nonsense"},           // rejected later by Validate
	}

	for _, tc := range cases {
		if got := CanonicalType(tc.in); got != tc.want {
			t.Fatalf("CanonicalType(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestIsRemoveReactionAlias(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want bool
	}{
		{in: "remove-reaction", want: true},
		{in: "removeReaction", want: true},
		{in: "add-reaction", want: false},
		{in: "addReaction", want: false},
		{in: TypeReactionSet, want: false},
	}

	for _, tc := range cases {
		if got := IsRemoveReactionAlias(tc.in); got != tc.want {
			t.Fatalf("IsRemoveReactionAlias(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestEnvelopeJSONShape(t *testing.T) {
	t.Parallel()

	payload, err := json.Marshal(MessageSendPayload{
		To:      "bob",
		TempID:  "tmp-1",
		Content: "hi",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	env := Envelope{
		V:       Version,
		Type:    TypeMessageSend,
		ID:      "01H",
		TS:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Payload: payload,
	}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	var back Envelope
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if back.V != Version || back.Type != TypeMessageSend || back.ID != "01H" {
		t.Fatalf("round trip mismatch: %+v", back)
	}

	var p MessageSendPayload
	if err := json.Unmarshal(back.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.To != "bob" || p.TempID != "tmp-1" || p.Content != "hi" {
		t.Fatalf("payload mismatch: %+v", p)
	}
}
