package security

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	return NewCodec(filepath.Join(t.TempDir(), "key.json"))
}

func TestTokenRoundTrip(t *testing.T) {
	codec := newTestCodec(t)

	blob, err := codec.Encode("user:alice", "level:3")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	tok := codec.Decode(blob)
	if !tok.Success {
		t.Fatal("expected decryption success")
	}
	if len(tok.Data) != 2 || tok.Data[0] != "user:alice" || tok.Data[1] != "level:3" {
		t.Fatalf("unexpected data parts: %v", tok.Data)
	}
	if tok.DaysOld != 0 {
		t.Fatalf("fresh token reports %d days old", tok.DaysOld)
	}
	if !IsValidUUID4(tok.ID) {
		t.Fatalf("token ID is not a v4 UUID: %s", tok.ID)
	}
	if !tok.Valid() {
		t.Fatal("fresh token should authorize")
	}
}

func TestTokenKeySharedAcrossCodecs(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "key.json")

	blob, err := NewCodec(keyFile).Encode("user:bob")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	tok := NewCodec(keyFile).Decode(blob)
	if !tok.Success || tok.Data[0] != "user:bob" {
		t.Fatalf("second codec could not open token: %+v", tok)
	}
}

func TestTokenExpiry(t *testing.T) {
	codec := newTestCodec(t)

	blob, err := codec.encodeAt(time.Now().AddDate(-1, 0, -1), uuid.NewString(), "user:old")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	tok := codec.Decode(blob)
	if !tok.Success {
		t.Fatal("expired token should still open")
	}
	if tok.DaysOld < MaxKeyAgeDays {
		t.Fatalf("days_old = %d, want >= %d", tok.DaysOld, MaxKeyAgeDays)
	}
	if tok.Valid() {
		t.Fatal("expired token must not authorize")
	}
}

func TestTokenDecodeFailures(t *testing.T) {
	codec := newTestCodec(t)

	blob, err := codec.Encode("user:carol")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	tampered := blob[:len(blob)-5] + "AAAAA"

	for _, bad := range []string{"", "not base64 ???", "QUJD", tampered} {
		tok := codec.Decode(bad)
		if tok.Success {
			t.Fatalf("decode(%q) succeeded", bad)
		}
		if tok.ID != NoneID {
			t.Fatalf("decode(%q).ID = %s, want NoneID", bad, tok.ID)
		}
		if len(tok.Data) != 0 || tok.DaysOld != 0 {
			t.Fatalf("decode(%q) leaked fields: %+v", bad, tok)
		}
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("token-a")
	if a != Fingerprint("token-a") {
		t.Fatal("fingerprint is not stable")
	}
	if a == Fingerprint("token-b") {
		t.Fatal("distinct tokens collide")
	}
	if len(a) != 16 || strings.ToLower(a) != a {
		t.Fatalf("unexpected fingerprint shape: %q", a)
	}
}

func TestIsValidUUID4(t *testing.T) {
	valid := uuid.NewString()
	cases := []struct {
		id   string
		want bool
	}{
		{valid, true},
		{strings.ToUpper(valid), true},
		{NoneID, false},
		{"c232ab00-9414-11ec-b3c8-9f68deced846", false}, // v1
		{valid[:35], false},
		{"urn:uuid:" + valid, false},
		{"", false},
	}
	for _, c := range cases {
		if got := IsValidUUID4(c.id); got != c.want {
			t.Errorf("IsValidUUID4(%q) = %v, want %v", c.id, got, c.want)
		}
	}
}
