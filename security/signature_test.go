package security

import (
	"strings"
	"testing"
)

func TestSignFormat(t *testing.T) {
	sig := Sign([]byte(`{"a":1}`), "sekret", 1700000000000)

	if !strings.HasPrefix(sig, "sha256=") {
		t.Fatalf("signature prefix: %q", sig)
	}
	if len(sig) != len("sha256=")+64 {
		t.Fatalf("signature length: %d", len(sig))
	}
}

func TestSignDeterministic(t *testing.T) {
	a := Sign([]byte(`{"a":1}`), "sekret", 1700000000000)
	b := Sign([]byte(`{"a":1}`), "sekret", 1700000000000)
	if a != b {
		t.Fatal("same inputs must produce the same signature")
	}
}

func TestSignInputsMatter(t *testing.T) {
	base := Sign([]byte(`{"a":1}`), "sekret", 1700000000000)

	if Sign([]byte(`{"a":2}`), "sekret", 1700000000000) == base {
		t.Fatal("payload change must change the signature")
	}
	if Sign([]byte(`{"a":1}`), "other", 1700000000000) == base {
		t.Fatal("secret change must change the signature")
	}
	if Sign([]byte(`{"a":1}`), "sekret", 1700000000001) == base {
		t.Fatal("timestamp change must change the signature")
	}
}

func TestVerify(t *testing.T) {
	payload := []byte(`{"claim_id":"c-7"}`)
	sig := Sign(payload, "sekret", 1700000000000)

	if !Verify(payload, "sekret", 1700000000000, sig) {
		t.Fatal("valid signature must verify")
	}
	if Verify(payload, "sekret", 1700000000001, sig) {
		t.Fatal("wrong timestamp must not verify")
	}
	if Verify(payload, "wrong", 1700000000000, sig) {
		t.Fatal("wrong secret must not verify")
	}
	if Verify([]byte(`{}`), "sekret", 1700000000000, sig) {
		t.Fatal("wrong payload must not verify")
	}
}

func TestGenerateSecret(t *testing.T) {
	a := GenerateSecret()
	b := GenerateSecret()

	if !strings.HasPrefix(a, "whsec_") {
		t.Fatalf("prefix: %q", a)
	}
	if len(a) != len("whsec_")+64 {
		t.Fatalf("length: %d", len(a))
	}
	if a == b {
		t.Fatal("secrets must be unique")
	}
}
