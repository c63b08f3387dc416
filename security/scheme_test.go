package security

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"testing"
	"time"
)

func TestParseSchemeNone(t *testing.T) {
	for _, name := range []string{"", SchemeNone} {
		scheme, err := ParseScheme(name, "ignored", nil, "")
		if err != nil {
			t.Fatal(err)
		}

		h := http.Header{}
		scheme.Apply(h, []byte(`{}`), time.Now())
		if len(h) != 0 {
			t.Fatalf("none scheme must add no headers, got %v", h)
		}
	}
}

func TestParseSchemeUnknown(t *testing.T) {
	if _, err := ParseScheme("kerberos", "", nil, ""); err == nil {
		t.Fatal("expected an error for unknown scheme")
	}
}

func TestBasicDefaultUsername(t *testing.T) {
	scheme, err := ParseScheme(SchemeBasic, "s3cret", nil, "")
	if err != nil {
		t.Fatal(err)
	}

	h := http.Header{}
	scheme.Apply(h, nil, time.Now())

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("api:s3cret"))
	if got := h.Get("Authorization"); got != want {
		t.Fatalf("Authorization = %q, want %q", got, want)
	}
}

func TestBasicConfiguredUsername(t *testing.T) {
	scheme, err := ParseScheme(SchemeBasic, "pw", map[string]string{"username": "svc"}, "")
	if err != nil {
		t.Fatal(err)
	}

	h := http.Header{}
	scheme.Apply(h, nil, time.Now())

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("svc:pw"))
	if got := h.Get("Authorization"); got != want {
		t.Fatalf("Authorization = %q, want %q", got, want)
	}
}

func TestBearerAndOAuth2(t *testing.T) {
	for _, name := range []string{SchemeBearer, SchemeOAuth2} {
		scheme, err := ParseScheme(name, "tok-1", nil, "")
		if err != nil {
			t.Fatal(err)
		}

		h := http.Header{}
		scheme.Apply(h, nil, time.Now())
		if got := h.Get("Authorization"); got != "Bearer tok-1" {
			t.Fatalf("%s: Authorization = %q", name, got)
		}
	}
}

func TestHMACHeaders(t *testing.T) {
	scheme, err := ParseScheme(SchemeHMAC, "sekret", nil, "")
	if err != nil {
		t.Fatal(err)
	}

	now := time.UnixMilli(1700000000000)
	payload := []byte(`{"a":1}`)

	h := http.Header{}
	scheme.Apply(h, payload, now)

	if got := h.Get(TimestampHeader); got != "1700000000000" {
		t.Fatalf("timestamp = %q", got)
	}

	sig := h.Get(SignatureHeader)
	if sig != Sign(payload, "sekret", 1700000000000) {
		t.Fatalf("signature = %q", sig)
	}
}

func TestHMACFallbackSecret(t *testing.T) {
	scheme, err := ParseScheme(SchemeHMAC, "", nil, "fallback")
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	payload := []byte(`{"a":1}`)

	h := http.Header{}
	scheme.Apply(h, payload, now)

	ts, _ := strconv.ParseInt(h.Get(TimestampHeader), 10, 64)
	if !Verify(payload, "fallback", ts, h.Get(SignatureHeader)) {
		t.Fatal("signature must verify against the fallback secret")
	}
}

func TestValidSchemeName(t *testing.T) {
	for _, name := range []string{"", SchemeNone, SchemeBasic, SchemeBearer, SchemeHMAC, SchemeOAuth2} {
		if !ValidSchemeName(name) {
			t.Fatalf("%q should be valid", name)
		}
	}
	if ValidSchemeName("kerberos") {
		t.Fatal("unknown name should be invalid")
	}
}
