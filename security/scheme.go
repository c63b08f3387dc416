// Package security builds per-subscription authentication headers for
// outbound webhook deliveries and provides HMAC-SHA256 payload signing.
package security

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Scheme name constants, as stored on a subscription.
const (
	SchemeNone   = "none"
	SchemeBasic  = "basic"
	SchemeBearer = "bearer"
	SchemeHMAC   = "hmac"
	SchemeOAuth2 = "oauth2"
)

// DefaultBasicUsername is used for basic auth when the subscription's
// security config does not name a username.
const DefaultBasicUsername = "api"

// Signature and timestamp header names for HMAC-signed deliveries.
const (
	SignatureHeader = "X-Webhook-Signature"
	TimestampHeader = "X-Webhook-Timestamp"
)

// Scheme is one authentication method, decided once at subscription-load
// time. Apply sets the scheme's headers on an outbound request; it runs
// after custom subscriber headers so security headers always win.
type Scheme interface {
	Apply(h http.Header, payload []byte, now time.Time)
}

// ParseScheme resolves a subscription's stored scheme name, key, and config
// into a concrete Scheme. An empty name means none. The fallbackSecret
// signs HMAC deliveries for subscriptions without a key of their own.
func ParseScheme(name, key string, config map[string]string, fallbackSecret string) (Scheme, error) {
	switch name {
	case "", SchemeNone:
		return None{}, nil
	case SchemeBasic:
		username := config["username"]
		if username == "" {
			username = DefaultBasicUsername
		}
		return Basic{Username: username, Password: key}, nil
	case SchemeBearer:
		return Bearer{Token: key}, nil
	case SchemeOAuth2:
		return OAuth2{Token: key}, nil
	case SchemeHMAC:
		secret := key
		if secret == "" {
			secret = fallbackSecret
		}
		return HMAC{Secret: secret}, nil
	default:
		return nil, fmt.Errorf("security: unknown scheme %q", name)
	}
}

// ValidSchemeName reports whether name is a recognized scheme.
func ValidSchemeName(name string) bool {
	switch name {
	case "", SchemeNone, SchemeBasic, SchemeBearer, SchemeHMAC, SchemeOAuth2:
		return true
	}
	return false
}

// None adds no authentication headers.
type None struct{}

// Apply is a no-op.
func (None) Apply(http.Header, []byte, time.Time) {}

// Basic authenticates with HTTP basic auth.
type Basic struct {
	Username string
	Password string
}

// Apply sets the Authorization header to the basic-auth credential.
func (b Basic) Apply(h http.Header, _ []byte, _ time.Time) {
	credential := base64.StdEncoding.EncodeToString([]byte(b.Username + ":" + b.Password))
	h.Set("Authorization", "Basic "+credential)
}

// Bearer authenticates with a static bearer token.
type Bearer struct {
	Token string
}

// Apply sets the Authorization header to the bearer token.
func (b Bearer) Apply(h http.Header, _ []byte, _ time.Time) {
	h.Set("Authorization", "Bearer "+b.Token)
}

// OAuth2 delivers with the subscription's current access token as a bearer
// credential. Token refresh is the subscriber administrator's concern; the
// engine sends whatever key is stored.
type OAuth2 struct {
	Token string
}

// Apply sets the Authorization header to the bearer token.
func (o OAuth2) Apply(h http.Header, _ []byte, _ time.Time) {
	h.Set("Authorization", "Bearer "+o.Token)
}

// HMAC signs the serialized payload with a shared secret. Subscribers
// recompute HMAC-SHA256 over "{timestamp}.{rawBody}" to verify authenticity
// and reject stale timestamps.
type HMAC struct {
	Secret string
}

// Apply sets the signature and millisecond-timestamp headers.
func (m HMAC) Apply(h http.Header, payload []byte, now time.Time) {
	ts := now.UnixMilli()
	h.Set(SignatureHeader, Sign(payload, m.Secret, ts))
	h.Set(TimestampHeader, strconv.FormatInt(ts, 10))
}
