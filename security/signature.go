package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Sign generates the HMAC-SHA256 signature for the given payload.
// The content to sign is "{timestampMillis}.{payload}".
// Returns a signature in the format "sha256=<hex>".
func Sign(payload []byte, secret string, timestampMillis int64) string {
	content := fmt.Sprintf("%d.%s", timestampMillis, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(content))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks whether the given signature matches the expected
// HMAC-SHA256 signature for the payload, secret, and timestamp.
func Verify(payload []byte, secret string, timestampMillis int64, sig string) bool {
	expected := Sign(payload, secret, timestampMillis)
	return hmac.Equal([]byte(expected), []byte(sig))
}
