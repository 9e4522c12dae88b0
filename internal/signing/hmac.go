// Package signing implements the X-Webhook-Signature scheme: an
// HMAC-SHA256 over the exact JSON body, hex encoded and prefixed with
// "sha256=". Verify is exported for receiving subscribers.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

const prefix = "sha256="

// Signature computes the header value for a payload.
func Signature(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a presented signature header against the payload using
// a constant-time comparison.
func Verify(secret string, payload []byte, signature string) bool {
	expected := Signature(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
