package signing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignatureFormat(t *testing.T) {
	sig := Signature("s3cr3t", []byte(`{"event":"PRODUCT_CREATED"}`))

	require.True(t, strings.HasPrefix(sig, "sha256="))
	// sha256 hex digest is 64 chars
	assert.Len(t, strings.TrimPrefix(sig, "sha256="), 64)
}

func TestVerifyRoundTrip(t *testing.T) {
	payload := []byte(`{"event":"PRODUCT_CREATED","data":{"id":"p1"}}`)
	sig := Signature("s3cr3t", payload)

	assert.True(t, Verify("s3cr3t", payload, sig))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	payload := []byte(`{"event":"PRODUCT_CREATED","data":{"id":"p1"}}`)
	sig := Signature("s3cr3t", payload)

	for i := range payload {
		tampered := append([]byte(nil), payload...)
		tampered[i] ^= 0x01
		assert.False(t, Verify("s3cr3t", tampered, sig), "flipped byte %d must fail verification", i)
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	payload := []byte(`{"event":"ORDER_PAID"}`)
	sig := Signature("s3cr3t", payload)

	for i := range sig {
		tampered := []byte(sig)
		tampered[i] ^= 0x01
		assert.False(t, Verify("s3cr3t", payload, string(tampered)), "flipped byte %d must fail verification", i)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	payload := []byte(`{}`)
	sig := Signature("s3cr3t", payload)

	assert.False(t, Verify("other", payload, sig))
}
