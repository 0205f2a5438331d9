// Package payments handles webhook ingestion and payment intent lifecycle.
package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignPayload computes the hex-encoded HMAC-SHA256 signature of a
// webhook payload under the shared secret.
func SignPayload(secret []byte, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether the presented signature matches the
// payload under the shared secret. Comparison is constant time; any
// altered payload byte or signature character fails.
func VerifySignature(secret []byte, payload []byte, signature string) bool {
	expected := SignPayload(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
