package payments

import (
	"testing"
)

func TestVerifySignature(t *testing.T) {
	secret := []byte("whsec_test_secret")
	payload := []byte(`{"id":"evt-001","type":"payment_intent.succeeded"}`)

	sig := SignPayload(secret, payload)

	t.Run("ExactMatch", func(t *testing.T) {
		if !VerifySignature(secret, payload, sig) {
			t.Error("expected valid signature to verify")
		}
	})

	t.Run("MutatedPayload", func(t *testing.T) {
		for i := range payload {
			mutated := make([]byte, len(payload))
			copy(mutated, payload)
			mutated[i] ^= 0x01

			if VerifySignature(secret, mutated, sig) {
				t.Errorf("expected verification to fail with byte %d mutated", i)
			}
		}
	})

	t.Run("MutatedSignature", func(t *testing.T) {
		for i := range sig {
			mutated := []byte(sig)
			if mutated[i] == 'a' {
				mutated[i] = 'b'
			} else {
				mutated[i] = 'a'
			}

			if VerifySignature(secret, payload, string(mutated)) {
				t.Errorf("expected verification to fail with signature char %d mutated", i)
			}
		}
	})

	t.Run("WrongSecret", func(t *testing.T) {
		if VerifySignature([]byte("other_secret"), payload, sig) {
			t.Error("expected verification to fail with wrong secret")
		}
	})

	t.Run("TruncatedSignature", func(t *testing.T) {
		if VerifySignature(secret, payload, sig[:len(sig)-1]) {
			t.Error("expected verification to fail with truncated signature")
		}
	})

	t.Run("EmptySignature", func(t *testing.T) {
		if VerifySignature(secret, payload, "") {
			t.Error("expected verification to fail with empty signature")
		}
	})
}
