package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
)

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestHMACVerifier(t *testing.T) {
	v := NewHMACVerifier("topsecret")
	payload := []byte(`{"type":"payment.captured"}`)

	t.Run("valid signature", func(t *testing.T) {
		if err := v.Verify(payload, sign("topsecret", payload)); err != nil {
			t.Errorf("Verify: %v", err)
		}
	})

	t.Run("bare hex without prefix", func(t *testing.T) {
		mac := hmac.New(sha256.New, []byte("topsecret"))
		mac.Write(payload)
		if err := v.Verify(payload, hex.EncodeToString(mac.Sum(nil))); err != nil {
			t.Errorf("Verify: %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		if err := v.Verify(payload, sign("othersecret", payload)); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("error = %v, want ErrInvalidSignature", err)
		}
	})

	t.Run("tampered payload", func(t *testing.T) {
		sig := sign("topsecret", payload)
		if err := v.Verify([]byte(`{"type":"payment.failed"}`), sig); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("error = %v, want ErrInvalidSignature", err)
		}
	})

	t.Run("missing signature", func(t *testing.T) {
		if err := v.Verify(payload, ""); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("error = %v, want ErrInvalidSignature", err)
		}
	})

	t.Run("garbage signature", func(t *testing.T) {
		if err := v.Verify(payload, "sha256=zzzz"); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("error = %v, want ErrInvalidSignature", err)
		}
	})
}
