package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrInvalidSignature = errors.New("webhook signature verification failed")

// Verifier checks a gateway event against its signature header before any
// parsing happens. Injected so the concrete gateway's signing scheme is
// swappable without touching reconciliation.
type Verifier interface {
	Verify(payload []byte, signatureHeader string) error
}

// HMACVerifier implements the common sha256=<hex> HMAC scheme over the raw
// request body with a shared secret.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(payload []byte, signatureHeader string) error {
	sig := strings.TrimPrefix(strings.TrimSpace(signatureHeader), "sha256=")
	if sig == "" {
		return ErrInvalidSignature
	}

	provided, err := hex.DecodeString(sig)
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)

	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}
