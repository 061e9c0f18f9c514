package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const signaturePrefix = "sha256="

// ErrBadSignature indicates a missing or non-matching webhook signature.
// Verification failure is terminal for the request.
var ErrBadSignature = errors.New("webhook: invalid signature")

// ComputeSignature returns the sha256=<hex> HMAC digest of body.
func ComputeSignature(body, secret []byte) string {
	hasher := hmac.New(sha256.New, secret)
	hasher.Write(body)
	return signaturePrefix + hex.EncodeToString(hasher.Sum(nil))
}

// VerifySignature checks the X-Hub-Signature-256 header against the HMAC of
// the raw body. The comparison is constant time; the body must not have been
// parsed before this check passes.
func VerifySignature(body, secret []byte, provided string) error {
	if strings.TrimSpace(provided) == "" {
		return fmt.Errorf("%w: missing signature header", ErrBadSignature)
	}
	if !strings.HasPrefix(provided, signaturePrefix) {
		return fmt.Errorf("%w: unexpected signature scheme", ErrBadSignature)
	}
	expected := ComputeSignature(body, secret)
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return ErrBadSignature
	}
	return nil
}
