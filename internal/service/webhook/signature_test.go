package webhook

import (
	"errors"
	"testing"
)

func TestVerifySignatureAcceptsValidDigest(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	secret := []byte("topsecret")

	sig := ComputeSignature(body, secret)
	if err := VerifySignature(body, secret, sig); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
}

func TestVerifySignatureRejectsMissingHeader(t *testing.T) {
	err := VerifySignature([]byte("payload"), []byte("topsecret"), "")
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifySignatureRejectsWrongScheme(t *testing.T) {
	err := VerifySignature([]byte("payload"), []byte("topsecret"), "sha1=deadbeef")
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	body := []byte("payload")
	sig := ComputeSignature(body, []byte("other-secret"))
	err := VerifySignature(body, []byte("topsecret"), sig)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifySignatureRejectsAnySingleByteMutation(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main","after":"abc123"}`)
	secret := []byte("topsecret")
	sig := ComputeSignature(body, secret)

	for i := range body {
		mutated := make([]byte, len(body))
		copy(mutated, body)
		mutated[i] ^= 0x01
		if err := VerifySignature(mutated, secret, sig); !errors.Is(err, ErrBadSignature) {
			t.Fatalf("mutation at byte %d accepted", i)
		}
	}
}
