package credentials

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHasherHashesWithFreshSalt(t *testing.T) {
	hasher, err := NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to construct hasher: %v", err)
	}
	ctx := context.Background()

	first, err := hasher.Hash(ctx, "secret1")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	second, err := hasher.Hash(ctx, "secret1")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if first == "secret1" || strings.Contains(first, "secret1") {
		t.Fatalf("hash must not contain the plaintext")
	}
	if first == second {
		t.Fatalf("expected distinct salts to produce distinct hashes")
	}

	matched, err := hasher.Compare(ctx, "secret1", first)
	if err != nil || !matched {
		t.Fatalf("expected match, got %v %v", matched, err)
	}
	matched, err = hasher.Compare(ctx, "wrong", first)
	if err != nil {
		t.Fatalf("mismatch must not be an error: %v", err)
	}
	if matched {
		t.Fatalf("expected mismatch")
	}
}

func TestHasherCompareMalformedHashIsCryptoError(t *testing.T) {
	hasher, err := NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to construct hasher: %v", err)
	}

	matched, err := hasher.Compare(context.Background(), "secret1", "not-a-hash")
	if !errors.Is(err, ErrCrypto) {
		t.Fatalf("expected ErrCrypto, got %v", err)
	}
	if matched {
		t.Fatalf("crypto failure must not report a match")
	}
}

func TestHasherHonoursCancellation(t *testing.T) {
	hasher, err := NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to construct hasher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := hasher.Hash(ctx, "secret1"); !errors.Is(err, ErrCrypto) {
		t.Fatalf("expected ErrCrypto for cancelled hash, got %v", err)
	}
}

func TestNewHasherValidatesCost(t *testing.T) {
	if _, err := NewHasher(bcrypt.MaxCost + 1); err == nil {
		t.Fatalf("expected error for cost above range")
	}
	if _, err := NewHasher(2); err == nil {
		t.Fatalf("expected error for cost below range")
	}
	if hasher, err := NewHasher(0); err != nil || hasher.cost != DefaultSaltRounds {
		t.Fatalf("expected default cost, got %v %v", hasher, err)
	}
}
