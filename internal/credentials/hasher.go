package credentials

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultSaltRounds is the bcrypt cost used when none is configured.
const DefaultSaltRounds = 10

var errInvalidSaltRounds = errors.New("salt rounds outside bcrypt cost range")

// Hasher hashes and verifies local passwords with bcrypt. Each call runs on its own
// goroutine so a cancelled request stops waiting without blocking other attempts.
type Hasher struct {
	cost int
}

// NewHasher constructs a Hasher for the configured cost factor.
func NewHasher(saltRounds int) (*Hasher, error) {
	if saltRounds == 0 {
		saltRounds = DefaultSaltRounds
	}
	if saltRounds < bcrypt.MinCost || saltRounds > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: %d", errInvalidSaltRounds, saltRounds)
	}
	return &Hasher{cost: saltRounds}, nil
}

type hashResult struct {
	hash []byte
	err  error
}

// Hash returns a salted bcrypt hash of the plaintext.
func (h *Hasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	done := make(chan hashResult, 1)
	go func() {
		hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
		done <- hashResult{hash: hashed, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrCrypto, ctx.Err())
	case result := <-done:
		if result.err != nil {
			return "", fmt.Errorf("%w: %v", ErrCrypto, result.err)
		}
		return string(result.hash), nil
	}
}

// Compare reports whether the plaintext matches the hash. A mismatch is (false, nil);
// every other failure is wrapped in ErrCrypto and must not be read as a mismatch.
func (h *Hasher) Compare(ctx context.Context, plaintext, hashed string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	done := make(chan error, 1)
	go func() {
		done <- bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plaintext))
	}()

	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%w: %v", ErrCrypto, ctx.Err())
	case err := <-done:
		if err == nil {
			return true, nil
		}
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
}
