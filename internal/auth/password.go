package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// BcryptHasher hashes passwords with a per-hash random salt.
type BcryptHasher struct {
	cost      int
	dummyHash []byte
}

func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	// Compared against when no user matched, so unknown emails cost as much as wrong passwords.
	dummy, _ := bcrypt.GenerateFromPassword([]byte("oneflow-timing-equalizer"), cost)
	return &BcryptHasher{cost: cost, dummyHash: dummy}
}

// HashPassword creates a bcrypt hash of the password
func (h *BcryptHasher) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches hash. bcrypt's comparison
// is constant time over the digest.
func (h *BcryptHasher) VerifyPassword(hash, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("verify password: %w", err)
}

// BurnComparison spends one comparison's worth of work.
func (h *BcryptHasher) BurnComparison(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
}
