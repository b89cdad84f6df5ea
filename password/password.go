// Package password provides salted password hashing and verification.
//
// The stored format is bcrypt over the hex-encoded SHA-256 digest of the
// plaintext. Pre-hashing keeps inputs under bcrypt's 72-byte limit so
// arbitrarily long passphrases hash losslessly; the bcrypt salt is embedded
// in the stored hash string.
package password

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinCost is the lowest bcrypt cost the hasher accepts.
	MinCost = bcrypt.MinCost
	// DefaultCost is used when the configured cost is zero.
	DefaultCost = bcrypt.DefaultCost

	minPasswordBytes = 8
)

// ErrPasswordTooShort is returned by Hash for passwords under 8 bytes.
var ErrPasswordTooShort = errors.New("password must be at least 8 bytes")

// Hasher hashes and verifies passwords at a fixed bcrypt cost.
type Hasher struct {
	cost int
}

// NewHasher validates the cost and returns a Hasher.
func NewHasher(cost int) (*Hasher, error) {
	if cost == 0 {
		cost = DefaultCost
	}
	if cost < MinCost || cost > bcrypt.MaxCost {
		return nil, errors.New("invalid bcrypt cost")
	}
	return &Hasher{cost: cost}, nil
}

// Hash returns the salted hash for plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if len(plaintext) < minPasswordBytes {
		return "", ErrPasswordTooShort
	}

	hashed, err := bcrypt.GenerateFromPassword(digest(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches the stored hash. It returns
// false for empty inputs and for hashes in an unrecognized format; it
// never returns an error, so a malformed stored hash behaves exactly like
// a wrong password.
func (h *Hasher) Verify(plaintext, storedHash string) bool {
	if plaintext == "" || storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), digest(plaintext)) == nil
}

func digest(plaintext string) []byte {
	sum := sha256.Sum256([]byte(plaintext))
	return []byte(hex.EncodeToString(sum[:]))
}
