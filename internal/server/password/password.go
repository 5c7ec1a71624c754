// Package password implements one-way salted password hashing with a tunable
// work factor. Two algorithms are supported: bcrypt (default) and argon2id.
// Verification dispatches on the stored hash prefix, so hashes produced by
// either algorithm keep verifying after the configured algorithm changes.
package password

import (
	"errors"
	"fmt"
	"strings"
)

// MaxLength is the longest accepted password in bytes. bcrypt silently
// ignores input past 72 bytes, so longer passwords are rejected instead.
const MaxLength = 72

// Algorithm names accepted by New.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

var (
	// ErrPasswordLength is returned for empty passwords or ones longer than MaxLength.
	ErrPasswordLength = fmt.Errorf("password must be between 1 and %d bytes", MaxLength)
	// ErrUnknownAlgorithm is returned by New and Verify for unsupported algorithms.
	ErrUnknownAlgorithm = errors.New("unknown password hash algorithm")
	// ErrMalformedHash is returned by Verify when the stored hash cannot be parsed.
	ErrMalformedHash = errors.New("malformed password hash")
)

// Hasher hashes and verifies passwords.
type Hasher interface {
	// Hash returns an encoded, salted hash of plaintext.
	Hash(plaintext string) (string, error)
	// Verify reports whether plaintext matches hash. A mismatch is (false, nil);
	// an unparsable hash is an error.
	Verify(plaintext, hash string) (bool, error)
}

// Config selects and tunes the hashing algorithm.
type Config struct {
	Algorithm  string
	BcryptCost int
	Argon2     Argon2Params
}

// Validate checks that plaintext is acceptable input for hashing.
func Validate(plaintext string) error {
	if len(plaintext) == 0 || len(plaintext) > MaxLength {
		return ErrPasswordLength
	}
	return nil
}

// New returns a Hasher that creates hashes with the configured algorithm and
// verifies hashes of any supported algorithm.
func New(cfg Config) (Hasher, error) {
	bc, err := NewBcrypt(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	a2 := NewArgon2id(cfg.Argon2)

	var primary Hasher
	switch strings.ToLower(cfg.Algorithm) {
	case "", AlgorithmBcrypt:
		primary = bc
	case AlgorithmArgon2id:
		primary = a2
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, cfg.Algorithm)
	}

	return &dispatcher{primary: primary, bcrypt: bc, argon2: a2}, nil
}

type dispatcher struct {
	primary Hasher
	bcrypt  *Bcrypt
	argon2  *Argon2id
}

func (d *dispatcher) Hash(plaintext string) (string, error) {
	return d.primary.Hash(plaintext)
}

func (d *dispatcher) Verify(plaintext, hash string) (bool, error) {
	switch {
	case strings.HasPrefix(hash, argon2Prefix):
		return d.argon2.Verify(plaintext, hash)
	case isBcryptHash(hash):
		return d.bcrypt.Verify(plaintext, hash)
	default:
		return false, ErrUnknownAlgorithm
	}
}
