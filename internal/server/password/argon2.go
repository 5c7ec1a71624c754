package password

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/dmitrijs2005/authkeeper/internal/common"
)

const argon2Prefix = "$argon2id$"

// Argon2Params tunes argon2id. Zero fields fall back to the defaults below.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	SaltLen uint32
	KeyLen  uint32
}

var defaultArgon2 = Argon2Params{
	Time:    1,
	Memory:  64 * 1024,
	Threads: 4,
	SaltLen: 16,
	KeyLen:  32,
}

// DefaultArgon2 returns the parameters used for zero Argon2Params fields.
func DefaultArgon2() Argon2Params {
	return defaultArgon2
}

// Argon2id hashes passwords with argon2id and encodes them in PHC format:
//
//	$argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
type Argon2id struct {
	p Argon2Params
}

func NewArgon2id(p Argon2Params) *Argon2id {
	if p.Time == 0 {
		p.Time = defaultArgon2.Time
	}
	if p.Memory == 0 {
		p.Memory = defaultArgon2.Memory
	}
	if p.Threads == 0 {
		p.Threads = defaultArgon2.Threads
	}
	if p.SaltLen == 0 {
		p.SaltLen = defaultArgon2.SaltLen
	}
	if p.KeyLen == 0 {
		p.KeyLen = defaultArgon2.KeyLen
	}
	return &Argon2id{p: p}
}

func (a *Argon2id) Hash(plaintext string) (string, error) {
	if err := Validate(plaintext); err != nil {
		return "", err
	}

	salt := common.GenerateRandByteArray(int(a.p.SaltLen))
	key := argon2.IDKey([]byte(plaintext), salt, a.p.Time, a.p.Memory, a.p.Threads, a.p.KeyLen)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		a.p.Memory,
		a.p.Time,
		a.p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (a *Argon2id) Verify(plaintext, encoded string) (bool, error) {
	if len(plaintext) > MaxLength {
		return false, nil
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, ErrMalformedHash
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, ErrMalformedHash
	}
	if threads == 0 || threads > 255 || time == 0 || memory == 0 {
		return false, ErrMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, ErrMalformedHash
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false, ErrMalformedHash
	}

	got := argon2.IDKey([]byte(plaintext), salt, time, memory, uint8(threads), uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
