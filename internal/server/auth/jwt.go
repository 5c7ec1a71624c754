// Package auth materializes and verifies tokens: HS256 JWT access tokens
// carrying the user id, and opaque random tokens used for refresh and
// password-reset flows.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/authkeeper/internal/common"
)

// ErrEmptySecret is returned by NewCodec when no signing key is configured.
var ErrEmptySecret = errors.New("jwt secret key must not be empty")

// Claims is the access token payload: registered claims plus the user id.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// Codec signs and verifies access tokens with a process-wide secret that is
// fixed at construction.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec copies secret into a new Codec.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Codec{secret: key, now: time.Now}, nil
}

// SignAccessToken returns a token for userID valid for ttl. Every token gets
// its own jti, so signing the same claims twice yields different strings.
func (c *Codec) SignAccessToken(userID string, ttl time.Duration) (string, error) {
	jti, err := common.MakeRandHexString(16)
	if err != nil {
		return "", err
	}

	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
	})

	return token.SignedString(c.secret)
}

// VerifyAccessToken checks signature, algorithm and expiry. It returns
// common.ErrTokenExpired for expired tokens and common.ErrInvalidToken for
// everything else that fails.
func (c *Codec) VerifyAccessToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid || claims.UserID == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}

// NewOpaqueToken returns size random bytes, hex encoded. It carries no
// structure and is only meaningful as a store lookup key.
func (c *Codec) NewOpaqueToken(size int) (string, error) {
	return common.MakeRandHexString(size)
}

// DigestToken returns the SHA-256 hex digest under which an opaque token is
// stored, so a leaked table does not leak usable tokens.
func DigestToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
