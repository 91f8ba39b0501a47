// Package token issues and verifies the signed bearer credentials clients
// present at connection time.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken means no credential was presented at all.
	ErrNoToken = errors.New("no token provided")
	// ErrInvalidToken covers bad signatures, expiry, malformed tokens and
	// tokens missing the user id claim.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the payload carried by a whisper token. UserID is the
// authenticated identity; everything else is display metadata.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatarPath,omitempty"`
}

// Issuer signs and verifies HS256 tokens with a shared server secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// Issue creates a signed token for userID expiring after the issuer's TTL.
func (i *Issuer) Issue(userID, nickname, avatar string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		UserID:   userID,
		Nickname: nickname,
		Avatar:   avatar,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify checks signature and expiry and extracts the claims. A token that
// verifies but carries no user id claim is still rejected: identity is the
// whole point of the credential.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrNoToken
	}

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id claim", ErrInvalidToken)
	}

	return claims, nil
}
