// Package auth issues and parses session tokens. A session carries the user
// id, how the user authenticated, and when the session began; a session that
// began before the account's last password reset is stale.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/gophid/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Level records how a session was authenticated.
type Level string

const (
	LevelPassword  Level = "password"
	LevelAssertion Level = "assertion"
)

// Claims is the token payload. IssuedAtMillis keeps millisecond precision,
// which the standard iat claim lacks.
type Claims struct {
	jwt.RegisteredClaims
	UserID         int64 `json:"uid"`
	AuthLevel      Level `json:"auth_level"`
	IssuedAtMillis int64 `json:"iat_ms"`
}

// Session is a parsed, signature-checked token.
type Session struct {
	UserID    int64
	AuthLevel Level
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Stale reports whether the session was issued no later than lastReset.
// Sessions minted after a reset always carry a later timestamp.
func (s *Session) Stale(lastReset time.Time) bool {
	return !s.IssuedAt.After(lastReset)
}

func GenerateToken(userID int64, level Level, secretKey []byte, issuedAt time.Time, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(validityDuration)),
		},
		UserID:         userID,
		AuthLevel:      level,
		IssuedAtMillis: issuedAt.UnixMilli(),
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseToken checks the signature and expiry as of now.
func ParseToken(tokenString string, secretKey []byte, now time.Time) (*Session, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid || claims.UserID == 0 {
		return nil, common.ErrInvalidToken
	}

	s := &Session{
		UserID:    claims.UserID,
		AuthLevel: claims.AuthLevel,
		IssuedAt:  time.UnixMilli(claims.IssuedAtMillis).UTC(),
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}
