package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PendingClaims bind a token to one staged secret without revealing it. The
// client that staged the secret holds this token, which is its proof when it
// redeems the secret itself.
type PendingClaims struct {
	jwt.RegisteredClaims
	SecretDigest string `json:"pending"`
}

func digest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func GeneratePendingToken(secret string, secretKey []byte, issuedAt time.Time, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, PendingClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(validityDuration)),
		},
		SecretDigest: digest(secret),
	})
	return token.SignedString(secretKey)
}

// PendingMatches reports whether tokenString is a valid pending token for
// secret as of now.
func PendingMatches(tokenString, secret string, secretKey []byte, now time.Time) bool {
	if tokenString == "" {
		return false
	}
	claims := &PendingClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !token.Valid {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(claims.SecretDigest), []byte(digest(secret))) == 1
}
