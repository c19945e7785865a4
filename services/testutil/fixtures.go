package testutil

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/saini-30/chargemint/libs/auth"
)

var (
	DemoAccountID  = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	AdminAccountID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

func GenerateJWT(accountID uuid.UUID, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	return generate(accountID, []string{"user"}, secret, ttl, now)
}

func GenerateAdminJWT(accountID uuid.UUID, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	return generate(accountID, []string{"user", auth.RoleAdmin}, secret, ttl, now)
}

func generate(accountID uuid.UUID, roles []string, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	claims := auth.Claims{
		Roles:  roles,
		Scopes: []string{"read", "write"},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "chargemint-auth",
			Subject:   accountID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
