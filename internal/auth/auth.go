// Package auth resolves bearer credentials to user ids.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("auth: invalid token")

type claims struct {
	jwt.RegisteredClaims
	UserID string `json:"id,omitempty"`
}

// JWT verifies HS256 tokens signed with a shared secret. The user id is read
// from the id claim, falling back to sub.
type JWT struct {
	secret []byte
	now    func() time.Time
}

func NewJWT(secret string) *JWT {
	return &JWT{secret: []byte(secret), now: time.Now}
}

func (a *JWT) Authenticate(_ context.Context, credential string) (string, error) {
	token := strings.TrimSpace(credential)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" || len(a.secret) == 0 {
		return "", ErrInvalidToken
	}

	var parsed claims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID := parsed.UserID
	if userID == "" {
		userID = parsed.Subject
	}
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("%w: no user claim", ErrInvalidToken)
	}
	return userID, nil
}

// Issue signs a token for userID. A zero ttl means no expiry; a negative
// one yields an already expired token. Used by local tooling and tests.
func (a *JWT) Issue(userID string, ttl time.Duration) (string, error) {
	now := a.now()
	c := claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl != 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.secret)
}
