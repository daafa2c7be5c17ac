package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWT_Authenticate(t *testing.T) {
	a := NewJWT("secret")
	valid, err := a.Issue("user-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	expired, _ := a.Issue("user-1", -time.Minute)
	foreign, _ := NewJWT("other").Issue("user-1", time.Hour)
	subOnly, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user-2"}).SignedString([]byte("secret"))
	noUser, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Issuer: "x"}).SignedString([]byte("secret"))
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name       string
		credential string
		want       string
		wantErr    bool
	}{
		{name: "bare token", credential: valid, want: "user-1"},
		{name: "bearer prefix", credential: "Bearer " + valid, want: "user-1"},
		{name: "lowercase bearer", credential: "bearer " + valid, want: "user-1"},
		{name: "sub claim", credential: subOnly, want: "user-2"},
		{name: "empty", credential: "", wantErr: true},
		{name: "garbage", credential: "not-a-jwt", wantErr: true},
		{name: "expired", credential: expired, wantErr: true},
		{name: "wrong secret", credential: foreign, wantErr: true},
		{name: "no user claim", credential: noUser, wantErr: true},
		{name: "alg none", credential: none, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Authenticate(context.Background(), tt.credential)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidToken) {
					t.Fatalf("Authenticate() error = %v, want ErrInvalidToken", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Authenticate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJWT_EmptySecretFailsClosed(t *testing.T) {
	tok, _ := NewJWT("secret").Issue("user-1", time.Hour)
	if _, err := NewJWT("").Authenticate(context.Background(), tok); err == nil {
		t.Fatal("expected failure with empty secret")
	}
}

func TestJWT_IssueExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	a := NewJWT("secret")
	a.now = func() time.Time { return now }

	tests := []struct {
		name    string
		ttl     time.Duration
		wantExp *time.Time
	}{
		{name: "no expiry", ttl: 0},
		{name: "future", ttl: time.Hour, wantExp: ptr(now.Add(time.Hour))},
		{name: "already expired", ttl: -time.Minute, wantExp: ptr(now.Add(-time.Minute))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := a.Issue("user-1", tt.ttl)
			if err != nil {
				t.Fatalf("Issue() error = %v", err)
			}
			var c claims
			if _, err := jwt.ParseWithClaims(tok, &c, func(*jwt.Token) (interface{}, error) {
				return []byte("secret"), nil
			}, jwt.WithoutClaimsValidation()); err != nil {
				t.Fatalf("parse: %v", err)
			}
			switch {
			case tt.wantExp == nil && c.ExpiresAt != nil:
				t.Errorf("exp = %v, want none", c.ExpiresAt.Time)
			case tt.wantExp != nil && (c.ExpiresAt == nil || !c.ExpiresAt.Time.Equal(*tt.wantExp)):
				t.Errorf("exp = %v, want %v", c.ExpiresAt, *tt.wantExp)
			}
		})
	}
}

func ptr(t time.Time) *time.Time { return &t }
