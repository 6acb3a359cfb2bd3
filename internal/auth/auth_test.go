package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewService("unit-test-secret-0123456789", 30*time.Minute)

	tok, err := svc.GenerateToken(99, "mallory")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if strings.Count(tok, ".") != 2 {
		t.Fatalf("token %q is not a three-part JWT", tok)
	}

	claims, err := svc.ValidateToken(tok)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != 99 || claims.Username != "mallory" {
		t.Fatalf("claims = (%d, %q), want (99, %q)", claims.UserID, claims.Username, "mallory")
	}
	if claims.Issuer != "gitforge" {
		t.Fatalf("issuer = %q, want gitforge", claims.Issuer)
	}
}

func TestTokenRejections(t *testing.T) {
	issue := func(secret string, lifetime time.Duration) string {
		t.Helper()
		tok, err := NewService(secret, lifetime).GenerateToken(1, "alice")
		if err != nil {
			t.Fatalf("GenerateToken: %v", err)
		}
		return tok
	}

	verifier := NewService("unit-test-secret-0123456789", time.Hour)

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{"expired", issue("unit-test-secret-0123456789", -time.Minute), ErrTokenExpired},
		{"wrong secret", issue("a-different-secret-entirely", time.Hour), ErrInvalidToken},
		{"garbage", "not.a.jwt", ErrInvalidToken},
		{"empty", "", ErrInvalidToken},
	}
	for _, tc := range cases {
		if _, err := verifier.ValidateToken(tc.token); !errors.Is(err, tc.want) {
			t.Fatalf("%s: ValidateToken error = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestPasswordHashing(t *testing.T) {
	svc := NewService("unit-test-secret-0123456789", time.Hour)

	hash, err := svc.HashPassword("hunter2hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "hunter2hunter2" {
		t.Fatal("hash equals the plaintext password")
	}
	if err := svc.CheckPassword(hash, "hunter2hunter2"); err != nil {
		t.Fatalf("CheckPassword with correct password: %v", err)
	}
	if err := svc.CheckPassword(hash, "hunter3hunter3"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("CheckPassword with wrong password = %v, want %v", err, ErrInvalidCredentials)
	}
	if err := svc.CheckPassword("not-a-bcrypt-hash", "hunter2hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("CheckPassword with malformed hash = %v, want %v", err, ErrInvalidCredentials)
	}
}
