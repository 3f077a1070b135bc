package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenVerifier_RoundTrip(t *testing.T) {
	v, err := NewTokenVerifier("secret", "https://id.example", "authenticated")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	token, err := v.Sign("user-1", "a@example.com", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := v.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID() != "user-1" || claims.Email != "a@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokenVerifier_RejectsWrongSecretAndExpiry(t *testing.T) {
	good, _ := NewTokenVerifier("secret", "", "")
	other, _ := NewTokenVerifier("other", "", "")

	token, err := other.Sign("user-1", "", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := good.ValidateToken(token); err == nil {
		t.Fatal("expected signature mismatch")
	}

	expired, err := good.Sign("user-1", "", -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := good.ValidateToken(expired); err == nil {
		t.Fatal("expected expired token to fail")
	}
}

func TestTokenVerifier_RejectsNoneAlgAndMissingSubject(t *testing.T) {
	v, _ := NewTokenVerifier("secret", "", "")

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := v.ValidateToken(raw); err == nil {
		t.Fatal("expected alg none to be rejected")
	}

	noSub, err := v.Sign("", "", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.ValidateToken(noSub); err == nil {
		t.Fatal("expected empty subject to be rejected")
	}
}

func TestAdminKeyMatcher(t *testing.T) {
	hash, err := HashAdminKey("k3y")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	hashed, err := NewAdminKeyMatcher(hash, "ignored")
	if err != nil {
		t.Fatalf("matcher: %v", err)
	}
	if !hashed.Match("k3y") || hashed.Match("ignored") || hashed.Match("") {
		t.Fatal("hashed matcher mismatch")
	}

	plain, _ := NewAdminKeyMatcher("", "123456")
	if !plain.Match("123456") || plain.Match("12345") {
		t.Fatal("plaintext matcher mismatch")
	}

	if _, err := NewAdminKeyMatcher("", ""); err == nil {
		t.Fatal("expected error without key")
	}
}
