package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(t *testing.T) (*Issuer, *time.Time) {
	t.Helper()

	iss, err := NewIssuer(Options{AccessSecret: "access", RefreshSecret: "refresh"})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	iss.now = func() time.Time { return now }

	return iss, &now
}

func TestIssueAndVerify(t *testing.T) {
	iss, _ := newTestIssuer(t)

	pair, err := iss.IssuePair("u1", "alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := iss.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}

	if claims.ID != "u1" || claims.Username != "alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := iss.VerifyRefresh(pair.RefreshToken); err != nil {
		t.Fatalf("verify refresh: %v", err)
	}
}

func TestTokensAreNotInterchangeable(t *testing.T) {
	iss, _ := newTestIssuer(t)

	pair, _ := iss.IssuePair("u1", "alice")

	if _, err := iss.VerifyAccess(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token accepted as access token: %v", err)
	}

	if _, err := iss.VerifyRefresh(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token accepted as refresh token: %v", err)
	}
}

func TestExpiry(t *testing.T) {
	iss, now := newTestIssuer(t)

	pair, _ := iss.IssuePair("u1", "alice")

	*now = now.Add(16 * time.Minute)

	if _, err := iss.VerifyAccess(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired access token accepted")
	}

	if _, err := iss.VerifyRefresh(pair.RefreshToken); err != nil {
		t.Fatalf("refresh token should still be valid: %v", err)
	}

	*now = now.Add(7 * 24 * time.Hour)

	if _, err := iss.VerifyRefresh(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired refresh token accepted")
	}
}

func TestRejectsOtherSigningMethods(t *testing.T) {
	iss, now := newTestIssuer(t)

	claims := Claims{
		ID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := iss.VerifyAccess(unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("alg=none token accepted")
	}

	if _, err := iss.VerifyAccess(strings.Repeat("x", 20)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage accepted")
	}
}

func TestNewIssuerRequiresSecrets(t *testing.T) {
	if _, err := NewIssuer(Options{AccessSecret: "a"}); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("want ErrMissingSecret, got %v", err)
	}
}
