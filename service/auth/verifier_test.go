package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"RelayCore/tools/errs"
)

const (
	testIssuer   = "https://id.example.com/realms/chat"
	testAudience = "chat-gateway"
)

var testKey = func() *rsa.PrivateKey {
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return k
}()

func testVerifier() *Verifier {
	return NewVerifierWithKeyfunc(
		VerifierConfig{IssuerURL: testIssuer, Audience: testAudience},
		func(t *jwt.Token) (interface{}, error) { return &testKey.PublicKey, nil },
	)
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "test-kid"
	s, err := tok.SignedString(testKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func baseClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":     testIssuer,
		"aud":     testAudience,
		"sub":     "subject-1",
		"email":   "alice@example.com",
		"name":    "Alice",
		"picture": "https://cdn.example.com/a.png",
		"iat":     now.Unix(),
		"exp":     now.Add(time.Hour).Unix(),
	}
}

func TestVerifyValidToken(t *testing.T) {
	v := testVerifier()
	claims, err := v.Verify(context.Background(), signToken(t, baseClaims()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "subject-1" || claims.Email != "alice@example.com" || claims.Name != "Alice" {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.ExpiresAt.IsZero() {
		t.Fatal("expiry not propagated")
	}
}

func TestVerifyRejections(t *testing.T) {
	v := testVerifier()

	expired := baseClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	wrongAud := baseClaims()
	wrongAud["aud"] = "someone-else"

	wrongIss := baseClaims()
	wrongIss["iss"] = "https://evil.example.com"

	noSub := baseClaims()
	delete(noSub, "sub")

	noExp := baseClaims()
	delete(noExp, "exp")

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{"empty token", "", errs.ErrAuthRequired},
		{"garbage", "not.a.jwt", errs.ErrInvalidToken},
		{"expired", signToken(t, expired), errs.ErrExpiredToken},
		{"wrong audience", signToken(t, wrongAud), errs.ErrInvalidToken},
		{"wrong issuer", signToken(t, wrongIss), errs.ErrInvalidToken},
		{"missing subject", signToken(t, noSub), errs.ErrInvalidToken},
		{"missing expiry", signToken(t, noExp), errs.ErrInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tc.token)
			if !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestVerifyRejectsUnsignedAlg(t *testing.T) {
	v := testVerifier()
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, baseClaims())
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := v.Verify(context.Background(), s); !errors.Is(err, errs.ErrInvalidToken) {
		t.Fatalf("alg=none error = %v, want invalid_token", err)
	}
}

func TestVerifyKeyfuncFailure(t *testing.T) {
	v := NewVerifierWithKeyfunc(
		VerifierConfig{IssuerURL: testIssuer, Audience: testAudience},
		nil,
	)
	v.keyfuncFor = func(string) (jwt.Keyfunc, error) {
		return nil, errors.New("jwks endpoint unreachable")
	}
	_, err := v.Verify(context.Background(), signToken(t, baseClaims()))
	if !errors.Is(err, errs.ErrDependencyUnavailable) {
		t.Fatalf("error = %v, want dependency_unavailable", err)
	}
}

func TestJWKSURLDerivation(t *testing.T) {
	v := NewVerifier(VerifierConfig{IssuerURL: testIssuer})
	if got := v.jwksURL(testIssuer + "/"); got != testIssuer+"/.well-known/jwks.json" {
		t.Fatalf("jwksURL = %q", got)
	}

	v = NewVerifier(VerifierConfig{IssuerURL: testIssuer, JWKSURL: "https://keys.example.com/jwks"})
	if got := v.jwksURL(testIssuer); got != "https://keys.example.com/jwks" {
		t.Fatalf("override ignored: %q", got)
	}
}
