package middleware

import (
	"errors"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func fixedVerifier(cfg JWTConfig, now time.Time) *JWTVerifier {
	v := NewJWTVerifier(cfg)
	v.nowFn = func() time.Time { return now }
	return v
}

func TestJWTVerifierDisabledWithoutSecret(t *testing.T) {
	if v := NewJWTVerifier(JWTConfig{HMACSecret: "  "}); v != nil {
		t.Fatalf("expected nil verifier for blank secret")
	}
	var v *JWTVerifier
	if _, err := v.Verify("anything"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken from nil verifier, got %v", err)
	}
}

func TestJWTVerifierExtractsScopes(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := fixedVerifier(JWTConfig{HMACSecret: testSecret, Issuer: "deal-ops", Audience: "dealsd"}, now)

	token := signToken(t, testSecret, jwt.MapClaims{
		"iss":   "deal-ops",
		"aud":   "dealsd",
		"exp":   now.Add(time.Hour).Unix(),
		"scope": "deals:read deals:write",
	})
	scopes, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !HasScopes(scopes, "deals:write") || HasScopes(scopes, "deals:admin") {
		t.Fatalf("unexpected scopes %v", scopes)
	}

	listToken := signToken(t, testSecret, jwt.MapClaims{
		"iss":   "deal-ops",
		"aud":   "dealsd",
		"exp":   now.Add(time.Hour).Unix(),
		"scope": []string{"deals:write"},
	})
	scopes, err = v.Verify(listToken)
	if err != nil {
		t.Fatalf("verify list scopes: %v", err)
	}
	if !HasScopes(scopes, "deals:write") {
		t.Fatalf("expected list scope claim to be honoured, got %v", scopes)
	}
}

func TestJWTVerifierRejectsBadTokens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := fixedVerifier(JWTConfig{HMACSecret: testSecret, Issuer: "deal-ops", ClockSkew: time.Second}, now)

	cases := map[string]string{
		"expired": signToken(t, testSecret, jwt.MapClaims{
			"iss": "deal-ops",
			"exp": now.Add(-time.Minute).Unix(),
		}),
		"missing expiry": signToken(t, testSecret, jwt.MapClaims{
			"iss": "deal-ops",
		}),
		"wrong issuer": signToken(t, testSecret, jwt.MapClaims{
			"iss": "someone-else",
			"exp": now.Add(time.Hour).Unix(),
		}),
		"wrong secret": signToken(t, "other-secret", jwt.MapClaims{
			"iss": "deal-ops",
			"exp": now.Add(time.Hour).Unix(),
		}),
		"garbage": "not-a-jwt",
	}
	for name, token := range cases {
		if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestJWTVerifierHonoursClockSkew(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := fixedVerifier(JWTConfig{HMACSecret: testSecret, ClockSkew: time.Minute}, now)
	token := signToken(t, testSecret, jwt.MapClaims{"exp": now.Add(-30 * time.Second).Unix()})
	if _, err := v.Verify(token); err != nil {
		t.Fatalf("expected token within skew to verify, got %v", err)
	}
}
