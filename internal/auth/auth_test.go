package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const testIssuer = "https://id.carzbazzar.test"

func testKeySet(t *testing.T) (*rsa.PrivateKey, keyfunc.Keyfunc) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	set := map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": "k1",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	}
	raw, _ := json.Marshal(set)

	jwks, err := keyfunc.NewJWKSetJSON(raw)
	if err != nil {
		t.Fatalf("failed to load key set: %v", err)
	}
	return key, jwks
}

func signRS256(t *testing.T, key *rsa.PrivateKey, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func inspectorClaims(issuer string, audience ...string) Claims {
	return Claims{
		UserID:      "inspector-1",
		PhoneNumber: "+919800000000",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  audience,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestJWKSVerifier_Validate(t *testing.T) {
	key, jwks := testKeySet(t)
	v := newJWKSVerifier(jwks, testIssuer, "inspection-app")

	claims, err := v.Validate(signRS256(t, key, inspectorClaims(testIssuer, "inspection-app")))
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.UserID != "inspector-1" || claims.PhoneNumber != "+919800000000" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestJWKSVerifier_Rejects(t *testing.T) {
	key, jwks := testKeySet(t)
	v := newJWKSVerifier(jwks, testIssuer, "inspection-app")

	noExpiry := inspectorClaims(testIssuer, "inspection-app")
	noExpiry.ExpiresAt = nil

	expired := inspectorClaims(testIssuer, "inspection-app")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	tests := []struct {
		name  string
		token string
	}{
		{"wrong issuer", signRS256(t, key, inspectorClaims("https://evil.test", "inspection-app"))},
		{"wrong audience", signRS256(t, key, inspectorClaims(testIssuer, "other-app"))},
		{"no expiry", signRS256(t, key, noExpiry)},
		{"expired", signRS256(t, key, expired)},
		{"garbage", "not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Validate(tt.token); err == nil {
				t.Error("expected token to be rejected")
			}
		})
	}
}

func TestDiscoverJWKSURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"jwks_uri": "https://id.carzbazzar.test/keys"})
	}))
	defer srv.Close()

	got, err := discoverJWKSURL(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("discoverJWKSURL failed: %v", err)
	}
	if got != "https://id.carzbazzar.test/keys" {
		t.Errorf("unexpected jwks uri %q", got)
	}

	if _, err := discoverJWKSURL(context.Background(), srv.URL+"/missing"); err == nil {
		t.Error("expected a 404 discovery document to fail")
	}
}

func TestValidateHMACToken(t *testing.T) {
	claims := HMACClaims{UserID: "inspector-1", Phone: "+919800000000"}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	got, err := ValidateHMACToken(signed, "secret")
	if err != nil {
		t.Fatalf("ValidateHMACToken failed: %v", err)
	}
	if got.UserID != "inspector-1" || got.Phone != "+919800000000" {
		t.Errorf("unexpected claims: %+v", got)
	}

	if _, err := ValidateHMACToken(signed, "other-secret"); err == nil {
		t.Error("expected wrong secret to be rejected")
	}
}
