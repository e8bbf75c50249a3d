package httpapi

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTAuth(t *testing.T) {
	auth := NewJWTAuth("test-secret", 0)

	token, expiresAt, err := auth.GenerateToken("test-client", false)
	if err != nil {
		t.Fatalf("Expected no error generating token, got %v", err)
	}
	if token == "" {
		t.Error("Expected non-empty token")
	}
	if d := time.Until(expiresAt); d < 23*time.Hour || d > DefaultTokenTTL {
		t.Errorf("Expected expiry about %v from now, got %v", DefaultTokenTTL, d)
	}

	claims, err := auth.ValidateToken(token)
	if err != nil {
		t.Fatalf("Expected no error validating token, got %v", err)
	}
	if claims.ClientID != "test-client" {
		t.Errorf("Expected ClientID 'test-client', got '%s'", claims.ClientID)
	}
	if claims.IsAdmin {
		t.Error("Expected IsAdmin to be false")
	}
	if claims.Issuer != "storemesh" {
		t.Errorf("Expected issuer 'storemesh', got '%s'", claims.Issuer)
	}
}

func TestJWTAuth_AdminAndBearerPrefix(t *testing.T) {
	auth := NewJWTAuth("test-secret", time.Hour)

	token, _, err := auth.GenerateToken("ops", true)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := auth.ValidateToken("Bearer " + token)
	if err != nil {
		t.Fatalf("Expected Bearer prefix to be accepted, got %v", err)
	}
	if !claims.IsAdmin {
		t.Error("Expected IsAdmin to be true")
	}
}

func TestJWTAuth_Rejects(t *testing.T) {
	auth := NewJWTAuth("test-secret", time.Hour)
	other := NewJWTAuth("other-secret", time.Hour)

	if _, _, err := auth.GenerateToken("", false); !errors.Is(err, ErrEmptyClientID) {
		t.Errorf("Expected ErrEmptyClientID, got %v", err)
	}
	if _, err := auth.ValidateToken(""); !errors.Is(err, ErrEmptyToken) {
		t.Errorf("Expected ErrEmptyToken, got %v", err)
	}
	if _, err := auth.ValidateToken("not-a-token"); err == nil {
		t.Error("Expected error for malformed token")
	}

	foreign, _, _ := other.GenerateToken("client", false)
	if _, err := auth.ValidateToken(foreign); err == nil {
		t.Error("Expected error for token signed with another secret")
	}

	expired := NewJWTAuth("test-secret", time.Nanosecond)
	token, _, _ := expired.GenerateToken("client", false)
	time.Sleep(time.Millisecond)
	if _, err := auth.ValidateToken(token); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("Expected ErrTokenExpired, got %v", err)
	}
}

func TestJWTAuth_RejectsNoneAlgorithm(t *testing.T) {
	auth := NewJWTAuth("test-secret", time.Hour)

	claims := JWTClaims{
		ClientID: "mallory",
		IsAdmin:  true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "storemesh",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("Failed to build unsigned token: %v", err)
	}
	if !strings.HasSuffix(token, ".") {
		t.Fatalf("Expected unsigned token, got %s", token)
	}
	if _, err := auth.ValidateToken(token); err == nil {
		t.Error("Expected unsigned token to be rejected")
	}
}
