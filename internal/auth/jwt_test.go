package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestParse_ValidHS256(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, Claims{Operator: "ops@example.com", Roles: []string{RoleOperator}}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := Parse(secret, token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Operator != "ops@example.com" || claims.Subject != "ops@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.HasRole(RoleOperator) || claims.HasRole("admin") {
		t.Errorf("unexpected roles: %v", claims.Roles)
	}
}

func TestParse_RejectsUnexpectedAlgorithm(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now()
	claims := Claims{
		Operator: "ops",
		Roles:    []string{RoleOperator},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS384, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	if _, err := Parse(secret, tokenStr); err == nil {
		t.Fatalf("expected parse to reject non-HS256 token")
	}
}

func TestParse_RejectsExpiredAndForeign(t *testing.T) {
	secret := []byte("test-secret")

	expired, _ := Issue(secret, Claims{Operator: "ops"}, -time.Minute)
	if _, err := Parse(secret, expired); err == nil {
		t.Error("expected expired token to be rejected")
	}

	foreign, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(secret)
	if _, err := Parse(secret, foreign); err == nil {
		t.Error("expected token from another issuer to be rejected")
	}

	valid, _ := Issue(secret, Claims{Operator: "ops"}, time.Hour)
	if _, err := Parse([]byte("other-secret"), valid); err == nil {
		t.Error("expected token signed with another key to be rejected")
	}
}
