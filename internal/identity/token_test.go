package identity

import (
	"testing"
	"time"
)

func TestGenerateAndParseToken(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()

	token, err := GenerateToken("user-42", []string{"Admin", "operator", "admin"}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Issuer != tokenIssuer {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
	if len(claims.Roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", claims.Roles)
	}
}

func TestParseAndValidateRejectsExpired(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()

	token, err := GenerateToken("user-1", []string{"operator"}, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := ParseAndValidate(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestParseAndValidateRejectsTampered(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()

	token, err := GenerateToken("user-1", []string{"operator"}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	ResetSecretForTests()
	t.Setenv(secretEnvVariable, "different-secret")
	if _, err := ParseAndValidate(token); err == nil {
		t.Fatalf("expected tampered/mismatched-secret token to be rejected")
	}
}
