package auth

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// resetJWTSecret resets the package-level sync.Once so tests can set a fresh secret.
// This is only safe to call from test code.
func resetJWTSecret() {
	jwtSecret = ""
	jwtSecretOnce = sync.Once{}
	jwtSecretErr = nil
}

func TestMain(m *testing.M) {
	os.Setenv("SDB_JWT_SECRET", "test-jwt-secret-that-is-32-chars-!")
	os.Exit(m.Run())
}

func TestValidateJWTSecret(t *testing.T) {
	t.Run("valid secret from env", func(t *testing.T) {
		resetJWTSecret()
		t.Setenv("SDB_JWT_SECRET", "exactly-32-char-secret-for-test!!")
		if err := ValidateJWTSecret(); err != nil {
			t.Errorf("ValidateJWTSecret() unexpected error: %v", err)
		}
	})

	t.Run("production mode requires secret", func(t *testing.T) {
		resetJWTSecret()
		t.Setenv("SDB_JWT_SECRET", "")
		t.Setenv("SDB_DEV_MODE", "")
		t.Setenv("GIN_MODE", "release")
		if err := ValidateJWTSecret(); err == nil {
			t.Error("ValidateJWTSecret() expected error in production mode without secret, got nil")
		}
	})

	t.Run("dev mode generates random secret", func(t *testing.T) {
		resetJWTSecret()
		t.Setenv("SDB_JWT_SECRET", "")
		t.Setenv("SDB_DEV_MODE", "true")
		if err := ValidateJWTSecret(); err != nil {
			t.Errorf("ValidateJWTSecret() unexpected error in dev mode: %v", err)
		}
		if GetJWTSecret() == "" {
			t.Error("GetJWTSecret() returned empty string after dev mode init")
		}
	})
}

func TestGenerateAndValidateJWT(t *testing.T) {
	resetJWTSecret()
	t.Setenv("SDB_JWT_SECRET", "test-jwt-secret-that-is-32-chars-!")

	t.Run("round trip", func(t *testing.T) {
		token, err := GenerateJWT("user-123", "budi@example.com", "sales", "sess-1", time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}

		claims, err := ValidateJWT(token)
		if err != nil {
			t.Fatalf("ValidateJWT() error: %v", err)
		}
		if claims.UserID != "user-123" {
			t.Errorf("claims.UserID = %q, want %q", claims.UserID, "user-123")
		}
		if claims.Email != "budi@example.com" {
			t.Errorf("claims.Email = %q", claims.Email)
		}
		if claims.Role != "sales" {
			t.Errorf("claims.Role = %q, want sales", claims.Role)
		}
		if claims.SessionID != "sess-1" {
			t.Errorf("claims.SessionID = %q, want sess-1", claims.SessionID)
		}
		if claims.Issuer != Issuer {
			t.Errorf("claims.Issuer = %q, want %q", claims.Issuer, Issuer)
		}
	})

	t.Run("default expiry when zero duration", func(t *testing.T) {
		token, err := GenerateJWT("uid", "u@example.com", "admin", "s", 0)
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}
		claims, err := ValidateJWT(token)
		if err != nil {
			t.Fatalf("ValidateJWT() error: %v", err)
		}
		remaining := time.Until(claims.ExpiresAt.Time)
		if remaining < 7*time.Hour || remaining > 9*time.Hour {
			t.Errorf("default expiry remaining = %v, want ~8h", remaining)
		}
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		token, err := GenerateJWT("uid", "u@example.com", "admin", "s", -time.Second)
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}
		if _, err := ValidateJWT(token); err == nil {
			t.Error("ValidateJWT() expected error for expired token, got nil")
		}
	})

	t.Run("token without session is rejected", func(t *testing.T) {
		token, err := GenerateJWT("uid", "u@example.com", "admin", "", time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}
		if _, err := ValidateJWT(token); err == nil {
			t.Error("ValidateJWT() expected error for token without sid")
		}
	})

	t.Run("foreign issuer is rejected", func(t *testing.T) {
		claims := &Claims{
			UserID:    "uid",
			SessionID: "s",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "someone-else",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(GetJWTSecret()))
		if err != nil {
			t.Fatalf("SignedString() error: %v", err)
		}
		if _, err := ValidateJWT(token); err == nil {
			t.Error("ValidateJWT() expected error for foreign issuer")
		}
	})

	t.Run("invalid token string", func(t *testing.T) {
		if _, err := ValidateJWT("not.a.valid.token"); err == nil {
			t.Error("ValidateJWT() expected error for garbage token, got nil")
		}
	})

	t.Run("token signed with different secret is rejected", func(t *testing.T) {
		token, err := GenerateJWT("uid", "u@example.com", "admin", "s", time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}

		resetJWTSecret()
		t.Setenv("SDB_JWT_SECRET", "completely-different-secret-32ch!")

		if _, err := ValidateJWT(token); err == nil {
			t.Error("ValidateJWT() expected error for token signed with different secret, got nil")
		}

		resetJWTSecret()
		t.Setenv("SDB_JWT_SECRET", "test-jwt-secret-that-is-32-chars-!")
	})
}
