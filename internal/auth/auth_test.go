package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	userID := uuid.New()

	token, err := m.GenerateToken(userID, "user@example.com")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.UserID != userID {
		t.Errorf("UserID = %s, want %s", claims.UserID, userID)
	}
	if claims.Email != "user@example.com" {
		t.Errorf("Email = %q, want %q", claims.Email, "user@example.com")
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	token, err := NewManager("secret-a", time.Hour).GenerateToken(uuid.New(), "a@b.c")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	if _, err := NewManager("secret-b", time.Hour).ValidateToken(token); err == nil {
		t.Fatal("ValidateToken() expected error for wrong secret")
	}
}

func TestValidateToken_Expired(t *testing.T) {
	m := NewManager("test-secret", -time.Minute)
	token, err := m.GenerateToken(uuid.New(), "a@b.c")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	if _, err := m.ValidateToken(token); err == nil {
		t.Fatal("ValidateToken() expected error for expired token")
	}
}

func TestValidateToken_Garbage(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	for _, token := range []string{"", "not.a.token", "aaaa.bbbb.cccc"} {
		if _, err := m.ValidateToken(token); err == nil {
			t.Errorf("ValidateToken(%q) expected error", token)
		}
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2hunter2")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == "hunter2hunter2" {
		t.Fatal("hash equals plaintext")
	}
	if !CheckPassword(hash, "hunter2hunter2") {
		t.Error("CheckPassword() = false for correct password")
	}
	if CheckPassword(hash, "wrong-password") {
		t.Error("CheckPassword() = true for wrong password")
	}
}
