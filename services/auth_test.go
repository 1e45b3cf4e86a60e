package services

import (
	"context"
	"testing"

	"github.com/prepdeck/coach/repository"
)

func TestRefreshTokenRotation(t *testing.T) {
	store := repository.NewMemoryStore()
	auth := NewAuthService(store, "test-secret")
	ctx := context.Background()

	signup, err := auth.Signup(ctx, "rotate@example.com", "hunter2hunter2", "Rotate User")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	first := signup.RefreshToken

	rotated, err := auth.RefreshToken(ctx, first)
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if rotated.AccessToken == "" {
		t.Error("rotation returned no access token")
	}
	if rotated.RefreshToken == "" || rotated.RefreshToken == first {
		t.Error("rotation did not issue a new refresh token")
	}

	// The presented token is single-use.
	if _, err := auth.RefreshToken(ctx, first); err == nil {
		t.Error("rotated-out refresh token still accepted")
	}

	// The replacement keeps working.
	if _, err := auth.RefreshToken(ctx, rotated.RefreshToken); err != nil {
		t.Errorf("replacement refresh token rejected: %v", err)
	}
}

func TestRefreshTokenRejectsUnknown(t *testing.T) {
	auth := NewAuthService(repository.NewMemoryStore(), "test-secret")
	if _, err := auth.RefreshToken(context.Background(), "not-a-token"); err == nil {
		t.Error("unknown refresh token accepted")
	}
}

func TestLogoutInvalidatesRefreshTokens(t *testing.T) {
	store := repository.NewMemoryStore()
	auth := NewAuthService(store, "test-secret")
	ctx := context.Background()

	signup, err := auth.Signup(ctx, "logout@example.com", "hunter2hunter2", "Logout User")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if err := auth.Logout(ctx, signup.User.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := auth.RefreshToken(ctx, signup.RefreshToken); err == nil {
		t.Error("refresh token survived logout")
	}
}

func TestVerifyAccessToken(t *testing.T) {
	store := repository.NewMemoryStore()
	auth := NewAuthService(store, "test-secret")
	ctx := context.Background()

	signup, err := auth.Signup(ctx, "verify@example.com", "hunter2hunter2", "Verify User")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}

	user, err := auth.VerifyAccessToken(ctx, signup.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if user.ID != signup.User.ID {
		t.Errorf("verified user = %s, expected %s", user.ID, signup.User.ID)
	}

	if _, err := auth.VerifyAccessToken(ctx, "garbage.token.here"); err == nil {
		t.Error("garbage access token accepted")
	}

	other := NewAuthService(store, "different-secret")
	if _, err := other.VerifyAccessToken(ctx, signup.AccessToken); err == nil {
		t.Error("token signed with another secret accepted")
	}
}
