package auth

import (
	"errors"
	"testing"
	"time"

	"voicedash/internal/config"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{
		JWTSecret:       "test-secret",
		JWTIssuer:       "voicedash",
		JWTAudience:     "voicedash-web",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	m := testManager(t)
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	pair, err := m.IssuePair(now, "user-1", "ws-1", "operator")
	if err != nil {
		t.Fatal(err)
	}

	claims, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != "user-1" || claims.WorkspaceID != "ws-1" || claims.Role != "operator" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestVerify_ExpiredAccessToken(t *testing.T) {
	m := testManager(t)
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	pair, err := m.IssuePair(now, "user-1", "ws-1", "viewer")
	if err != nil {
		t.Fatal(err)
	}
	_, err = m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(16*time.Minute))
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerify_UsesCallerClockOnly(t *testing.T) {
	// Tokens issued long before the wall clock must still verify against
	// the caller-supplied time, so replaying fixtures stays deterministic.
	m := testManager(t)
	issued := time.Date(2023, 1, 2, 9, 0, 0, 0, time.UTC)

	pair, err := m.IssuePair(issued, "user-1", "ws-1", "viewer")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Verify(pair.AccessToken, TokenTypeAccess, issued.Add(time.Minute)); err != nil {
		t.Fatalf("valid at issue time rejected: %v", err)
	}
	if _, err := m.Verify(pair.AccessToken, TokenTypeAccess, issued.Add(16*time.Minute)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired at caller clock accepted: %v", err)
	}
}

func TestVerify_TokenTypeMismatch(t *testing.T) {
	m := testManager(t)
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	pair, err := m.IssuePair(now, "user-1", "ws-1", "viewer")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Verify(pair.RefreshToken, TokenTypeAccess, now); !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("refresh as access: err = %v", err)
	}
	// Refresh tokens verify under their own type, without a role.
	claims, err := m.Verify(pair.RefreshToken, TokenTypeRefresh, now)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Role != "" {
		t.Fatalf("refresh token carries role %q", claims.Role)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	m := testManager(t)
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	pair, err := m.IssuePair(now, "user-1", "ws-1", "viewer")
	if err != nil {
		t.Fatal(err)
	}

	other, err := NewManager(config.AuthConfig{
		JWTSecret:       "a-different-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Verify(pair.AccessToken, TokenTypeAccess, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewManager_RequiresSecret(t *testing.T) {
	if _, err := NewManager(config.AuthConfig{}); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
