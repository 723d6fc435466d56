package store

import (
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/campuskubo/internal/model"
)

func setupPasswordResetTestDB(t *testing.T) (*PasswordResetStore, *UserStore) {
	t.Helper()
	db := openTestDB(t)
	return NewPasswordResetStore(db), NewUserStore(db)
}

func TestPasswordResetCreate(t *testing.T) {
	ps, us := setupPasswordResetTestDB(t)

	u, _ := us.Create("Alice", "alice@example.com", "hash", model.RoleTenant)

	tok, err := ps.Create(u.ID, 24*time.Hour)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	if len(tok.Token) != 64 { // 32 bytes hex-encoded
		t.Errorf("token length = %d, want 64", len(tok.Token))
	}
	if tok.UserID != u.ID {
		t.Errorf("user_id = %d, want %d", tok.UserID, u.ID)
	}
	if tok.UsedAt != nil {
		t.Error("expected unused token")
	}
	if d := time.Until(tok.ExpiresAt); d < 23*time.Hour || d > 25*time.Hour {
		t.Errorf("expires in %v, want about 24h", d)
	}
}

func TestPasswordResetCreateInvalidUser(t *testing.T) {
	ps, _ := setupPasswordResetTestDB(t)

	for _, id := range []int64{0, -1, 999} {
		if _, err := ps.Create(id, time.Hour); !errors.Is(err, ErrUserNotFound) {
			t.Errorf("Create(%d) err = %v, want ErrUserNotFound", id, err)
		}
	}
}

func TestPasswordResetCreateInvalidatesPrevious(t *testing.T) {
	ps, us := setupPasswordResetTestDB(t)

	u, _ := us.Create("Alice", "alice@example.com", "hash", model.RoleTenant)
	first, _ := ps.Create(u.ID, time.Hour)
	second, _ := ps.Create(u.ID, time.Hour)

	got, err := ps.Verify(first.Token)
	if err != nil {
		t.Fatalf("verify first: %v", err)
	}
	if got != nil {
		t.Error("expected first token to be invalidated")
	}

	got, err = ps.Verify(second.Token)
	if err != nil {
		t.Fatalf("verify second: %v", err)
	}
	if got == nil {
		t.Fatal("expected second token to verify")
	}
}

func TestPasswordResetVerifyNotFound(t *testing.T) {
	ps, _ := setupPasswordResetTestDB(t)

	got, err := ps.Verify("nonexistent")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != nil {
		t.Error("expected nil for nonexistent token")
	}
}

func TestPasswordResetVerifyExpired(t *testing.T) {
	ps, us := setupPasswordResetTestDB(t)

	u, _ := us.Create("Alice", "alice@example.com", "hash", model.RoleTenant)
	tok, _ := ps.Create(u.ID, time.Hour)
	ps.db.Exec(`UPDATE password_reset_tokens SET expires_at = ? WHERE id = ?`, time.Now().UTC().Add(-time.Minute), tok.ID)

	got, err := ps.Verify(tok.Token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != nil {
		t.Error("expected nil for expired token")
	}
}

func TestPasswordResetMarkUsedOnce(t *testing.T) {
	ps, us := setupPasswordResetTestDB(t)

	u, _ := us.Create("Alice", "alice@example.com", "hash", model.RoleTenant)
	tok, _ := ps.Create(u.ID, time.Hour)

	ok, err := ps.MarkUsed(tok.Token)
	if err != nil {
		t.Fatalf("mark used: %v", err)
	}
	if !ok {
		t.Fatal("expected first MarkUsed to succeed")
	}

	ok, err = ps.MarkUsed(tok.Token)
	if err != nil {
		t.Fatalf("mark used again: %v", err)
	}
	if ok {
		t.Error("expected second MarkUsed to fail")
	}
}

func TestPasswordResetRedeem(t *testing.T) {
	ps, us := setupPasswordResetTestDB(t)

	u, _ := us.Create("Alice", "alice@example.com", "old-hash", model.RoleTenant)
	tok, _ := ps.Create(u.ID, time.Hour)

	userID, err := ps.Redeem(tok.Token, "new-hash")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if userID != u.ID {
		t.Errorf("user_id = %d, want %d", userID, u.ID)
	}

	got, _ := us.GetByID(u.ID)
	if got.PasswordHash != "new-hash" {
		t.Errorf("password_hash = %q, want %q", got.PasswordHash, "new-hash")
	}

	// Replay must fail and must not touch the password
	if _, err := ps.Redeem(tok.Token, "replayed-hash"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("replay err = %v, want ErrTokenInvalid", err)
	}
	got, _ = us.GetByID(u.ID)
	if got.PasswordHash != "new-hash" {
		t.Errorf("password_hash after replay = %q, want %q", got.PasswordHash, "new-hash")
	}
}

func TestPasswordResetRedeemExpired(t *testing.T) {
	ps, us := setupPasswordResetTestDB(t)

	u, _ := us.Create("Alice", "alice@example.com", "old-hash", model.RoleTenant)
	tok, _ := ps.Create(u.ID, time.Hour)
	ps.db.Exec(`UPDATE password_reset_tokens SET expires_at = ? WHERE id = ?`, time.Now().UTC().Add(-time.Minute), tok.ID)

	if _, err := ps.Redeem(tok.Token, "new-hash"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
	got, _ := us.GetByID(u.ID)
	if got.PasswordHash != "old-hash" {
		t.Errorf("password_hash = %q, want unchanged", got.PasswordHash)
	}
}

func TestPasswordResetRedeemInactiveUser(t *testing.T) {
	ps, us := setupPasswordResetTestDB(t)

	u, _ := us.Create("Alice", "alice@example.com", "old-hash", model.RoleTenant)
	tok, _ := ps.Create(u.ID, time.Hour)
	us.SetActive(u.ID, false)

	if _, err := ps.Redeem(tok.Token, "new-hash"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
	// Rolled back: the token is still unused
	got, _ := ps.Verify(tok.Token)
	if got == nil {
		t.Error("expected token to remain redeemable after rollback")
	}
}

func TestPasswordResetDeleteExpired(t *testing.T) {
	ps, us := setupPasswordResetTestDB(t)

	u, _ := us.Create("Alice", "alice@example.com", "hash", model.RoleTenant)
	tok, _ := ps.Create(u.ID, time.Hour)
	ps.db.Exec(`UPDATE password_reset_tokens SET expires_at = ? WHERE id = ?`, time.Now().UTC().Add(-time.Hour), tok.ID)

	count, err := ps.DeleteExpired()
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if count != 1 {
		t.Errorf("deleted = %d, want 1", count)
	}
}
