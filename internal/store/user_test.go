package store

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/dukerupert/campuskubo/internal/database"
	"github.com/dukerupert/campuskubo/internal/model"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func setupUserTestDB(t *testing.T) *UserStore {
	t.Helper()
	return NewUserStore(openTestDB(t))
}

func TestUserCreate(t *testing.T) {
	us := setupUserTestDB(t)

	u, err := us.Create("Alice Reyes", "alice@example.com", "hash", model.RoleTenant)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.Email != "alice@example.com" {
		t.Errorf("email = %q, want %q", u.Email, "alice@example.com")
	}
	if u.FullName != "Alice Reyes" {
		t.Errorf("full_name = %q, want %q", u.FullName, "Alice Reyes")
	}
	if u.Role != model.RoleTenant {
		t.Errorf("role = %q, want %q", u.Role, model.RoleTenant)
	}
	if !u.IsActive {
		t.Error("expected new user to be active")
	}
	if u.IsVerified {
		t.Error("expected new user to be unverified")
	}
	if u.ID == 0 {
		t.Error("expected non-zero ID")
	}
}

func TestUserCreateNormalizesEmail(t *testing.T) {
	us := setupUserTestDB(t)

	u, err := us.Create("Alice", "  Alice@Example.COM ", "hash", model.RoleTenant)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.Email != "alice@example.com" {
		t.Errorf("email = %q, want %q", u.Email, "alice@example.com")
	}
}

func TestUserCreateDuplicateEmail(t *testing.T) {
	us := setupUserTestDB(t)

	first, err := us.Create("Alice", "alice@example.com", "hash-1", model.RoleTenant)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	_, err = us.Create("Alice2", "ALICE@example.com", "hash-2", model.RolePM)
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("err = %v, want ErrDuplicateEmail", err)
	}

	u, err := us.GetByID(first.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if u.FullName != "Alice" || u.PasswordHash != "hash-1" || u.Role != model.RoleTenant {
		t.Errorf("first user changed: %+v", u)
	}
}

func TestUserCreateInvalidRole(t *testing.T) {
	us := setupUserTestDB(t)

	if _, err := us.Create("Mallory", "mallory@example.com", "hash", model.Role("superuser")); err == nil {
		t.Fatal("expected error for invalid role, got nil")
	}
}

func TestUserGetByIDNotFound(t *testing.T) {
	us := setupUserTestDB(t)

	u, err := us.GetByID(999)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if u != nil {
		t.Error("expected nil for nonexistent user")
	}
}

func TestUserGetByEmail(t *testing.T) {
	us := setupUserTestDB(t)

	if _, err := us.Create("Alice", "alice@example.com", "hash", model.RoleTenant); err != nil {
		t.Fatalf("create user: %v", err)
	}

	u, err := us.GetByEmail("ALICE@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if u == nil {
		t.Fatal("expected user, got nil")
	}
	if u.FullName != "Alice" {
		t.Errorf("full_name = %q, want %q", u.FullName, "Alice")
	}
}

func TestUserGetByEmailNotFound(t *testing.T) {
	us := setupUserTestDB(t)

	u, err := us.GetByEmail("nobody@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if u != nil {
		t.Error("expected nil for nonexistent email")
	}
}

func TestUserGetActiveByEmailSkipsInactive(t *testing.T) {
	us := setupUserTestDB(t)

	created, _ := us.Create("Alice", "alice@example.com", "hash", model.RoleTenant)

	u, err := us.GetActiveByEmail("alice@example.com")
	if err != nil {
		t.Fatalf("get active by email: %v", err)
	}
	if u == nil {
		t.Fatal("expected active user, got nil")
	}

	if err := us.SetActive(created.ID, false); err != nil {
		t.Fatalf("set active: %v", err)
	}

	u, err = us.GetActiveByEmail("alice@example.com")
	if err != nil {
		t.Fatalf("get active by email: %v", err)
	}
	if u != nil {
		t.Error("expected nil for deactivated user")
	}

	// Still visible to the non-login lookup
	u, _ = us.GetByEmail("alice@example.com")
	if u == nil || u.IsActive {
		t.Errorf("GetByEmail = %+v, want inactive user", u)
	}
}

func TestUserSetActiveNotFound(t *testing.T) {
	us := setupUserTestDB(t)

	if err := us.SetActive(42, false); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}
}

func TestUserUpdatePassword(t *testing.T) {
	us := setupUserTestDB(t)

	created, _ := us.Create("Alice", "alice@example.com", "old", model.RoleTenant)

	ok, err := us.UpdatePassword(created.ID, "new")
	if err != nil {
		t.Fatalf("update password: %v", err)
	}
	if !ok {
		t.Fatal("expected update to report a changed row")
	}

	u, _ := us.GetByID(created.ID)
	if u.PasswordHash != "new" {
		t.Errorf("password_hash = %q, want %q", u.PasswordHash, "new")
	}

	ok, err = us.UpdatePassword(999, "new")
	if err != nil {
		t.Fatalf("update missing user: %v", err)
	}
	if ok {
		t.Error("expected false for nonexistent user")
	}
}
