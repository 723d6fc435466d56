package auth

import (
	"context"
	"testing"

	"github.com/dukerupert/campuskubo/internal/model"
)

func TestWithAuthAndFromContext(t *testing.T) {
	ac := AuthContext{
		UserID:   1,
		Email:    "alice@example.com",
		Role:     model.RolePM,
		FullName: "Alice",
	}

	ctx := WithAuth(context.Background(), ac)
	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected AuthContext in context")
	}
	if got != ac {
		t.Errorf("AuthContext = %+v, want %+v", got, ac)
	}
}

func TestFromContextMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	if ok {
		t.Error("expected false for missing AuthContext")
	}
}

func TestUserID(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{UserID: 7})
	if UserID(ctx) != 7 {
		t.Errorf("UserID = %d, want 7", UserID(ctx))
	}
	if UserID(context.Background()) != 0 {
		t.Error("expected 0 for missing context")
	}
}

func TestHasRole(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{Role: model.RolePM})

	if !HasRole(ctx, model.RoleTenant, model.RolePM) {
		t.Error("expected pm to match [tenant pm]")
	}
	if HasRole(ctx, model.RoleAdmin) {
		t.Error("expected pm not to match [admin]")
	}
	if HasRole(context.Background(), model.RolePM) {
		t.Error("expected false for missing context")
	}
}

func TestIsAdmin(t *testing.T) {
	if !IsAdmin(WithAuth(context.Background(), AuthContext{Role: model.RoleAdmin})) {
		t.Error("expected admin")
	}
	if IsAdmin(WithAuth(context.Background(), AuthContext{Role: model.RoleTenant})) {
		t.Error("expected tenant not to be admin")
	}
}
