package model

import (
	"fmt"
	"time"
)

// Role gates which operations a user may perform.
type Role string

const (
	RoleTenant Role = "tenant"
	RolePM     Role = "pm"
	RoleAdmin  Role = "admin"
)

// Roles lists every valid role.
var Roles = []Role{RoleTenant, RolePM, RoleAdmin}

func (r Role) Valid() bool {
	switch r {
	case RoleTenant, RolePM, RoleAdmin:
		return true
	}
	return false
}

// ParseRole rejects anything outside the closed role set.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("invalid role %q: must be one of tenant, pm, admin", s)
	}
	return r, nil
}

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	FullName     string    `json:"full_name"`
	Phone        string    `json:"phone,omitempty"`
	IsActive     bool      `json:"is_active"`
	IsVerified   bool      `json:"is_verified"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
