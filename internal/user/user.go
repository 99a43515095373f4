package user

import (
	"time"

	coreuser "github.com/oneflow-erp/oneflow-api/internal/core/user"
)

// User is a full users row. PasswordHash never leaves this package's callers
// through JSON.
type User struct {
	ID           int64         `db:"user_id" json:"id"`
	Name         string        `db:"name" json:"name"`
	Email        string        `db:"email" json:"email"`
	PasswordHash string        `db:"password_hash" json:"-"`
	Role         coreuser.Role `db:"role" json:"role"`
	HourlyRate   float64       `db:"hourly_rate" json:"hourly_rate"`
	IsActive     bool          `db:"is_active" json:"is_active"`
	TokenVersion int           `db:"token_version" json:"-"`
	Version      int           `db:"version" json:"version"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}

// PublicUser is User without any credential material.
type PublicUser struct {
	ID         int64         `db:"user_id" json:"id"`
	Name       string        `db:"name" json:"name"`
	Email      string        `db:"email" json:"email"`
	Role       coreuser.Role `db:"role" json:"role"`
	HourlyRate float64       `db:"hourly_rate" json:"hourly_rate"`
	IsActive   bool          `db:"is_active" json:"is_active"`
	Version    int           `db:"version" json:"version"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at" json:"updated_at"`
}

func (u *User) Public() *PublicUser {
	return &PublicUser{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Role:       u.Role,
		HourlyRate: u.HourlyRate,
		IsActive:   u.IsActive,
		Version:    u.Version,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

func (u *User) Claims() coreuser.ClaimPayload {
	return coreuser.ClaimPayload{
		UserID:       u.ID,
		Email:        u.Email,
		Role:         u.Role,
		Name:         u.Name,
		TokenVersion: u.TokenVersion,
	}
}

type CreateUserInput struct {
	Name       string
	Email      string
	Password   string
	Role       coreuser.Role
	HourlyRate float64
}

// UpdateUserInput is a partial update; nil fields are left untouched.
// ExpectedVersion, when set, turns the update into a compare-and-set.
type UpdateUserInput struct {
	Name            *string
	Email           *string
	Role            *coreuser.Role
	HourlyRate      *float64
	IsActive        *bool
	ExpectedVersion *int
}

func (in UpdateUserInput) Empty() bool {
	return in.Name == nil && in.Email == nil && in.Role == nil && in.HourlyRate == nil && in.IsActive == nil
}
