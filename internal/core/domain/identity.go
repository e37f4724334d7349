package domain

import "time"

// UserStatus enumerates possible account states.
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusDisabled  UserStatus = "disabled"
)

// Role tags understood by downstream authorization gates.
const (
	RoleUser   = "user"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// User mirrors the fields of the user record the security core reads.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CanAuthenticate reports whether the account may be issued tokens.
func (u User) CanAuthenticate() bool {
	return u.Status == UserStatusActive
}

// EffectiveRole returns the stored role, defaulting to RoleUser.
func (u User) EffectiveRole() string {
	if u.Role == "" {
		return RoleUser
	}
	return u.Role
}
