// Package models contains data structures for the application's domain models.
package models

import (
	"time"

	"gorm.io/gorm"
)

// Roles a user can hold. Farmers are plain users, officers are admins.
const (
	RoleFarmer  = "user"
	RoleOfficer = "admin"
)

// User represents a farmer or officer account.
type User struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Name       string         `gorm:"not null" json:"name"`
	Email      string         `gorm:"uniqueIndex;not null" json:"email"`
	Password   string         `gorm:"not null" json:"-"`
	Role       string         `gorm:"not null;default:'user';index" json:"role"`
	ProfilePic string         `json:"profile_pic"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsOfficer reports whether the user holds the officer role.
func (u *User) IsOfficer() bool {
	return u.Role == RoleOfficer
}
