package models

import (
	"gorm.io/gorm"
)

const (
	RoleAdmin      = "admin"
	RoleInstructor = "instructor"
	RoleStudent    = "student"
)

// User represents an account on the platform
type User struct {
	gorm.Model

	// Authentication fields
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `json:"-"`
	TokenVersion int    `gorm:"not null;default:1" json:"-"`

	// Google OAuth fields
	GoogleID  *string `gorm:"uniqueIndex" json:"google_id,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`

	// Profile information
	Name string `json:"name"`
	Role string `gorm:"not null;default:'student'" json:"role"` // admin, instructor, student

	// Account status
	IsActive bool `gorm:"default:true" json:"is_active"`

	OrganizationID *uint         `gorm:"index" json:"organization_id,omitempty"`
	Organization   *Organization `json:"organization,omitempty"`

	// Relations
	Enrollments []Enrollment `gorm:"foreignKey:UserID" json:"enrollments,omitempty"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func (u *User) IsInstructor() bool {
	return u.Role == RoleInstructor
}

// ValidRole reports whether role is one of the account roles
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleInstructor, RoleStudent:
		return true
	}
	return false
}
