package models

import (
	"time"

	"gorm.io/gorm"
)

// Invitation grants course access to an email address. Only the hash of the
// token is stored.
type Invitation struct {
	gorm.Model
	CourseID     uint       `gorm:"not null;index" json:"course_id"`
	Email        string     `gorm:"not null;index" json:"email"`
	Role         string     `gorm:"not null;default:'student'" json:"role"` // student, assistant
	TokenHash    string     `gorm:"uniqueIndex;not null" json:"-"`
	InvitedByID  uint       `gorm:"not null" json:"invited_by_id"`
	ExpiresAt    time.Time  `gorm:"not null" json:"expires_at"`
	AcceptedAt   *time.Time `json:"accepted_at,omitempty"`
	AcceptedByID *uint      `json:"accepted_by_id,omitempty"`

	// Relations
	Course Course `json:"-"`
}

func (i *Invitation) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

func (i *Invitation) Accepted() bool {
	return i.AcceptedAt != nil
}
