package models

import "gorm.io/gorm"

const (
	EnrollmentStudent   = "student"
	EnrollmentAssistant = "assistant"
)

// Course groups cases and the students working on them
type Course struct {
	gorm.Model
	OrganizationID uint   `gorm:"not null;index" json:"organization_id"`
	InstructorID   uint   `gorm:"not null;index" json:"instructor_id"`
	Title          string `gorm:"not null" json:"title"`
	Code           string `gorm:"index" json:"code"`
	Term           string `json:"term"`
	Description    string `json:"description"`
	IsActive       bool   `gorm:"default:true" json:"is_active"`

	// Relations
	Instructor  User         `json:"-"`
	Enrollments []Enrollment `gorm:"foreignKey:CourseID" json:"enrollments,omitempty"`
	Cases       []Case       `gorm:"foreignKey:CourseID" json:"cases,omitempty"`
}

// Enrollment links a user to a course
type Enrollment struct {
	gorm.Model
	CourseID uint   `gorm:"not null;uniqueIndex:idx_enrollment_course_user" json:"course_id"`
	UserID   uint   `gorm:"not null;uniqueIndex:idx_enrollment_course_user;index" json:"user_id"`
	Role     string `gorm:"not null;default:'student'" json:"role"` // student, assistant

	// Relations
	Course Course `json:"-"`
	User   User   `json:"user,omitempty"`
}
