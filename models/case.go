package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	CaseDraft     = "draft"
	CaseActive    = "active"
	CaseCompleted = "completed"
	CaseArchived  = "archived"
)

var caseTransitions = map[string][]string{
	CaseDraft:     {CaseActive, CaseArchived},
	CaseActive:    {CaseCompleted},
	CaseCompleted: {CaseArchived},
}

// Case is a legal-simulation scenario assigned to a course
type Case struct {
	gorm.Model
	CourseID       uint       `gorm:"not null;index" json:"course_id"`
	Title          string     `gorm:"not null" json:"title"`
	Summary        string     `json:"summary"`
	PlaintiffBrief string     `json:"plaintiff_brief"`
	DefendantBrief string     `json:"defendant_brief"`
	Status         string     `gorm:"not null;default:'draft';index" json:"status"` // draft, active, completed, archived
	StartsAt       *time.Time `json:"starts_at,omitempty"`
	EndsAt         *time.Time `json:"ends_at,omitempty"`

	// Relations
	Course    Course      `json:"-"`
	Teams     []Team      `gorm:"foreignKey:CaseID" json:"teams,omitempty"`
	Documents []Document  `gorm:"foreignKey:CaseID" json:"documents,omitempty"`
	Events    []CaseEvent `gorm:"foreignKey:CaseID" json:"events,omitempty"`
}

// CanTransition reports whether a case may move from its current status to next
func (c *Case) CanTransition(next string) bool {
	for _, allowed := range caseTransitions[c.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Editable is false once a case has been archived
func (c *Case) Editable() bool {
	return c.Status != CaseArchived
}

const (
	EventCaseActivated     = "case_activated"
	EventCaseCompleted     = "case_completed"
	EventEvidenceReleased  = "evidence_released"
	EventDocumentSubmitted = "document_submitted"
	EventDeadline          = "deadline"
	EventHearing           = "hearing"
	EventNote              = "note"
)

// CaseEvent is one entry of a case timeline
type CaseEvent struct {
	gorm.Model
	CaseID     uint           `gorm:"not null;index" json:"case_id"`
	Type       string         `gorm:"not null" json:"type"`
	Title      string         `json:"title"`
	OccurredAt time.Time      `gorm:"not null;index" json:"occurred_at"`
	ActorID    *uint          `json:"actor_id,omitempty"`
	DocumentID *uint          `json:"document_id,omitempty"`
	Metadata   datatypes.JSON `json:"metadata,omitempty"`
}

// ManualEventType reports whether instructors may post this event type directly
func ManualEventType(t string) bool {
	switch t {
	case EventDeadline, EventHearing, EventNote:
		return true
	}
	return false
}
