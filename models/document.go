package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"gorm.io/gorm"
)

const (
	DocCaseFile   = "case_file"
	DocEvidence   = "evidence"
	DocBrief      = "brief"
	DocSubmission = "submission"
)

const (
	VisibleAll       = "all"
	VisiblePlaintiff = "plaintiff"
	VisibleDefendant = "defendant"
	VisibleTeam      = "team"
)

// Document is a piece of case material: the case file, scheduled evidence,
// briefs, or a team's submission
type Document struct {
	gorm.Model
	CaseID       uint   `gorm:"not null;index" json:"case_id"`
	TeamID       *uint  `gorm:"index" json:"team_id,omitempty"`
	UploadedByID uint   `gorm:"not null" json:"uploaded_by_id"`
	Title        string `gorm:"not null" json:"title"`
	Kind         string `gorm:"not null;index" json:"kind"` // case_file, evidence, brief, submission
	Content      string `json:"content"`
	ContentHash  string `gorm:"size:64" json:"content_hash"`
	Visibility   string `gorm:"not null;default:'all'" json:"visibility"` // all, plaintiff, defendant, team

	// Release scheduling
	ReleaseAt  *time.Time `gorm:"index" json:"release_at,omitempty"`
	Released   bool       `gorm:"not null;index" json:"released"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`

	// Relations
	Case Case  `json:"-"`
	Team *Team `json:"-"`
}

// SetContent replaces the body and keeps ContentHash in sync
func (d *Document) SetContent(content string) {
	d.Content = content
	d.ContentHash = HashContent(content)
}

// ReadyForRelease gates scheduled evidence: unreleased evidence whose release
// time has passed, on a case that is currently active.
func (d *Document) ReadyForRelease(caseStatus string, now time.Time) bool {
	if d.Kind != DocEvidence || d.Released || d.ReleaseAt == nil {
		return false
	}
	if d.ReleaseAt.After(now) {
		return false
	}
	return caseStatus == CaseActive
}

func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func ValidDocumentKind(kind string) bool {
	switch kind {
	case DocCaseFile, DocEvidence, DocBrief, DocSubmission:
		return true
	}
	return false
}

func ValidVisibility(v string) bool {
	switch v {
	case VisibleAll, VisiblePlaintiff, VisibleDefendant, VisibleTeam:
		return true
	}
	return false
}
