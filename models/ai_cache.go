package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	AIKindGrading  = "grading"
	AIKindFeedback = "feedback"
	AIKindSummary  = "summary"
)

// AiResponseCache stores a generated AI response keyed by the prompt that
// produced it. Rows are hard-deleted on invalidation and cleanup.
type AiResponseCache struct {
	gorm.Model
	CacheKey   string         `gorm:"uniqueIndex;not null" json:"cache_key"`
	Kind       string         `gorm:"not null;index" json:"kind"` // grading, feedback, summary
	CaseID     *uint          `gorm:"index" json:"case_id,omitempty"`
	DocumentID *uint          `gorm:"index" json:"document_id,omitempty"`
	TeamID     *uint          `gorm:"index" json:"team_id,omitempty"`
	AIModel    string         `gorm:"column:model" json:"model"`
	PromptHash string         `gorm:"size:64" json:"prompt_hash"`
	Response   string         `json:"response"`
	Metadata   datatypes.JSON `json:"metadata,omitempty"`
	ExpiresAt  time.Time      `gorm:"not null;index" json:"expires_at"`
	HitCount   int            `gorm:"not null;default:0" json:"hit_count"`
	LastHitAt  *time.Time     `json:"last_hit_at,omitempty"`
}

func (e *AiResponseCache) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
