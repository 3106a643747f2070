package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	TierBasic      = "basic"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

const (
	LicensePending = "pending"
	LicenseActive  = "active"
	LicenseRevoked = "revoked"
)

const (
	FeatureInvitations        = "invitations"
	FeatureAIGrading          = "ai_grading"
	FeatureEvidenceScheduling = "evidence_scheduling"
	FeatureLiveFeed           = "live_feed"
	FeatureCacheManagement    = "cache_management"
)

var tierFeatures = map[string][]string{
	TierBasic:      {FeatureInvitations},
	TierPro:        {FeatureInvitations, FeatureAIGrading, FeatureEvidenceScheduling},
	TierEnterprise: {FeatureInvitations, FeatureAIGrading, FeatureEvidenceScheduling, FeatureLiveFeed, FeatureCacheManagement},
}

// License is a per-organization grant of seats and features
type License struct {
	gorm.Model
	OrganizationID uint           `gorm:"not null;index" json:"organization_id"`
	Tier           string         `gorm:"not null" json:"tier"` // basic, pro, enterprise
	Seats          int            `gorm:"not null" json:"seats"`
	Features       datatypes.JSON `json:"features,omitempty"` // extra features on top of the tier
	Status         string         `gorm:"not null;default:'pending';index" json:"status"`
	StartsAt       time.Time      `gorm:"not null" json:"starts_at"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`

	StripePaymentIntentID string `gorm:"index" json:"stripe_payment_intent_id,omitempty"`

	// Relations
	Organization Organization `json:"-"`
}

// ValidTier reports whether tier names a known license tier
func ValidTier(tier string) bool {
	_, ok := tierFeatures[tier]
	return ok
}

// TierFeatures returns the features bundled with a tier
func TierFeatures(tier string) []string {
	return append([]string(nil), tierFeatures[tier]...)
}

// ExtraFeatures decodes the Features column. Malformed JSON yields no extras.
func (l *License) ExtraFeatures() []string {
	if len(l.Features) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(l.Features, &out); err != nil {
		return nil
	}
	return out
}

func (l *License) SetExtraFeatures(features []string) {
	if len(features) == 0 {
		l.Features = nil
		return
	}
	raw, _ := json.Marshal(features)
	l.Features = datatypes.JSON(raw)
}

// EffectiveFeatures is the tier bundle plus any extras, without duplicates
func (l *License) EffectiveFeatures() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, f := range append(TierFeatures(l.Tier), l.ExtraFeatures()...) {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// ActiveAt reports whether the license is in force at now
func (l *License) ActiveAt(now time.Time) bool {
	if l.Status != LicenseActive {
		return false
	}
	if l.StartsAt.After(now) {
		return false
	}
	return l.ExpiresAt == nil || l.ExpiresAt.After(now)
}
