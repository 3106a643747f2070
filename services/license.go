package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"lawsim/models"
)

// LicenseEnforcer gates features and student seats per organization
type LicenseEnforcer struct {
	db *gorm.DB
}

func NewLicenseEnforcer(db *gorm.DB) *LicenseEnforcer {
	return &LicenseEnforcer{db: db}
}

// Usage summarizes an organization's license position
type Usage struct {
	OrganizationID uint            `json:"organization_id"`
	License        *models.License `json:"license"`
	Seats          int             `json:"seats"`
	SeatsUsed      int64           `json:"seats_used"`
	SeatsAvailable int64           `json:"seats_available"`
	Features       []string        `json:"features"`
}

// ActiveLicense returns the newest license in force at now, or nil
func (l *LicenseEnforcer) ActiveLicense(ctx context.Context, orgID uint, now time.Time) (*models.License, error) {
	var license models.License
	err := l.db.WithContext(ctx).
		Where("organization_id = ? AND status = ? AND starts_at <= ?", orgID, models.LicenseActive, now).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("starts_at DESC, id DESC").
		First(&license).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &license, nil
}

func (l *LicenseEnforcer) Features(ctx context.Context, orgID uint, now time.Time) ([]string, error) {
	license, err := l.ActiveLicense(ctx, orgID, now)
	if err != nil || license == nil {
		return nil, err
	}
	return license.EffectiveFeatures(), nil
}

func (l *LicenseEnforcer) HasFeature(ctx context.Context, orgID uint, feature string, now time.Time) (bool, error) {
	features, err := l.Features(ctx, orgID, now)
	if err != nil {
		return false, err
	}
	for _, f := range features {
		if f == feature {
			return true, nil
		}
	}
	return false, nil
}

func (l *LicenseEnforcer) RequireFeature(ctx context.Context, orgID uint, feature string, now time.Time) error {
	ok, err := l.HasFeature(ctx, orgID, feature, now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrFeatureNotLicensed, feature)
	}
	return nil
}

func (l *LicenseEnforcer) seatQuery(ctx context.Context, orgID uint) *gorm.DB {
	return l.db.WithContext(ctx).Model(&models.Enrollment{}).
		Joins("JOIN courses ON courses.id = enrollments.course_id").
		Where("courses.organization_id = ? AND courses.deleted_at IS NULL", orgID).
		Where("enrollments.role = ?", models.EnrollmentStudent)
}

// SeatsUsed counts distinct students enrolled across the organization's courses
func (l *LicenseEnforcer) SeatsUsed(ctx context.Context, orgID uint) (int64, error) {
	var count int64
	err := l.seatQuery(ctx, orgID).Distinct("enrollments.user_id").Count(&count).Error
	return count, err
}

func (l *LicenseEnforcer) HoldsSeat(ctx context.Context, orgID, userID uint) (bool, error) {
	var count int64
	err := l.seatQuery(ctx, orgID).Where("enrollments.user_id = ?", userID).Count(&count).Error
	return count > 0, err
}

// EnsureSeat succeeds when the user already holds a seat or one is free
func (l *LicenseEnforcer) EnsureSeat(ctx context.Context, orgID, userID uint, now time.Time) error {
	holds, err := l.HoldsSeat(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if holds {
		return nil
	}

	seats := 0
	license, err := l.ActiveLicense(ctx, orgID, now)
	if err != nil {
		return err
	}
	if license != nil {
		seats = license.Seats
	}

	used, err := l.SeatsUsed(ctx, orgID)
	if err != nil {
		return err
	}
	if used >= int64(seats) {
		return fmt.Errorf("%w: %d of %d seats in use", ErrSeatLimitReached, used, seats)
	}
	return nil
}

func (l *LicenseEnforcer) Usage(ctx context.Context, orgID uint, now time.Time) (*Usage, error) {
	license, err := l.ActiveLicense(ctx, orgID, now)
	if err != nil {
		return nil, err
	}
	used, err := l.SeatsUsed(ctx, orgID)
	if err != nil {
		return nil, err
	}

	usage := &Usage{OrganizationID: orgID, License: license, SeatsUsed: used, Features: []string{}}
	if license != nil {
		usage.Seats = license.Seats
		usage.Features = license.EffectiveFeatures()
	}
	if avail := int64(usage.Seats) - used; avail > 0 {
		usage.SeatsAvailable = avail
	}
	return usage, nil
}

// Grant creates an active license directly, bypassing checkout
func (l *LicenseEnforcer) Grant(ctx context.Context, orgID uint, tier string, seats int, extra []string, startsAt time.Time, expiresAt *time.Time) (*models.License, error) {
	if !models.ValidTier(tier) {
		return nil, fmt.Errorf("%w: unknown tier %q", ErrInvalidInput, tier)
	}
	if seats < 0 {
		return nil, fmt.Errorf("%w: seats must not be negative", ErrInvalidInput)
	}
	if expiresAt != nil && !expiresAt.After(startsAt) {
		return nil, fmt.Errorf("%w: expires_at must be after starts_at", ErrInvalidInput)
	}

	var org models.Organization
	if err := l.db.WithContext(ctx).First(&org, orgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("organization")
		}
		return nil, err
	}

	license := models.License{
		OrganizationID: orgID,
		Tier:           tier,
		Seats:          seats,
		Status:         models.LicenseActive,
		StartsAt:       startsAt,
		ExpiresAt:      expiresAt,
	}
	license.SetExtraFeatures(extra)
	if err := l.db.WithContext(ctx).Create(&license).Error; err != nil {
		return nil, err
	}
	return &license, nil
}

func (l *LicenseEnforcer) Revoke(ctx context.Context, licenseID uint) error {
	res := l.db.WithContext(ctx).Model(&models.License{}).
		Where("id = ?", licenseID).
		Update("status", models.LicenseRevoked)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("license")
	}
	return nil
}

// Activate flips a pending license to active, starting now. Repeated calls
// are no-ops so webhook redelivery is harmless.
func (l *LicenseEnforcer) Activate(ctx context.Context, licenseID uint, now time.Time) (bool, error) {
	res := l.db.WithContext(ctx).Model(&models.License{}).
		Where("id = ? AND status = ?", licenseID, models.LicensePending).
		Updates(map[string]interface{}{
			"status":    models.LicenseActive,
			"starts_at": now,
		})
	return res.RowsAffected > 0, res.Error
}
