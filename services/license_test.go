package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lawsim/models"
	"lawsim/testutil"
)

func TestActiveLicenseWindow(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	org := testutil.CreateOrg(t, db, "acme")
	now := testutil.Now

	expired := now.Add(-time.Minute)
	require.NoError(t, db.Create(&models.License{
		OrganizationID: org.ID, Tier: models.TierEnterprise, Seats: 50,
		Status: models.LicenseActive, StartsAt: now.Add(-48 * time.Hour), ExpiresAt: &expired,
	}).Error)
	require.NoError(t, db.Create(&models.License{
		OrganizationID: org.ID, Tier: models.TierPro, Seats: 5,
		Status: models.LicenseActive, StartsAt: now.Add(time.Hour),
	}).Error)

	l := NewLicenseEnforcer(db)
	active, err := l.ActiveLicense(ctx, org.ID, now)
	require.NoError(t, err)
	assert.Nil(t, active, "expired and future licenses are not in force")

	testutil.GrantLicense(t, db, org.ID, models.TierBasic, 2)
	active, err = l.ActiveLicense(ctx, org.ID, now)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, models.TierBasic, active.Tier)
}

func TestRequireFeature(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	org := testutil.CreateOrg(t, db, "acme")
	l := NewLicenseEnforcer(db)

	err := l.RequireFeature(ctx, org.ID, models.FeatureInvitations, testutil.Now)
	assert.ErrorIs(t, err, ErrFeatureNotLicensed)

	license := testutil.GrantLicense(t, db, org.ID, models.TierBasic, 2)
	assert.NoError(t, l.RequireFeature(ctx, org.ID, models.FeatureInvitations, testutil.Now))
	assert.ErrorIs(t, l.RequireFeature(ctx, org.ID, models.FeatureAIGrading, testutil.Now), ErrFeatureNotLicensed)

	license.SetExtraFeatures([]string{models.FeatureAIGrading})
	require.NoError(t, db.Save(license).Error)
	assert.NoError(t, l.RequireFeature(ctx, org.ID, models.FeatureAIGrading, testutil.Now))
}

func TestEnsureSeat(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	org := testutil.CreateOrg(t, db, "acme")
	prof := testutil.CreateUser(t, db, "prof@example.com", models.RoleInstructor, org.ID)
	first := testutil.CreateUser(t, db, "s1@example.com", models.RoleStudent, org.ID)
	second := testutil.CreateUser(t, db, "s2@example.com", models.RoleStudent, org.ID)
	l := NewLicenseEnforcer(db)

	assert.ErrorIs(t, l.EnsureSeat(ctx, org.ID, first.ID, testutil.Now), ErrSeatLimitReached, "no license means no seats")

	testutil.GrantLicense(t, db, org.ID, models.TierBasic, 1)
	require.NoError(t, l.EnsureSeat(ctx, org.ID, first.ID, testutil.Now))

	contracts := testutil.CreateCourse(t, db, org.ID, prof.ID, "Contracts")
	torts := testutil.CreateCourse(t, db, org.ID, prof.ID, "Torts")
	testutil.Enroll(t, db, contracts.ID, first.ID)
	testutil.Enroll(t, db, torts.ID, first.ID)

	used, err := l.SeatsUsed(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), used, "a student enrolled twice holds one seat")

	assert.NoError(t, l.EnsureSeat(ctx, org.ID, first.ID, testutil.Now), "existing seat holders pass")
	assert.ErrorIs(t, l.EnsureSeat(ctx, org.ID, second.ID, testutil.Now), ErrSeatLimitReached)

	usage, err := l.Usage(ctx, org.ID, testutil.Now)
	require.NoError(t, err)
	assert.Equal(t, 1, usage.Seats)
	assert.Equal(t, int64(0), usage.SeatsAvailable)
	assert.Equal(t, []string{models.FeatureInvitations}, usage.Features)
}

func TestGrantRevokeActivate(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	org := testutil.CreateOrg(t, db, "acme")
	l := NewLicenseEnforcer(db)

	_, err := l.Grant(ctx, org.ID, "platinum", 5, nil, testutil.Now, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = l.Grant(ctx, 999, models.TierPro, 5, nil, testutil.Now, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	granted, err := l.Grant(ctx, org.ID, models.TierPro, 5, []string{models.FeatureLiveFeed}, testutil.Now.Add(-time.Minute), nil)
	require.NoError(t, err)
	ok, err := l.HasFeature(ctx, org.ID, models.FeatureLiveFeed, testutil.Now)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.Revoke(ctx, granted.ID))
	active, err := l.ActiveLicense(ctx, org.ID, testutil.Now)
	require.NoError(t, err)
	assert.Nil(t, active)
	assert.ErrorIs(t, l.Revoke(ctx, 999), ErrNotFound)

	pending := models.License{OrganizationID: org.ID, Tier: models.TierBasic, Seats: 3, Status: models.LicensePending, StartsAt: testutil.Now}
	require.NoError(t, db.Create(&pending).Error)
	activated, err := l.Activate(ctx, pending.ID, testutil.Now)
	require.NoError(t, err)
	assert.True(t, activated)
	activated, err = l.Activate(ctx, pending.ID, testutil.Now)
	require.NoError(t, err)
	assert.False(t, activated, "second activation is a no-op")
}
