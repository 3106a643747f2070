// Package testutil builds throwaway databases and fixtures for package tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"lawsim/config"
	"lawsim/models"
)

// Now is the fixed clock used by fixtures
var Now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// NewDB opens a migrated SQLite database private to the test
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), config.GormConfig())
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func CreateOrg(t *testing.T, db *gorm.DB, slug string) *models.Organization {
	t.Helper()
	org := models.Organization{Name: slug, Slug: slug}
	require.NoError(t, db.Create(&org).Error)
	return &org
}

func CreateUser(t *testing.T, db *gorm.DB, email, role string, orgID uint) *models.User {
	t.Helper()
	user := models.User{Email: email, Name: email, Role: role, IsActive: true, TokenVersion: 1}
	if orgID != 0 {
		user.OrganizationID = &orgID
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

// GrantLicense creates an active license that started an hour before Now
func GrantLicense(t *testing.T, db *gorm.DB, orgID uint, tier string, seats int) *models.License {
	t.Helper()
	license := models.License{
		OrganizationID: orgID,
		Tier:           tier,
		Seats:          seats,
		Status:         models.LicenseActive,
		StartsAt:       Now.Add(-time.Hour),
	}
	require.NoError(t, db.Create(&license).Error)
	return &license
}

func CreateCourse(t *testing.T, db *gorm.DB, orgID, instructorID uint, title string) *models.Course {
	t.Helper()
	course := models.Course{OrganizationID: orgID, InstructorID: instructorID, Title: title, IsActive: true}
	require.NoError(t, db.Create(&course).Error)
	return &course
}

func Enroll(t *testing.T, db *gorm.DB, courseID, userID uint) {
	t.Helper()
	require.NoError(t, db.Create(&models.Enrollment{CourseID: courseID, UserID: userID, Role: models.EnrollmentStudent}).Error)
}

func CreateCase(t *testing.T, db *gorm.DB, courseID uint, status string) *models.Case {
	t.Helper()
	c := models.Case{CourseID: courseID, Title: "Acme v. Widget Co.", Summary: "Breach of a supply contract", Status: status}
	require.NoError(t, db.Create(&c).Error)
	return &c
}

func CreateTeam(t *testing.T, db *gorm.DB, caseID uint, role string, members ...uint) *models.Team {
	t.Helper()
	team := models.Team{CaseID: caseID, Name: role + " team", Role: role}
	require.NoError(t, db.Create(&team).Error)
	for _, uid := range members {
		require.NoError(t, db.Create(&models.TeamMember{TeamID: team.ID, CaseID: caseID, UserID: uid}).Error)
	}
	return &team
}

// CreateDocument stores doc after filling in the content hash
func CreateDocument(t *testing.T, db *gorm.DB, doc models.Document) *models.Document {
	t.Helper()
	if doc.Visibility == "" {
		doc.Visibility = models.VisibleAll
	}
	doc.SetContent(doc.Content)
	require.NoError(t, db.Create(&doc).Error)
	return &doc
}
