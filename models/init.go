package models

import "gorm.io/gorm"

const DefaultOrganizationSlug = "default"

// Migrate creates or updates every table the platform uses
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Organization{},
		&User{},
		&Course{},
		&Enrollment{},
		&Case{},
		&CaseEvent{},
		&Team{},
		&TeamMember{},
		&Document{},
		&Invitation{},
		&License{},
		&AiResponseCache{},
	)
}

// CreateDefaultOrganization makes sure there is an organization that
// self-registered users fall back to
func CreateDefaultOrganization(db *gorm.DB) (*Organization, error) {
	org := Organization{Name: "Default", Slug: DefaultOrganizationSlug}
	if err := db.FirstOrCreate(&org, "slug = ?", org.Slug).Error; err != nil {
		return nil, err
	}
	return &org, nil
}
