package models

import "gorm.io/gorm"

// Organization is the licensing unit: seats and features are granted per organization
type Organization struct {
	gorm.Model
	Name string `gorm:"not null" json:"name"`
	Slug string `gorm:"uniqueIndex;not null" json:"slug"`

	// Relations
	Users    []User    `gorm:"foreignKey:OrganizationID" json:"users,omitempty"`
	Courses  []Course  `gorm:"foreignKey:OrganizationID" json:"courses,omitempty"`
	Licenses []License `gorm:"foreignKey:OrganizationID" json:"licenses,omitempty"`
}
