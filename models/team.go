package models

import "gorm.io/gorm"

const (
	SidePlaintiff = "plaintiff"
	SideDefendant = "defendant"
)

// Team represents a student group arguing one side of a case
type Team struct {
	gorm.Model
	CaseID uint   `gorm:"not null;index" json:"case_id"`
	Name   string `gorm:"not null" json:"name"`
	Role   string `gorm:"not null" json:"role"` // plaintiff, defendant

	// Relations
	Members []TeamMember `gorm:"foreignKey:TeamID" json:"members,omitempty"`
}

// TeamMember places a student on a team. CaseID is denormalized so a student
// can only sit on one team per case.
type TeamMember struct {
	gorm.Model
	TeamID uint `gorm:"not null;index" json:"team_id"`
	CaseID uint `gorm:"not null;uniqueIndex:idx_team_member_case_user" json:"case_id"`
	UserID uint `gorm:"not null;uniqueIndex:idx_team_member_case_user" json:"user_id"`

	// Relations
	Team Team `json:"-"`
	User User `json:"user,omitempty"`
}

func ValidSide(role string) bool {
	return role == SidePlaintiff || role == SideDefendant
}
