// Package seed loads demo organizations, courses and cases from YAML.
package seed

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"lawsim/models"
)

type File struct {
	Organizations []Organization `yaml:"organizations"`
}

type Organization struct {
	Name    string   `yaml:"name"`
	Slug    string   `yaml:"slug"`
	License *License `yaml:"license"`
	Users   []User   `yaml:"users"`
	Courses []Course `yaml:"courses"`
}

type License struct {
	Tier     string   `yaml:"tier"`
	Seats    int      `yaml:"seats"`
	Features []string `yaml:"features"`
}

type User struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Role     string `yaml:"role"`
	Password string `yaml:"password"`
}

type Course struct {
	Title      string   `yaml:"title"`
	Code       string   `yaml:"code"`
	Term       string   `yaml:"term"`
	Instructor string   `yaml:"instructor"`
	Students   []string `yaml:"students"`
	Cases      []Case   `yaml:"cases"`
}

type Case struct {
	Title     string     `yaml:"title"`
	Summary   string     `yaml:"summary"`
	Status    string     `yaml:"status"`
	Teams     []Team     `yaml:"teams"`
	Documents []Document `yaml:"documents"`
}

type Team struct {
	Name    string   `yaml:"name"`
	Role    string   `yaml:"role"`
	Members []string `yaml:"members"`
}

type Document struct {
	Title      string     `yaml:"title"`
	Kind       string     `yaml:"kind"`
	Content    string     `yaml:"content"`
	Visibility string     `yaml:"visibility"`
	ReleaseAt  *time.Time `yaml:"release_at"`
}

// Summary counts the rows created by Load
type Summary struct {
	Organizations int `json:"organizations"`
	Users         int `json:"users"`
	Courses       int `json:"courses"`
	Cases         int `json:"cases"`
	Documents     int `json:"documents"`
}

// Parse decodes a fixture file, rejecting unknown keys
func Parse(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	return &f, nil
}

// Load writes the fixtures in one transaction. Rows that already exist,
// matched by slug, email or title, are reused so Load can be re-run.
func Load(db *gorm.DB, f *File, now time.Time) (*Summary, error) {
	sum := &Summary{}
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, o := range f.Organizations {
			if err := loadOrganization(tx, o, now, sum); err != nil {
				return fmt.Errorf("organization %q: %w", o.Slug, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sum, nil
}

func loadOrganization(tx *gorm.DB, o Organization, now time.Time, sum *Summary) error {
	slug := strings.ToLower(strings.TrimSpace(o.Slug))
	if slug == "" {
		return fmt.Errorf("slug is required")
	}
	org := models.Organization{Name: o.Name, Slug: slug}
	created, err := firstOrCreate(tx, &org, "slug = ?", slug)
	if err != nil {
		return err
	}
	if created {
		sum.Organizations++
	}

	if o.License != nil {
		if !models.ValidTier(o.License.Tier) {
			return fmt.Errorf("unknown license tier %q", o.License.Tier)
		}
		var active int64
		if err := tx.Model(&models.License{}).
			Where("organization_id = ? AND status = ?", org.ID, models.LicenseActive).
			Count(&active).Error; err != nil {
			return err
		}
		if active == 0 {
			license := models.License{
				OrganizationID: org.ID,
				Tier:           o.License.Tier,
				Seats:          o.License.Seats,
				Status:         models.LicenseActive,
				StartsAt:       now,
			}
			license.SetExtraFeatures(o.License.Features)
			if err := tx.Create(&license).Error; err != nil {
				return err
			}
		}
	}

	users := map[string]*models.User{}
	for _, u := range o.Users {
		user, err := loadUser(tx, u, org.ID, sum)
		if err != nil {
			return fmt.Errorf("user %q: %w", u.Email, err)
		}
		users[user.Email] = user
	}
	lookup := func(email string) (*models.User, error) {
		if u, ok := users[strings.ToLower(strings.TrimSpace(email))]; ok {
			return u, nil
		}
		return nil, fmt.Errorf("user %q is not declared in the organization", email)
	}

	for _, c := range o.Courses {
		if err := loadCourse(tx, c, org.ID, lookup, now, sum); err != nil {
			return fmt.Errorf("course %q: %w", c.Title, err)
		}
	}
	return nil
}

func loadUser(tx *gorm.DB, u User, orgID uint, sum *Summary) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(u.Email))
	role := u.Role
	if role == "" {
		role = models.RoleStudent
	}
	if !models.ValidRole(role) {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	user := models.User{Email: email, Name: u.Name, Role: role, IsActive: true, TokenVersion: 1, OrganizationID: &orgID}
	if u.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = string(hash)
	}
	created, err := firstOrCreate(tx, &user, "email = ?", email)
	if err != nil {
		return nil, err
	}
	if created {
		sum.Users++
	}
	return &user, nil
}

func loadCourse(tx *gorm.DB, c Course, orgID uint, lookup func(string) (*models.User, error), now time.Time, sum *Summary) error {
	instructor, err := lookup(c.Instructor)
	if err != nil {
		return err
	}
	course := models.Course{
		OrganizationID: orgID,
		InstructorID:   instructor.ID,
		Title:          c.Title,
		Code:           c.Code,
		Term:           c.Term,
		IsActive:       true,
	}
	created, err := firstOrCreate(tx, &course, "organization_id = ? AND title = ?", orgID, c.Title)
	if err != nil {
		return err
	}
	if created {
		sum.Courses++
	}

	for _, email := range c.Students {
		student, err := lookup(email)
		if err != nil {
			return err
		}
		enrollment := models.Enrollment{CourseID: course.ID, UserID: student.ID, Role: models.EnrollmentStudent}
		if _, err := firstOrCreate(tx, &enrollment, "course_id = ? AND user_id = ?", course.ID, student.ID); err != nil {
			return err
		}
	}

	for _, k := range c.Cases {
		if err := loadCase(tx, k, course.ID, instructor.ID, lookup, now, sum); err != nil {
			return fmt.Errorf("case %q: %w", k.Title, err)
		}
	}
	return nil
}

func loadCase(tx *gorm.DB, k Case, courseID, uploaderID uint, lookup func(string) (*models.User, error), now time.Time, sum *Summary) error {
	status := k.Status
	if status == "" {
		status = models.CaseDraft
	}
	switch status {
	case models.CaseDraft, models.CaseActive, models.CaseCompleted, models.CaseArchived:
	default:
		return fmt.Errorf("unknown status %q", status)
	}
	kase := models.Case{CourseID: courseID, Title: k.Title, Summary: k.Summary, Status: status}
	created, err := firstOrCreate(tx, &kase, "course_id = ? AND title = ?", courseID, k.Title)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	sum.Cases++

	for _, t := range k.Teams {
		if !models.ValidSide(t.Role) {
			return fmt.Errorf("team %q: role must be plaintiff or defendant", t.Name)
		}
		team := models.Team{CaseID: kase.ID, Name: t.Name, Role: t.Role}
		if err := tx.Create(&team).Error; err != nil {
			return err
		}
		for _, email := range t.Members {
			member, err := lookup(email)
			if err != nil {
				return err
			}
			if err := tx.Create(&models.TeamMember{TeamID: team.ID, CaseID: kase.ID, UserID: member.ID}).Error; err != nil {
				return err
			}
		}
	}

	for _, d := range k.Documents {
		if !models.ValidDocumentKind(d.Kind) {
			return fmt.Errorf("document %q: unknown kind %q", d.Title, d.Kind)
		}
		doc := models.Document{
			CaseID:       kase.ID,
			UploadedByID: uploaderID,
			Title:        d.Title,
			Kind:         d.Kind,
			Visibility:   models.VisibleAll,
		}
		if d.Visibility != "" {
			if !models.ValidVisibility(d.Visibility) || d.Visibility == models.VisibleTeam {
				return fmt.Errorf("document %q: invalid visibility %q", d.Title, d.Visibility)
			}
			doc.Visibility = d.Visibility
		}
		doc.SetContent(d.Content)
		if d.Kind == models.DocEvidence && d.ReleaseAt != nil && d.ReleaseAt.After(now) {
			releaseAt := d.ReleaseAt.UTC()
			doc.ReleaseAt = &releaseAt
		} else {
			doc.Released = true
			doc.ReleasedAt = &now
		}
		if err := tx.Create(&doc).Error; err != nil {
			return err
		}
		sum.Documents++
	}
	return nil
}

// firstOrCreate loads the row matching query into dest, creating dest when
// there is none. It reports whether a row was created.
func firstOrCreate(tx *gorm.DB, dest interface{}, query string, args ...interface{}) (bool, error) {
	res := tx.Where(query, args...).Limit(1).Find(dest)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return false, nil
	}
	return true, tx.Create(dest).Error
}
