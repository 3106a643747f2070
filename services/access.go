package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"lawsim/models"
)

// Access answers the role-based questions every controller asks: may this
// user see or manage this course, case or document.
type Access struct {
	db *gorm.DB
}

func NewAccess(db *gorm.DB) *Access {
	return &Access{db: db}
}

func (a *Access) CanManageCourse(user *models.User, course *models.Course) bool {
	return user.IsAdmin() || course.InstructorID == user.ID
}

func (a *Access) IsEnrolled(ctx context.Context, courseID, userID uint) (bool, error) {
	var count int64
	err := a.db.WithContext(ctx).Model(&models.Enrollment{}).
		Where("course_id = ? AND user_id = ?", courseID, userID).
		Count(&count).Error
	return count > 0, err
}

func (a *Access) loadCourse(ctx context.Context, id uint) (*models.Course, error) {
	var course models.Course
	if err := a.db.WithContext(ctx).First(&course, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("course")
		}
		return nil, err
	}
	return &course, nil
}

// CourseForViewer loads a course the user may read
func (a *Access) CourseForViewer(ctx context.Context, user *models.User, courseID uint) (*models.Course, error) {
	course, err := a.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if a.CanManageCourse(user, course) {
		return course, nil
	}
	enrolled, err := a.IsEnrolled(ctx, course.ID, user.ID)
	if err != nil {
		return nil, err
	}
	if !enrolled {
		return nil, ErrForbidden
	}
	return course, nil
}

// CourseForManager loads a course the user may modify
func (a *Access) CourseForManager(ctx context.Context, user *models.User, courseID uint) (*models.Course, error) {
	course, err := a.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !a.CanManageCourse(user, course) {
		return nil, ErrForbidden
	}
	return course, nil
}

func (a *Access) loadCase(ctx context.Context, id uint) (*models.Case, error) {
	var c models.Case
	if err := a.db.WithContext(ctx).Preload("Course").First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("case")
		}
		return nil, err
	}
	return &c, nil
}

// CaseForViewer loads a case visible to the user. Students only see cases of
// courses they are enrolled in, and never drafts.
func (a *Access) CaseForViewer(ctx context.Context, user *models.User, caseID uint) (*models.Case, error) {
	c, err := a.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if a.CanManageCourse(user, &c.Course) {
		return c, nil
	}
	enrolled, err := a.IsEnrolled(ctx, c.CourseID, user.ID)
	if err != nil {
		return nil, err
	}
	if !enrolled {
		return nil, ErrForbidden
	}
	if c.Status == models.CaseDraft {
		return nil, notFound("case")
	}
	return c, nil
}

func (a *Access) CaseForManager(ctx context.Context, user *models.User, caseID uint) (*models.Case, error) {
	c, err := a.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !a.CanManageCourse(user, &c.Course) {
		return nil, ErrForbidden
	}
	return c, nil
}

// TeamForUser returns the user's team in a case, or nil when they have none
func (a *Access) TeamForUser(ctx context.Context, caseID, userID uint) (*models.Team, error) {
	var member models.TeamMember
	err := a.db.WithContext(ctx).Preload("Team").
		Where("case_id = ? AND user_id = ?", caseID, userID).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &member.Team, nil
}

// DocumentVisibleToStudent applies the release and visibility rules for a
// student whose team in the case is team (nil when unassigned)
func DocumentVisibleToStudent(doc *models.Document, team *models.Team) bool {
	if !doc.Released {
		return false
	}
	if team != nil && doc.TeamID != nil && *doc.TeamID == team.ID {
		return true
	}
	switch doc.Visibility {
	case models.VisibleAll:
		return true
	case models.VisiblePlaintiff, models.VisibleDefendant:
		return team != nil && team.Role == doc.Visibility
	}
	return false
}

// DocumentForViewer loads a document and its case, hiding what the user may
// not see behind ErrNotFound
func (a *Access) DocumentForViewer(ctx context.Context, user *models.User, docID uint) (*models.Document, *models.Case, error) {
	var doc models.Document
	if err := a.db.WithContext(ctx).First(&doc, docID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, notFound("document")
		}
		return nil, nil, err
	}
	c, err := a.CaseForViewer(ctx, user, doc.CaseID)
	if err != nil {
		return nil, nil, err
	}
	if a.CanManageCourse(user, &c.Course) {
		return &doc, c, nil
	}
	team, err := a.TeamForUser(ctx, c.ID, user.ID)
	if err != nil {
		return nil, nil, err
	}
	if !DocumentVisibleToStudent(&doc, team) {
		return nil, nil, notFound("document")
	}
	return &doc, c, nil
}
