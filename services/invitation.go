package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"lawsim/models"
	"lawsim/utils"
)

const InvitationTTL = 7 * 24 * time.Hour

// InvitationService issues course invitations and redeems them into enrollments
type InvitationService struct {
	db       *gorm.DB
	licenses *LicenseEnforcer
	mailer   utils.Mailer
	baseURL  string
	log      *logrus.Entry
}

func NewInvitationService(db *gorm.DB, licenses *LicenseEnforcer, mailer utils.Mailer, baseURL string) *InvitationService {
	return &InvitationService{
		db:       db,
		licenses: licenses,
		mailer:   mailer,
		baseURL:  strings.TrimRight(baseURL, "/"),
		log:      logrus.WithField("component", "invitations"),
	}
}

// Create stores a pending invitation and mails the accept link. The plain
// token is returned once and never stored.
func (s *InvitationService) Create(ctx context.Context, inviter *models.User, course *models.Course, email, role string, now time.Time) (*models.Invitation, string, error) {
	email = utils.NormalizeEmail(email)
	if err := utils.ValidateEmailFormat(email); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if role == "" {
		role = models.EnrollmentStudent
	}
	if role != models.EnrollmentStudent && role != models.EnrollmentAssistant {
		return nil, "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if err := s.licenses.RequireFeature(ctx, course.OrganizationID, models.FeatureInvitations, now); err != nil {
		return nil, "", err
	}

	var pending int64
	err := s.db.WithContext(ctx).Model(&models.Invitation{}).
		Where("course_id = ? AND email = ? AND accepted_at IS NULL AND expires_at > ?", course.ID, email, now).
		Count(&pending).Error
	if err != nil {
		return nil, "", err
	}
	if pending > 0 {
		return nil, "", fmt.Errorf("%w: %s already has a pending invitation", ErrConflict, email)
	}

	token, err := utils.GenerateSecureToken(32)
	if err != nil {
		return nil, "", err
	}
	inv := models.Invitation{
		CourseID:    course.ID,
		Email:       email,
		Role:        role,
		TokenHash:   utils.HashToken(token),
		InvitedByID: inviter.ID,
		ExpiresAt:   now.Add(InvitationTTL),
	}
	if err := s.db.WithContext(ctx).Create(&inv).Error; err != nil {
		return nil, "", err
	}

	if s.mailer != nil {
		mail := utils.InvitationEmail{
			To:          email,
			CourseTitle: course.Title,
			InviterName: inviter.Name,
			Role:        role,
			AcceptLink:  s.AcceptLink(token),
			ExpiresAt:   inv.ExpiresAt,
		}
		if err := s.mailer.SendInvitation(mail); err != nil {
			utils.LogError("invitation_mail_failed", err, map[string]interface{}{
				"invitation_id": inv.ID,
				"course_id":     course.ID,
			})
		}
	}

	s.log.WithFields(logrus.Fields{"course_id": course.ID, "invitation_id": inv.ID, "role": role}).Info("invitation created")
	return &inv, token, nil
}

func (s *InvitationService) AcceptLink(token string) string {
	return fmt.Sprintf("%s/invitations/accept?token=%s", s.baseURL, token)
}

// Accept redeems token for user, enrolling them in the invitation's course
func (s *InvitationService) Accept(ctx context.Context, user *models.User, token string, now time.Time) (*models.Enrollment, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: token is required", ErrInvalidInput)
	}

	var inv models.Invitation
	err := s.db.WithContext(ctx).Preload("Course").
		Where("token_hash = ?", utils.HashToken(token)).
		First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("invitation")
	}
	if err != nil {
		return nil, err
	}

	if !strings.EqualFold(inv.Email, user.Email) {
		return nil, fmt.Errorf("%w: invitation was issued to another email", ErrForbidden)
	}
	if inv.Accepted() {
		return nil, ErrInvitationUsed
	}
	if inv.Expired(now) {
		return nil, ErrInvitationExpired
	}
	if inv.Role == models.EnrollmentStudent {
		if err := s.licenses.EnsureSeat(ctx, inv.Course.OrganizationID, user.ID, now); err != nil {
			return nil, err
		}
	}

	var enrollment models.Enrollment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Invitation{}).
			Where("id = ? AND accepted_at IS NULL", inv.ID).
			Updates(map[string]interface{}{"accepted_at": now, "accepted_by_id": user.ID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvitationUsed
		}

		err := tx.Where("course_id = ? AND user_id = ?", inv.CourseID, user.ID).First(&enrollment).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		enrollment = models.Enrollment{CourseID: inv.CourseID, UserID: user.ID, Role: inv.Role}
		return tx.Create(&enrollment).Error
	})
	if err != nil {
		return nil, err
	}

	utils.LogEvent("invitation_accepted", map[string]interface{}{
		"invitation_id": inv.ID,
		"course_id":     inv.CourseID,
		"user_id":       user.ID,
	})
	return &enrollment, nil
}

func (s *InvitationService) List(ctx context.Context, courseID uint) ([]models.Invitation, error) {
	var invitations []models.Invitation
	err := s.db.WithContext(ctx).Where("course_id = ?", courseID).Order("created_at DESC").Find(&invitations).Error
	return invitations, err
}

// Get loads a live invitation with its course
func (s *InvitationService) Get(ctx context.Context, id uint) (*models.Invitation, error) {
	var inv models.Invitation
	if err := s.db.WithContext(ctx).Preload("Course").First(&inv, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("invitation")
		}
		return nil, err
	}
	return &inv, nil
}

// Revoke soft-deletes an invitation so its token no longer resolves
func (s *InvitationService) Revoke(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Invitation{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("invitation")
	}
	return nil
}
