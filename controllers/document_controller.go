package controller

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"lawsim/models"
	"lawsim/services"
)

type CreateDocumentRequest struct {
	Title      string     `json:"title" validate:"required,max=200"`
	Kind       string     `json:"kind" validate:"required"`
	Content    string     `json:"content"`
	Visibility string     `json:"visibility"`
	TeamID     *uint      `json:"team_id"`
	ReleaseAt  *time.Time `json:"release_at"`
}

type UpdateDocumentRequest struct {
	Title      *string    `json:"title" validate:"omitempty,max=200"`
	Content    *string    `json:"content"`
	Visibility *string    `json:"visibility"`
	ReleaseAt  *time.Time `json:"release_at"`
}

type DocumentController struct {
	DB       *gorm.DB
	Access   *services.Access
	Licenses *services.LicenseEnforcer
	Releases *services.EvidenceReleaseService
	Cache    services.Invalidator
	Notifier services.Notifier
	log      *logrus.Entry
}

func NewDocumentController(db *gorm.DB, access *services.Access, licenses *services.LicenseEnforcer, releases *services.EvidenceReleaseService, cache services.Invalidator, notifier services.Notifier) *DocumentController {
	return &DocumentController{
		DB:       db,
		Access:   access,
		Licenses: licenses,
		Releases: releases,
		Cache:    cache,
		Notifier: notifier,
		log:      logrus.WithField("component", "document_controller"),
	}
}

// CreateDocument uploads case material. Students may only submit for their
// own team. Evidence dated in the future is held back for the release job.
func (dc *DocumentController) CreateDocument(c *fiber.Ctx) error {
	caseID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	user := currentUser(c)
	kase, err := dc.Access.CaseForViewer(c.UserContext(), user, caseID)
	if err != nil {
		return writeError(c, err)
	}
	var req CreateDocumentRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if !models.ValidDocumentKind(req.Kind) {
		return badRequestErr("Invalid document kind")
	}
	if !kase.Editable() {
		return writeError(c, services.ErrUnprocessable)
	}

	now := time.Now().UTC()
	doc := models.Document{
		CaseID:       kase.ID,
		UploadedByID: user.ID,
		Title:        req.Title,
		Kind:         req.Kind,
		Visibility:   models.VisibleAll,
	}
	doc.SetContent(req.Content)

	manager := dc.Access.CanManageCourse(user, &kase.Course)
	if manager {
		if req.Visibility != "" {
			if !models.ValidVisibility(req.Visibility) {
				return badRequestErr("Invalid visibility")
			}
			doc.Visibility = req.Visibility
		}
		if req.TeamID != nil {
			if err := dc.checkTeam(*req.TeamID, kase.ID); err != nil {
				return writeError(c, err)
			}
			doc.TeamID = req.TeamID
		}
		if doc.Visibility == models.VisibleTeam && doc.TeamID == nil {
			return badRequestErr("team_id is required for team visibility")
		}
		if req.Kind == models.DocEvidence && req.ReleaseAt != nil {
			releaseAt := req.ReleaseAt.UTC()
			doc.ReleaseAt = &releaseAt
			if releaseAt.After(now) {
				if err := dc.requireScheduling(c, user, kase); err != nil {
					return writeError(c, err)
				}
			}
		}
	} else {
		if req.Kind != models.DocSubmission {
			return writeError(c, services.ErrForbidden)
		}
		if kase.Status != models.CaseActive {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "Submissions are only accepted while the case is active",
			})
		}
		team, err := dc.Access.TeamForUser(c.UserContext(), kase.ID, user.ID)
		if err != nil {
			return writeError(c, err)
		}
		if team == nil {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "You are not on a team in this case",
			})
		}
		doc.TeamID = &team.ID
		doc.Visibility = models.VisibleTeam
	}

	if doc.ReleaseAt == nil || !doc.ReleaseAt.After(now) {
		doc.Released = true
		doc.ReleasedAt = &now
	}

	err = dc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&doc).Error; err != nil {
			return err
		}
		if doc.Kind != models.DocSubmission || manager {
			return nil
		}
		meta, _ := json.Marshal(map[string]interface{}{"team_id": *doc.TeamID})
		return tx.Create(&models.CaseEvent{
			CaseID:     kase.ID,
			Type:       models.EventDocumentSubmitted,
			Title:      doc.Title,
			OccurredAt: now,
			ActorID:    &user.ID,
			DocumentID: &doc.ID,
			Metadata:   datatypes.JSON(meta),
		}).Error
	})
	if err != nil {
		return writeError(c, err)
	}

	if doc.Kind == models.DocSubmission && !manager {
		publish(c, dc.Notifier, dc.log, kase.ID, services.FeedDocumentSubmitted, fiber.Map{
			"document_id":  doc.ID,
			"team_id":      *doc.TeamID,
			"title":        doc.Title,
			"submitted_at": now,
		})
	}
	return c.Status(fiber.StatusCreated).JSON(doc)
}

func (dc *DocumentController) ListDocuments(c *fiber.Ctx) error {
	caseID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	user := currentUser(c)
	kase, err := dc.Access.CaseForViewer(c.UserContext(), user, caseID)
	if err != nil {
		return writeError(c, err)
	}

	q := dc.DB.Where("case_id = ?", kase.ID)
	if kind := c.Query("kind"); kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var docs []models.Document
	if err := q.Order("created_at, id").Find(&docs).Error; err != nil {
		return writeError(c, err)
	}
	if dc.Access.CanManageCourse(user, &kase.Course) {
		return c.JSON(docs)
	}

	team, err := dc.Access.TeamForUser(c.UserContext(), kase.ID, user.ID)
	if err != nil {
		return writeError(c, err)
	}
	visible := make([]models.Document, 0, len(docs))
	for i := range docs {
		if services.DocumentVisibleToStudent(&docs[i], team) {
			visible = append(visible, docs[i])
		}
	}
	return c.JSON(visible)
}

func (dc *DocumentController) GetDocument(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	doc, _, err := dc.Access.DocumentForViewer(c.UserContext(), currentUser(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(doc)
}

func (dc *DocumentController) UpdateDocument(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	user := currentUser(c)
	doc, kase, err := dc.Access.DocumentForViewer(c.UserContext(), user, id)
	if err != nil {
		return writeError(c, err)
	}
	manager := dc.Access.CanManageCourse(user, &kase.Course)
	if !manager && !dc.ownsSubmission(c, user, doc) {
		return writeError(c, services.ErrForbidden)
	}
	if !kase.Editable() {
		return writeError(c, services.ErrUnprocessable)
	}
	var req UpdateDocumentRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	contentChanged := false
	if req.Content != nil && models.HashContent(*req.Content) != doc.ContentHash {
		doc.SetContent(*req.Content)
		updates["content"] = doc.Content
		updates["content_hash"] = doc.ContentHash
		contentChanged = true
	}
	if req.Visibility != nil {
		if !manager || !models.ValidVisibility(*req.Visibility) {
			return badRequestErr("Invalid visibility")
		}
		updates["visibility"] = *req.Visibility
	}
	if req.ReleaseAt != nil {
		if !manager || doc.Kind != models.DocEvidence || doc.Released {
			return writeError(c, services.ErrUnprocessable)
		}
		releaseAt := req.ReleaseAt.UTC()
		if releaseAt.After(time.Now().UTC()) {
			if err := dc.requireScheduling(c, user, kase); err != nil {
				return writeError(c, err)
			}
		}
		updates["release_at"] = releaseAt
	}

	if len(updates) > 0 {
		if err := dc.DB.Model(&models.Document{}).Where("id = ?", doc.ID).Updates(updates).Error; err != nil {
			return writeError(c, err)
		}
	}
	if contentChanged || req.Visibility != nil {
		invalidate(c, dc.Cache, dc.log, services.InvalidationEvent{
			Type:       services.InvalidateDocumentUpdated,
			CaseID:     doc.CaseID,
			DocumentID: doc.ID,
		})
	}

	var fresh models.Document
	if err := dc.DB.First(&fresh, doc.ID).Error; err != nil {
		return writeError(c, err)
	}
	return c.JSON(fresh)
}

func (dc *DocumentController) DeleteDocument(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	user := currentUser(c)
	doc, kase, err := dc.Access.DocumentForViewer(c.UserContext(), user, id)
	if err != nil {
		return writeError(c, err)
	}
	if !dc.Access.CanManageCourse(user, &kase.Course) && !dc.ownsSubmission(c, user, doc) {
		return writeError(c, services.ErrForbidden)
	}
	if err := dc.DB.Delete(&models.Document{}, doc.ID).Error; err != nil {
		return writeError(c, err)
	}
	invalidate(c, dc.Cache, dc.log, services.InvalidationEvent{
		Type:       services.InvalidateDocumentDeleted,
		CaseID:     doc.CaseID,
		DocumentID: doc.ID,
	})
	return c.SendStatus(fiber.StatusNoContent)
}

// ReleaseDocument releases held-back evidence now, through the same path as
// the scheduled release job
func (dc *DocumentController) ReleaseDocument(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	user := currentUser(c)
	var doc models.Document
	if err := dc.DB.First(&doc, id).Error; err != nil {
		return writeError(c, err)
	}
	if _, err := dc.Access.CaseForManager(c.UserContext(), user, doc.CaseID); err != nil {
		return writeError(c, err)
	}

	released, err := dc.Releases.Release(c.UserContext(), doc.ID, &user.ID, time.Now().UTC())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(released)
}

func (dc *DocumentController) checkTeam(teamID, caseID uint) error {
	var team models.Team
	err := dc.DB.Where("id = ? AND case_id = ?", teamID, caseID).First(&team).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return services.ErrInvalidInput
	}
	return err
}

// requireScheduling gates future evidence release on the organization license
func (dc *DocumentController) requireScheduling(c *fiber.Ctx, user *models.User, kase *models.Case) error {
	if user.IsAdmin() {
		return nil
	}
	return dc.Licenses.RequireFeature(c.UserContext(), kase.Course.OrganizationID, models.FeatureEvidenceScheduling, time.Now().UTC())
}

// ownsSubmission is true for a submission belonging to the student's team
func (dc *DocumentController) ownsSubmission(c *fiber.Ctx, user *models.User, doc *models.Document) bool {
	if doc.Kind != models.DocSubmission || doc.TeamID == nil {
		return false
	}
	team, err := dc.Access.TeamForUser(c.UserContext(), doc.CaseID, user.ID)
	if err != nil || team == nil {
		return false
	}
	return team.ID == *doc.TeamID
}
