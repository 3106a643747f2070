package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"lawsim/models"
	"lawsim/services"
)

type CreateCaseRequest struct {
	Title          string     `json:"title" validate:"required,max=200"`
	Summary        string     `json:"summary"`
	PlaintiffBrief string     `json:"plaintiff_brief"`
	DefendantBrief string     `json:"defendant_brief"`
	StartsAt       *time.Time `json:"starts_at"`
	EndsAt         *time.Time `json:"ends_at"`
}

type UpdateCaseRequest struct {
	Title          *string    `json:"title" validate:"omitempty,max=200"`
	Summary        *string    `json:"summary"`
	PlaintiffBrief *string    `json:"plaintiff_brief"`
	DefendantBrief *string    `json:"defendant_brief"`
	StartsAt       *time.Time `json:"starts_at"`
	EndsAt         *time.Time `json:"ends_at"`
}

type UpdateCaseStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=draft active completed archived"`
}

type CreateCaseEventRequest struct {
	Type       string         `json:"type" validate:"required"`
	Title      string         `json:"title" validate:"required,max=200"`
	OccurredAt *time.Time     `json:"occurred_at"`
	Metadata   datatypes.JSON `json:"metadata"`
}

type CaseController struct {
	DB       *gorm.DB
	Access   *services.Access
	Cache    services.Invalidator
	Notifier services.Notifier
	log      *logrus.Entry
}

func NewCaseController(db *gorm.DB, access *services.Access, cache services.Invalidator, notifier services.Notifier) *CaseController {
	return &CaseController{
		DB:       db,
		Access:   access,
		Cache:    cache,
		Notifier: notifier,
		log:      logrus.WithField("component", "case_controller"),
	}
}

func (cc *CaseController) CreateCase(c *fiber.Ctx) error {
	courseID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	course, err := cc.Access.CourseForManager(c.UserContext(), currentUser(c), courseID)
	if err != nil {
		return writeError(c, err)
	}
	var req CreateCaseRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.StartsAt != nil && req.EndsAt != nil && req.EndsAt.Before(*req.StartsAt) {
		return badRequestErr("ends_at must not be before starts_at")
	}

	kase := models.Case{
		CourseID:       course.ID,
		Title:          req.Title,
		Summary:        req.Summary,
		PlaintiffBrief: req.PlaintiffBrief,
		DefendantBrief: req.DefendantBrief,
		Status:         models.CaseDraft,
		StartsAt:       req.StartsAt,
		EndsAt:         req.EndsAt,
	}
	if err := cc.DB.Create(&kase).Error; err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(kase)
}

// ListCases hides drafts from anyone who cannot manage the course
func (cc *CaseController) ListCases(c *fiber.Ctx) error {
	courseID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	user := currentUser(c)
	course, err := cc.Access.CourseForViewer(c.UserContext(), user, courseID)
	if err != nil {
		return writeError(c, err)
	}

	q := cc.DB.Where("course_id = ?", course.ID)
	if !cc.Access.CanManageCourse(user, course) {
		q = q.Where("status <> ?", models.CaseDraft)
	}
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	var cases []models.Case
	if err := q.Order("created_at DESC").Find(&cases).Error; err != nil {
		return writeError(c, err)
	}
	return c.JSON(cases)
}

func (cc *CaseController) GetCase(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	kase, err := cc.Access.CaseForViewer(c.UserContext(), currentUser(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(kase)
}

func (cc *CaseController) UpdateCase(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	kase, err := cc.Access.CaseForManager(c.UserContext(), currentUser(c), id)
	if err != nil {
		return writeError(c, err)
	}
	if !kase.Editable() {
		return writeError(c, services.ErrUnprocessable)
	}
	var req UpdateCaseRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.Summary != nil {
		updates["summary"] = *req.Summary
	}
	if req.PlaintiffBrief != nil {
		updates["plaintiff_brief"] = *req.PlaintiffBrief
	}
	if req.DefendantBrief != nil {
		updates["defendant_brief"] = *req.DefendantBrief
	}
	if req.StartsAt != nil {
		updates["starts_at"] = *req.StartsAt
	}
	if req.EndsAt != nil {
		updates["ends_at"] = *req.EndsAt
	}
	if len(updates) > 0 {
		if err := cc.DB.Model(&models.Case{}).Where("id = ?", kase.ID).Updates(updates).Error; err != nil {
			return writeError(c, err)
		}
		invalidate(c, cc.Cache, cc.log, services.InvalidationEvent{Type: services.InvalidateCaseUpdated, CaseID: kase.ID})
	}

	var fresh models.Case
	if err := cc.DB.First(&fresh, kase.ID).Error; err != nil {
		return writeError(c, err)
	}
	return c.JSON(fresh)
}

func (cc *CaseController) DeleteCase(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	kase, err := cc.Access.CaseForManager(c.UserContext(), currentUser(c), id)
	if err != nil {
		return writeError(c, err)
	}
	if err := cc.DB.Delete(&models.Case{}, kase.ID).Error; err != nil {
		return writeError(c, err)
	}
	invalidate(c, cc.Cache, cc.log, services.InvalidationEvent{Type: services.InvalidateCaseUpdated, CaseID: kase.ID})
	return c.SendStatus(fiber.StatusNoContent)
}

// UpdateStatus moves a case along draft, active, completed, archived.
// The status change is conditional on the status that was read.
func (cc *CaseController) UpdateStatus(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	user := currentUser(c)
	kase, err := cc.Access.CaseForManager(c.UserContext(), user, id)
	if err != nil {
		return writeError(c, err)
	}
	var req UpdateCaseStatusRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if !kase.CanTransition(req.Status) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Cannot move case from " + kase.Status + " to " + req.Status,
		})
	}

	now := time.Now().UTC()
	from := kase.Status
	err = cc.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Case{}).
			Where("id = ? AND status = ?", kase.ID, from).
			Update("status", req.Status)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return services.ErrConflict
		}

		var eventType string
		switch req.Status {
		case models.CaseActive:
			eventType = models.EventCaseActivated
		case models.CaseCompleted:
			eventType = models.EventCaseCompleted
		default:
			return nil
		}
		return tx.Create(&models.CaseEvent{
			CaseID:     kase.ID,
			Type:       eventType,
			Title:      kase.Title,
			OccurredAt: now,
			ActorID:    &user.ID,
		}).Error
	})
	if err != nil {
		return writeError(c, err)
	}
	kase.Status = req.Status

	invalidate(c, cc.Cache, cc.log, services.InvalidationEvent{Type: services.InvalidateCaseUpdated, CaseID: kase.ID})
	publish(c, cc.Notifier, cc.log, kase.ID, services.FeedCaseStatus, fiber.Map{
		"from":       from,
		"to":         req.Status,
		"changed_at": now,
	})
	return c.JSON(kase)
}

func (cc *CaseController) ListEvents(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	kase, err := cc.Access.CaseForViewer(c.UserContext(), currentUser(c), id)
	if err != nil {
		return writeError(c, err)
	}
	var events []models.CaseEvent
	if err := cc.DB.Where("case_id = ?", kase.ID).Order("occurred_at, id").Find(&events).Error; err != nil {
		return writeError(c, err)
	}
	return c.JSON(events)
}

func (cc *CaseController) CreateEvent(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	user := currentUser(c)
	kase, err := cc.Access.CaseForManager(c.UserContext(), user, id)
	if err != nil {
		return writeError(c, err)
	}
	var req CreateCaseEventRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if !models.ManualEventType(req.Type) {
		return badRequestErr("Event type must be deadline, hearing or note")
	}

	event := models.CaseEvent{
		CaseID:     kase.ID,
		Type:       req.Type,
		Title:      req.Title,
		OccurredAt: time.Now().UTC(),
		ActorID:    &user.ID,
		Metadata:   req.Metadata,
	}
	if req.OccurredAt != nil {
		event.OccurredAt = req.OccurredAt.UTC()
	}
	if err := cc.DB.Create(&event).Error; err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(event)
}
