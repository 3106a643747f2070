package controller

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"lawsim/models"
	"lawsim/services"
)

type GradeDocumentRequest struct {
	Rubric string `json:"rubric" validate:"max=4000"`
	Force  bool   `json:"force"`
}

type GradingController struct {
	DB      *gorm.DB
	Access  *services.Access
	Grading *services.GradingService
}

func NewGradingController(db *gorm.DB, access *services.Access, grading *services.GradingService) *GradingController {
	return &GradingController{DB: db, Access: access, Grading: grading}
}

// GradeDocument grades a team submission. Only course managers may grade.
func (gc *GradingController) GradeDocument(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var doc models.Document
	if err := gc.DB.First(&doc, id).Error; err != nil {
		return writeError(c, err)
	}
	if _, err := gc.Access.CaseForManager(c.UserContext(), currentUser(c), doc.CaseID); err != nil {
		return writeError(c, err)
	}
	var req GradeDocumentRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}

	res, err := gc.Grading.Grade(c.UserContext(), services.GradeRequest{
		DocumentID: doc.ID,
		Rubric:     req.Rubric,
		Force:      req.Force,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}
