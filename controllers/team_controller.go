package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"lawsim/models"
	"lawsim/services"
)

type CreateTeamRequest struct {
	Name string `json:"name" validate:"required,max=100"`
	Role string `json:"role" validate:"required"`
}

type AddMemberRequest struct {
	UserID uint `json:"user_id" validate:"required"`
}

type TeamController struct {
	DB     *gorm.DB
	Access *services.Access
	Cache  services.Invalidator
	log    *logrus.Entry
}

func NewTeamController(db *gorm.DB, access *services.Access, cache services.Invalidator) *TeamController {
	return &TeamController{
		DB:     db,
		Access: access,
		Cache:  cache,
		log:    logrus.WithField("component", "team_controller"),
	}
}

func (tc *TeamController) CreateTeam(c *fiber.Ctx) error {
	caseID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	kase, err := tc.Access.CaseForManager(c.UserContext(), currentUser(c), caseID)
	if err != nil {
		return writeError(c, err)
	}
	var req CreateTeamRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if !models.ValidSide(req.Role) {
		return badRequestErr("Team role must be plaintiff or defendant")
	}

	team := models.Team{CaseID: kase.ID, Name: req.Name, Role: req.Role}
	if err := tc.DB.Create(&team).Error; err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(team)
}

func (tc *TeamController) ListTeams(c *fiber.Ctx) error {
	caseID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	kase, err := tc.Access.CaseForViewer(c.UserContext(), currentUser(c), caseID)
	if err != nil {
		return writeError(c, err)
	}
	var teams []models.Team
	if err := tc.DB.Preload("Members.User").Where("case_id = ?", kase.ID).Order("id").Find(&teams).Error; err != nil {
		return writeError(c, err)
	}
	return c.JSON(teams)
}

// loadTeam resolves a team and checks the caller manages its course
func (tc *TeamController) loadTeam(c *fiber.Ctx) (*models.Team, *models.Case, error) {
	id, err := paramID(c, "id")
	if err != nil {
		return nil, nil, err
	}
	var team models.Team
	if err := tc.DB.First(&team, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, services.ErrNotFound
		}
		return nil, nil, err
	}
	kase, err := tc.Access.CaseForManager(c.UserContext(), currentUser(c), team.CaseID)
	if err != nil {
		return nil, nil, err
	}
	return &team, kase, nil
}

func (tc *TeamController) DeleteTeam(c *fiber.Ctx) error {
	team, _, err := tc.loadTeam(c)
	if err != nil {
		return handlerError(c, err)
	}
	err = tc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("team_id = ?", team.ID).Delete(&models.TeamMember{}).Error; err != nil {
			return err
		}
		return tx.Delete(team).Error
	})
	if err != nil {
		return writeError(c, err)
	}
	invalidate(c, tc.Cache, tc.log, services.InvalidationEvent{Type: services.InvalidateTeamChanged, TeamID: team.ID})
	return c.SendStatus(fiber.StatusNoContent)
}

func (tc *TeamController) AddMember(c *fiber.Ctx) error {
	team, kase, err := tc.loadTeam(c)
	if err != nil {
		return handlerError(c, err)
	}
	var req AddMemberRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	enrolled, err := tc.Access.IsEnrolled(c.UserContext(), kase.CourseID, req.UserID)
	if err != nil {
		return writeError(c, err)
	}
	if !enrolled {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "User is not enrolled in this course",
		})
	}

	var existing int64
	if err := tc.DB.Model(&models.TeamMember{}).
		Where("case_id = ? AND user_id = ?", kase.ID, req.UserID).
		Count(&existing).Error; err != nil {
		return writeError(c, err)
	}
	if existing > 0 {
		return alreadyOnTeam(c)
	}

	member := models.TeamMember{TeamID: team.ID, CaseID: kase.ID, UserID: req.UserID}
	if err := tc.DB.Create(&member).Error; err != nil {
		// a concurrent add won the unique index
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return alreadyOnTeam(c)
		}
		return writeError(c, err)
	}
	invalidate(c, tc.Cache, tc.log, services.InvalidationEvent{Type: services.InvalidateTeamChanged, TeamID: team.ID})
	return c.Status(fiber.StatusCreated).JSON(member)
}

func (tc *TeamController) RemoveMember(c *fiber.Ctx) error {
	team, _, err := tc.loadTeam(c)
	if err != nil {
		return handlerError(c, err)
	}
	userID, err := paramID(c, "userId")
	if err != nil {
		return err
	}
	res := tc.DB.Unscoped().Where("team_id = ? AND user_id = ?", team.ID, userID).Delete(&models.TeamMember{})
	if res.Error != nil {
		return writeError(c, res.Error)
	}
	if res.RowsAffected == 0 {
		return writeError(c, services.ErrNotFound)
	}
	invalidate(c, tc.Cache, tc.log, services.InvalidationEvent{Type: services.InvalidateTeamChanged, TeamID: team.ID})
	return c.SendStatus(fiber.StatusNoContent)
}

func alreadyOnTeam(c *fiber.Ctx) error {
	return c.Status(fiber.StatusConflict).JSON(fiber.Map{
		"error": "User is already on a team in this case",
	})
}
