package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"lawsim/models"
	"lawsim/services"
)

type CreateInvitationRequest struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"omitempty,oneof=student assistant"`
}

type AcceptInvitationRequest struct {
	Token string `json:"token" validate:"required"`
}

type InvitationController struct {
	Access      *services.Access
	Invitations *services.InvitationService
}

func NewInvitationController(access *services.Access, invitations *services.InvitationService) *InvitationController {
	return &InvitationController{Access: access, Invitations: invitations}
}

// CreateInvitation mails an accept link. The raw token is returned once so
// instructors can share it by other means.
func (ic *InvitationController) CreateInvitation(c *fiber.Ctx) error {
	courseID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	user := currentUser(c)
	course, err := ic.Access.CourseForManager(c.UserContext(), user, courseID)
	if err != nil {
		return writeError(c, err)
	}
	var req CreateInvitationRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Role == "" {
		req.Role = models.EnrollmentStudent
	}

	inv, token, err := ic.Invitations.Create(c.UserContext(), user, course, req.Email, req.Role, time.Now().UTC())
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"invitation":  inv,
		"token":       token,
		"accept_link": ic.Invitations.AcceptLink(token),
	})
}

func (ic *InvitationController) ListInvitations(c *fiber.Ctx) error {
	courseID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	course, err := ic.Access.CourseForManager(c.UserContext(), currentUser(c), courseID)
	if err != nil {
		return writeError(c, err)
	}
	invitations, err := ic.Invitations.List(c.UserContext(), course.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(invitations)
}

func (ic *InvitationController) RevokeInvitation(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	inv, err := ic.Invitations.Get(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	if !ic.Access.CanManageCourse(currentUser(c), &inv.Course) {
		return writeError(c, services.ErrForbidden)
	}
	if err := ic.Invitations.Revoke(c.UserContext(), inv.ID); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (ic *InvitationController) AcceptInvitation(c *fiber.Ctx) error {
	var req AcceptInvitationRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	enrollment, err := ic.Invitations.Accept(c.UserContext(), currentUser(c), req.Token, time.Now().UTC())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(enrollment)
}
