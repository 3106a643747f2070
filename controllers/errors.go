package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"lawsim/models"
	"lawsim/services"
	"lawsim/utils"
)

// writeError maps domain errors onto HTTP statuses. Anything unrecognised is
// logged and reported as a 500.
func writeError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, services.ErrInvalidInput):
		status = fiber.StatusBadRequest
	case errors.Is(err, services.ErrForbidden),
		errors.Is(err, services.ErrSeatLimitReached),
		errors.Is(err, services.ErrFeatureNotLicensed):
		status = fiber.StatusForbidden
	case errors.Is(err, services.ErrConflict), errors.Is(err, gorm.ErrDuplicatedKey):
		status = fiber.StatusConflict
	case errors.Is(err, services.ErrUnprocessable),
		errors.Is(err, services.ErrInvitationExpired),
		errors.Is(err, services.ErrInvitationUsed):
		status = fiber.StatusUnprocessableEntity
	case errors.Is(err, services.ErrAIUnavailable):
		status = fiber.StatusServiceUnavailable
	}

	if status == fiber.StatusInternalServerError {
		utils.LogError("request_failed", err, map[string]interface{}{
			"method": c.Method(),
			"path":   c.Path(),
		})
		return c.Status(status).JSON(fiber.Map{
			"error": "Internal server error",
		})
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// ErrorHandler renders errors returned from handlers, including the
// *fiber.Error values produced by parseBody and paramID
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		if fe.Code >= fiber.StatusInternalServerError {
			utils.LogError("request_failed", err, map[string]interface{}{
				"method": c.Method(),
				"path":   c.Path(),
			})
		}
		return c.Status(fe.Code).JSON(fiber.Map{
			"error": fe.Message,
		})
	}
	return writeError(c, err)
}

// parseBody decodes and validates a JSON request body
func parseBody(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := utils.ValidateStruct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

func paramID(c *fiber.Ctx, name string) (uint, error) {
	id := utils.ParseUint(c.Params(name))
	if id == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid "+name)
	}
	return id, nil
}

func currentUser(c *fiber.Ctx) *models.User {
	return c.Locals("user").(*models.User)
}

func badRequestErr(msg string) error {
	return fiber.NewError(fiber.StatusBadRequest, msg)
}

// handlerError passes *fiber.Error through to ErrorHandler and maps
// everything else with writeError
func handlerError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return err
	}
	return writeError(c, err)
}
