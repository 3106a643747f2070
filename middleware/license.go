package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"lawsim/services"
)

// RequireFeature checks that the caller's organization is licensed for
// feature. Admins bypass the check.
func RequireFeature(licenses *services.LicenseEnforcer, feature string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := CurrentUser(c)
		if user == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authorization required",
			})
		}
		if user.IsAdmin() {
			return c.Next()
		}
		if user.OrganizationID == nil {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "Feature not licensed",
				"feature": feature,
			})
		}

		err := licenses.RequireFeature(c.UserContext(), *user.OrganizationID, feature, time.Now().UTC())
		if errors.Is(err, services.ErrFeatureNotLicensed) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "Feature not licensed",
				"feature": feature,
			})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to check license",
			})
		}
		return c.Next()
	}
}
