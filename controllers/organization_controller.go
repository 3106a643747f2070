package controller

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"lawsim/models"
	"lawsim/services"
)

type CreateOrganizationRequest struct {
	Name string `json:"name" validate:"required,max=200"`
	Slug string `json:"slug" validate:"required,min=2,max=64"`
}

type GrantLicenseRequest struct {
	Tier      string     `json:"tier" validate:"required,oneof=basic pro enterprise"`
	Seats     int        `json:"seats" validate:"min=0"`
	Features  []string   `json:"features"`
	StartsAt  *time.Time `json:"starts_at"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type CheckoutRequest struct {
	Tier  string `json:"tier" validate:"required,oneof=basic pro enterprise"`
	Seats int    `json:"seats" validate:"required,min=1"`
}

type OrganizationController struct {
	DB       *gorm.DB
	Licenses *services.LicenseEnforcer
	Checkout *services.LicenseCheckout
}

func NewOrganizationController(db *gorm.DB, licenses *services.LicenseEnforcer, checkout *services.LicenseCheckout) *OrganizationController {
	return &OrganizationController{DB: db, Licenses: licenses, Checkout: checkout}
}

func (oc *OrganizationController) CreateOrganization(c *fiber.Ctx) error {
	var req CreateOrganizationRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	org := models.Organization{Name: req.Name, Slug: strings.ToLower(strings.TrimSpace(req.Slug))}
	var count int64
	if err := oc.DB.Model(&models.Organization{}).Where("slug = ?", org.Slug).Count(&count).Error; err != nil {
		return writeError(c, err)
	}
	if count > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Organization slug already taken",
		})
	}
	if err := oc.DB.Create(&org).Error; err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(org)
}

func (oc *OrganizationController) ListOrganizations(c *fiber.Ctx) error {
	var orgs []models.Organization
	if err := oc.DB.Order("name").Find(&orgs).Error; err != nil {
		return writeError(c, err)
	}
	return c.JSON(orgs)
}

func (oc *OrganizationController) GrantLicense(c *fiber.Ctx) error {
	orgID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req GrantLicenseRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	startsAt := time.Now().UTC()
	if req.StartsAt != nil {
		startsAt = req.StartsAt.UTC()
	}
	license, err := oc.Licenses.Grant(c.UserContext(), orgID, req.Tier, req.Seats, req.Features, startsAt, req.ExpiresAt)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(license)
}

func (oc *OrganizationController) ListLicenses(c *fiber.Ctx) error {
	orgID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var licenses []models.License
	if err := oc.DB.Where("organization_id = ?", orgID).Order("starts_at DESC").Find(&licenses).Error; err != nil {
		return writeError(c, err)
	}
	return c.JSON(licenses)
}

func (oc *OrganizationController) RevokeLicense(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := oc.Licenses.Revoke(c.UserContext(), id); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Usage is readable by admins and by instructors of the organization
func (oc *OrganizationController) Usage(c *fiber.Ctx) error {
	orgID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	user := currentUser(c)
	member := user.OrganizationID != nil && *user.OrganizationID == orgID
	if !user.IsAdmin() && !(user.IsInstructor() && member) {
		return writeError(c, services.ErrForbidden)
	}

	var org models.Organization
	if err := oc.DB.First(&org, orgID).Error; err != nil {
		return writeError(c, err)
	}
	usage, err := oc.Licenses.Usage(c.UserContext(), orgID, time.Now().UTC())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(usage)
}

// StartCheckout creates a pending license and returns the payment client secret
func (oc *OrganizationController) StartCheckout(c *fiber.Ctx) error {
	orgID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req CheckoutRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	user := currentUser(c)
	if !user.IsAdmin() && (user.OrganizationID == nil || *user.OrganizationID != orgID) {
		return writeError(c, services.ErrForbidden)
	}

	res, err := oc.Checkout.Checkout(c.UserContext(), orgID, req.Tier, req.Seats)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

func (oc *OrganizationController) StripeWebhook(c *fiber.Ctx) error {
	err := oc.Checkout.HandleWebhook(c.UserContext(), c.Body(), c.Get("Stripe-Signature"), time.Now().UTC())
	if errors.Is(err, services.ErrInvalidInput) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"received": true,
	})
}
