package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"lawsim/models"
	"lawsim/utils"
)

// Per-seat prices in cents
var seatPrices = map[string]int64{
	models.TierBasic:      500,
	models.TierPro:        1500,
	models.TierEnterprise: 3000,
}

const eventPaymentSucceeded = "payment_intent.succeeded"

// PaymentGateway is satisfied by utils.StripeGateway
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, amount int64, description string, metadata map[string]string) (*utils.PaymentIntent, error)
	ParseWebhook(payload []byte, signature string) (*utils.PaymentEvent, error)
}

type CheckoutResult struct {
	License      *models.License `json:"license"`
	ClientSecret string          `json:"client_secret"`
	Amount       int64           `json:"amount"`
}

// LicenseCheckout sells licenses through the payment gateway
type LicenseCheckout struct {
	db       *gorm.DB
	gateway  PaymentGateway
	licenses *LicenseEnforcer
	log      *logrus.Entry
}

func NewLicenseCheckout(db *gorm.DB, gateway PaymentGateway, licenses *LicenseEnforcer) *LicenseCheckout {
	return &LicenseCheckout{
		db:       db,
		gateway:  gateway,
		licenses: licenses,
		log:      logrus.WithField("component", "billing"),
	}
}

func SeatPrice(tier string) (int64, bool) {
	p, ok := seatPrices[tier]
	return p, ok
}

// Checkout creates a pending license and a payment intent for it
func (b *LicenseCheckout) Checkout(ctx context.Context, orgID uint, tier string, seats int) (*CheckoutResult, error) {
	price, ok := SeatPrice(tier)
	if !ok {
		return nil, fmt.Errorf("%w: unknown tier %q", ErrInvalidInput, tier)
	}
	if seats < 1 {
		return nil, fmt.Errorf("%w: seats must be at least 1", ErrInvalidInput)
	}
	var org models.Organization
	if err := b.db.WithContext(ctx).First(&org, orgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("organization")
		}
		return nil, err
	}

	license := models.License{
		OrganizationID: orgID,
		Tier:           tier,
		Seats:          seats,
		Status:         models.LicensePending,
		StartsAt:       time.Now().UTC(),
	}
	if err := b.db.WithContext(ctx).Create(&license).Error; err != nil {
		return nil, err
	}

	amount := price * int64(seats)
	pi, err := b.gateway.CreatePaymentIntent(ctx, amount,
		fmt.Sprintf("%s license, %d seats, %s", tier, seats, org.Name),
		map[string]string{
			"license_id":      strconv.FormatUint(uint64(license.ID), 10),
			"organization_id": strconv.FormatUint(uint64(orgID), 10),
		})
	if err != nil {
		return nil, err
	}

	license.StripePaymentIntentID = pi.ID
	if err := b.db.WithContext(ctx).Model(&license).Update("stripe_payment_intent_id", pi.ID).Error; err != nil {
		return nil, err
	}

	utils.LogEvent("license_checkout_created", map[string]interface{}{
		"license_id":        license.ID,
		"organization_id":   orgID,
		"amount":            amount,
		"payment_intent_id": pi.ID,
	})
	return &CheckoutResult{License: &license, ClientSecret: pi.ClientSecret, Amount: amount}, nil
}

// HandleWebhook verifies and applies a gateway webhook. Only successful
// payment intents change state; other events are acknowledged.
func (b *LicenseCheckout) HandleWebhook(ctx context.Context, payload []byte, signature string, now time.Time) error {
	event, err := b.gateway.ParseWebhook(payload, signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return b.HandleEvent(ctx, event, now)
}

func (b *LicenseCheckout) HandleEvent(ctx context.Context, event *utils.PaymentEvent, now time.Time) error {
	if event.Type != eventPaymentSucceeded {
		b.log.WithFields(logrus.Fields{"event_id": event.ID, "type": event.Type}).Debug("ignoring payment event")
		return nil
	}

	id, err := strconv.ParseUint(event.Metadata["license_id"], 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("%w: payment intent %s has no license_id", ErrInvalidInput, event.PaymentIntentID)
	}

	var license models.License
	if err := b.db.WithContext(ctx).First(&license, uint(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("license")
		}
		return err
	}
	if license.StripePaymentIntentID != "" && license.StripePaymentIntentID != event.PaymentIntentID {
		return fmt.Errorf("%w: payment intent does not match license %d", ErrConflict, license.ID)
	}

	activated, err := b.licenses.Activate(ctx, license.ID, now)
	if err != nil {
		return err
	}
	utils.LogEvent("license_payment_succeeded", map[string]interface{}{
		"license_id":        license.ID,
		"payment_intent_id": event.PaymentIntentID,
		"activated":         activated,
	})
	return nil
}
