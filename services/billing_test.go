package services

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lawsim/models"
	"lawsim/testutil"
	"lawsim/utils"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreatePaymentIntent(ctx context.Context, amount int64, description string, metadata map[string]string) (*utils.PaymentIntent, error) {
	args := m.Called(ctx, amount, description, metadata)
	pi, _ := args.Get(0).(*utils.PaymentIntent)
	return pi, args.Error(1)
}

func (m *mockGateway) ParseWebhook(payload []byte, signature string) (*utils.PaymentEvent, error) {
	args := m.Called(payload, signature)
	ev, _ := args.Get(0).(*utils.PaymentEvent)
	return ev, args.Error(1)
}

func TestCheckoutAndActivation(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	org := testutil.CreateOrg(t, db, "acme")
	licenses := NewLicenseEnforcer(db)
	gw := &mockGateway{}
	checkout := NewLicenseCheckout(db, gw, licenses)

	gw.On("CreatePaymentIntent", mock.Anything, int64(15000), mock.Anything, mock.MatchedBy(func(m map[string]string) bool {
		return m["license_id"] != "" && m["organization_id"] != ""
	})).Return(&utils.PaymentIntent{ID: "pi_123", ClientSecret: "pi_123_secret", Amount: 15000}, nil)

	res, err := checkout.Checkout(ctx, org.ID, models.TierPro, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), res.Amount)
	assert.Equal(t, "pi_123_secret", res.ClientSecret)
	assert.Equal(t, models.LicensePending, res.License.Status)
	gw.AssertExpectations(t)

	active, err := licenses.ActiveLicense(ctx, org.ID, testutil.Now)
	require.NoError(t, err)
	assert.Nil(t, active, "pending licenses grant nothing")

	meta := map[string]string{"license_id": strconv.FormatUint(uint64(res.License.ID), 10)}
	event := &utils.PaymentEvent{ID: "evt_1", Type: "payment_intent.succeeded", PaymentIntentID: "pi_123", Metadata: meta}
	gw.On("ParseWebhook", []byte("payload"), "sig").Return(event, nil)

	require.NoError(t, checkout.HandleWebhook(ctx, []byte("payload"), "sig", testutil.Now))
	require.NoError(t, checkout.HandleWebhook(ctx, []byte("payload"), "sig", testutil.Now), "redelivery is harmless")

	active, err = licenses.ActiveLicense(ctx, org.ID, testutil.Now)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, 10, active.Seats)
}

func TestCheckoutValidation(t *testing.T) {
	db := testutil.NewDB(t)
	org := testutil.CreateOrg(t, db, "acme")
	checkout := NewLicenseCheckout(db, &mockGateway{}, NewLicenseEnforcer(db))
	ctx := context.Background()

	_, err := checkout.Checkout(ctx, org.ID, "gold", 3)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = checkout.Checkout(ctx, org.ID, models.TierBasic, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = checkout.Checkout(ctx, 999, models.TierBasic, 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHandleWebhookEvents(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	gw := &mockGateway{}
	checkout := NewLicenseCheckout(db, gw, NewLicenseEnforcer(db))

	gw.On("ParseWebhook", []byte("bad"), "sig").Return(nil, errors.New("signature mismatch"))
	assert.ErrorIs(t, checkout.HandleWebhook(ctx, []byte("bad"), "sig", testutil.Now), ErrInvalidInput)

	assert.NoError(t, checkout.HandleEvent(ctx, &utils.PaymentEvent{Type: "charge.refunded"}, testutil.Now), "unknown events are acknowledged")

	err := checkout.HandleEvent(ctx, &utils.PaymentEvent{Type: "payment_intent.succeeded", PaymentIntentID: "pi_x"}, testutil.Now)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
