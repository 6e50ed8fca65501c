package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careline/telehealth-platform/pkg/logging"
)

func TestCreateIntent_DryRun(t *testing.T) {
	c := NewStripeClient("sk_test", "", "inr", logging.Default()).WithDryRun(true)

	intent, err := c.CreateIntent(context.Background(), IntentParams{
		UserID:      uuid.New(),
		AmountCents: 5000,
		Purpose:     PurposeBooking,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(intent.ID, "pi_dryrun_"))
	assert.NotEmpty(t, intent.ClientSecret)
}

func TestCreateBookingIntent_SendsDispatchMetadata(t *testing.T) {
	bookingID := uuid.New()
	userID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "7500", r.Form.Get("amount"))
		assert.Equal(t, "inr", r.Form.Get("currency"))
		assert.Equal(t, PurposeBooking, r.Form.Get("metadata[purpose]"))
		assert.Equal(t, bookingID.String(), r.Form.Get("metadata[bookingId]"))
		assert.Equal(t, userID.String(), r.Form.Get("metadata[userId]"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "pi_live_1", "client_secret": "pi_live_1_secret"}`))
	}))
	defer srv.Close()

	c := NewStripeClient("sk_test", srv.URL, "inr", logging.Default())

	secret, intentID, err := c.CreateBookingIntent(context.Background(), userID, 7500, bookingID)
	require.NoError(t, err)
	assert.Equal(t, "pi_live_1", intentID)
	assert.Equal(t, "pi_live_1_secret", secret)
}

func TestCreatePlanPurchaseIntent_SendsGrantMetadata(t *testing.T) {
	grantID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, PurposePlanPurchase, r.Form.Get("metadata[purpose]"))
		assert.Equal(t, grantID.String(), r.Form.Get("metadata[planGrantId]"))
		_, _ = w.Write([]byte(`{"id": "pi_live_2", "client_secret": "pi_live_2_secret"}`))
	}))
	defer srv.Close()

	c := NewStripeClient("sk_test", srv.URL, "inr", logging.Default())

	_, intentID, err := c.CreatePlanPurchaseIntent(context.Background(), uuid.New(), 20000, grantID)
	require.NoError(t, err)
	assert.Equal(t, "pi_live_2", intentID)
}

func TestCreateIntent_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error": {"message": "card declined"}}`))
	}))
	defer srv.Close()

	c := NewStripeClient("sk_test", srv.URL, "inr", logging.Default())

	_, err := c.CreateIntent(context.Background(), IntentParams{UserID: uuid.New(), AmountCents: 100, Purpose: PurposeBooking})
	assert.Error(t, err)
}
