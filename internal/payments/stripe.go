package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/careline/telehealth-platform/pkg/logging"
)

// Metadata keys attached to every payment intent; the webhook dispatches
// on them.
const (
	MetaPurpose     = "purpose"
	MetaUserID      = "userId"
	MetaBookingID   = "bookingId"
	MetaPlanGrantID = "planGrantId"

	PurposeBooking      = "booking"
	PurposePlanPurchase = "plan_purchase"
)

// IntentParams describes the charge to create.
type IntentParams struct {
	UserID      uuid.UUID
	AmountCents int64
	Purpose     string
	Metadata    map[string]string
}

// Intent is the client-confirmable handle returned to the caller.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"clientSecret"`
}

// StripeClient creates payment intents against the Stripe API. The caller
// confirms client-side; the outcome arrives asynchronously on the webhook.
type StripeClient struct {
	secretKey  string
	baseURL    string
	currency   string
	apiVersion string
	httpClient *http.Client
	logger     *logging.Logger
	tracer     trace.Tracer
	dryRun     bool
}

// NewStripeClient creates a Stripe API client.
func NewStripeClient(secretKey, baseURL, currency string, logger *logging.Logger) *StripeClient {
	if logger == nil {
		logger = logging.Default()
	}
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	if currency == "" {
		currency = "inr"
	}
	return &StripeClient{
		secretKey:  secretKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		currency:   currency,
		apiVersion: "2025-02-24.acacia",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		tracer:     otel.Tracer("careline.internal.payments.stripe"),
	}
}

// WithDryRun enables dry-run mode (returns fake intents without calling Stripe).
func (c *StripeClient) WithDryRun(enabled bool) *StripeClient {
	c.dryRun = enabled
	return c
}

// CreateBookingIntent creates an intent funding a one-time booking. The
// returned client secret goes back to the patient; the intent id is
// recorded on the booking's transaction.
func (c *StripeClient) CreateBookingIntent(ctx context.Context, userID uuid.UUID, amountCents int64, bookingID uuid.UUID) (clientSecret, intentID string, err error) {
	intent, err := c.CreateIntent(ctx, IntentParams{
		UserID:      userID,
		AmountCents: amountCents,
		Purpose:     PurposeBooking,
		Metadata:    map[string]string{MetaBookingID: bookingID.String()},
	})
	if err != nil {
		return "", "", err
	}
	return intent.ClientSecret, intent.ID, nil
}

// CreatePlanPurchaseIntent creates an intent funding a plan grant purchase.
func (c *StripeClient) CreatePlanPurchaseIntent(ctx context.Context, userID uuid.UUID, amountCents int64, grantID uuid.UUID) (clientSecret, intentID string, err error) {
	intent, err := c.CreateIntent(ctx, IntentParams{
		UserID:      userID,
		AmountCents: amountCents,
		Purpose:     PurposePlanPurchase,
		Metadata:    map[string]string{MetaPlanGrantID: grantID.String()},
	})
	if err != nil {
		return "", "", err
	}
	return intent.ClientSecret, intent.ID, nil
}

// CreateIntent creates a payment intent carrying the dispatch metadata.
func (c *StripeClient) CreateIntent(ctx context.Context, params IntentParams) (*Intent, error) {
	ctx, span := c.tracer.Start(ctx, "stripe.create_payment_intent")
	defer span.End()
	span.SetAttributes(
		attribute.String("careline.user_id", params.UserID.String()),
		attribute.String("careline.purpose", params.Purpose),
		attribute.Int64("careline.amount_cents", params.AmountCents),
	)

	if c.dryRun {
		fakeID := "pi_dryrun_" + uuid.New().String()[:8]
		c.logger.Info("stripe dry run: skipping intent creation",
			"user_id", params.UserID, "purpose", params.Purpose, "amount_cents", params.AmountCents)
		return &Intent{ID: fakeID, ClientSecret: fakeID + "_secret"}, nil
	}

	form := url.Values{}
	form.Set("amount", fmt.Sprintf("%d", params.AmountCents))
	form.Set("currency", c.currency)
	form.Set("automatic_payment_methods[enabled]", "true")
	form.Set("automatic_payment_methods[allow_redirects]", "never")
	form.Set("metadata["+MetaUserID+"]", params.UserID.String())
	form.Set("metadata["+MetaPurpose+"]", params.Purpose)
	for k, v := range params.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("payments: build intent request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Stripe-Version", c.apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payments: stripe request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("payments: read stripe response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("stripe intent creation rejected",
			"status", resp.StatusCode, "body", truncate(string(body), 500))
		return nil, fmt.Errorf("payments: stripe returned status %d", resp.StatusCode)
	}

	var parsed struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("payments: decode stripe response: %w", err)
	}
	return &Intent{ID: parsed.ID, ClientSecret: parsed.ClientSecret}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
