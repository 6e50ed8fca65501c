package plans

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/careline/telehealth-platform/internal/api/respond"
	httpmiddleware "github.com/careline/telehealth-platform/internal/http/middleware"
	"github.com/careline/telehealth-platform/pkg/logging"
)

// PurchaseIntents opens the gateway charge for a plan purchase; satisfied
// by *payments.StripeClient.
type PurchaseIntents interface {
	CreatePlanPurchaseIntent(ctx context.Context, userID uuid.UUID, amountCents int64, grantID uuid.UUID) (clientSecret, intentID string, err error)
}

// ChargeRecorder appends the purchase audit record; satisfied by
// *payments.TransactionRepository.
type ChargeRecorder interface {
	RecordPlanPurchase(ctx context.Context, userID, grantID uuid.UUID, amountCents int64) error
}

// Handler exposes the plan catalog and purchase flow over HTTP.
type Handler struct {
	ledger  *Ledger
	intents PurchaseIntents
	charges ChargeRecorder
	logger  *logging.Logger
}

// NewHandler creates the plans HTTP handler.
func NewHandler(ledger *Ledger, intents PurchaseIntents, charges ChargeRecorder, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{ledger: ledger, intents: intents, charges: charges, logger: logger}
}

// Routes mounts the plan endpoints. The caller wraps them in the auth
// middleware; admin-only routes get an extra role check here.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListPackages)
	r.Get("/{packageID}", h.GetPackage)
	r.Post("/{packageID}/purchase", h.Purchase)
	r.With(httpmiddleware.RequireRole("admin")).Post("/", h.CreatePackage)
	r.With(httpmiddleware.RequireRole("admin")).Delete("/{packageID}", h.RetirePackage)
	return r
}

// ListPackages handles GET /plans.
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := h.ledger.ListPackages(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	if packages == nil {
		packages = []Package{}
	}
	respond.JSON(w, http.StatusOK, "plan packages", packages)
}

// GetPackage handles GET /plans/{packageID}.
func (h *Handler) GetPackage(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "packageID"))
	if err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid package id")
		return
	}
	pkg, err := h.ledger.GetCatalogPackage(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "plan package", pkg)
}

type purchaseResponse struct {
	Grant               *Grant `json:"grant"`
	PaymentClientSecret string `json:"paymentClientSecret"`
}

// Purchase handles POST /plans/{packageID}/purchase: creates an inactive
// grant, opens the gateway charge and returns the client handle. The grant
// activates when the purchase payment succeeds on the webhook.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	ident, ok := httpmiddleware.IdentityFromContext(r.Context())
	if !ok {
		respond.Fail(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	if ident.Role != "patient" {
		respond.Fail(w, http.StatusForbidden, "only patients may purchase plans")
		return
	}
	packageID, err := uuid.Parse(chi.URLParam(r, "packageID"))
	if err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid package id")
		return
	}

	grant, pkg, err := h.ledger.Purchase(r.Context(), ident.UserID, packageID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.charges.RecordPlanPurchase(r.Context(), ident.UserID, grant.ID, pkg.PriceCents); err != nil {
		h.respondError(w, err)
		return
	}
	secret, _, err := h.intents.CreatePlanPurchaseIntent(r.Context(), ident.UserID, pkg.PriceCents, grant.ID)
	if err != nil {
		if abandonErr := h.ledger.AbandonPurchase(r.Context(), grant.ID); abandonErr != nil {
			h.logger.Error("could not abandon grant after intent error",
				"grant_id", grant.ID, "error", abandonErr)
		}
		h.respondError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, "plan purchase started", purchaseResponse{
		Grant:               grant,
		PaymentClientSecret: secret,
	})
}

type createPackageRequest struct {
	Name            string `json:"name"`
	BookingsAllowed int    `json:"bookingsAllowed"`
	PeriodDays      int    `json:"periodDays"`
	PriceCents      int64  `json:"priceCents"`
}

// CreatePackage handles POST /plans (admin).
func (h *Handler) CreatePackage(w http.ResponseWriter, r *http.Request) {
	var req createPackageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.BookingsAllowed <= 0 || req.PeriodDays <= 0 || req.PriceCents <= 0 {
		respond.Fail(w, http.StatusBadRequest, "name, bookingsAllowed, periodDays and priceCents are required")
		return
	}
	pkg, err := h.ledger.CreatePackage(r.Context(), req.Name, req.BookingsAllowed, req.PeriodDays, req.PriceCents)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, "plan package created", pkg)
}

// RetirePackage handles DELETE /plans/{packageID} (admin). Existing grants
// keep working; the package just stops being purchasable.
func (h *Handler) RetirePackage(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "packageID"))
	if err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid package id")
		return
	}
	if err := h.ledger.RetirePackage(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "plan package retired", nil)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPackageNotFound), errors.Is(err, ErrGrantNotFound):
		respond.Fail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNoActivePlan), errors.Is(err, ErrPlanExhausted), errors.Is(err, ErrTooSoon):
		respond.Fail(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("plans request failed", "error", err)
		respond.Fail(w, http.StatusInternalServerError, "internal error")
	}
}
