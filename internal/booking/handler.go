package booking

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/careline/telehealth-platform/internal/api/respond"
	httpmiddleware "github.com/careline/telehealth-platform/internal/http/middleware"
	"github.com/careline/telehealth-platform/internal/plans"
	"github.com/careline/telehealth-platform/pkg/logging"
)

// Handler exposes the booking lifecycle over HTTP.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

// NewHandler creates the booking HTTP handler.
func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Routes mounts the booking endpoints. The caller wraps them in the auth
// middleware.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/{bookingID}", h.Get)
	r.Post("/{bookingID}/cancel", h.Cancel)
	r.Post("/{bookingID}/complete", h.Complete)
	r.Post("/{bookingID}/reschedule", h.Reschedule)
	return r
}

type createBookingRequest struct {
	DoctorID    *uuid.UUID `json:"doctorId,omitempty"`
	ScheduledAt time.Time  `json:"scheduledAt"`
	SessionType string     `json:"sessionType"`
	BookingType string     `json:"bookingType,omitempty"`
	PaymentType string     `json:"paymentType"`
}

// Create handles POST /bookings.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		respond.Fail(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	if actor.Role != "patient" {
		respond.Fail(w, http.StatusForbidden, "only patients may book consultations")
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.Create(r.Context(), CreateRequest{
		PatientID:   actor.ID,
		DoctorID:    req.DoctorID,
		ScheduledAt: req.ScheduledAt,
		SessionType: SessionType(req.SessionType),
		BookingType: Type(req.BookingType),
		PaymentType: PaymentType(req.PaymentType),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, "booking created", result)
}

// Get handles GET /bookings/{bookingID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	b, err := h.service.Get(r.Context(), id, actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "booking", b)
}

// Cancel handles POST /bookings/{bookingID}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	b, err := h.service.Cancel(r.Context(), id, actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "booking cancelled", b)
}

// Complete handles POST /bookings/{bookingID}/complete.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	b, err := h.service.Complete(r.Context(), id, actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "booking completed", b)
}

type rescheduleRequest struct {
	ScheduledAt time.Time `json:"scheduledAt"`
}

// Reschedule handles POST /bookings/{bookingID}/reschedule.
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	b, err := h.service.Reschedule(r.Context(), id, req.ScheduledAt, actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "booking rescheduled", b)
}

func (h *Handler) actorAndID(w http.ResponseWriter, r *http.Request) (Actor, uuid.UUID, bool) {
	actor, ok := actorFrom(r)
	if !ok {
		respond.Fail(w, http.StatusUnauthorized, "unauthenticated")
		return Actor{}, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "bookingID"))
	if err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid booking id")
		return Actor{}, uuid.Nil, false
	}
	return actor, id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Fail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		respond.Fail(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidSchedule),
		errors.Is(err, ErrInvalidPaymentType),
		errors.Is(err, ErrNoAvailability),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, plans.ErrNoActivePlan),
		errors.Is(err, plans.ErrPlanExhausted),
		errors.Is(err, plans.ErrTooSoon):
		respond.Fail(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("booking request failed", "error", err)
		respond.Fail(w, http.StatusInternalServerError, "internal error")
	}
}

func actorFrom(r *http.Request) (Actor, bool) {
	ident, ok := httpmiddleware.IdentityFromContext(r.Context())
	if !ok {
		return Actor{}, false
	}
	return Actor{ID: ident.UserID, Role: ident.Role}, true
}
