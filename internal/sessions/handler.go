package sessions

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/careline/telehealth-platform/internal/api/respond"
	"github.com/careline/telehealth-platform/internal/booking"
	httpmiddleware "github.com/careline/telehealth-platform/internal/http/middleware"
	"github.com/careline/telehealth-platform/pkg/logging"
)

// Handler exposes consultation sessions over HTTP: state reads, the end
// signal and the websocket upgrade.
type Handler struct {
	service *Service
	gateway *Gateway
	logger  *logging.Logger
}

// NewHandler creates the sessions HTTP handler.
func NewHandler(service *Service, gateway *Gateway, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, gateway: gateway, logger: logger}
}

// Routes mounts the consultation endpoints, keyed by booking id.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{bookingID}", h.Get)
	r.Post("/{bookingID}/end", h.End)
	r.Get("/{bookingID}/ws", h.Connect)
	return r
}

// Get handles GET /consultations/{bookingID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	sess, err := h.service.Get(r.Context(), id, actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "consultation session", sess)
}

// End handles POST /consultations/{bookingID}/end for clients without a
// live socket.
func (h *Handler) End(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	sess, err := h.service.End(r.Context(), id, actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "consultation ended", sess)
}

// Connect handles GET /consultations/{bookingID}/ws, upgrading to the
// signaling websocket.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	h.gateway.Serve(w, r, id, actor)
}

func (h *Handler) actorAndID(w http.ResponseWriter, r *http.Request) (booking.Actor, uuid.UUID, bool) {
	ident, ok := httpmiddleware.IdentityFromContext(r.Context())
	if !ok {
		respond.Fail(w, http.StatusUnauthorized, "unauthenticated")
		return booking.Actor{}, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "bookingID"))
	if err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid booking id")
		return booking.Actor{}, uuid.Nil, false
	}
	return booking.Actor{ID: ident.UserID, Role: ident.Role}, id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, booking.ErrNotFound):
		respond.Fail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, booking.ErrForbidden):
		respond.Fail(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrSessionClosed), errors.Is(err, booking.ErrInvalidTransition):
		respond.Fail(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("sessions request failed", "error", err)
		respond.Fail(w, http.StatusInternalServerError, "internal error")
	}
}
