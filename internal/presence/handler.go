package presence

import (
	"net/http"

	"github.com/careline/telehealth-platform/internal/api/respond"
	httpmiddleware "github.com/careline/telehealth-platform/internal/http/middleware"
	"github.com/careline/telehealth-platform/pkg/logging"
)

// Handler exposes the doctor heartbeat endpoint. Apps poll it while the
// doctor keeps the app open; instant bookings prefer online doctors.
type Handler struct {
	registry *Registry
	logger   *logging.Logger
}

// NewHandler creates the presence HTTP handler.
func NewHandler(registry *Registry, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{registry: registry, logger: logger}
}

// Heartbeat handles POST /presence/heartbeat for the authenticated doctor.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	ident, ok := httpmiddleware.IdentityFromContext(r.Context())
	if !ok {
		respond.Fail(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	if ident.Role != "doctor" {
		respond.Fail(w, http.StatusForbidden, "doctor role required")
		return
	}
	if err := h.registry.Heartbeat(r.Context(), ident.UserID); err != nil {
		h.logger.Error("heartbeat failed", "doctor_id", ident.UserID, "error", err)
		respond.Fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	respond.JSON(w, http.StatusOK, "online", nil)
}
