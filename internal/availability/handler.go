package availability

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/careline/telehealth-platform/internal/api/respond"
	httpmiddleware "github.com/careline/telehealth-platform/internal/http/middleware"
	"github.com/careline/telehealth-platform/pkg/logging"
)

// Handler exposes slot queries and doctor schedule management over HTTP.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

// NewHandler creates the availability HTTP handler.
func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// ScheduleRoutes mounts the doctor-facing schedule endpoints.
func (h *Handler) ScheduleRoutes() chi.Router {
	r := chi.NewRouter()
	r.Put("/", h.SetSchedule)
	r.Post("/blocks", h.AddBlock)
	r.Delete("/blocks/{blockID}", h.RemoveBlock)
	return r
}

// Timeslots handles GET /timeslots?date=YYYY-MM-DD[&doctorId=...]. With a
// doctor id it returns that doctor's free grid; without one, the merged
// grid across all active doctors.
func (h *Handler) Timeslots(w http.ResponseWriter, r *http.Request) {
	date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
	if err != nil {
		respond.Fail(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	var slots []Interval
	if raw := r.URL.Query().Get("doctorId"); raw != "" {
		doctorID, err := uuid.Parse(raw)
		if err != nil {
			respond.Fail(w, http.StatusBadRequest, "invalid doctor id")
			return
		}
		slots, err = h.service.ListFreeWindows(r.Context(), doctorID, date)
		if err != nil {
			h.respondError(w, err)
			return
		}
	} else {
		slots, err = h.service.ListFreeWindowsAllDoctors(r.Context(), date)
		if err != nil {
			h.respondError(w, err)
			return
		}
	}
	if slots == nil {
		slots = []Interval{}
	}
	respond.JSON(w, http.StatusOK, "available time slots", slots)
}

type setScheduleRequest struct {
	Timezone string             `json:"timezone"`
	Days     []DayScheduleInput `json:"days"`
}

// SetSchedule handles PUT /schedule for the authenticated doctor.
func (h *Handler) SetSchedule(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := doctorFrom(w, r)
	if !ok {
		return
	}
	var req setScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	windows, err := h.service.SetWeeklySchedule(r.Context(), doctorID, req.Timezone, req.Days)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "schedule replaced", windows)
}

type addBlockRequest struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Reason    string    `json:"reason,omitempty"`
}

// AddBlock handles POST /schedule/blocks.
func (h *Handler) AddBlock(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := doctorFrom(w, r)
	if !ok {
		return
	}
	var req addBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	block, err := h.service.AddBlock(r.Context(), doctorID, req.StartTime, req.EndTime, req.Reason)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, "block created", block)
}

// RemoveBlock handles DELETE /schedule/blocks/{blockID}. Blocks owned by a
// booking cannot be removed this way.
func (h *Handler) RemoveBlock(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := doctorFrom(w, r)
	if !ok {
		return
	}
	blockID, err := uuid.Parse(chi.URLParam(r, "blockID"))
	if err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid block id")
		return
	}
	if err := h.service.RemoveBlock(r.Context(), doctorID, blockID); err != nil {
		h.respondError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "block removed", nil)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadSchedule):
		respond.Fail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrBlockNotFound):
		respond.Fail(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("availability request failed", "error", err)
		respond.Fail(w, http.StatusInternalServerError, "internal error")
	}
}

func doctorFrom(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	ident, ok := httpmiddleware.IdentityFromContext(r.Context())
	if !ok {
		respond.Fail(w, http.StatusUnauthorized, "unauthenticated")
		return uuid.Nil, false
	}
	if ident.Role != "doctor" {
		respond.Fail(w, http.StatusForbidden, "doctor role required")
		return uuid.Nil, false
	}
	return ident.UserID, true
}
