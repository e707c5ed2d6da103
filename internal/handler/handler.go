// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the admission service.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/eventgate/eventgate/internal/model"
	"github.com/eventgate/eventgate/internal/service"
)

// organizerHeader carries the organizer identity verified by the upstream
// identity collaborator. This core does not authenticate; it only refuses
// invitation calls that arrive without the header.
const organizerHeader = "X-Organizer-Id"

// AdmissionHandler holds all HTTP handlers for the admission API.
type AdmissionHandler struct {
	svc      *service.AdmissionService
	validate *validator.Validate
	logger   *zap.Logger
}

// NewAdmissionHandler constructs an AdmissionHandler.
func NewAdmissionHandler(svc *service.AdmissionService, logger *zap.Logger) *AdmissionHandler {
	return &AdmissionHandler{
		svc:      svc,
		validate: validator.New(),
		logger:   logger,
	}
}

// Routes mounts all admission endpoints on a fresh router.
func (h *AdmissionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{id}", h.GetEvent)
	r.Get("/{id}/registrations", h.ListRegistrations)
	r.Post("/{id}/register", h.Register)
	r.Post("/{id}/cancel", h.Cancel)
	r.Post("/{id}/invite", h.Invite)
	return r
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func (h *AdmissionHandler) decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return h.validate.Struct(dst)
}

// statusForKind maps result kinds to HTTP status codes.
func statusForKind(kind model.ResultKind) int {
	switch kind {
	case model.KindAdmitted, model.KindWaitlisted, model.KindInvited:
		return http.StatusCreated
	case model.KindCancelled:
		return http.StatusOK
	case model.KindAlreadyRegistered:
		return http.StatusConflict
	case model.KindInviteRequired, model.KindInvalidInviteCode, model.KindRegistrationClosed:
		return http.StatusForbidden
	case model.KindEventInPast:
		return http.StatusGone
	case model.KindNotRegistered, model.KindEventNotFound:
		return http.StatusNotFound
	case model.KindStoreFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// Register handles POST /events/{id}/register
// Decides admitted/waitlisted/rejected for the given user.
func (h *AdmissionHandler) Register(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req model.RegisterRequest
	if err := h.decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res := h.svc.Register(r.Context(), id, req.UserID, req.InviteCode)
	writeJSON(w, statusForKind(res.Kind), res)
}

// Cancel handles POST /events/{id}/cancel
// Withdraws the user's registration, promoting from the waitlist when an
// admitted slot was freed.
func (h *AdmissionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req model.CancelRequest
	if err := h.decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res := h.svc.Cancel(r.Context(), id, req.UserID)
	writeJSON(w, statusForKind(res.Kind), res)
}

// Invite handles POST /events/{id}/invite
// Records an organizer-issued invitation. Requires the organizer identity
// header injected by the upstream gateway.
func (h *AdmissionHandler) Invite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	organizer := r.Header.Get(organizerHeader)
	if organizer == "" {
		writeError(w, http.StatusUnauthorized, "organizer identity required")
		return
	}

	var req model.InviteRequest
	if err := h.decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res := h.svc.Invite(r.Context(), id, req.UserID)
	if res.Success {
		h.logger.Info("organizer invitation",
			zap.String("event_id", id),
			zap.String("organizer_id", organizer),
			zap.String("user_id", req.UserID),
		)
	}
	writeJSON(w, statusForKind(res.Kind), res)
}

// GetEvent handles GET /events/{id}
// Returns a single event by its ID.
func (h *AdmissionHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	event, err := h.svc.GetEvent(r.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// ListRegistrations handles GET /events/{id}/registrations?status=
// Returns the event's registrations, optionally filtered by status;
// waitlist listings come back in promotion order.
func (h *AdmissionHandler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status := model.Status(r.URL.Query().Get("status"))

	regs, err := h.svc.ListRegistrations(r.Context(), id, status)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to list registrations")
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if regs == nil {
		regs = []model.Registration{}
	}

	writeJSON(w, http.StatusOK, regs)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
