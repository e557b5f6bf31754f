// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the orchestrating service.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/engine"
	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/events"
	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/model"
	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/service"
	"github.com/go-chi/chi/v5"
)

// Handler holds all HTTP handlers of the registration engine API.
type Handler struct {
	svc *service.Service
	hub *events.Hub
}

// New constructs a Handler. hub may be nil when the event feed is not
// exposed.
func New(svc *service.Service, hub *events.Hub) *Handler {
	return &Handler{svc: svc, hub: hub}
}

// Routes mounts all engine routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", HealthCheck)

	r.Route("/instances/{instanceID}", func(r chi.Router) {
		r.Post("/slots", h.CreateSlot)
		r.Get("/slots", h.ListSlots)
		r.Get("/policy", h.GetPolicy)
		r.Put("/policy", h.PutPolicy)
		r.Post("/change", h.ChangeGroup)
		r.Post("/resolve", h.ResolveQueues)
		r.Get("/users/{userID}/stats", h.UserStats)
		r.Get("/events", h.EventFeed)
	})
	r.Route("/slots/{slotID}", func(r chi.Router) {
		r.Patch("/", h.UpdateSlot)
		r.Get("/registrations", h.SlotDetail)
		r.Post("/register", h.Register)
		r.Post("/unregister", h.Unregister)
	})
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

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// statusFor maps the engine's error taxonomy onto HTTP statuses so callers
// can present the exact reason.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrSlotNotFound), errors.Is(err, engine.ErrNotRegistered):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrAlreadyPresent),
		errors.Is(err, engine.ErrGroupFull),
		errors.Is(err, engine.ErrSlotQueueFull),
		errors.Is(err, engine.ErrUserQueueLimit),
		errors.Is(err, engine.ErrTooManySelections),
		errors.Is(err, engine.ErrTooFewRemaining),
		errors.Is(err, engine.ErrQueueingDisabled),
		errors.Is(err, engine.ErrAmbiguousSource):
		return http.StatusConflict
	case errors.Is(err, engine.ErrWindowClosed), errors.Is(err, engine.ErrUnregDisabled):
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

// ─── Slot administration ──────────────────────────────────────────────────────

// CreateSlot handles POST /instances/{instanceID}/slots
func (h *Handler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSlotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	slot, err := h.svc.CreateSlot(r.Context(), chi.URLParam(r, "instanceID"), req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, slot)
}

// ListSlots handles GET /instances/{instanceID}/slots?active=1
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") != ""
	stats, err := h.svc.ActiveSlots(r.Context(), chi.URLParam(r, "instanceID"), activeOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list slots")
		return
	}
	if stats == nil {
		stats = []model.SlotStats{}
	}
	writeJSON(w, http.StatusOK, stats)
}

// UpdateSlot handles PATCH /slots/{slotID}
func (h *Handler) UpdateSlot(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateSlotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	slot, err := h.svc.UpdateSlot(r.Context(), chi.URLParam(r, "slotID"), req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

// SlotDetail handles GET /slots/{slotID}/registrations
func (h *Handler) SlotDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.SlotDetail(r.Context(), chi.URLParam(r, "slotID"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// ─── Policy ───────────────────────────────────────────────────────────────────

// GetPolicy handles GET /instances/{instanceID}/policy
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	pol, err := h.svc.Policy(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load policy")
		return
	}
	writeJSON(w, http.StatusOK, pol)
}

// PutPolicy handles PUT /instances/{instanceID}/policy
func (h *Handler) PutPolicy(w http.ResponseWriter, r *http.Request) {
	var pol model.Policy
	if err := decodeJSON(r, &pol); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	pol.InstanceID = chi.URLParam(r, "instanceID")
	if err := h.svc.PutPolicy(r.Context(), pol); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pol)
}

// ─── Commands ─────────────────────────────────────────────────────────────────

// Register handles POST /slots/{slotID}/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	res, err := h.svc.Register(r.Context(), chi.URLParam(r, "slotID"), req.UserID, req.ActorID)
	if err != nil {
		if res.Message != "" {
			// Primary operation committed; a mark conversion failed.
			writeJSON(w, http.StatusConflict, map[string]string{
				"message": res.Message,
				"error":   err.Error(),
			})
			return
		}
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Unregister handles POST /slots/{slotID}/unregister
func (h *Handler) Unregister(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	res, err := h.svc.Unregister(r.Context(), chi.URLParam(r, "slotID"), req.UserID, req.ActorID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ChangeGroup handles POST /instances/{instanceID}/change
func (h *Handler) ChangeGroup(w http.ResponseWriter, r *http.Request) {
	var req model.ChangeGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	res, err := h.svc.ChangeGroup(r.Context(), req.TargetSlotID, req.UserID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ResolveQueues handles POST /instances/{instanceID}/resolve?preview=1
func (h *Handler) ResolveQueues(w http.ResponseWriter, r *http.Request) {
	preview := r.URL.Query().Get("preview") != ""
	res, err := h.svc.ResolveQueues(r.Context(), chi.URLParam(r, "instanceID"), preview)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ─── Queries ──────────────────────────────────────────────────────────────────

// UserStats handles GET /instances/{instanceID}/users/{userID}/stats
func (h *Handler) UserStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.UserStats(r.Context(), chi.URLParam(r, "instanceID"), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// EventFeed handles GET /instances/{instanceID}/events (websocket upgrade)
func (h *Handler) EventFeed(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, http.StatusNotFound, "event feed is not enabled")
		return
	}
	h.hub.ServeWS(w, r, chi.URLParam(r, "instanceID"))
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
