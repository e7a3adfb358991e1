package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"tenantdesk/internal/metrics"
	"tenantdesk/internal/tenancy"
)

// UserHandler serves user records, roles, membership and onboarding.
type UserHandler struct {
	manager *tenancy.Manager
	metrics *metrics.Collector
}

// NewUserHandler creates a new user handler. collector may be nil.
func NewUserHandler(manager *tenancy.Manager, collector *metrics.Collector) *UserHandler {
	return &UserHandler{manager: manager, metrics: collector}
}

type roleRequest struct {
	Role string `json:"role"`
}

type joinRequest struct {
	CompanyID string `json:"company_id"`
}

// cascadeResponse reports a membership removal. The warning is present only
// when the company could not be cleaned up.
type cascadeResponse struct {
	Message        string `json:"message"`
	CompanyDeleted bool   `json:"company_deleted"`
	CascadeWarning string `json:"cascade_warning,omitempty"`
}

// Get handles GET /users/{id}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	u, err := h.manager.GetUser(r.Context(), id, actorID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

// Update handles PUT /users/{id}
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var fields map[string]any
	if err := decodeJSON(r, &fields); err != nil {
		writeError(w, r, err)
		return
	}

	u, err := h.manager.UpdateUser(r.Context(), id, actorID(r), fields)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

// Delete handles DELETE /users/{id}
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.manager.DeleteUser(r.Context(), id, actorID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeCascade(w, r, "user deleted successfully", result)
}

// UpdateRole handles PUT /users/{id}/role
func (h *UserHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	u, err := h.manager.UpdateUserRole(r.Context(), id, req.Role, actorID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

// JoinCompany handles POST /users/{id}/join-company
func (h *UserHandler) JoinCompany(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req joinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	companyID, err := parseUUID(req.CompanyID, "company_id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.manager.JoinCompany(r.Context(), id, companyID, actorID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"company": c})
}

// LeaveCompany handles POST /users/{id}/leave-company
func (h *UserHandler) LeaveCompany(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.manager.LeaveCompany(r.Context(), id, actorID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeCascade(w, r, "left company successfully", result)
}

// CompleteOnboarding handles POST /onboarding/complete
func (h *UserHandler) CompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	var req tenancy.CompanyInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.manager.CompleteOnboarding(r.Context(), actorID(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// SkipOnboarding handles POST /onboarding/skip
func (h *UserHandler) SkipOnboarding(w http.ResponseWriter, r *http.Request) {
	u, err := h.manager.SkipOnboarding(r.Context(), actorID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

// Profile handles GET /users/me
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	result, err := h.manager.GetUserWithCompany(r.Context(), actorID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *UserHandler) writeCascade(w http.ResponseWriter, r *http.Request, message string, result *tenancy.CascadeResult) {
	if result.CascadeErr != nil {
		zerolog.Ctx(r.Context()).Warn().Err(result.CascadeErr).Msg(result.CascadeWarning)
	}
	if h.metrics != nil {
		h.metrics.RecordCascade(result.CompanyDeleted, result.CascadeErr != nil)
	}
	writeJSON(w, http.StatusOK, cascadeResponse{
		Message:        message,
		CompanyDeleted: result.CompanyDeleted,
		CascadeWarning: result.CascadeWarning,
	})
}
