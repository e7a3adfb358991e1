package handler

import (
	"net/http"

	"tenantdesk/internal/auth"
	"tenantdesk/internal/jwtauth"
)

// AuthHandler serves signup, signin, signout and the current user.
type AuthHandler struct {
	service *auth.Service
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(service *auth.Service) *AuthHandler {
	return &AuthHandler{service: service}
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup handles POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	session, err := h.service.Signup(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// Signin handles POST /auth/signin
func (h *AuthHandler) Signin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	session, err := h.service.Signin(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// Signout handles POST /auth/signout
func (h *AuthHandler) Signout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Signout(r.Context(), jwtauth.GetClaims(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "signed out successfully"})
}

// CurrentUser handles GET /auth/user
func (h *AuthHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.CurrentUser(r.Context(), actorID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}
