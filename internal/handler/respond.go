package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tenantdesk/internal/apperr"
	"tenantdesk/internal/auth"
	"tenantdesk/internal/middleware"
)

// messageResponse is returned by endpoints that have nothing else to say.
type messageResponse struct {
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr), errors.Is(err, apperr.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status and writes {"error": message}. Internal
// failures are logged in full and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		auth.WriteJSONError(w, status, "internal server error")
		return
	}

	message := apperr.Message(err, http.StatusText(status))
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		message = "request body too large"
	}
	auth.WriteJSONError(w, status, message)
}

// decodeJSON reads the request body into v.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		return apperr.Validation("invalid request body")
	}
	return nil
}

// pathUUID parses the named chi URL parameter.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return parseUUID(chi.URLParam(r, name), name)
}

func parseUUID(s, name string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, apperr.Validation(name + " is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid " + name)
	}
	return id, nil
}

// actorID returns the authenticated user. RequireAuth guarantees it is set.
func actorID(r *http.Request) uuid.UUID {
	id, _ := middleware.UserIDFromContext(r.Context())
	return id
}

// readUpload reads the multipart "file" field.
func readUpload(r *http.Request) (string, []byte, error) {
	if err := r.ParseMultipartForm(middleware.MaxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", nil, apperr.TooLarge("file too large")
		}
		return "", nil, apperr.Validation("invalid multipart form")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, apperr.Validation("no file provided")
	}
	defer file.Close()

	if header.Filename == "" {
		return "", nil, apperr.Validation("no file selected")
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, apperr.Internal("failed to read upload", err)
	}
	return header.Filename, data, nil
}
