package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"tenantdesk/internal/apperr"
	"tenantdesk/internal/metrics"
	"tenantdesk/internal/storage"
	"tenantdesk/internal/tenancy"
)

// UploadHandler serves a user's own files, independent of any company.
type UploadHandler struct {
	files   *storage.Intake
	metrics *metrics.Collector
}

// NewUploadHandler creates a new upload handler. collector may be nil.
func NewUploadHandler(files *storage.Intake, collector *metrics.Collector) *UploadHandler {
	return &UploadHandler{files: files, metrics: collector}
}

type uploadResponse struct {
	Message string `json:"message"`
	URL     string `json:"url"`
	Path    string `json:"path"`
}

type deleteFileRequest struct {
	URL string `json:"url"`
}

// Logo handles POST /upload/logo
func (h *UploadHandler) Logo(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, "logo", storage.MaxLogoSizeMB)
}

// Document handles POST /upload/document
func (h *UploadHandler) Document(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, "document", storage.MaxUploadSizeMB)
}

func (h *UploadHandler) upload(w http.ResponseWriter, r *http.Request, kind string, maxSizeMB int) {
	filename, data, err := readUpload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.files.Validate(int64(len(data)), filename, maxSizeMB); err != nil {
		writeError(w, r, err)
		return
	}
	if kind == "logo" && !storage.IsImage(filename) {
		writeError(w, r, tenancy.ErrLogoNotImage)
		return
	}

	url, err := h.files.Upload(r.Context(), data, filename, actorID(r), kind)
	if h.metrics != nil {
		h.metrics.RecordUpload(kind, err)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Message: "file uploaded successfully",
		URL:     url,
		Path:    h.files.PathFromURL(url),
	})
}

// List handles GET /upload/files?type=
func (h *UploadHandler) List(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("type")
	if kind != "" && kind != "logo" && kind != "document" {
		writeError(w, r, apperr.Validation("type must be logo or document"))
		return
	}

	files, err := h.files.List(r.Context(), actorID(r), kind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"files": files,
		"count": len(files),
	})
}

// Info handles GET /upload/info?url=
func (h *UploadHandler) Info(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if strings.TrimSpace(url) == "" {
		writeError(w, r, apperr.Validation("url is required"))
		return
	}

	file, err := h.files.Info(r.Context(), url, actorID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"file": file})
}

// Delete handles DELETE /upload/files
func (h *UploadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req deleteFileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, r, apperr.Validation("url is required"))
		return
	}

	if err := h.files.Delete(r.Context(), req.URL, actorID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "file deleted successfully"})
}

// ServeObject handles GET /storage/{bucket}/* for the in-memory bucket, so
// public URLs resolve when no external object store is configured.
func ServeObject(bucket *storage.MemoryBucket) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "bucket") != bucket.Name() {
			writeError(w, r, apperr.NotFound("file not found"))
			return
		}

		data, contentType, ok := bucket.Read(chi.URLParam(r, "*"))
		if !ok {
			writeError(w, r, apperr.NotFound("file not found"))
			return
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "max-age=3600")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
