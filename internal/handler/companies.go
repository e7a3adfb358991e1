package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"tenantdesk/internal/company"
	"tenantdesk/internal/metrics"
	"tenantdesk/internal/tenancy"
)

// CompanyHandler serves company CRUD, membership listing and assets.
type CompanyHandler struct {
	manager *tenancy.Manager
	metrics *metrics.Collector
}

// NewCompanyHandler creates a new company handler. collector may be nil.
func NewCompanyHandler(manager *tenancy.Manager, collector *metrics.Collector) *CompanyHandler {
	return &CompanyHandler{manager: manager, metrics: collector}
}

type joinCompanyRequest struct {
	CompanyEmail string `json:"company_email"`
}

type paymentStatusRequest struct {
	PaymentStatus      string `json:"payment_status"`
	SubscriptionStatus string `json:"subscription_status"`
}

type trainingStatusRequest struct {
	Status string `json:"ai_training_status"`
}

// Create handles POST /companies
func (h *CompanyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req tenancy.CompanyInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.manager.CreateCompany(r.Context(), actorID(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"company": c})
}

// Get handles GET /companies/{id}
func (h *CompanyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.manager.GetCompany(r.Context(), id, actorID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"company": c})
}

// Update handles PUT /companies/{id}
func (h *CompanyHandler) Update(w http.ResponseWriter, r *http.Request) {
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

	c, err := h.manager.UpdateCompany(r.Context(), id, actorID(r), fields)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"company": c})
}

// Delete handles DELETE /companies/{id}
func (h *CompanyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	actor := actorID(r)
	if err := h.manager.DeleteCompany(r.Context(), id, &actor); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "company deleted successfully"})
}

// Users handles GET /companies/{id}/users
func (h *CompanyHandler) Users(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	members, err := h.manager.GetCompanyUsers(r.Context(), id, actorID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": members})
}

// Join handles POST /companies/join
func (h *CompanyHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinCompanyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.manager.JoinCompanyByEmail(r.Context(), actorID(r), req.CompanyEmail)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"company": c})
}

// PaymentStatus handles PUT /companies/{id}/payment-status
func (h *CompanyHandler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req paymentStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.manager.UpdatePaymentStatus(r.Context(), id, actorID(r), req.PaymentStatus, req.SubscriptionStatus)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"company": c})
}

// TrainingStatus handles PUT /companies/{id}/ai-training-status
func (h *CompanyHandler) TrainingStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req trainingStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.manager.UpdateAITrainingStatus(r.Context(), id, actorID(r), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"company": c})
}

// Logo handles POST /companies/{id}/logo
func (h *CompanyHandler) Logo(w http.ResponseWriter, r *http.Request) {
	h.setAsset(w, r, company.AssetLogo)
}

// PricingDocument handles POST /companies/{id}/pricing-document
func (h *CompanyHandler) PricingDocument(w http.ResponseWriter, r *http.Request) {
	h.setAsset(w, r, company.AssetPricingDocument)
}

func (h *CompanyHandler) setAsset(w http.ResponseWriter, r *http.Request, asset company.Asset) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	filename, data, err := readUpload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.manager.SetCompanyAsset(r.Context(), id, actorID(r), asset, tenancy.AssetUpload{
		Filename: filename,
		Data:     data,
	})
	if h.metrics != nil {
		h.metrics.RecordUpload(string(asset), err)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if result.CleanupErr != nil {
		zerolog.Ctx(r.Context()).Warn().Err(result.CleanupErr).
			Str("company_id", id.String()).
			Str("asset", string(asset)).
			Msg("failed to remove previous company file")
	}
	writeJSON(w, http.StatusOK, result)
}
