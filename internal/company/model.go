package company

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Company is a tenant. Every user belongs to at most one.
type Company struct {
	ID                    uuid.UUID       `json:"id"`
	CompanyName           string          `json:"company_name"`
	OwnerName             string          `json:"owner_name"`
	Email                 string          `json:"email"`
	Phone                 string          `json:"phone"`
	Website               *string         `json:"website"`
	Description           *string         `json:"description"`
	LogoURL               *string         `json:"logo_url"`
	PricingDocumentURL    *string         `json:"pricing_document_url"`
	SelectedPlan          string          `json:"selected_plan"`
	PlanDetails           json.RawMessage `json:"plan_details,omitempty"`
	PaymentStatus         string          `json:"payment_status"`
	SubscriptionStatus    string          `json:"subscription_status"`
	SubscriptionStartDate *time.Time      `json:"subscription_start_date"`
	AITrainingStatus      string          `json:"ai_training_status"`
	AITrainingCompletedAt *time.Time      `json:"ai_training_completed_at"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// DefaultPlan is assigned when onboarding does not pick a plan.
const DefaultPlan = "professional"

// Payment statuses
const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentFailed   = "failed"
	PaymentRefunded = "refunded"
)

// Subscription statuses
const (
	SubscriptionTrial     = "trial"
	SubscriptionActive    = "active"
	SubscriptionCancelled = "cancelled"
	SubscriptionExpired   = "expired"
)

// AI training statuses
const (
	TrainingPending    = "pending"
	TrainingInProgress = "in_progress"
	TrainingCompleted  = "completed"
	TrainingFailed     = "failed"
)

// ValidPaymentStatus reports whether s is a known payment status.
func ValidPaymentStatus(s string) bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// ValidSubscriptionStatus reports whether s is a known subscription status.
func ValidSubscriptionStatus(s string) bool {
	switch s {
	case SubscriptionTrial, SubscriptionActive, SubscriptionCancelled, SubscriptionExpired:
		return true
	}
	return false
}

// ValidTrainingStatus reports whether s is a known AI training status.
func ValidTrainingStatus(s string) bool {
	switch s {
	case TrainingPending, TrainingInProgress, TrainingCompleted, TrainingFailed:
		return true
	}
	return false
}

// UpdatableFields is the allow-list of columns a member may change through
// a profile update. Order is stable so generated SQL is deterministic.
var UpdatableFields = []string{
	"company_name",
	"owner_name",
	"email",
	"phone",
	"website",
	"description",
	"logo_url",
	"pricing_document_url",
}

// requiredFields may not be cleared by an update.
var requiredFields = map[string]bool{
	"company_name": true,
	"owner_name":   true,
	"email":        true,
	"phone":        true,
}

// IsRequired reports whether column must stay non-empty.
func IsRequired(column string) bool {
	return requiredFields[column]
}

// Change is a single column assignment produced from an allow-listed update.
type Change struct {
	Column string
	Value  *string
}

// Asset identifies a company file slot backed by object storage.
type Asset string

const (
	AssetLogo            Asset = "logo"
	AssetPricingDocument Asset = "document"
)

// Column returns the companies column holding the asset URL.
func (a Asset) Column() string {
	if a == AssetLogo {
		return "logo_url"
	}
	return "pricing_document_url"
}

// URL returns the current URL stored for asset, or "".
func (c *Company) URL(a Asset) string {
	var v *string
	if a == AssetLogo {
		v = c.LogoURL
	} else {
		v = c.PricingDocumentURL
	}
	if v == nil {
		return ""
	}
	return *v
}
