package tenancy

import (
	"encoding/json"
	"strings"

	"tenantdesk/internal/company"
	"tenantdesk/internal/user"
)

// CompanyInput carries the fields accepted when a company is created.
type CompanyInput struct {
	CompanyName  string          `json:"company_name"`
	OwnerName    string          `json:"owner_name"`
	Email        string          `json:"email"`
	Phone        string          `json:"phone"`
	Website      *string         `json:"website"`
	Description  *string         `json:"description"`
	SelectedPlan string          `json:"selected_plan"`
	PlanDetails  json.RawMessage `json:"plan_details"`

	LogoURL            *string `json:"logo_url"`
	PricingDocumentURL *string `json:"pricing_document_url"`
}

// validate checks the required fields. Values are stored as submitted;
// blank-only strings count as missing.
func (in *CompanyInput) validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"company_name", in.CompanyName},
		{"owner_name", in.OwnerName},
		{"email", in.Email},
		{"phone", in.Phone},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return missingFields(missing)
	}
	return nil
}

func (in *CompanyInput) toCompany() *company.Company {
	return &company.Company{
		CompanyName:  in.CompanyName,
		OwnerName:    in.OwnerName,
		Email:        in.Email,
		Phone:        in.Phone,
		Website:      in.Website,
		Description:  in.Description,
		SelectedPlan: in.SelectedPlan,
		PlanDetails:  in.PlanDetails,

		LogoURL:            in.LogoURL,
		PricingDocumentURL: in.PricingDocumentURL,
	}
}

// CascadeResult reports the outcome of a membership removal. The primary
// action (leaving, deleting the account) either succeeds or returns an
// error; the company cascade is best-effort and its failure is surfaced
// here instead of failing the request.
type CascadeResult struct {
	PrimarySuccess bool   `json:"primary_success"`
	CompanyDeleted bool   `json:"company_deleted"`
	CascadeWarning string `json:"cascade_warning,omitempty"`

	// CascadeErr holds the underlying failure behind CascadeWarning.
	CascadeErr error `json:"-"`
}

// UserWithCompany is a user joined with their company, if any.
type UserWithCompany struct {
	User    *user.User       `json:"user"`
	Company *company.Company `json:"company"`
}

// OnboardingResult is returned by CompleteOnboarding.
type OnboardingResult struct {
	User    *user.User       `json:"user"`
	Company *company.Company `json:"company"`
}

// AssetUpload is a file destined for a company asset slot.
type AssetUpload struct {
	Filename string
	Data     []byte
}

// AssetResult is the outcome of replacing a company asset.
type AssetResult struct {
	URL     string           `json:"url"`
	Company *company.Company `json:"company"`

	// CleanupErr is set when the previous file could not be removed.
	CleanupErr error `json:"-"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
