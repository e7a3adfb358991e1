package tenancy

import (
	"strings"

	"tenantdesk/internal/apperr"
)

// Domain errors returned by the Manager.
var (
	ErrUserNotFound      = apperr.NotFound("user not found")
	ErrCompanyNotFound   = apperr.NotFound("company not found")
	ErrNotCompanyMember  = apperr.Authorization("unauthorized to access this company")
	ErrNotSelf           = apperr.Authorization("unauthorized to modify this user")
	ErrNotSameCompany    = apperr.Authorization("users must belong to the same company")
	ErrInsufficientRole  = apperr.Authorization("only admins and owners can perform this action")
	ErrCompanyEmailTaken = apperr.Conflict("company with this email already exists")
	ErrUserEmailTaken    = apperr.Conflict("email already in use")
	ErrCompanyHasMembers = apperr.Conflict("cannot delete company with multiple users")
	ErrAlreadyInCompany  = apperr.Conflict("user already belongs to a company, leave current company first")
	ErrMembershipChanged = apperr.Conflict("company membership changed, try again")
	ErrNoValidFields     = apperr.Validation("no valid fields to update")
	ErrNoCompany         = apperr.Validation("user is not part of any company")
	ErrInvalidRole       = apperr.Validation("invalid role: must be member, admin, or owner")
	ErrCompanyEmailEmpty = apperr.Validation("company_email is required")
	ErrLogoNotImage      = apperr.Validation("logo must be an image file (JPG, PNG, GIF, or WebP)")
)

func missingFields(fields []string) error {
	return apperr.Validation("missing required fields: " + strings.Join(fields, ", "))
}
