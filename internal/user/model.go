package user

import (
	"time"

	"github.com/google/uuid"
)

// User is an account in the tenant directory.
// The password hash is never serialized.
type User struct {
	ID                  uuid.UUID  `json:"id"`
	FullName            string     `json:"full_name"`
	Email               string     `json:"email"`
	PasswordHash        string     `json:"-"`
	Role                string     `json:"role"`
	CompanyID           *uuid.UUID `json:"company_id"`
	OnboardingCompleted bool       `json:"onboarding_completed"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Member is the view of a user exposed to other members of the same company.
type Member struct {
	ID        uuid.UUID `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Roles
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// CanManage reports whether a user with this role may change other users' roles
// and company billing state.
func CanManage(role string) bool {
	return role == RoleOwner || role == RoleAdmin
}

// InCompany reports whether u is linked to companyID.
func (u *User) InCompany(companyID uuid.UUID) bool {
	return u.CompanyID != nil && *u.CompanyID == companyID
}
