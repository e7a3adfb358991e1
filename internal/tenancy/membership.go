package tenancy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tenantdesk/internal/apperr"
	"tenantdesk/internal/company"
	"tenantdesk/internal/user"
)

const cascadeSavepoint = "company_cascade"

// JoinCompanyByEmail links the actor to the company with the given contact
// email. The actor joins as a member.
func (m *Manager) JoinCompanyByEmail(ctx context.Context, actorID uuid.UUID, companyEmail string) (*company.Company, error) {
	companyEmail = normalizeEmail(companyEmail)
	if companyEmail == "" {
		return nil, ErrCompanyEmailEmpty
	}

	c, err := m.companies.GetByEmail(ctx, companyEmail)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCompanyNotFound
		}
		return nil, fmt.Errorf("failed to find company: %w", err)
	}

	if err := m.join(ctx, actorID, c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

// JoinCompany links userID to companyID. Users may only join on their own behalf.
func (m *Manager) JoinCompany(ctx context.Context, userID, companyID, actorID uuid.UUID) (*company.Company, error) {
	if userID != actorID {
		return nil, ErrNotSelf
	}
	if err := m.join(ctx, userID, companyID); err != nil {
		return nil, err
	}
	return m.getCompany(ctx, companyID)
}

// join locks the company and then the user, the same order every
// membership change uses.
func (m *Manager) join(ctx context.Context, userID, companyID uuid.UUID) error {
	return m.inTx(ctx, func(_ *sql.Tx, users *user.Datastore, companies *company.Datastore) error {
		if err := companies.Lock(ctx, companyID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrCompanyNotFound
			}
			return fmt.Errorf("failed to lock company: %w", err)
		}

		u, err := users.GetByIDForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("failed to get user: %w", err)
		}
		if u.CompanyID != nil {
			return ErrAlreadyInCompany
		}

		rowsAffected, err := users.LinkCompany(ctx, userID, companyID, user.RoleMember)
		if err != nil {
			return fmt.Errorf("failed to join company: %w", err)
		}
		if rowsAffected == 0 {
			return ErrAlreadyInCompany
		}
		return nil
	})
}

// LeaveCompany unlinks the user from their company. If they were its last
// member the company is deleted too; a failure of that step is reported in
// the result rather than failing the leave.
func (m *Manager) LeaveCompany(ctx context.Context, userID, actorID uuid.UUID) (*CascadeResult, error) {
	if userID != actorID {
		return nil, ErrNotSelf
	}

	u, err := m.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.CompanyID == nil {
		return nil, ErrNoCompany
	}
	companyID := *u.CompanyID

	result := &CascadeResult{}
	err = m.inTx(ctx, func(tx *sql.Tx, users *user.Datastore, companies *company.Datastore) error {
		companyExists, err := lockCompany(ctx, companies, companyID)
		if err != nil {
			return err
		}

		locked, err := users.GetByIDForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("failed to get user: %w", err)
		}
		if locked.CompanyID == nil {
			return ErrNoCompany
		}
		if *locked.CompanyID != companyID {
			return ErrMembershipChanged
		}

		if companyExists {
			if err := cascadeDelete(ctx, tx, companyID, result); err != nil {
				return err
			}
		}

		if _, err := users.ClearCompany(ctx, userID); err != nil {
			return fmt.Errorf("failed to leave company: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.PrimarySuccess = true
	return result, nil
}

// DeleteUser removes the user's own account. A company left without
// members is deleted on a best-effort basis.
func (m *Manager) DeleteUser(ctx context.Context, userID, actorID uuid.UUID) (*CascadeResult, error) {
	if userID != actorID {
		return nil, ErrNotSelf
	}

	u, err := m.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &CascadeResult{}
	err = m.inTx(ctx, func(tx *sql.Tx, users *user.Datastore, companies *company.Datastore) error {
		if u.CompanyID != nil {
			companyID := *u.CompanyID
			companyExists, err := lockCompany(ctx, companies, companyID)
			if err != nil {
				return err
			}

			locked, err := users.GetByIDForUpdate(ctx, userID)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ErrUserNotFound
				}
				return fmt.Errorf("failed to get user: %w", err)
			}
			if companyExists && locked.InCompany(companyID) {
				if err := cascadeDelete(ctx, tx, companyID, result); err != nil {
					return err
				}
			}
		}

		rowsAffected, err := users.Delete(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		if rowsAffected == 0 {
			return ErrUserNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.PrimarySuccess = true
	return result, nil
}

// lockCompany locks the company row. A missing company is not an error here.
func lockCompany(ctx context.Context, companies *company.Datastore, id uuid.UUID) (bool, error) {
	if err := companies.Lock(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to lock company: %w", err)
	}
	return true, nil
}

// cascadeDelete deletes the company if the departing user is its only
// member. It runs under a savepoint so a failure rolls back only this step
// and is recorded on result. An error is returned only when the
// transaction itself can no longer be used.
func cascadeDelete(ctx context.Context, tx *sql.Tx, companyID uuid.UUID, result *CascadeResult) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+cascadeSavepoint); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}

	rowsAffected, err := company.NewDatastore(tx).DeleteIfSoleMember(ctx, companyID)
	if err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+cascadeSavepoint); rbErr != nil {
			return fmt.Errorf("failed to roll back company cascade: %w", errors.Join(err, rbErr))
		}

		zerolog.Ctx(ctx).Warn().Err(err).
			Str("company_id", companyID.String()).
			Msg("company cascade delete failed")
		result.CascadeWarning = "company could not be deleted after its last member left"
		result.CascadeErr = err
		return nil
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+cascadeSavepoint); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}

	if rowsAffected > 0 {
		result.CompanyDeleted = true
		zerolog.Ctx(ctx).Info().
			Str("company_id", companyID.String()).
			Msg("deleted company after last member left")
	}
	return nil
}

// UpdateUserRole changes a member's role. Actor and target must share a
// company and the actor must be an admin or owner.
func (m *Manager) UpdateUserRole(ctx context.Context, userID uuid.UUID, newRole string, actorID uuid.UUID) (*user.User, error) {
	actor, err := m.getUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	target, err := m.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if actor.CompanyID == nil || !target.InCompany(*actor.CompanyID) {
		return nil, ErrNotSameCompany
	}
	if !user.CanManage(actor.Role) {
		return nil, ErrInsufficientRole
	}
	if !user.ValidRole(newRole) {
		return nil, ErrInvalidRole
	}

	rowsAffected, err := m.users.SetRole(ctx, userID, newRole)
	if err != nil {
		return nil, writeError("update role", err)
	}
	if rowsAffected == 0 {
		return nil, ErrUserNotFound
	}

	target.Role = newRole
	return target, nil
}

// GetUserWithCompany returns the user and their company, if any.
func (m *Manager) GetUserWithCompany(ctx context.Context, userID uuid.UUID) (*UserWithCompany, error) {
	u, err := m.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := &UserWithCompany{User: u}
	if u.CompanyID == nil {
		return out, nil
	}

	c, err := m.getCompany(ctx, *u.CompanyID)
	if err != nil {
		if errors.Is(err, ErrCompanyNotFound) {
			return out, nil
		}
		return nil, err
	}
	out.Company = c
	return out, nil
}

// GetUser returns a user visible to the actor: themselves or a member of
// the same company.
func (m *Manager) GetUser(ctx context.Context, userID, actorID uuid.UUID) (*user.User, error) {
	if userID == actorID {
		return m.getUser(ctx, userID)
	}

	actor, err := m.getUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	target, err := m.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if actor.CompanyID == nil || !target.InCompany(*actor.CompanyID) {
		return nil, ErrNotSameCompany
	}
	return target, nil
}

// UpdateUser changes the actor's own profile. Only full_name and email are
// accepted.
func (m *Manager) UpdateUser(ctx context.Context, userID, actorID uuid.UUID, fields map[string]any) (*user.User, error) {
	if userID != actorID {
		return nil, ErrNotSelf
	}

	fullName, err := profileField(fields, "full_name")
	if err != nil {
		return nil, err
	}
	email, err := profileField(fields, "email")
	if err != nil {
		return nil, err
	}
	if fullName == nil && email == nil {
		return nil, ErrNoValidFields
	}

	if email != nil {
		normalized := normalizeEmail(*email)
		email = &normalized

		taken, err := m.users.EmailTakenByOther(ctx, *email, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to check user email: %w", err)
		}
		if taken {
			return nil, ErrUserEmailTaken
		}
	}

	rowsAffected, err := m.users.UpdateProfile(ctx, userID, fullName, email)
	if err != nil {
		return nil, writeError("update user", err)
	}
	if rowsAffected == 0 {
		return nil, ErrUserNotFound
	}

	return m.getUser(ctx, userID)
}

func profileField(fields map[string]any, name string) (*string, error) {
	raw, ok := fields[name]
	if !ok {
		return nil, nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("%s must be a string", name))
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, apperr.Validation(fmt.Sprintf("%s cannot be empty", name))
	}
	return &s, nil
}

// CompleteOnboarding creates the actor's company, links them as owner and
// marks onboarding complete, all in one transaction.
func (m *Manager) CompleteOnboarding(ctx context.Context, actorID uuid.UUID, in CompanyInput) (*OnboardingResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	out := &OnboardingResult{}
	err := m.inTx(ctx, func(_ *sql.Tx, users *user.Datastore, companies *company.Datastore) error {
		c, u, err := createAndLink(ctx, users, companies, actorID, in)
		if err != nil {
			return err
		}
		if _, err := users.SetOnboardingCompleted(ctx, actorID, true); err != nil {
			return fmt.Errorf("failed to complete onboarding: %w", err)
		}
		u.OnboardingCompleted = true

		out.User = u
		out.Company = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SkipOnboarding marks onboarding complete without creating a company.
func (m *Manager) SkipOnboarding(ctx context.Context, actorID uuid.UUID) (*user.User, error) {
	rowsAffected, err := m.users.SetOnboardingCompleted(ctx, actorID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to skip onboarding: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrUserNotFound
	}
	return m.getUser(ctx, actorID)
}
