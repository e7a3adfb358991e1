// Package tenancy enforces who may act on which company and user records,
// and performs the cascading follow-ups of membership changes.
package tenancy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tenantdesk/internal/apperr"
	"tenantdesk/internal/company"
	"tenantdesk/internal/database"
	"tenantdesk/internal/user"
)

// FileStore is the subset of storage.Intake used for company assets.
type FileStore interface {
	Validate(size int64, filename string, maxSizeMB int) error
	Upload(ctx context.Context, data []byte, filename string, userID uuid.UUID, kind string) (string, error)
	Delete(ctx context.Context, url string, userID uuid.UUID) error
}

// Manager handles the business rules for companies and their members.
// It coordinates datastore calls and translates their errors to domain errors.
type Manager struct {
	db        *sql.DB
	users     *user.Datastore
	companies *company.Datastore
	files     FileStore

	now func() time.Time
}

// NewManager creates a tenancy manager. Multi-step writes run in
// transactions on db.
func NewManager(db *sql.DB, files FileStore) *Manager {
	return &Manager{
		db:        db,
		users:     user.NewDatastore(db),
		companies: company.NewDatastore(db),
		files:     files,
		now:       time.Now,
	}
}

// inTx runs fn with datastores bound to a single transaction.
func (m *Manager) inTx(ctx context.Context, fn func(tx *sql.Tx, users *user.Datastore, companies *company.Datastore) error) error {
	return database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		return fn(tx, user.NewDatastore(tx), company.NewDatastore(tx))
	})
}

func (m *Manager) getUser(ctx context.Context, id uuid.UUID) (*user.User, error) {
	u, err := m.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// requireMember returns the actor if they belong to companyID.
func (m *Manager) requireMember(ctx context.Context, companyID, actorID uuid.UUID) (*user.User, error) {
	actor, err := m.getUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.InCompany(companyID) {
		return nil, ErrNotCompanyMember
	}
	return actor, nil
}

func (m *Manager) getCompany(ctx context.Context, id uuid.UUID) (*company.Company, error) {
	c, err := m.companies.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCompanyNotFound
		}
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return c, nil
}

// CreateCompany creates a company and links the actor to it as owner.
// Both writes share a transaction, so a failed link leaves no company behind.
func (m *Manager) CreateCompany(ctx context.Context, actorID uuid.UUID, in CompanyInput) (*company.Company, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var created *company.Company
	err := m.inTx(ctx, func(_ *sql.Tx, users *user.Datastore, companies *company.Datastore) error {
		c, _, err := createAndLink(ctx, users, companies, actorID, in)
		created = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// createAndLink inserts the company and makes the actor its owner. The actor
// row stays locked until the surrounding transaction ends.
func createAndLink(ctx context.Context, users *user.Datastore, companies *company.Datastore, actorID uuid.UUID, in CompanyInput) (*company.Company, *user.User, error) {
	actor, err := users.GetByIDForUpdate(ctx, actorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, fmt.Errorf("failed to get user: %w", err)
	}
	if actor.CompanyID != nil {
		return nil, nil, ErrAlreadyInCompany
	}

	taken, err := companies.EmailInUse(ctx, in.Email, uuid.Nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check company email: %w", err)
	}
	if taken {
		return nil, nil, ErrCompanyEmailTaken
	}

	c := in.toCompany()
	if err := companies.Create(ctx, c); err != nil {
		return nil, nil, writeError("create company", err)
	}

	rowsAffected, err := users.LinkCompany(ctx, actorID, c.ID, user.RoleOwner)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to link user to company: %w", err)
	}
	if rowsAffected == 0 {
		return nil, nil, ErrAlreadyInCompany
	}

	actor.CompanyID = &c.ID
	actor.Role = user.RoleOwner
	return c, actor, nil
}

// GetCompany returns a company the actor belongs to.
func (m *Manager) GetCompany(ctx context.Context, companyID, actorID uuid.UUID) (*company.Company, error) {
	if _, err := m.requireMember(ctx, companyID, actorID); err != nil {
		return nil, err
	}
	return m.getCompany(ctx, companyID)
}

// UpdateCompany applies the allow-listed fields and returns the updated
// company. Unknown fields are ignored.
func (m *Manager) UpdateCompany(ctx context.Context, companyID, actorID uuid.UUID, fields map[string]any) (*company.Company, error) {
	if _, err := m.requireMember(ctx, companyID, actorID); err != nil {
		return nil, err
	}

	changes, err := companyChanges(fields)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, ErrNoValidFields
	}

	for _, ch := range changes {
		if ch.Column != "email" {
			continue
		}
		taken, err := m.companies.EmailInUse(ctx, *ch.Value, companyID)
		if err != nil {
			return nil, fmt.Errorf("failed to check company email: %w", err)
		}
		if taken {
			return nil, ErrCompanyEmailTaken
		}
	}

	rowsAffected, err := m.companies.Update(ctx, companyID, changes)
	if err != nil {
		return nil, writeError("update company", err)
	}
	if rowsAffected == 0 {
		return nil, ErrCompanyNotFound
	}

	return m.getCompany(ctx, companyID)
}

// companyChanges filters fields through the company allow-list.
func companyChanges(fields map[string]any) ([]company.Change, error) {
	var changes []company.Change
	for _, column := range company.UpdatableFields {
		raw, ok := fields[column]
		if !ok {
			continue
		}

		var value *string
		switch v := raw.(type) {
		case nil:
		case string:
			if strings.TrimSpace(v) != "" {
				value = &v
			}
		default:
			return nil, apperr.Validation(fmt.Sprintf("%s must be a string", column))
		}

		if value == nil && company.IsRequired(column) {
			return nil, apperr.Validation(fmt.Sprintf("%s cannot be empty", column))
		}
		changes = append(changes, company.Change{Column: column, Value: value})
	}
	return changes, nil
}

// DeleteCompany deletes a company that has at most one member. When actorID
// is set the actor must belong to the company.
func (m *Manager) DeleteCompany(ctx context.Context, companyID uuid.UUID, actorID *uuid.UUID) error {
	if actorID != nil {
		if _, err := m.requireMember(ctx, companyID, *actorID); err != nil {
			return err
		}
	}

	return m.inTx(ctx, func(_ *sql.Tx, _ *user.Datastore, companies *company.Datastore) error {
		if err := companies.Lock(ctx, companyID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrCompanyNotFound
			}
			return fmt.Errorf("failed to lock company: %w", err)
		}

		rowsAffected, err := companies.DeleteIfSoleMember(ctx, companyID)
		if err != nil {
			return fmt.Errorf("failed to delete company: %w", err)
		}
		if rowsAffected == 0 {
			return ErrCompanyHasMembers
		}
		return nil
	})
}

// GetCompanyUsers lists the members of a company the actor belongs to.
func (m *Manager) GetCompanyUsers(ctx context.Context, companyID, actorID uuid.UUID) ([]*user.Member, error) {
	if _, err := m.requireMember(ctx, companyID, actorID); err != nil {
		return nil, err
	}

	members, err := m.users.ListByCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list company users: %w", err)
	}
	if members == nil {
		members = []*user.Member{}
	}
	return members, nil
}

// UpdatePaymentStatus records a billing transition. Only admins and owners
// may change it. Moving to paid and active stamps the subscription start.
func (m *Manager) UpdatePaymentStatus(ctx context.Context, companyID, actorID uuid.UUID, payment, subscription string) (*company.Company, error) {
	actor, err := m.requireMember(ctx, companyID, actorID)
	if err != nil {
		return nil, err
	}
	if !user.CanManage(actor.Role) {
		return nil, ErrInsufficientRole
	}

	if !company.ValidPaymentStatus(payment) {
		return nil, apperr.Validation("invalid payment_status")
	}
	if subscription != "" && !company.ValidSubscriptionStatus(subscription) {
		return nil, apperr.Validation("invalid subscription_status")
	}

	var startDate *time.Time
	if payment == company.PaymentPaid && subscription == company.SubscriptionActive {
		now := m.now().UTC()
		startDate = &now
	}

	rowsAffected, err := m.companies.SetPaymentStatus(ctx, companyID, payment, subscription, startDate)
	if err != nil {
		return nil, fmt.Errorf("failed to update payment status: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrCompanyNotFound
	}

	return m.getCompany(ctx, companyID)
}

// UpdateAITrainingStatus records the assistant training state. Completion is
// timestamped.
func (m *Manager) UpdateAITrainingStatus(ctx context.Context, companyID, actorID uuid.UUID, status string) (*company.Company, error) {
	if _, err := m.requireMember(ctx, companyID, actorID); err != nil {
		return nil, err
	}
	if !company.ValidTrainingStatus(status) {
		return nil, apperr.Validation("invalid ai_training_status")
	}

	var completedAt *time.Time
	if status == company.TrainingCompleted {
		now := m.now().UTC()
		completedAt = &now
	}

	rowsAffected, err := m.companies.SetTrainingStatus(ctx, companyID, status, completedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update ai training status: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrCompanyNotFound
	}

	return m.getCompany(ctx, companyID)
}

// writeError maps constraint violations raised by a write to domain errors.
func writeError(action string, err error) error {
	if constraint, ok := database.UniqueViolation(err); ok {
		switch constraint {
		case "companies_email_lower_key":
			return ErrCompanyEmailTaken
		case "users_email_key":
			return ErrUserEmailTaken
		}
		return apperr.Conflict("record already exists")
	}
	if database.IsCheckViolation(err) {
		return apperr.Validation("invalid field value")
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}
