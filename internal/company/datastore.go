package company

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DBTX is the interface for database operations.
// Both *sql.DB and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Datastore handles persistence operations for companies.
// It performs only database operations and returns raw errors.
// Business rules and error translation belong in the tenancy Manager.
type Datastore struct {
	db DBTX
}

// NewDatastore creates a new company datastore.
func NewDatastore(db DBTX) *Datastore {
	return &Datastore{db: db}
}

const companyColumns = `id, company_name, owner_name, email, phone, website, description,
		logo_url, pricing_document_url, selected_plan, plan_details,
		payment_status, subscription_status, subscription_start_date,
		ai_training_status, ai_training_completed_at, created_at, updated_at`

func scanCompany(row interface{ Scan(...any) error }) (*Company, error) {
	c := &Company{}
	var (
		website, description, logoURL, docURL sql.NullString
		planDetails                           []byte
		subStart, trainedAt                   sql.NullTime
	)
	if err := row.Scan(
		&c.ID, &c.CompanyName, &c.OwnerName, &c.Email, &c.Phone, &website, &description,
		&logoURL, &docURL, &c.SelectedPlan, &planDetails,
		&c.PaymentStatus, &c.SubscriptionStatus, &subStart,
		&c.AITrainingStatus, &trainedAt, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}

	c.Website = stringPtr(website)
	c.Description = stringPtr(description)
	c.LogoURL = stringPtr(logoURL)
	c.PricingDocumentURL = stringPtr(docURL)
	if len(planDetails) > 0 {
		c.PlanDetails = planDetails
	}
	c.SubscriptionStartDate = timePtr(subStart)
	c.AITrainingCompletedAt = timePtr(trainedAt)
	return c, nil
}

// Create inserts a new company. ID and status defaults are filled in when unset.
func (ds *Datastore) Create(ctx context.Context, c *Company) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.SelectedPlan == "" {
		c.SelectedPlan = DefaultPlan
	}
	if c.PaymentStatus == "" {
		c.PaymentStatus = PaymentPending
	}
	if c.SubscriptionStatus == "" {
		c.SubscriptionStatus = SubscriptionTrial
	}
	if c.AITrainingStatus == "" {
		c.AITrainingStatus = TrainingPending
	}
	now := time.Now()

	var planDetails any
	if len(c.PlanDetails) > 0 {
		planDetails = []byte(c.PlanDetails)
	}

	query := `
		INSERT INTO companies (id, company_name, owner_name, email, phone, website, description,
			logo_url, pricing_document_url, selected_plan, plan_details,
			payment_status, subscription_status, ai_training_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at, updated_at`

	return ds.db.QueryRowContext(ctx, query,
		c.ID, c.CompanyName, c.OwnerName, c.Email, c.Phone, c.Website, c.Description,
		c.LogoURL, c.PricingDocumentURL, c.SelectedPlan, planDetails, c.PaymentStatus, c.SubscriptionStatus, c.AITrainingStatus,
		now, now,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

// GetByID retrieves a company by its ID.
// Returns sql.ErrNoRows if not found.
func (ds *Datastore) GetByID(ctx context.Context, id uuid.UUID) (*Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE id = $1`
	return scanCompany(ds.db.QueryRowContext(ctx, query, id))
}

// GetByEmail retrieves a company by its contact email, ignoring case.
// Returns sql.ErrNoRows if not found.
func (ds *Datastore) GetByEmail(ctx context.Context, email string) (*Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE lower(email) = lower($1)`
	return scanCompany(ds.db.QueryRowContext(ctx, query, email))
}

// EmailInUse reports whether any company other than exclude uses email,
// compared case-insensitively. Pass uuid.Nil to check against all companies.
func (ds *Datastore) EmailInUse(ctx context.Context, email string, exclude uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM companies WHERE lower(email) = lower($1) AND id <> $2)`
	var exists bool
	err := ds.db.QueryRowContext(ctx, query, email, exclude).Scan(&exists)
	return exists, err
}

// Lock takes a row lock on the company for the rest of the transaction.
// Membership changes serialize on this lock.
// Returns sql.ErrNoRows if the company does not exist.
func (ds *Datastore) Lock(ctx context.Context, id uuid.UUID) error {
	var locked uuid.UUID
	return ds.db.QueryRowContext(ctx, `SELECT id FROM companies WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
}

// Update applies the given column changes. Column names must come from
// UpdatableFields; anything else is rejected.
// Returns rows affected count for caller to interpret.
func (ds *Datastore) Update(ctx context.Context, id uuid.UUID, changes []Change) (int64, error) {
	if len(changes) == 0 {
		return 0, fmt.Errorf("no changes to apply")
	}

	sets := make([]string, 0, len(changes)+1)
	args := make([]any, 0, len(changes)+1)
	args = append(args, id)
	for _, ch := range changes {
		if !updatable(ch.Column) {
			return 0, fmt.Errorf("column %q is not updatable", ch.Column)
		}
		args = append(args, ch.Value)
		sets = append(sets, fmt.Sprintf("%s = $%d", ch.Column, len(args)))
	}
	sets = append(sets, "updated_at = NOW()")

	query := `UPDATE companies SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`

	result, err := ds.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// SetPaymentStatus updates the billing pair. An empty subscription keeps the
// current value; startDate is only written when non-nil.
func (ds *Datastore) SetPaymentStatus(ctx context.Context, id uuid.UUID, payment, subscription string, startDate *time.Time) (int64, error) {
	query := `
		UPDATE companies
		SET payment_status = $2,
		    subscription_status = COALESCE(NULLIF($3, ''), subscription_status),
		    subscription_start_date = COALESCE($4, subscription_start_date),
		    updated_at = NOW()
		WHERE id = $1`

	result, err := ds.db.ExecContext(ctx, query, id, payment, subscription, startDate)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// SetTrainingStatus updates the AI training state. completedAt is only written when non-nil.
func (ds *Datastore) SetTrainingStatus(ctx context.Context, id uuid.UUID, status string, completedAt *time.Time) (int64, error) {
	query := `
		UPDATE companies
		SET ai_training_status = $2,
		    ai_training_completed_at = COALESCE($3, ai_training_completed_at),
		    updated_at = NOW()
		WHERE id = $1`

	result, err := ds.db.ExecContext(ctx, query, id, status, completedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteIfSoleMember deletes the company only while it has at most one
// member. The count and the delete run as a single statement.
// Returns 0 rows affected if the company is missing or has several members.
func (ds *Datastore) DeleteIfSoleMember(ctx context.Context, id uuid.UUID) (int64, error) {
	query := `
		DELETE FROM companies
		WHERE id = $1
		  AND (SELECT COUNT(*) FROM users WHERE company_id = $1) <= 1`

	result, err := ds.db.ExecContext(ctx, query, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func updatable(column string) bool {
	for _, f := range UpdatableFields {
		if f == column {
			return true
		}
	}
	return false
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
