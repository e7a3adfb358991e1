package user

import (
	"context"
	"database/sql"
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

// Datastore handles database operations for users.
// It performs only database operations and returns raw errors.
type Datastore struct {
	db DBTX
}

// NewDatastore creates a new user datastore.
func NewDatastore(db DBTX) *Datastore {
	return &Datastore{db: db}
}

const userColumns = `id, full_name, email, password_hash, role, company_id, onboarding_completed, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	u := &User{}
	var companyID uuid.NullUUID
	if err := row.Scan(
		&u.ID, &u.FullName, &u.Email, &u.PasswordHash, &u.Role,
		&companyID, &u.OnboardingCompleted, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if companyID.Valid {
		id := companyID.UUID
		u.CompanyID = &id
	}
	return u, nil
}

// Create inserts a new user. ID is generated when unset.
func (ds *Datastore) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now()

	query := `
		INSERT INTO users (id, full_name, email, password_hash, role, company_id, onboarding_completed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	return ds.db.QueryRowContext(ctx, query,
		u.ID, u.FullName, u.Email, u.PasswordHash, u.Role,
		nullUUID(u.CompanyID), u.OnboardingCompleted, now, now,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
}

// GetByID retrieves a user by ID.
// Returns sql.ErrNoRows if not found.
func (ds *Datastore) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(ds.db.QueryRowContext(ctx, query, id))
}

// GetByIDForUpdate retrieves a user and locks the row until the
// surrounding transaction ends.
func (ds *Datastore) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`
	return scanUser(ds.db.QueryRowContext(ctx, query, id))
}

// GetByEmail retrieves a user by email.
// Returns sql.ErrNoRows if not found.
func (ds *Datastore) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(ds.db.QueryRowContext(ctx, query, email))
}

// EmailTakenByOther reports whether another user already uses email.
func (ds *Datastore) EmailTakenByOther(ctx context.Context, email string, id uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1 AND id <> $2)`
	var exists bool
	err := ds.db.QueryRowContext(ctx, query, email, id).Scan(&exists)
	return exists, err
}

// UpdateProfile sets the non-nil profile fields.
// Returns rows affected count for caller to interpret.
func (ds *Datastore) UpdateProfile(ctx context.Context, id uuid.UUID, fullName, email *string) (int64, error) {
	query := `
		UPDATE users
		SET full_name = COALESCE($2, full_name),
		    email = COALESCE($3, email),
		    updated_at = NOW()
		WHERE id = $1`

	result, err := ds.db.ExecContext(ctx, query, id, fullName, email)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// LinkCompany links a user that has no company to companyID.
// Returns 0 rows affected if the user does not exist or already has a company.
func (ds *Datastore) LinkCompany(ctx context.Context, id, companyID uuid.UUID, role string) (int64, error) {
	query := `
		UPDATE users
		SET company_id = $2, role = $3, updated_at = NOW()
		WHERE id = $1 AND company_id IS NULL`

	result, err := ds.db.ExecContext(ctx, query, id, companyID, role)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ClearCompany unlinks a user from their company.
func (ds *Datastore) ClearCompany(ctx context.Context, id uuid.UUID) (int64, error) {
	query := `UPDATE users SET company_id = NULL, updated_at = NOW() WHERE id = $1`
	result, err := ds.db.ExecContext(ctx, query, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// SetRole updates a user's role.
func (ds *Datastore) SetRole(ctx context.Context, id uuid.UUID, role string) (int64, error) {
	query := `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`
	result, err := ds.db.ExecContext(ctx, query, id, role)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// SetOnboardingCompleted marks onboarding as finished (or not).
func (ds *Datastore) SetOnboardingCompleted(ctx context.Context, id uuid.UUID, completed bool) (int64, error) {
	query := `UPDATE users SET onboarding_completed = $2, updated_at = NOW() WHERE id = $1`
	result, err := ds.db.ExecContext(ctx, query, id, completed)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Delete removes a user.
func (ds *Datastore) Delete(ctx context.Context, id uuid.UUID) (int64, error) {
	query := `DELETE FROM users WHERE id = $1`
	result, err := ds.db.ExecContext(ctx, query, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListByCompany retrieves the members of a company, oldest first.
func (ds *Datastore) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*Member, error) {
	query := `
		SELECT id, full_name, email, role, created_at
		FROM users WHERE company_id = $1
		ORDER BY created_at ASC`

	rows, err := ds.db.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var members []*Member
	for rows.Next() {
		m := &Member{}
		if err := rows.Scan(&m.ID, &m.FullName, &m.Email, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
