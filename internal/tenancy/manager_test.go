package tenancy

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"tenantdesk/internal/apperr"
	"tenantdesk/internal/company"
	"tenantdesk/internal/storage"
	"tenantdesk/internal/user"
)

var userColumns = []string{
	"id", "full_name", "email", "password_hash", "role", "company_id",
	"onboarding_completed", "created_at", "updated_at",
}

var companyColumns = []string{
	"id", "company_name", "owner_name", "email", "phone", "website", "description",
	"logo_url", "pricing_document_url", "selected_plan", "plan_details",
	"payment_status", "subscription_status", "subscription_start_date",
	"ai_training_status", "ai_training_completed_at", "created_at", "updated_at",
}

const (
	selectUser           = `SELECT .+ FROM users WHERE id = \$1`
	selectUserForUpdate  = `SELECT .+ FROM users WHERE id = \$1 FOR UPDATE`
	selectCompany        = `SELECT .+ FROM companies WHERE id = \$1`
	selectCompanyByEmail = `SELECT .+ FROM companies WHERE lower\(email\) = lower\(\$1\)`
	companyEmailInUse    = `SELECT EXISTS\(SELECT 1 FROM companies WHERE lower\(email\) = lower\(\$1\) AND id <> \$2\)`
	lockCompanyRow       = `SELECT id FROM companies WHERE id = \$1 FOR UPDATE`
	deleteSoleMember     = `DELETE FROM companies\s+WHERE id = \$1\s+AND \(SELECT COUNT`
)

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	intake := storage.NewIntake(storage.NewMemoryBucket("company-assets"), "https://cdn.test")
	return NewManager(db, intake), mock
}

func userRows(id uuid.UUID, companyID *uuid.UUID, role string) *sqlmock.Rows {
	var cid any
	if companyID != nil {
		cid = companyID.String()
	}
	now := time.Now()
	return sqlmock.NewRows(userColumns).AddRow(
		id.String(), "Road Runner", "rr@acme.test", "hash", role, cid, false, now, now,
	)
}

func companyRows(id uuid.UUID, email string, logoURL any) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(companyColumns).AddRow(
		id.String(), "Acme", "Wile E.", email, "555-0100", "https://acme.test", nil,
		logoURL, nil, company.DefaultPlan, nil,
		company.PaymentPending, company.SubscriptionTrial, nil,
		company.TrainingPending, nil, now, now,
	)
}

func validInput() CompanyInput {
	website := "https://acme.test"
	return CompanyInput{
		CompanyName: "Acme",
		OwnerName:   "Wile E.",
		Email:       "Hello@Acme.test",
		Phone:       "555-0100",
		Website:     &website,
	}
}

// captureArg matches any value and remembers it.
type captureArg struct {
	value driver.Value
}

func (c *captureArg) Match(v driver.Value) bool {
	c.value = v
	return true
}

func expectMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestManager_CreateCompany_Success(t *testing.T) {
	m, mock := newTestManager(t)
	actorID := uuid.New()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(selectUserForUpdate).WithArgs(actorID).
		WillReturnRows(userRows(actorID, nil, user.RoleOwner))
	mock.ExpectQuery(companyEmailInUse).
		WithArgs("Hello@Acme.test", uuid.Nil).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`INSERT INTO companies`).
		WithArgs(sqlmock.AnyArg(), "Acme", "Wile E.", "Hello@Acme.test", "555-0100", "https://acme.test", nil,
			nil, nil, company.DefaultPlan, nil, company.PaymentPending, company.SubscriptionTrial, company.TrainingPending,
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec(`UPDATE users\s+SET company_id = \$2, role = \$3`).
		WithArgs(actorID, sqlmock.AnyArg(), user.RoleOwner).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c, err := m.CreateCompany(context.Background(), actorID, validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.ID == uuid.Nil {
		t.Error("expected company ID")
	}
	if c.Email != "Hello@Acme.test" {
		t.Errorf("email rewritten: %q", c.Email)
	}
	if c.Website == nil || *c.Website != "https://acme.test" {
		t.Errorf("unexpected website %v", c.Website)
	}

	expectMet(t, mock)
}

func TestManager_CreateCompany_MissingFields(t *testing.T) {
	m, mock := newTestManager(t)

	_, err := m.CreateCompany(context.Background(), uuid.New(), CompanyInput{OwnerName: "x", Phone: "  "})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := err.Error(); got != "missing required fields: company_name, email, phone" {
		t.Errorf("unexpected message %q", got)
	}

	expectMet(t, mock)
}

func TestManager_CreateCompany_DuplicateEmailCreatesNothing(t *testing.T) {
	m, mock := newTestManager(t)
	actorID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(selectUserForUpdate).WithArgs(actorID).
		WillReturnRows(userRows(actorID, nil, user.RoleOwner))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("Hello@Acme.test", uuid.Nil).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := m.CreateCompany(context.Background(), actorID, validInput())
	if !errors.Is(err, ErrCompanyEmailTaken) {
		t.Fatalf("expected ErrCompanyEmailTaken, got %v", err)
	}
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict kind, got %v", err)
	}

	// No INSERT was expected; ExpectationsWereMet would fail on one.
	expectMet(t, mock)
}

func TestManager_CreateCompany_UniqueRaceMapsToConflict(t *testing.T) {
	m, mock := newTestManager(t)
	actorID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(selectUserForUpdate).WithArgs(actorID).
		WillReturnRows(userRows(actorID, nil, user.RoleOwner))
	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`INSERT INTO companies`).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "companies_email_lower_key"})
	mock.ExpectRollback()

	_, err := m.CreateCompany(context.Background(), actorID, validInput())
	if !errors.Is(err, ErrCompanyEmailTaken) {
		t.Fatalf("expected ErrCompanyEmailTaken, got %v", err)
	}

	expectMet(t, mock)
}

func TestManager_CreateCompany_LinkFailureRollsBackInsert(t *testing.T) {
	m, mock := newTestManager(t)
	actorID := uuid.New()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(selectUserForUpdate).WithArgs(actorID).
		WillReturnRows(userRows(actorID, nil, user.RoleOwner))
	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`INSERT INTO companies`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec(`UPDATE users\s+SET company_id = \$2, role = \$3`).
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	_, err := m.CreateCompany(context.Background(), actorID, validInput())
	if err == nil {
		t.Fatal("expected error when linking fails")
	}

	// Rollback instead of commit means the inserted company is discarded.
	expectMet(t, mock)
}

func TestManager_CreateCompany_ActorAlreadyInCompany(t *testing.T) {
	m, mock := newTestManager(t)
	actorID := uuid.New()
	existing := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(selectUserForUpdate).WithArgs(actorID).
		WillReturnRows(userRows(actorID, &existing, user.RoleMember))
	mock.ExpectRollback()

	_, err := m.CreateCompany(context.Background(), actorID, validInput())
	if !errors.Is(err, ErrAlreadyInCompany) {
		t.Fatalf("expected ErrAlreadyInCompany, got %v", err)
	}

	expectMet(t, mock)
}

func TestManager_CreateThenGetCompany_ReturnsSubmittedValues(t *testing.T) {
	m, mock := newTestManager(t)
	actorID := uuid.New()
	now := time.Now()

	website := " https://acme.test/ "
	description := "Roadrunner traps"
	logo := "https://cdn.test/logo.png"
	doc := "https://cdn.test/pricing.pdf"
	in := CompanyInput{
		CompanyName:        " Acme Corp",
		OwnerName:          "Wile E. Coyote",
		Email:              "Hello@Acme.test",
		Phone:              "+1 555 0100",
		Website:            &website,
		Description:        &description,
		SelectedPlan:       "enterprise",
		PlanDetails:        json.RawMessage(`{"seats":5}`),
		LogoURL:            &logo,
		PricingDocumentURL: &doc,
	}

	inserted := make([]*captureArg, 16)
	args := make([]driver.Value, len(inserted))
	for i := range inserted {
		inserted[i] = &captureArg{}
		args[i] = inserted[i]
	}

	mock.ExpectBegin()
	mock.ExpectQuery(selectUserForUpdate).WithArgs(actorID).
		WillReturnRows(userRows(actorID, nil, user.RoleOwner))
	mock.ExpectQuery(companyEmailInUse).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`INSERT INTO companies`).WithArgs(args...).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec(`UPDATE users\s+SET company_id = \$2, role = \$3`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, err := m.CreateCompany(context.Background(), actorID, in)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	// Read the row back exactly as it was written.
	v := func(i int) driver.Value { return inserted[i].value }
	mock.ExpectQuery(selectUser).WithArgs(actorID).
		WillReturnRows(userRows(actorID, &created.ID, user.RoleOwner))
	mock.ExpectQuery(selectCompany).WithArgs(created.ID).
		WillReturnRows(sqlmock.NewRows(companyColumns).AddRow(
			v(0), v(1), v(2), v(3), v(4), v(5), v(6),
			v(7), v(8), v(9), v(10),
			v(11), v(12), nil,
			v(13), nil, now, now,
		))

	got, err := m.GetCompany(context.Background(), created.ID, actorID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}

	if got.ID != created.ID {
		t.Errorf("id: got %s, want %s", got.ID, created.ID)
	}
	for _, f := range []struct{ name, got, want string }{
		{"company_name", got.CompanyName, in.CompanyName},
		{"owner_name", got.OwnerName, in.OwnerName},
		{"email", got.Email, in.Email},
		{"phone", got.Phone, in.Phone},
		{"selected_plan", got.SelectedPlan, in.SelectedPlan},
		{"plan_details", string(got.PlanDetails), string(in.PlanDetails)},
	} {
		if f.got != f.want {
			t.Errorf("%s: got %q, want %q", f.name, f.got, f.want)
		}
	}
	for _, f := range []struct {
		name      string
		got, want *string
	}{
		{"website", got.Website, in.Website},
		{"description", got.Description, in.Description},
		{"logo_url", got.LogoURL, in.LogoURL},
		{"pricing_document_url", got.PricingDocumentURL, in.PricingDocumentURL},
	} {
		if f.got == nil || *f.got != *f.want {
			t.Errorf("%s: got %v, want %q", f.name, f.got, *f.want)
		}
	}

	expectMet(t, mock)
}

func TestManager_GetCompany_NotMember(t *testing.T) {
	m, mock := newTestManager(t)
	actorID := uuid.New()
	other := uuid.New()

	mock.ExpectQuery(selectUser).WithArgs(actorID).
		WillReturnRows(userRows(actorID, &other, user.RoleOwner))

	_, err := m.GetCompany(context.Background(), uuid.New(), actorID)
	if !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}

	expectMet(t, mock)
}

func TestManager_GetCompany_ActorNotFound(t *testing.T) {
	m, mock := newTestManager(t)
	actorID := uuid.New()

	mock.ExpectQuery(selectUser).WithArgs(actorID).WillReturnError(sql.ErrNoRows)

	_, err := m.GetCompany(context.Background(), uuid.New(), actorID)
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestManager_UpdateCompany_OnlyUnknownFields(t *testing.T) {
	m, mock := newTestManager(t)
	actorID := uuid.New()
	companyID := uuid.New()

	mock.ExpectQuery(selectUser).WithArgs(actorID).
		WillReturnRows(userRows(actorID, &companyID, user.RoleMember))

	_, err := m.UpdateCompany(context.Background(), companyID, actorID, map[string]any{
		"foo":            "bar",
		"payment_status": "paid",
	})
	if !errors.Is(err, ErrNoValidFields) {
		t.Fatalf("expected ErrNoValidFields, got %v", err)
	}
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation kind, got %v", err)
	}

	expectMet(t, mock)
}

func TestManager_UpdateCompany_AppliesAllowListed(t *testing.T) {
	m, mock := newTestManager(t)
	actorID := uuid.New()
	companyID := uuid.New()

	mock.ExpectQuery(selectUser).WithArgs(actorID).
		WillReturnRows(userRows(actorID, &companyID, user.RoleMember))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("New@Acme.test", companyID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`UPDATE companies SET email = \$2, description = \$3, updated_at = NOW\(\) WHERE id = \$1`).
		WithArgs(companyID, "New@Acme.test", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(selectCompany).WithArgs(companyID).
		WillReturnRows(companyRows(companyID, "New@Acme.test", nil))

	c, err := m.UpdateCompany(context.Background(), companyID, actorID, map[string]any{
		"email":       "New@Acme.test",
		"description": "",
		"id":          "ignored",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Email != "New@Acme.test" {
		t.Errorf("unexpected email %q", c.Email)
	}

	expectMet(t, mock)
}

func TestManager_UpdateCompany_EmailCollision(t *testing.T) {
	m, mock := newTestManager(t)
	actorID := uuid.New()
	companyID := uuid.New()

	mock.ExpectQuery(selectUser).WithArgs(actorID).
		WillReturnRows(userRows(actorID, &companyID, user.RoleMember))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("taken@acme.test", companyID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := m.UpdateCompany(context.Background(), companyID, actorID, map[string]any{"email": "taken@acme.test"})
	if !errors.Is(err, ErrCompanyEmailTaken) {
		t.Fatalf("expected ErrCompanyEmailTaken, got %v", err)
	}

	expectMet(t, mock)
}

func TestManager_UpdateCompany_RequiredFieldCannotBeCleared(t *testing.T) {
	m, mock := newTestManager(t)
	actorID := uuid.New()
	companyID := uuid.New()

	mock.ExpectQuery(selectUser).WithArgs(actorID).
		WillReturnRows(userRows(actorID, &companyID, user.RoleMember))

	_, err := m.UpdateCompany(context.Background(), companyID, actorID, map[string]any{"phone": "  "})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestManager_DeleteCompany(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{"sole member", 1, nil},
		{"several members", 0, ErrCompanyHasMembers},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, mock := newTestManager(t)
			actorID := uuid.New()
			companyID := uuid.New()

			mock.ExpectQuery(selectUser).WithArgs(actorID).
				WillReturnRows(userRows(actorID, &companyID, user.RoleOwner))
			mock.ExpectBegin()
			mock.ExpectQuery(lockCompanyRow).WithArgs(companyID).
				WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(companyID.String()))
			mock.ExpectExec(deleteSoleMember).WithArgs(companyID).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			if tt.wantErr == nil {
				mock.ExpectCommit()
			} else {
				mock.ExpectRollback()
			}

			err := m.DeleteCompany(context.Background(), companyID, &actorID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}

			expectMet(t, mock)
		})
	}
}

func TestManager_DeleteCompany_WithoutActor_NotFound(t *testing.T) {
	m, mock := newTestManager(t)
	companyID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(lockCompanyRow).WithArgs(companyID).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := m.DeleteCompany(context.Background(), companyID, nil)
	if !errors.Is(err, ErrCompanyNotFound) {
		t.Fatalf("expected ErrCompanyNotFound, got %v", err)
	}

	expectMet(t, mock)
}

func TestManager_LeaveCompany_SoleMemberDeletesCompany(t *testing.T) {
	m, mock := newTestManager(t)
	userID := uuid.New()
	companyID := uuid.New()

	mock.ExpectQuery(selectUser).WithArgs(userID).
		WillReturnRows(userRows(userID, &companyID, user.RoleOwner))
	mock.ExpectBegin()
	mock.ExpectQuery(lockCompanyRow).WithArgs(companyID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(companyID.String()))
	mock.ExpectQuery(selectUserForUpdate).WithArgs(userID).
		WillReturnRows(userRows(userID, &companyID, user.RoleOwner))
	mock.ExpectExec(`^SAVEPOINT company_cascade$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(deleteSoleMember).WithArgs(companyID).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`^RELEASE SAVEPOINT company_cascade$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE users SET company_id = NULL`).WithArgs(userID).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := m.LeaveCompany(context.Background(), userID, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.PrimarySuccess || !res.CompanyDeleted {
		t.Errorf("expected company deletion, got %+v", res)
	}
	if res.CascadeWarning != "" {
		t.Errorf("unexpected warning %q", res.CascadeWarning)
	}

	expectMet(t, mock)
}

func TestManager_LeaveCompany_OneOfSeveralKeepsCompany(t *testing.T) {
	m, mock := newTestManager(t)
	userID := uuid.New()
	companyID := uuid.New()

	mock.ExpectQuery(selectUser).WithArgs(userID).
		WillReturnRows(userRows(userID, &companyID, user.RoleMember))
	mock.ExpectBegin()
	mock.ExpectQuery(lockCompanyRow).WithArgs(companyID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(companyID.String()))
	mock.ExpectQuery(selectUserForUpdate).WithArgs(userID).
		WillReturnRows(userRows(userID, &companyID, user.RoleMember))
	mock.ExpectExec(`^SAVEPOINT company_cascade$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(deleteSoleMember).WithArgs(companyID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`^RELEASE SAVEPOINT company_cascade$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE users SET company_id = NULL`).WithArgs(userID).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := m.LeaveCompany(context.Background(), userID, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.PrimarySuccess || res.CompanyDeleted {
		t.Errorf("company must survive, got %+v", res)
	}

	expectMet(t, mock)
}

func TestManager_LeaveCompany_CascadeFailureIsAWarning(t *testing.T) {
	m, mock := newTestManager(t)
	userID := uuid.New()
	companyID := uuid.New()

	mock.ExpectQuery(selectUser).WithArgs(userID).
		WillReturnRows(userRows(userID, &companyID, user.RoleOwner))
	mock.ExpectBegin()
	mock.ExpectQuery(lockCompanyRow).WithArgs(companyID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(companyID.String()))
	mock.ExpectQuery(selectUserForUpdate).WithArgs(userID).
		WillReturnRows(userRows(userID, &companyID, user.RoleOwner))
	mock.ExpectExec(`^SAVEPOINT company_cascade$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(deleteSoleMember).WithArgs(companyID).WillReturnError(errors.New("statement timeout"))
	mock.ExpectExec(`^ROLLBACK TO SAVEPOINT company_cascade$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE users SET company_id = NULL`).WithArgs(userID).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := m.LeaveCompany(context.Background(), userID, userID)
	if err != nil {
		t.Fatalf("leave must succeed despite cascade failure: %v", err)
	}
	if !res.PrimarySuccess || res.CompanyDeleted {
		t.Errorf("unexpected result %+v", res)
	}
	if res.CascadeWarning == "" || res.CascadeErr == nil {
		t.Error("expected cascade warning")
	}

	expectMet(t, mock)
}

func TestManager_LeaveCompany_Guards(t *testing.T) {
	t.Run("other user", func(t *testing.T) {
		m, mock := newTestManager(t)
		_, err := m.LeaveCompany(context.Background(), uuid.New(), uuid.New())
		if !errors.Is(err, ErrNotSelf) {
			t.Fatalf("expected ErrNotSelf, got %v", err)
		}
		expectMet(t, mock)
	})

	t.Run("no company", func(t *testing.T) {
		m, mock := newTestManager(t)
		userID := uuid.New()
		mock.ExpectQuery(selectUser).WithArgs(userID).
			WillReturnRows(userRows(userID, nil, user.RoleOwner))

		_, err := m.LeaveCompany(context.Background(), userID, userID)
		if !errors.Is(err, ErrNoCompany) {
			t.Fatalf("expected ErrNoCompany, got %v", err)
		}
		if !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("expected validation kind, got %v", err)
		}
		expectMet(t, mock)
	})
}

func TestManager_DeleteUser_SoleMemberDeletesCompany(t *testing.T) {
	m, mock := newTestManager(t)
	userID := uuid.New()
	companyID := uuid.New()

	mock.ExpectQuery(selectUser).WithArgs(userID).
		WillReturnRows(userRows(userID, &companyID, user.RoleOwner))
	mock.ExpectBegin()
	mock.ExpectQuery(lockCompanyRow).WithArgs(companyID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(companyID.String()))
	mock.ExpectQuery(selectUserForUpdate).WithArgs(userID).
		WillReturnRows(userRows(userID, &companyID, user.RoleOwner))
	mock.ExpectExec(`^SAVEPOINT company_cascade$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(deleteSoleMember).WithArgs(companyID).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`^RELEASE SAVEPOINT company_cascade$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM users WHERE id = \$1`).WithArgs(userID).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := m.DeleteUser(context.Background(), userID, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.PrimarySuccess || !res.CompanyDeleted {
		t.Errorf("expected company deletion, got %+v", res)
	}

	expectMet(t, mock)
}

func TestManager_DeleteUser_WithoutCompany(t *testing.T) {
	m, mock := newTestManager(t)
	userID := uuid.New()

	mock.ExpectQuery(selectUser).WithArgs(userID).
		WillReturnRows(userRows(userID, nil, user.RoleOwner))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM users WHERE id = \$1`).WithArgs(userID).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := m.DeleteUser(context.Background(), userID, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.CompanyDeleted {
		t.Error("no company should be deleted")
	}

	expectMet(t, mock)
}

func TestManager_DeleteUser_OtherUser(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.DeleteUser(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestManager_UpdateUserRole(t *testing.T) {
	companyA := uuid.New()
	companyB := uuid.New()

	tests := []struct {
		name          string
		actorRole     string
		actorCompany  *uuid.UUID
		targetCompany *uuid.UUID
		newRole       string
		wantErr       error
	}{
		{"owner across companies", user.RoleOwner, &companyA, &companyB, user.RoleAdmin, ErrNotSameCompany},
		{"actor without company", user.RoleOwner, nil, nil, user.RoleAdmin, ErrNotSameCompany},
		{"member cannot change roles", user.RoleMember, &companyA, &companyA, user.RoleAdmin, ErrInsufficientRole},
		{"invalid role", user.RoleAdmin, &companyA, &companyA, "superuser", ErrInvalidRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, mock := newTestManager(t)
			actorID := uuid.New()
			targetID := uuid.New()

			mock.ExpectQuery(selectUser).WithArgs(actorID).
				WillReturnRows(userRows(actorID, tt.actorCompany, tt.actorRole))
			mock.ExpectQuery(selectUser).WithArgs(targetID).
				WillReturnRows(userRows(targetID, tt.targetCompany, user.RoleMember))

			_, err := m.UpdateUserRole(context.Background(), targetID, tt.newRole, actorID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}

			expectMet(t, mock)
		})
	}
}

func TestManager_UpdateUserRole_Success(t *testing.T) {
	m, mock := newTestManager(t)
	actorID := uuid.New()
	targetID := uuid.New()
	companyID := uuid.New()

	mock.ExpectQuery(selectUser).WithArgs(actorID).
		WillReturnRows(userRows(actorID, &companyID, user.RoleAdmin))
	mock.ExpectQuery(selectUser).WithArgs(targetID).
		WillReturnRows(userRows(targetID, &companyID, user.RoleMember))
	mock.ExpectExec(`UPDATE users SET role = \$2`).WithArgs(targetID, user.RoleAdmin).
		WillReturnResult(sqlmock.NewResult(0, 1))

	u, err := m.UpdateUserRole(context.Background(), targetID, user.RoleAdmin, actorID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Role != user.RoleAdmin {
		t.Errorf("expected admin, got %q", u.Role)
	}

	expectMet(t, mock)
}

func TestManager_JoinCompanyByEmail(t *testing.T) {
	t.Run("unknown company", func(t *testing.T) {
		m, mock := newTestManager(t)
		mock.ExpectQuery(selectCompanyByEmail).
			WithArgs("ghost@nowhere.test").
			WillReturnError(sql.ErrNoRows)

		_, err := m.JoinCompanyByEmail(context.Background(), uuid.New(), " Ghost@Nowhere.test")
		if !errors.Is(err, ErrCompanyNotFound) {
			t.Fatalf("expected ErrCompanyNotFound, got %v", err)
		}
		expectMet(t, mock)
	})

	t.Run("empty email", func(t *testing.T) {
		m, _ := newTestManager(t)
		_, err := m.JoinCompanyByEmail(context.Background(), uuid.New(), "  ")
		if !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("already in a company", func(t *testing.T) {
		m, mock := newTestManager(t)
		actorID := uuid.New()
		companyID := uuid.New()
		current := uuid.New()

		mock.ExpectQuery(selectCompanyByEmail).
			WithArgs("hello@acme.test").
			WillReturnRows(companyRows(companyID, "hello@acme.test", nil))
		mock.ExpectBegin()
		mock.ExpectQuery(lockCompanyRow).WithArgs(companyID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(companyID.String()))
		mock.ExpectQuery(selectUserForUpdate).WithArgs(actorID).
			WillReturnRows(userRows(actorID, &current, user.RoleOwner))
		mock.ExpectRollback()

		_, err := m.JoinCompanyByEmail(context.Background(), actorID, "hello@acme.test")
		if !errors.Is(err, ErrAlreadyInCompany) {
			t.Fatalf("expected ErrAlreadyInCompany, got %v", err)
		}
		expectMet(t, mock)
	})

	t.Run("joins as member", func(t *testing.T) {
		m, mock := newTestManager(t)
		actorID := uuid.New()
		companyID := uuid.New()

		mock.ExpectQuery(selectCompanyByEmail).
			WithArgs("hello@acme.test").
			WillReturnRows(companyRows(companyID, "hello@acme.test", nil))
		mock.ExpectBegin()
		mock.ExpectQuery(lockCompanyRow).WithArgs(companyID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(companyID.String()))
		mock.ExpectQuery(selectUserForUpdate).WithArgs(actorID).
			WillReturnRows(userRows(actorID, nil, user.RoleOwner))
		mock.ExpectExec(`UPDATE users\s+SET company_id = \$2, role = \$3`).
			WithArgs(actorID, companyID, user.RoleMember).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		c, err := m.JoinCompanyByEmail(context.Background(), actorID, "hello@acme.test")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.ID != companyID {
			t.Errorf("joined wrong company %s", c.ID)
		}
		expectMet(t, mock)
	})
}

func TestManager_JoinCompany_OnlySelf(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.JoinCompany(context.Background(), uuid.New(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrNotSelf) {
		t.Fatalf("expected ErrNotSelf, got %v", err)
	}
}

func TestManager_GetCompanyUsers_EmptyList(t *testing.T) {
	m, mock := newTestManager(t)
	actorID := uuid.New()
	companyID := uuid.New()

	mock.ExpectQuery(selectUser).WithArgs(actorID).
		WillReturnRows(userRows(actorID, &companyID, user.RoleOwner))
	mock.ExpectQuery(`SELECT id, full_name, email, role, created_at\s+FROM users WHERE company_id = \$1`).
		WithArgs(companyID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_name", "email", "role", "created_at"}))

	members, err := m.GetCompanyUsers(context.Background(), companyID, actorID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if members == nil || len(members) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", members)
	}

	expectMet(t, mock)
}

func TestManager_GetUser_SameCompanyOnly(t *testing.T) {
	m, mock := newTestManager(t)
	actorID := uuid.New()
	targetID := uuid.New()
	companyA := uuid.New()
	companyB := uuid.New()

	mock.ExpectQuery(selectUser).WithArgs(actorID).
		WillReturnRows(userRows(actorID, &companyA, user.RoleOwner))
	mock.ExpectQuery(selectUser).WithArgs(targetID).
		WillReturnRows(userRows(targetID, &companyB, user.RoleMember))

	_, err := m.GetUser(context.Background(), targetID, actorID)
	if !errors.Is(err, ErrNotSameCompany) {
		t.Fatalf("expected ErrNotSameCompany, got %v", err)
	}

	expectMet(t, mock)
}

func TestManager_GetUserWithCompany_NoCompany(t *testing.T) {
	m, mock := newTestManager(t)
	userID := uuid.New()

	mock.ExpectQuery(selectUser).WithArgs(userID).
		WillReturnRows(userRows(userID, nil, user.RoleOwner))

	out, err := m.GetUserWithCompany(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.User.ID != userID || out.Company != nil {
		t.Errorf("unexpected result %+v", out)
	}

	expectMet(t, mock)
}

func TestManager_UpdateUser(t *testing.T) {
	t.Run("other user", func(t *testing.T) {
		m, _ := newTestManager(t)
		_, err := m.UpdateUser(context.Background(), uuid.New(), uuid.New(), map[string]any{"full_name": "x"})
		if !errors.Is(err, ErrNotSelf) {
			t.Fatalf("expected ErrNotSelf, got %v", err)
		}
	})

	t.Run("no allowed fields", func(t *testing.T) {
		m, _ := newTestManager(t)
		id := uuid.New()
		_, err := m.UpdateUser(context.Background(), id, id, map[string]any{"role": "owner"})
		if !errors.Is(err, ErrNoValidFields) {
			t.Fatalf("expected ErrNoValidFields, got %v", err)
		}
	})

	t.Run("email taken", func(t *testing.T) {
		m, mock := newTestManager(t)
		id := uuid.New()
		mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM users WHERE email = \$1 AND id <> \$2\)`).
			WithArgs("taken@acme.test", id).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := m.UpdateUser(context.Background(), id, id, map[string]any{"email": "Taken@Acme.test"})
		if !errors.Is(err, ErrUserEmailTaken) {
			t.Fatalf("expected ErrUserEmailTaken, got %v", err)
		}
		expectMet(t, mock)
	})

	t.Run("updates name", func(t *testing.T) {
		m, mock := newTestManager(t)
		id := uuid.New()
		mock.ExpectExec(`UPDATE users\s+SET full_name = COALESCE\(\$2, full_name\)`).
			WithArgs(id, "Road Runner", nil).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(selectUser).WithArgs(id).
			WillReturnRows(userRows(id, nil, user.RoleOwner))

		u, err := m.UpdateUser(context.Background(), id, id, map[string]any{"full_name": " Road Runner "})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if u.FullName != "Road Runner" {
			t.Errorf("unexpected name %q", u.FullName)
		}
		expectMet(t, mock)
	})
}

func TestManager_CompleteOnboarding(t *testing.T) {
	m, mock := newTestManager(t)
	actorID := uuid.New()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(selectUserForUpdate).WithArgs(actorID).
		WillReturnRows(userRows(actorID, nil, user.RoleOwner))
	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`INSERT INTO companies`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec(`UPDATE users\s+SET company_id = \$2, role = \$3`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET onboarding_completed = \$2`).
		WithArgs(actorID, true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out, err := m.CompleteOnboarding(context.Background(), actorID, validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.User.OnboardingCompleted || out.User.Role != user.RoleOwner {
		t.Errorf("unexpected user %+v", out.User)
	}
	if out.User.CompanyID == nil || *out.User.CompanyID != out.Company.ID {
		t.Error("user should be linked to the new company")
	}
	if out.Company.SelectedPlan != company.DefaultPlan || out.Company.SubscriptionStatus != company.SubscriptionTrial {
		t.Errorf("unexpected defaults %q/%q", out.Company.SelectedPlan, out.Company.SubscriptionStatus)
	}

	expectMet(t, mock)
}

func TestManager_SkipOnboarding_UnknownUser(t *testing.T) {
	m, mock := newTestManager(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE users SET onboarding_completed = \$2`).
		WithArgs(id, true).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := m.SkipOnboarding(context.Background(), id)
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestManager_UpdatePaymentStatus(t *testing.T) {
	t.Run("member is rejected", func(t *testing.T) {
		m, mock := newTestManager(t)
		actorID := uuid.New()
		companyID := uuid.New()
		mock.ExpectQuery(selectUser).WithArgs(actorID).
			WillReturnRows(userRows(actorID, &companyID, user.RoleMember))

		_, err := m.UpdatePaymentStatus(context.Background(), companyID, actorID, company.PaymentPaid, company.SubscriptionActive)
		if !errors.Is(err, ErrInsufficientRole) {
			t.Fatalf("expected ErrInsufficientRole, got %v", err)
		}
	})

	t.Run("invalid status", func(t *testing.T) {
		m, mock := newTestManager(t)
		actorID := uuid.New()
		companyID := uuid.New()
		mock.ExpectQuery(selectUser).WithArgs(actorID).
			WillReturnRows(userRows(actorID, &companyID, user.RoleOwner))

		_, err := m.UpdatePaymentStatus(context.Background(), companyID, actorID, "settled", "")
		if !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("paid and active stamps start date", func(t *testing.T) {
		m, mock := newTestManager(t)
		fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		m.now = func() time.Time { return fixed }
		actorID := uuid.New()
		companyID := uuid.New()

		mock.ExpectQuery(selectUser).WithArgs(actorID).
			WillReturnRows(userRows(actorID, &companyID, user.RoleAdmin))
		mock.ExpectExec(`UPDATE companies\s+SET payment_status = \$2`).
			WithArgs(companyID, company.PaymentPaid, company.SubscriptionActive, fixed).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(selectCompany).WithArgs(companyID).
			WillReturnRows(companyRows(companyID, "hello@acme.test", nil))

		if _, err := m.UpdatePaymentStatus(context.Background(), companyID, actorID, company.PaymentPaid, company.SubscriptionActive); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		expectMet(t, mock)
	})
}

func TestManager_UpdateAITrainingStatus_CompletedStampsDate(t *testing.T) {
	m, mock := newTestManager(t)
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }
	actorID := uuid.New()
	companyID := uuid.New()

	mock.ExpectQuery(selectUser).WithArgs(actorID).
		WillReturnRows(userRows(actorID, &companyID, user.RoleMember))
	mock.ExpectExec(`UPDATE companies\s+SET ai_training_status = \$2`).
		WithArgs(companyID, company.TrainingCompleted, fixed).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(selectCompany).WithArgs(companyID).
		WillReturnRows(companyRows(companyID, "hello@acme.test", nil))

	if _, err := m.UpdateAITrainingStatus(context.Background(), companyID, actorID, company.TrainingCompleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectMet(t, mock)
}

func TestManager_SetCompanyAsset_LogoMustBeImage(t *testing.T) {
	m, mock := newTestManager(t)
	actorID := uuid.New()
	companyID := uuid.New()

	mock.ExpectQuery(selectUser).WithArgs(actorID).
		WillReturnRows(userRows(actorID, &companyID, user.RoleMember))

	_, err := m.SetCompanyAsset(context.Background(), companyID, actorID, company.AssetLogo,
		AssetUpload{Filename: "prices.pdf", Data: []byte("%PDF")})
	if !errors.Is(err, ErrLogoNotImage) {
		t.Fatalf("expected ErrLogoNotImage, got %v", err)
	}

	expectMet(t, mock)
}

func TestManager_SetCompanyAsset_LogoSizeLimit(t *testing.T) {
	m, mock := newTestManager(t)
	actorID := uuid.New()
	companyID := uuid.New()

	mock.ExpectQuery(selectUser).WithArgs(actorID).
		WillReturnRows(userRows(actorID, &companyID, user.RoleMember))

	big := make([]byte, 6*1024*1024)
	_, err := m.SetCompanyAsset(context.Background(), companyID, actorID, company.AssetLogo,
		AssetUpload{Filename: "logo.png", Data: big})
	if !errors.Is(err, apperr.ErrTooLarge) {
		t.Fatalf("expected size error, got %v", err)
	}
}

func TestManager_SetCompanyAsset_ReplacesPreviousURL(t *testing.T) {
	m, mock := newTestManager(t)
	actorID := uuid.New()
	companyID := uuid.New()
	oldURL := "https://cdn.test/company-assets/" + actorID.String() + "/logo/old.png"

	mock.ExpectQuery(selectUser).WithArgs(actorID).
		WillReturnRows(userRows(actorID, &companyID, user.RoleMember))
	mock.ExpectQuery(selectCompany).WithArgs(companyID).
		WillReturnRows(companyRows(companyID, "hello@acme.test", oldURL))
	mock.ExpectExec(`UPDATE companies SET logo_url = \$2, updated_at = NOW\(\) WHERE id = \$1`).
		WithArgs(companyID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(selectCompany).WithArgs(companyID).
		WillReturnRows(companyRows(companyID, "hello@acme.test", nil))

	res, err := m.SetCompanyAsset(context.Background(), companyID, actorID, company.AssetLogo,
		AssetUpload{Filename: "logo.png", Data: []byte("png")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.URL == "" || res.URL == oldURL {
		t.Errorf("unexpected url %q", res.URL)
	}
	// The old object was never stored in the bucket, so cleanup reports it.
	if !errors.Is(res.CleanupErr, apperr.ErrNotFound) {
		t.Errorf("expected not-found cleanup error, got %v", res.CleanupErr)
	}

	expectMet(t, mock)
}
