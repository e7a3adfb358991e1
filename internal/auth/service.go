package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tenantdesk/internal/apperr"
	"tenantdesk/internal/database"
	"tenantdesk/internal/jwtauth"
	"tenantdesk/internal/user"
)

// Domain errors returned by the Service.
var (
	ErrInvalidCredentials = apperr.Unauthenticated("invalid email or password")
	ErrEmailTaken         = apperr.Conflict("an account with this email already exists")
	ErrUserNotFound       = apperr.NotFound("user not found")
	ErrPasswordTooShort   = apperr.Validation(fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	ErrPasswordTooLong    = apperr.Validation(fmt.Sprintf("password must be at most %d bytes", maxPasswordBytes))
)

// SignupInput is the body of a signup request.
type SignupInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// Session is returned by signup and signin.
type Session struct {
	User        *user.User `json:"user"`
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

// Service manages accounts and their access tokens.
type Service struct {
	users       *user.Datastore
	issuer      *jwtauth.Issuer
	revocations RevocationStore
}

// NewService creates an auth service.
func NewService(db user.DBTX, issuer *jwtauth.Issuer, revocations RevocationStore) *Service {
	return &Service{
		users:       user.NewDatastore(db),
		issuer:      issuer,
		revocations: revocations,
	}
}

// Signup creates an account and returns a session for it. New accounts
// start as owners without a company.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*Session, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	fullName := strings.TrimSpace(in.FullName)

	var missing []string
	if email == "" {
		missing = append(missing, "email")
	}
	if in.Password == "" {
		missing = append(missing, "password")
	}
	if fullName == "" {
		missing = append(missing, "full_name")
	}
	if len(missing) > 0 {
		return nil, apperr.Validation("missing required fields: " + strings.Join(missing, ", "))
	}
	if !strings.Contains(email, "@") {
		return nil, apperr.Validation("invalid email address")
	}
	if len(in.Password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}
	if len(in.Password) > maxPasswordBytes {
		return nil, ErrPasswordTooLong
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	u := &user.User{
		FullName:     fullName,
		Email:        email,
		PasswordHash: hash,
		Role:         user.RoleOwner,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if _, ok := database.UniqueViolation(err); ok {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	zerolog.Ctx(ctx).Info().Str("user_id", u.ID.String()).Msg("user signed up")
	return s.session(u)
}

// Signin checks the credentials and returns a new session. An unknown
// email and a wrong password fail the same way.
func (s *Service) Signin(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperr.Validation("email and password are required")
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Spend the same bcrypt time as a real comparison.
			_, _ = CheckPassword(dummyHash(), password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	ok, err := CheckPassword(u.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	return s.session(u)
}

// Signout revokes the token described by claims until it expires.
func (s *Service) Signout(ctx context.Context, claims *jwtauth.Claims) error {
	if claims == nil || claims.ID == "" {
		return apperr.Validation("token cannot be revoked")
	}
	if err := s.revocations.Revoke(ctx, claims.ID, claims.Expiry()); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// CurrentUser returns the authenticated user's record.
func (s *Service) CurrentUser(ctx context.Context, userID uuid.UUID) (*user.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *Service) session(u *user.User) (*Session, error) {
	token, claims, err := s.issuer.Issue(u.ID, u.Email)
	if err != nil {
		return nil, err
	}
	return &Session{
		User:        u,
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   claims.Expiry(),
	}, nil
}

var (
	dummyHashOnce sync.Once
	dummyHashVal  string
)

func dummyHash() string {
	dummyHashOnce.Do(func() {
		dummyHashVal, _ = HashPassword(uuid.NewString())
	})
	return dummyHashVal
}
