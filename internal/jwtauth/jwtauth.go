// Package jwtauth issues and verifies the HS256 access tokens handed out at
// signup and signin.
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the shortest HMAC secret accepted.
const MinSecretLength = 32

// Claims represents the access token claims.
// Subject is the user ID and ID (jti) identifies the token for revocation.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// UserID parses the subject as a user ID.
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// Expiry returns the expiry, or the zero time if the token has none.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Config holds token signing configuration.
type Config struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

func (c Config) validate() error {
	if len(c.Secret) < MinSecretLength {
		return fmt.Errorf("secret must be at least %d bytes", MinSecretLength)
	}
	if c.Issuer == "" {
		return errors.New("issuer is required")
	}
	return nil
}

// Issuer signs access tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates a token issuer.
func NewIssuer(cfg Config) (*Issuer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &Issuer{secret: cfg.Secret, issuer: cfg.Issuer, ttl: cfg.TTL, now: time.Now}, nil
}

// Issue returns a signed token for the user along with its claims.
func (i *Issuer) Issue(userID uuid.UUID, email string) (string, *Claims, error) {
	now := i.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID.String(),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Email: email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, claims, nil
}

// Verifier validates access tokens.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier creates a token verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Verifier{secret: cfg.Secret, issuer: cfg.Issuer}, nil
}

// Verify parses tokenString and returns its claims. Tokens signed with
// anything but HMAC, from another issuer, expired, or lacking a subject
// or jti are rejected.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, errors.New("token missing subject or id")
	}
	if _, err := claims.UserID(); err != nil {
		return nil, fmt.Errorf("invalid subject: %w", err)
	}

	return claims, nil
}

type contextKey string

const claimsContextKey contextKey = "jwtclaims"

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// GetClaims retrieves JWT claims from the context.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey).(*Claims)
	return claims
}
