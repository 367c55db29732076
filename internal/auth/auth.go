// Package auth turns bearer credentials into player principals.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	"github.com/aloksahay/warhead/pkg/core"
)

// Verifier maps a bearer credential to the principal ID it was issued for.
// Every failure wraps core.ErrUnauthenticated.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// authEnv holds raw env values before post-parse validation.
type authEnv struct {
	Secret   string `env:"WARHEAD_AUTH_JWT_SECRET"`
	Issuer   string `env:"WARHEAD_AUTH_ISSUER"`
	Audience string `env:"WARHEAD_AUTH_AUDIENCE"`
}

// Config defines how access tokens are verified. Empty Issuer or Audience
// disables that check.
type Config struct {
	Secret   []byte
	Issuer   string
	Audience string
	Now      func() time.Time
}

// LoadConfigFromEnv reads verifier configuration from the environment.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw authEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse auth env: %w", err)
	}
	secret := strings.TrimSpace(raw.Secret)
	if secret == "" {
		return Config{}, fmt.Errorf("WARHEAD_AUTH_JWT_SECRET is required")
	}
	if now == nil {
		now = time.Now
	}
	return Config{
		Secret:   []byte(secret),
		Issuer:   strings.TrimSpace(raw.Issuer),
		Audience: strings.TrimSpace(raw.Audience),
		Now:      now,
	}, nil
}

// JWTVerifier validates HS256 access tokens whose subject is the player ID.
type JWTVerifier struct {
	cfg Config
}

// NewJWTVerifier creates a verifier. The secret is required.
func NewJWTVerifier(cfg Config) (*JWTVerifier, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt verifier is not configured")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &JWTVerifier{cfg: cfg}, nil
}

// Verify checks signature, expiry, issuer and audience and returns the subject.
func (v *JWTVerifier) Verify(_ context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: token is required", core.ErrUnauthenticated)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.cfg.Now),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.cfg.Secret, nil
	}, opts...)
	if err != nil {
		return "", mapJWTError(err)
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", fmt.Errorf("%w: token has no subject", core.ErrUnauthenticated)
	}
	return subject, nil
}

// mapJWTError translates jwt library errors to the unauthenticated class.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: token is expired", core.ErrUnauthenticated)
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return fmt.Errorf("%w: token not active yet", core.ErrUnauthenticated)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: token signature is invalid", core.ErrUnauthenticated)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: token issuer mismatch", core.ErrUnauthenticated)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: token audience mismatch", core.ErrUnauthenticated)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: token is missing a required claim", core.ErrUnauthenticated)
	}
	return fmt.Errorf("%w: %v", core.ErrUnauthenticated, err)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Sign issues an HS256 token for subject. Used by tests and local tooling.
func Sign(cfg Config, subject string, ttl time.Duration) (string, error) {
	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}
	issued := now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
}
