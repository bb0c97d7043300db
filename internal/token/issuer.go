// Package token mints and validates access tokens and mints opaque
// refresh/reset secrets.
package token

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"go-auth-service/internal/model"
	"go-auth-service/internal/security"
	"go-auth-service/pkg/apierror"
)

type Options struct {
	Secret     string
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ResetTTL   time.Duration
	Now        func() time.Time
}

// AccessClaims is the signed payload of an access token.
type AccessClaims struct {
	Username string   `json:"username,omitempty"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	resetTTL   time.Duration
	now        func() time.Time
	strict     *jwt.Parser
	lenient    *jwt.Parser
}

func NewIssuer(opts Options) (*Issuer, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if opts.AccessTTL <= 0 || opts.RefreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	i := &Issuer{
		secret:     []byte(opts.Secret),
		issuer:     opts.Issuer,
		audience:   opts.Audience,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		resetTTL:   opts.ResetTTL,
		now:        opts.Now,
	}

	methods := jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})
	i.strict = jwt.NewParser(
		methods,
		jwt.WithIssuer(opts.Issuer),
		jwt.WithAudience(opts.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(opts.Now),
	)
	// Lifetime is not checked here; issuer and audience are checked by hand.
	i.lenient = jwt.NewParser(methods, jwt.WithoutClaimsValidation())

	return i, nil
}

// IssueAccessToken signs a short-lived HS256 token for user.
func (i *Issuer) IssueAccessToken(user model.User, roles []string) (string, time.Time, error) {
	now := i.now().UTC()
	expiresAt := now.Add(i.accessTTL)

	if roles == nil {
		roles = []string{}
	}

	claims := AccessClaims{
		Username: user.Username,
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}

	return signed, expiresAt, nil
}

// IssueRefreshToken returns a fresh opaque secret and its expiry. The
// lifetime depends on purpose: reset secrets are short lived.
func (i *Issuer) IssueRefreshToken(_ model.User, _ string, purpose string) (string, time.Time, error) {
	value, err := security.NewOpaqueToken(security.DefaultSecretBytes)
	if err != nil {
		return "", time.Time{}, err
	}

	ttl := i.refreshTTL
	if purpose == model.PurposeResetPassword {
		ttl = i.resetTTL
	}

	return value, i.now().UTC().Add(ttl), nil
}

// ValidateAccessToken checks signature, issuer, audience and expiry. All
// failures collapse into the same Unauthorized error.
func (i *Issuer) ValidateAccessToken(tokenString string) (*model.Principal, error) {
	claims := &AccessClaims{}
	parsed, err := i.strict.ParseWithClaims(tokenString, claims, i.keyFunc)
	if err != nil || !parsed.Valid {
		return nil, errInvalidToken()
	}

	return principalFromClaims(claims)
}

// PrincipalFromToken is ValidateAccessToken without the lifetime checks,
// for the refresh flow where the access token is typically already expired.
func (i *Issuer) PrincipalFromToken(tokenString string) (*model.Principal, error) {
	claims := &AccessClaims{}
	if _, err := i.lenient.ParseWithClaims(tokenString, claims, i.keyFunc); err != nil {
		return nil, errInvalidToken()
	}

	if claims.Issuer != i.issuer || !slices.Contains(claims.Audience, i.audience) {
		return nil, errInvalidToken()
	}

	return principalFromClaims(claims)
}

func (i *Issuer) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errInvalidToken()
	}
	return i.secret, nil
}

func principalFromClaims(claims *AccessClaims) (*model.Principal, error) {
	if claims.Subject == "" {
		return nil, errInvalidToken()
	}

	principal := &model.Principal{
		UserID:   claims.Subject,
		Username: claims.Username,
		Roles:    claims.Roles,
		TokenID:  claims.ID,
	}
	if claims.ExpiresAt != nil {
		principal.ExpiresAt = claims.ExpiresAt.Time
	}

	return principal, nil
}

func errInvalidToken() error {
	return apierror.Unauthorized("invalid or expired token")
}
