package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-auth-service/internal/model"
	"go-auth-service/pkg/apierror"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestIssuer(t *testing.T, now func() time.Time, mutate ...func(o *Options)) *Issuer {
	t.Helper()

	opts := Options{
		Secret:     testSecret,
		Issuer:     "auth-test",
		Audience:   "clients",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		ResetTTL:   time.Hour,
		Now:        now,
	}
	for _, m := range mutate {
		m(&opts)
	}

	issuer, err := NewIssuer(opts)
	require.NoError(t, err)
	return issuer
}

func testUser() model.User {
	return model.User{ID: "8d6f3c9e-3f0a-4f55-9f5e-0c6f9d1e2a11", Username: "alice"}
}

func TestNewIssuer_RequiresSecretAndTTL(t *testing.T) {
	t.Parallel()

	_, err := NewIssuer(Options{AccessTTL: time.Minute, RefreshTTL: time.Hour})
	require.Error(t, err)

	_, err = NewIssuer(Options{Secret: testSecret})
	require.Error(t, err)
}

func TestIssueAndValidateAccessToken(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t, nil)

	signed, expiresAt, err := issuer.IssueAccessToken(testUser(), []string{model.RoleCustomer})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 5*time.Second)

	principal, err := issuer.ValidateAccessToken(signed)
	require.NoError(t, err)
	assert.Equal(t, testUser().ID, principal.UserID)
	assert.Equal(t, "alice", principal.Username)
	assert.Equal(t, []string{model.RoleCustomer}, principal.Roles)
	assert.NotEmpty(t, principal.TokenID)
}

func TestAccessTokenClaimsShape(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t, nil)
	signed, _, err := issuer.IssueAccessToken(testUser(), nil)
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(signed, claims)
	require.NoError(t, err)

	for _, key := range []string{"sub", "roles", "iss", "aud", "iat", "exp"} {
		assert.Contains(t, claims, key)
	}
	assert.Equal(t, []any{}, claims["roles"])
}

func TestValidateAccessToken_Rejections(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t, nil)

	past := func() time.Time { return time.Now().Add(-time.Hour) }
	expired, _, err := newTestIssuer(t, past).IssueAccessToken(testUser(), nil)
	require.NoError(t, err)

	otherSecret, _, err := newTestIssuer(t, nil, func(o *Options) {
		o.Secret = "ffffffffffffffffffffffffffffffff"
	}).IssueAccessToken(testUser(), nil)
	require.NoError(t, err)

	otherAudience, _, err := newTestIssuer(t, nil, func(o *Options) {
		o.Audience = "someone-else"
	}).IssueAccessToken(testUser(), nil)
	require.NoError(t, err)

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": testUser().ID, "iss": "auth-test", "aud": "clients",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"expired":        expired,
		"wrong secret":   otherSecret,
		"wrong audience": otherAudience,
		"none algorithm": noneAlg,
		"garbage":        "not-a-token",
		"empty":          "",
	}

	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := issuer.ValidateAccessToken(tok)
			require.Error(t, err)
			assert.True(t, apierror.Is(err, apierror.CodeUnauthorized))
			assert.Equal(t, "UNAUTHORIZED: invalid or expired token", err.Error())
		})
	}
}

func TestPrincipalFromToken_ToleratesExpiry(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t, nil)
	past := func() time.Time { return time.Now().Add(-2 * time.Hour) }

	expired, _, err := newTestIssuer(t, past).IssueAccessToken(testUser(), nil)
	require.NoError(t, err)

	principal, err := issuer.PrincipalFromToken(expired)
	require.NoError(t, err)
	assert.Equal(t, testUser().ID, principal.UserID)

	forged, _, err := newTestIssuer(t, past, func(o *Options) {
		o.Secret = "ffffffffffffffffffffffffffffffff"
	}).IssueAccessToken(testUser(), nil)
	require.NoError(t, err)

	_, err = issuer.PrincipalFromToken(forged)
	assert.True(t, apierror.Is(err, apierror.CodeUnauthorized))

	wrongIssuer, _, err := newTestIssuer(t, past, func(o *Options) {
		o.Issuer = "elsewhere"
	}).IssueAccessToken(testUser(), nil)
	require.NoError(t, err)

	_, err = issuer.PrincipalFromToken(wrongIssuer)
	assert.True(t, apierror.Is(err, apierror.CodeUnauthorized))
}

func TestIssueRefreshToken(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, func() time.Time { return fixed })

	a, refreshExp, err := issuer.IssueRefreshToken(testUser(), model.ProviderDefault, model.PurposeRefresh)
	require.NoError(t, err)
	b, resetExp, err := issuer.IssueRefreshToken(testUser(), model.ProviderDefault, model.PurposeResetPassword)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, fixed.Add(24*time.Hour), refreshExp)
	assert.Equal(t, fixed.Add(time.Hour), resetExp)
}
