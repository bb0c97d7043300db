package service

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go-auth-service/internal/event"
	"go-auth-service/internal/metrics"
	"go-auth-service/internal/model"
	"go-auth-service/internal/notify"
	"go-auth-service/internal/security"
	"go-auth-service/internal/token"
	"go-auth-service/pkg/apierror"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testPassword = "P@ssw0rd1"
	resetBaseURL = "https://app.example.com/reset-password"
)

type harness struct {
	svc      *AuthService
	store    *memoryStore
	ledger   *memoryLedger
	issuer   *token.Issuer
	notifier *notify.MockNotifier
}

func tokenOptions(now func() time.Time) token.Options {
	return token.Options{
		Secret:     testSecret,
		Issuer:     "auth-test",
		Audience:   "clients",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		ResetTTL:   time.Hour,
		Now:        now,
	}
}

func newHarness(t *testing.T, mutate ...func(*AuthOptions)) *harness {
	t.Helper()

	issuer, err := token.NewIssuer(tokenOptions(nil))
	require.NoError(t, err)

	opts := AuthOptions{ResetPasswordURL: resetBaseURL, Metrics: metrics.New()}
	for _, m := range mutate {
		m(&opts)
	}

	h := &harness{
		store:    newMemoryStore(),
		ledger:   newMemoryLedger(),
		issuer:   issuer,
		notifier: new(notify.MockNotifier),
	}
	h.svc = NewAuthService(h.store, h.ledger, h.issuer, h.notifier, opts)
	return h
}

// allowMail accepts any notifier call not already expected by the test.
func (h *harness) allowMail() {
	h.notifier.On("SendRegistrationConfirmation", mock.Anything, mock.Anything, mock.Anything).Maybe()
	h.notifier.On("SendPasswordReset", mock.Anything, mock.Anything, mock.Anything).Maybe()
}

func (h *harness) signUp(t *testing.T, email string, phone string) model.TokenPair {
	t.Helper()

	pair, err := h.svc.SignUp(context.Background(), model.SignUpRequest{
		Email:       email,
		PhoneNumber: phone,
		Username:    email,
		FullName:    "Test User",
		Password:    testPassword,
	})
	require.NoError(t, err)
	return pair
}

func (h *harness) userID(t *testing.T, pair model.TokenPair) string {
	t.Helper()

	principal, err := h.issuer.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	return principal.UserID
}

func requireCode(t *testing.T, err error, code string) *apierror.APIError {
	t.Helper()

	require.Error(t, err)
	var apiErr *apierror.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	require.Equal(t, code, apiErr.Code)
	return apiErr
}

func TestSignUp(t *testing.T) {
	t.Parallel()

	t.Run("creates customer with a live session and sends a welcome mail", func(t *testing.T) {
		h := newHarness(t)
		h.notifier.On("SendRegistrationConfirmation", mock.Anything, "u1@test.com", "Test User").Once()

		pair := h.signUp(t, "u1@test.com", "5551234")

		require.NotEmpty(t, pair.AccessToken)
		require.NotEmpty(t, pair.RefreshToken)

		id := h.userID(t, pair)
		assert.Equal(t, []string{model.RoleCustomer}, h.store.roles[id])
		assert.True(t, h.ledger.verify(model.RefreshKey(id), pair.RefreshToken))
		h.notifier.AssertExpectations(t)
	})

	t.Run("duplicate email is rejected before any write", func(t *testing.T) {
		h := newHarness(t)
		h.allowMail()
		h.signUp(t, "u1@test.com", "5551234")

		_, err := h.svc.SignUp(context.Background(), model.SignUpRequest{
			Email: "u1@test.com", PhoneNumber: "5559999", Username: "other", Password: testPassword,
		})

		apiErr := requireCode(t, err, apierror.CodeBadRequest)
		assert.Equal(t, "Email already exists", apiErr.Message)
		assert.Len(t, h.store.users, 1)
	})

	t.Run("duplicate phone is rejected", func(t *testing.T) {
		h := newHarness(t)
		h.allowMail()
		h.signUp(t, "u1@test.com", "5551234")

		_, err := h.svc.SignUp(context.Background(), model.SignUpRequest{
			Email: "u2@test.com", PhoneNumber: "5551234", Username: "u2", Password: testPassword,
		})

		apiErr := requireCode(t, err, apierror.CodeBadRequest)
		assert.Equal(t, "Phone number already exists", apiErr.Message)
	})

	t.Run("weak password surfaces field reasons", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.svc.SignUp(context.Background(), model.SignUpRequest{
			Email: "u1@test.com", PhoneNumber: "5551234", Username: "u1", Password: "abc",
		})

		apiErr := requireCode(t, err, apierror.CodeBadRequest)
		assert.NotEmpty(t, apiErr.Fields)
		h.notifier.AssertNotCalled(t, "SendRegistrationConfirmation", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestSignUp_ConcreteScenario(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.allowMail()

	pair, err := h.svc.SignUp(context.Background(), model.SignUpRequest{
		Email: "u1@test.com", PhoneNumber: "5551234", Username: "u1", Password: "P@ssw0rd1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	_, err = h.svc.SignUp(context.Background(), model.SignUpRequest{
		Email: "u1@test.com", PhoneNumber: "5551234", Username: "u1", Password: "P@ssw0rd1",
	})
	requireCode(t, err, apierror.CodeBadRequest)
}

func TestSignIn(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.allowMail()
	signup := h.signUp(t, "a@x.com", "+15550001")
	id := h.userID(t, signup)

	t.Run("by email", func(t *testing.T) {
		pair, err := h.svc.SignIn(context.Background(), "a@x.com", testPassword)
		require.NoError(t, err)
		assert.Equal(t, id, h.userID(t, pair))
	})

	t.Run("by phone", func(t *testing.T) {
		pair, err := h.svc.SignIn(context.Background(), "+15550001", testPassword)
		require.NoError(t, err)
		assert.Equal(t, id, h.userID(t, pair))
	})

	t.Run("unknown identity is NotFound", func(t *testing.T) {
		_, err := h.svc.SignIn(context.Background(), "ghost@x.com", testPassword)
		apiErr := requireCode(t, err, apierror.CodeNotFound)
		assert.Equal(t, "Invalid credentials", apiErr.Message)
	})

	t.Run("wrong password is Unauthorized", func(t *testing.T) {
		_, err := h.svc.SignIn(context.Background(), "a@x.com", "Wr0ng!pass")
		apiErr := requireCode(t, err, apierror.CodeUnauthorized)
		assert.Equal(t, "Invalid credentials", apiErr.Message)
	})
}

func TestSignIn_MissComparesOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.allowMail()
	h.signUp(t, "a@x.com", "1")

	before := h.store.compares.Load()
	_, err := h.svc.SignIn(context.Background(), "ghost@x.com", testPassword)
	requireCode(t, err, apierror.CodeNotFound)
	assert.Equal(t, int64(1), h.store.compares.Load()-before)

	before = h.store.compares.Load()
	_, err = h.svc.SignIn(context.Background(), "a@x.com", "Wr0ng!pass")
	requireCode(t, err, apierror.CodeUnauthorized)
	assert.Equal(t, int64(1), h.store.compares.Load()-before)
}

func TestSignIn_DisabledAccount(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.allowMail()
	id := h.userID(t, h.signUp(t, "a@x.com", "1"))
	h.store.setStatus(id, model.UserStatusInactive)

	_, err := h.svc.SignIn(context.Background(), "a@x.com", testPassword)

	apiErr := requireCode(t, err, apierror.CodeUnauthorized)
	assert.Equal(t, "Your account was disabled", apiErr.Message)
}

func TestRotationInvariant(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.allowMail()
	h.signUp(t, "a@x.com", "1")

	first, err := h.svc.SignIn(context.Background(), "a@x.com", testPassword)
	require.NoError(t, err)
	second, err := h.svc.SignIn(context.Background(), "a@x.com", testPassword)
	require.NoError(t, err)

	id := h.userID(t, second)
	assert.Equal(t, 1, h.ledger.count(id))
	assert.False(t, h.ledger.verify(model.RefreshKey(id), first.RefreshToken))
	assert.True(t, h.ledger.verify(model.RefreshKey(id), second.RefreshToken))

	_, err = h.svc.RefreshToken(context.Background(), first.RefreshToken, first.AccessToken)
	requireCode(t, err, apierror.CodeUnauthorized)

	rotated, err := h.svc.RefreshToken(context.Background(), second.RefreshToken, second.AccessToken)
	require.NoError(t, err)
	assert.NotEqual(t, second.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, 1, h.ledger.count(id))
	assert.True(t, h.ledger.verify(model.RefreshKey(id), rotated.RefreshToken))
}

func TestRefreshToken_OneTimeUse(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.allowMail()
	pair := h.signUp(t, "a@x.com", "1")

	_, err := h.svc.RefreshToken(context.Background(), pair.RefreshToken, pair.AccessToken)
	require.NoError(t, err)

	_, err = h.svc.RefreshToken(context.Background(), pair.RefreshToken, pair.AccessToken)
	requireCode(t, err, apierror.CodeUnauthorized)
}

func TestRefreshToken_EmptyRefreshTouchesNoStore(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, err := h.svc.RefreshToken(context.Background(), "", "whatever")

	requireCode(t, err, apierror.CodeInvalidToken)
	assert.Zero(t, h.store.calls.Load())
	assert.Zero(t, h.ledger.calls.Load())
}

func TestRefreshToken_Rejections(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.allowMail()
	pair := h.signUp(t, "a@x.com", "1")

	ghost, _, err := h.issuer.IssueAccessToken(model.User{ID: "7c9e6679-7425-40de-944b-e07fc1f90ae7"}, nil)
	require.NoError(t, err)

	tests := map[string]struct {
		refresh string
		access  string
	}{
		"missing access token": {refresh: pair.RefreshToken, access: ""},
		"garbage access token": {refresh: pair.RefreshToken, access: "not-a-jwt"},
		"unknown subject":      {refresh: pair.RefreshToken, access: ghost},
		"wrong refresh value":  {refresh: "bogus", access: pair.AccessToken},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.RefreshToken(context.Background(), tc.refresh, tc.access)
			requireCode(t, err, apierror.CodeUnauthorized)
		})
	}

	// None of the failures above may have burned the live token.
	_, err = h.svc.RefreshToken(context.Background(), pair.RefreshToken, pair.AccessToken)
	require.NoError(t, err)
}

func TestRefreshToken_AcceptsExpiredAccessToken(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.allowMail()
	pair := h.signUp(t, "a@x.com", "1")
	id := h.userID(t, pair)

	past, err := token.NewIssuer(tokenOptions(func() time.Time { return time.Now().Add(-time.Hour) }))
	require.NoError(t, err)
	expired, _, err := past.IssueAccessToken(model.User{ID: id}, nil)
	require.NoError(t, err)

	_, err = h.issuer.ValidateAccessToken(expired)
	require.Error(t, err)

	next, err := h.svc.RefreshToken(context.Background(), pair.RefreshToken, expired)
	require.NoError(t, err)
	assert.Equal(t, id, h.userID(t, next))
}

func TestRefreshToken_ExpiredRefreshRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.allowMail()
	pair := h.signUp(t, "a@x.com", "1")

	h.ledger.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	_, err := h.svc.RefreshToken(context.Background(), pair.RefreshToken, pair.AccessToken)
	requireCode(t, err, apierror.CodeUnauthorized)
}

func TestRefreshToken_ConcurrentRotationHasOneWinner(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.allowMail()
	pair := h.signUp(t, "a@x.com", "1")

	const racers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  int
	)

	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.RefreshToken(context.Background(), pair.RefreshToken, pair.AccessToken)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			if apierror.Is(err, apierror.CodeUnauthorized) {
				failures++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, racers-1, failures)
	assert.Equal(t, 1, h.ledger.count(h.userID(t, pair)))
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.allowMail()
	h.signUp(t, "a@x.com", "+15551234567")

	pair, err := h.svc.SignIn(context.Background(), "a@x.com", testPassword)
	require.NoError(t, err)

	principal, err := h.issuer.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, []string{model.RoleCustomer}, principal.Roles)

	profile, err := h.svc.GetProfile(context.Background(), principal.UserID)
	require.NoError(t, err)
	assert.Equal(t, principal.UserID, profile.ID)
	assert.Equal(t, "a@x.com", profile.Email)
	assert.Equal(t, []string{model.RoleCustomer}, profile.Roles)
}

func TestGetProfile_UnknownUser(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.svc.GetProfile(context.Background(), "7c9e6679-7425-40de-944b-e07fc1f90ae7")
	requireCode(t, err, apierror.CodeUnauthorized)
}

func TestSignOut(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.allowMail()
	pair := h.signUp(t, "a@x.com", "1")
	id := h.userID(t, pair)

	require.NoError(t, h.svc.SignOut(context.Background(), ""))
	assert.True(t, h.ledger.verify(model.RefreshKey(id), pair.RefreshToken))

	require.NoError(t, h.svc.SignOut(context.Background(), id))
	assert.False(t, h.ledger.verify(model.RefreshKey(id), pair.RefreshToken))

	_, err := h.svc.RefreshToken(context.Background(), pair.RefreshToken, pair.AccessToken)
	requireCode(t, err, apierror.CodeUnauthorized)
}

func forgotAndCaptureLink(t *testing.T, h *harness, email string) *url.URL {
	t.Helper()

	var link string
	h.notifier.On("SendPasswordReset", mock.Anything, email, mock.Anything).
		Run(func(args mock.Arguments) { link = args.String(2) }).Once()

	require.NoError(t, h.svc.ForgotPassword(context.Background(), email))

	u, err := url.Parse(link)
	require.NoError(t, err)
	return u
}

func TestPasswordRecovery(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.notifier.On("SendRegistrationConfirmation", mock.Anything, mock.Anything, mock.Anything).Maybe()
	session := h.signUp(t, "a+b@x.com", "1")

	link := forgotAndCaptureLink(t, h, "a+b@x.com")
	assert.Equal(t, "app.example.com", link.Host)
	assert.Equal(t, "/reset-password", link.Path)
	assert.Equal(t, "a+b@x.com", link.Query().Get("email"))
	resetToken := link.Query().Get("token")
	require.NotEmpty(t, resetToken)

	const newPassword = "N3w!Secret"

	t.Run("weak password does not consume the token", func(t *testing.T) {
		err := h.svc.ResetPassword(context.Background(), "a+b@x.com", resetToken, "short")
		apiErr := requireCode(t, err, apierror.CodeBadRequest)
		assert.NotEmpty(t, apiErr.Fields)
	})

	t.Run("wrong token", func(t *testing.T) {
		err := h.svc.ResetPassword(context.Background(), "a+b@x.com", "nope", newPassword)
		apiErr := requireCode(t, err, apierror.CodeBadRequest)
		assert.Equal(t, "Invalid token", apiErr.Message)
	})

	require.NoError(t, h.svc.ResetPassword(context.Background(), "a+b@x.com", resetToken, newPassword))

	t.Run("token is single use", func(t *testing.T) {
		err := h.svc.ResetPassword(context.Background(), "a+b@x.com", resetToken, newPassword)
		requireCode(t, err, apierror.CodeBadRequest)
	})

	t.Run("password changed", func(t *testing.T) {
		_, err := h.svc.SignIn(context.Background(), "a+b@x.com", testPassword)
		requireCode(t, err, apierror.CodeUnauthorized)

		_, err = h.svc.SignIn(context.Background(), "a+b@x.com", newPassword)
		require.NoError(t, err)
	})

	t.Run("old session ended", func(t *testing.T) {
		_, err := h.svc.RefreshToken(context.Background(), session.RefreshToken, session.AccessToken)
		requireCode(t, err, apierror.CodeUnauthorized)
	})
}

func TestResetPassword_EndsEverySlot(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.allowMail()
	id := h.userID(t, h.signUp(t, "a@x.com", "1"))

	token := forgotAndCaptureLink(t, h, "a@x.com").Query().Get("token")
	require.NoError(t, h.ledger.Replace(context.Background(),
		model.TokenKey{UserID: id, Provider: "external", Purpose: "link"}, "h", time.Now().Add(time.Hour)))

	require.NoError(t, h.svc.ResetPassword(context.Background(), "a@x.com", token, "N3w!Secret"))
	assert.Zero(t, h.ledger.count(id))
}

func TestResetPassword_StoreFailureKeepsLink(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.allowMail()
	id := h.userID(t, h.signUp(t, "a@x.com", "1"))

	token := forgotAndCaptureLink(t, h, "a@x.com").Query().Get("token")
	expiresAt := h.ledger.expiry(model.ResetPasswordKey(id))

	h.store.failSetHash(errors.New("connection reset"))
	err := h.svc.ResetPassword(context.Background(), "a@x.com", token, "N3w!Secret")
	require.EqualError(t, err, "connection reset")

	assert.True(t, h.ledger.verify(model.ResetPasswordKey(id), token))
	assert.Equal(t, expiresAt, h.ledger.expiry(model.ResetPasswordKey(id)))

	h.store.failSetHash(nil)
	require.NoError(t, h.svc.ResetPassword(context.Background(), "a@x.com", token, "N3w!Secret"))
	assert.False(t, h.ledger.verify(model.ResetPasswordKey(id), token))
}

func TestPasswordRecovery_NewRequestSupersedesOld(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.notifier.On("SendRegistrationConfirmation", mock.Anything, mock.Anything, mock.Anything).Maybe()
	h.signUp(t, "a@x.com", "1")

	first := forgotAndCaptureLink(t, h, "a@x.com").Query().Get("token")
	second := forgotAndCaptureLink(t, h, "a@x.com").Query().Get("token")

	err := h.svc.ResetPassword(context.Background(), "a@x.com", first, "N3w!Secret")
	requireCode(t, err, apierror.CodeBadRequest)

	require.NoError(t, h.svc.ResetPassword(context.Background(), "a@x.com", second, "N3w!Secret"))
}

func TestForgotPassword_Failures(t *testing.T) {
	t.Parallel()

	t.Run("unknown email is NotFound", func(t *testing.T) {
		h := newHarness(t)
		err := h.svc.ForgotPassword(context.Background(), "ghost@x.com")
		apiErr := requireCode(t, err, apierror.CodeNotFound)
		assert.Equal(t, "User does not exist", apiErr.Message)
		h.notifier.AssertNotCalled(t, "SendPasswordReset", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("cooldown rejects", func(t *testing.T) {
		h := newHarness(t, func(o *AuthOptions) { o.ResetThrottle = stubThrottle{allow: false} })
		h.allowMail()
		h.signUp(t, "a@x.com", "1")

		err := h.svc.ForgotPassword(context.Background(), "a@x.com")
		requireCode(t, err, apierror.CodeTooManyRequests)
		h.notifier.AssertNotCalled(t, "SendPasswordReset", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("throttle outage fails open", func(t *testing.T) {
		h := newHarness(t, func(o *AuthOptions) {
			o.ResetThrottle = stubThrottle{err: errors.New("redis down")}
		})
		h.allowMail()
		h.signUp(t, "a@x.com", "1")

		require.NoError(t, h.svc.ForgotPassword(context.Background(), "a@x.com"))
	})
}

func TestResetPassword_UnknownUser(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	err := h.svc.ResetPassword(context.Background(), "ghost@x.com", "t", "N3w!Secret")
	requireCode(t, err, apierror.CodeNotFound)
}

func TestEventsArePublished(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	h := newHarness(t, func(o *AuthOptions) { o.Bus = bus })
	h.allowMail()

	ctx := event.WithIP(context.Background(), "203.0.113.9")
	_, err := h.svc.SignUp(ctx, model.SignUpRequest{
		Email: "a@x.com", PhoneNumber: "1", Username: "a", Password: testPassword,
	})
	require.NoError(t, err)
	_, err = h.svc.SignIn(ctx, "a@x.com", "bad")
	require.Error(t, err)

	signedUp := <-events
	assert.Equal(t, event.TypeSignedUp, signedUp.Type)
	assert.True(t, signedUp.Success)
	assert.Equal(t, "203.0.113.9", signedUp.IP)
	assert.NotEmpty(t, signedUp.ActorID)

	failed := <-events
	assert.Equal(t, event.TypeSignInFailed, failed.Type)
	assert.False(t, failed.Success)
	assert.Equal(t, "a@x.com", failed.Subject)
}

func TestResetLink(t *testing.T) {
	t.Parallel()

	link, err := ResetLink("https://app.example.com/reset?lang=en", "a/b+c", "x+y@z.com")
	require.NoError(t, err)

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "en", u.Query().Get("lang"))
	assert.Equal(t, "a/b+c", u.Query().Get("token"))
	assert.Equal(t, "x+y@z.com", u.Query().Get("email"))
}

func TestStoredSecretsAreHashed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.allowMail()
	pair := h.signUp(t, "a@x.com", "1")
	id := h.userID(t, pair)

	stored := h.ledger.slots[model.RefreshKey(id)]
	assert.NotEqual(t, pair.RefreshToken, stored.hash)
	assert.Equal(t, security.HashToken(pair.RefreshToken), stored.hash)
}
