package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"go-auth-service/internal/event"
	"go-auth-service/internal/metrics"
	"go-auth-service/internal/model"
	"go-auth-service/internal/notify"
	"go-auth-service/internal/security"
	"go-auth-service/pkg/apierror"
)

// IdentityStore is the user persistence the auth flows rely on. Lookups
// return model.ErrUserNotFound when nothing matches.
type IdentityStore interface {
	FindByEmail(ctx context.Context, email string) (model.User, error)
	FindByPhone(ctx context.Context, phone string) (model.User, error)
	FindByIdentity(ctx context.Context, identity string) (model.User, error)
	FindByID(ctx context.Context, id string) (model.User, error)
	CreateWithPassword(ctx context.Context, nu model.NewUser, password string) (model.User, error)
	VerifyPassword(u model.User, password string) bool
	SetPasswordHash(ctx context.Context, userID string, password string) error
	ListRoles(ctx context.Context, userID string) ([]string, error)
	AddRoles(ctx context.Context, userID string, roles ...string) error
}

// TokenLedger keeps one hashed secret per (user, provider, purpose). Rotate
// and Consume return model.ErrTokenNotFound when the presented hash is not
// the live one. Consume reports the expiry the consumed slot had.
type TokenLedger interface {
	Replace(ctx context.Context, key model.TokenKey, tokenHash string, expiresAt time.Time) error
	Rotate(ctx context.Context, key model.TokenKey, presentedHash string, newHash string, expiresAt time.Time) error
	Consume(ctx context.Context, key model.TokenKey, presentedHash string) (time.Time, error)
	Revoke(ctx context.Context, key model.TokenKey) error
	RevokeAllForUser(ctx context.Context, userID string) error
}

type TokenIssuer interface {
	IssueAccessToken(user model.User, roles []string) (string, time.Time, error)
	IssueRefreshToken(user model.User, provider string, purpose string) (string, time.Time, error)
	PrincipalFromToken(token string) (*model.Principal, error)
}

// ResetThrottle limits how often a reset email can be requested per address.
type ResetThrottle interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type AuthOptions struct {
	ResetPasswordURL string
	Bus              event.Bus
	Metrics          *metrics.Metrics
	ResetThrottle    ResetThrottle
}

// AuthService implements registration, sign-in, token refresh and password
// recovery. It holds no per-request state; all consistency comes from the
// store and the ledger.
type AuthService struct {
	users    IdentityStore
	ledger   TokenLedger
	issuer   TokenIssuer
	notifier notify.Notifier
	opts     AuthOptions
}

func NewAuthService(users IdentityStore, ledger TokenLedger, issuer TokenIssuer, notifier notify.Notifier, opts AuthOptions) *AuthService {
	return &AuthService{
		users:    users,
		ledger:   ledger,
		issuer:   issuer,
		notifier: notifier,
		opts:     opts,
	}
}

func (s *AuthService) SignUp(ctx context.Context, req model.SignUpRequest) (pair model.TokenPair, err error) {
	started := time.Now()
	email := strings.TrimSpace(req.Email)
	phone := strings.TrimSpace(req.PhoneNumber)

	var userID string
	defer func() {
		s.record(ctx, "signup", event.TypeSignedUp, userID, email, err, started)
	}()

	if err := s.ensureUnused(ctx, email, phone); err != nil {
		return model.TokenPair{}, err
	}

	user, err := s.users.CreateWithPassword(ctx, model.NewUser{
		Email:       email,
		PhoneNumber: phone,
		Username:    strings.TrimSpace(req.Username),
		FullName:    strings.TrimSpace(req.FullName),
	}, req.Password)
	if err != nil {
		return model.TokenPair{}, err
	}
	userID = user.ID

	if err := s.users.AddRoles(ctx, user.ID, model.RoleCustomer); err != nil {
		return model.TokenPair{}, fmt.Errorf("assign default role: %w", err)
	}

	pair, err = s.startSession(ctx, user, []string{model.RoleCustomer})
	if err != nil {
		return model.TokenPair{}, err
	}

	s.notifier.SendRegistrationConfirmation(ctx, user.Email, user.FullName)

	return pair, nil
}

func (s *AuthService) SignIn(ctx context.Context, identity string, password string) (pair model.TokenPair, err error) {
	started := time.Now()
	identity = strings.TrimSpace(identity)

	var userID string
	defer func() {
		t := event.TypeSignedIn
		if err != nil {
			t = event.TypeSignInFailed
		}
		s.record(ctx, "signin", t, userID, identity, err, started)
	}()

	user, err := s.users.FindByIdentity(ctx, identity)
	if errors.Is(err, model.ErrUserNotFound) {
		// Burn a hash comparison so a miss costs about as much as a wrong password.
		s.users.VerifyPassword(model.User{}, password)
		return model.TokenPair{}, apierror.NotFound("Invalid credentials")
	}
	if err != nil {
		return model.TokenPair{}, err
	}
	userID = user.ID

	if !s.users.VerifyPassword(user, password) {
		return model.TokenPair{}, apierror.Unauthorized("Invalid credentials")
	}
	if !user.Active() {
		return model.TokenPair{}, apierror.Unauthorized("Your account was disabled")
	}

	roles, err := s.users.ListRoles(ctx, user.ID)
	if err != nil {
		return model.TokenPair{}, err
	}

	return s.startSession(ctx, user, roles)
}

// SignOut ends the session of userID by revoking its refresh slot. It never
// fails; an anonymous call (empty userID) is a no-op.
func (s *AuthService) SignOut(ctx context.Context, userID string) error {
	started := time.Now()

	if userID != "" {
		if err := s.ledger.Revoke(ctx, model.RefreshKey(userID)); err != nil {
			slog.Warn("sign-out: revoke refresh token failed", "user_id", userID, "error", err)
		}
	}

	s.record(ctx, "signout", event.TypeSignedOut, userID, "", nil, started)
	return nil
}

// RefreshToken redeems refreshToken for a new pair. accessToken identifies
// the user and may already be expired; its signature must still verify.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string, accessToken string) (pair model.TokenPair, err error) {
	started := time.Now()
	refreshToken = strings.TrimSpace(refreshToken)
	accessToken = strings.TrimSpace(accessToken)

	var userID string
	defer func() {
		t := event.TypeTokenRefreshed
		if err != nil {
			t = event.TypeRefreshRejected
		}
		s.record(ctx, "refresh", t, userID, "", err, started)
	}()

	if refreshToken == "" {
		return model.TokenPair{}, apierror.InvalidToken("Refresh token is required")
	}
	if accessToken == "" {
		return model.TokenPair{}, apierror.Unauthorized("Unauthorized")
	}

	principal, err := s.issuer.PrincipalFromToken(accessToken)
	if err != nil {
		return model.TokenPair{}, apierror.Unauthorized("Unauthorized")
	}
	userID = principal.UserID

	user, err := s.users.FindByID(ctx, principal.UserID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.TokenPair{}, apierror.Unauthorized("Unauthorized")
	}
	if err != nil {
		return model.TokenPair{}, err
	}
	if !user.Active() {
		return model.TokenPair{}, apierror.Unauthorized("Your account was disabled")
	}

	roles, err := s.users.ListRoles(ctx, user.ID)
	if err != nil {
		return model.TokenPair{}, err
	}

	next, refreshExpiresAt, err := s.mintPair(user, roles)
	if err != nil {
		return model.TokenPair{}, err
	}

	err = s.ledger.Rotate(ctx, model.RefreshKey(user.ID),
		security.HashToken(refreshToken), security.HashToken(next.RefreshToken), refreshExpiresAt)
	if errors.Is(err, model.ErrTokenNotFound) {
		return model.TokenPair{}, apierror.Unauthorized("Unauthorized")
	}
	if err != nil {
		return model.TokenPair{}, err
	}

	return next, nil
}

// ForgotPassword mails a single-use reset link to email. Unknown addresses
// are reported as NotFound.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (err error) {
	started := time.Now()
	email = strings.TrimSpace(email)

	var userID string
	defer func() {
		s.record(ctx, "forgot_password", event.TypePasswordResetRequested, userID, email, err, started)
	}()

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, model.ErrUserNotFound) {
		return apierror.NotFound("User does not exist")
	}
	if err != nil {
		return err
	}
	userID = user.ID

	if s.opts.ResetThrottle != nil {
		allowed, throttleErr := s.opts.ResetThrottle.Allow(ctx, user.Email)
		if throttleErr != nil {
			slog.Warn("forgot-password: throttle unavailable", "error", throttleErr)
		} else if !allowed {
			return apierror.TooManyRequests("A reset email was sent recently, try again later")
		}
	}

	secret, expiresAt, err := s.issuer.IssueRefreshToken(user, model.ProviderDefault, model.PurposeResetPassword)
	if err != nil {
		return err
	}

	if err := s.ledger.Replace(ctx, model.ResetPasswordKey(user.ID), security.HashToken(secret), expiresAt); err != nil {
		return err
	}

	link, err := ResetLink(s.opts.ResetPasswordURL, secret, email)
	if err != nil {
		return err
	}

	s.notifier.SendPasswordReset(ctx, user.Email, link)
	return nil
}

// ResetPassword redeems a reset secret and sets newPassword. Every slot the
// user holds ends with it. If the new hash cannot be stored the secret is put
// back with its original expiry so the link stays usable.
func (s *AuthService) ResetPassword(ctx context.Context, email string, token string, newPassword string) (err error) {
	started := time.Now()
	email = strings.TrimSpace(email)
	token = strings.TrimSpace(token)

	var userID string
	defer func() {
		s.record(ctx, "reset_password", event.TypePasswordReset, userID, email, err, started)
	}()

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, model.ErrUserNotFound) {
		return apierror.NotFound("User does not exist")
	}
	if err != nil {
		return err
	}
	userID = user.ID

	if token == "" {
		return apierror.BadRequest("Invalid token")
	}
	if fields := security.ValidatePassword(newPassword); len(fields) > 0 {
		return apierror.BadRequest("Password does not meet requirements", fields...)
	}

	resetKey := model.ResetPasswordKey(user.ID)
	presented := security.HashToken(token)

	expiresAt, err := s.ledger.Consume(ctx, resetKey, presented)
	if errors.Is(err, model.ErrTokenNotFound) {
		return apierror.BadRequest("Invalid token")
	}
	if err != nil {
		return err
	}

	if err := s.users.SetPasswordHash(ctx, user.ID, newPassword); err != nil {
		if restoreErr := s.ledger.Replace(ctx, resetKey, presented, expiresAt); restoreErr != nil {
			slog.Warn("reset-password: restore reset token failed", "user_id", user.ID, "error", restoreErr)
		}
		return err
	}

	if err := s.ledger.RevokeAllForUser(ctx, user.ID); err != nil {
		slog.Warn("reset-password: revoke user tokens failed", "user_id", user.ID, "error", err)
	}

	return nil
}

func (s *AuthService) GetProfile(ctx context.Context, userID string) (model.Profile, error) {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.Profile{}, apierror.Unauthorized("Unauthorized")
	}
	if err != nil {
		return model.Profile{}, err
	}

	roles, err := s.users.ListRoles(ctx, user.ID)
	if err != nil {
		return model.Profile{}, err
	}

	return model.NewProfile(user, roles), nil
}

// ResetLink builds <base>?token=<token>&email=<email>, keeping any query the
// base URL already carries.
func ResetLink(base string, token string, email string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse reset password url: %w", err)
	}

	q := u.Query()
	q.Set("token", token)
	q.Set("email", email)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (s *AuthService) ensureUnused(ctx context.Context, email string, phone string) error {
	if email != "" {
		_, err := s.users.FindByEmail(ctx, email)
		if err == nil {
			return apierror.BadRequest("Email already exists",
				apierror.FieldError{Field: "email", Reason: "already exists"})
		}
		if !errors.Is(err, model.ErrUserNotFound) {
			return err
		}
	}

	if phone != "" {
		_, err := s.users.FindByPhone(ctx, phone)
		if err == nil {
			return apierror.BadRequest("Phone number already exists",
				apierror.FieldError{Field: "phoneNumber", Reason: "already exists"})
		}
		if !errors.Is(err, model.ErrUserNotFound) {
			return err
		}
	}

	return nil
}

// startSession mints a pair and makes its refresh token the only live one
// for the user.
func (s *AuthService) startSession(ctx context.Context, user model.User, roles []string) (model.TokenPair, error) {
	pair, refreshExpiresAt, err := s.mintPair(user, roles)
	if err != nil {
		return model.TokenPair{}, err
	}

	if err := s.ledger.Replace(ctx, model.RefreshKey(user.ID), security.HashToken(pair.RefreshToken), refreshExpiresAt); err != nil {
		return model.TokenPair{}, err
	}

	return pair, nil
}

func (s *AuthService) mintPair(user model.User, roles []string) (model.TokenPair, time.Time, error) {
	access, _, err := s.issuer.IssueAccessToken(user, roles)
	if err != nil {
		return model.TokenPair{}, time.Time{}, err
	}

	refresh, refreshExpiresAt, err := s.issuer.IssueRefreshToken(user, model.ProviderDefault, model.PurposeRefresh)
	if err != nil {
		return model.TokenPair{}, time.Time{}, err
	}

	return model.TokenPair{AccessToken: access, RefreshToken: refresh}, refreshExpiresAt, nil
}

func (s *AuthService) record(ctx context.Context, operation string, t event.Type, userID string, subject string, err error, started time.Time) {
	s.opts.Metrics.ObserveAuth(operation, err, started)

	if s.opts.Bus == nil {
		return
	}

	e := event.New(t, userID, subject)
	e.IP = event.IPFromContext(ctx)
	if err != nil {
		e = e.Failed(err)
	}
	s.opts.Bus.Publish(e)
}
