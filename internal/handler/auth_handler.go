package handler

import (
	"context"
	"net/http"
	"strings"

	"go-auth-service/internal/middleware"
	"go-auth-service/internal/model"
	"go-auth-service/pkg/apierror"
)

// authFlows is the part of service.AuthService the HTTP layer calls.
type authFlows interface {
	SignUp(ctx context.Context, req model.SignUpRequest) (model.TokenPair, error)
	SignIn(ctx context.Context, identity string, password string) (model.TokenPair, error)
	SignOut(ctx context.Context, userID string) error
	RefreshToken(ctx context.Context, refreshToken string, accessToken string) (model.TokenPair, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email string, token string, newPassword string) error
	GetProfile(ctx context.Context, userID string) (model.Profile, error)
}

type AuthHandler struct {
	service authFlows
}

func NewAuthHandler(service authFlows) *AuthHandler {
	return &AuthHandler{service: service}
}

func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var payload model.SignUpRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	var check fieldCheck
	check.email("email", payload.Email)
	check.required("phoneNumber", payload.PhoneNumber)
	check.required("userName", payload.Username)
	check.required("password", payload.Password)
	if err := check.err(); err != nil {
		writeError(w, err)
		return
	}

	payload.Email = strings.TrimSpace(payload.Email)
	payload.PhoneNumber = strings.TrimSpace(payload.PhoneNumber)
	payload.Username = strings.TrimSpace(payload.Username)
	payload.FullName = strings.TrimSpace(payload.FullName)

	tokens, err := h.service.SignUp(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, tokens, nil)
}

func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var payload model.SignInRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	var check fieldCheck
	check.required("identity", payload.Identity)
	check.required("password", payload.Password)
	if err := check.err(); err != nil {
		writeError(w, err)
		return
	}

	tokens, err := h.service.SignIn(r.Context(), strings.TrimSpace(payload.Identity), payload.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, tokens, nil)
}

// SignOut always answers 200. The refresh session is ended only when the
// caller authenticated, which OptionalAuth decides upstream.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	var userID string
	if principal, ok := middleware.PrincipalFromContext(r.Context()); ok {
		userID = principal.UserID
	}

	if err := h.service.SignOut(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"signedOut": true}, nil)
}

// RefreshToken takes the refresh secret from the body and the (possibly
// expired) access token from the Authorization header.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var payload model.RefreshTokenRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	accessToken, _ := middleware.BearerToken(r)

	tokens, err := h.service.RefreshToken(r.Context(), payload.RefreshToken, accessToken)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, tokens, nil)
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var payload model.ForgotPasswordRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	var check fieldCheck
	check.email("email", payload.Email)
	if err := check.err(); err != nil {
		writeError(w, err)
		return
	}

	if err := h.service.ForgotPassword(r.Context(), strings.TrimSpace(payload.Email)); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"sent": true}, nil)
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var payload model.ResetPasswordRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	var check fieldCheck
	check.email("email", payload.Email)
	check.required("newPassword", payload.NewPassword)
	if err := check.err(); err != nil {
		writeError(w, err)
		return
	}

	err := h.service.ResetPassword(r.Context(), strings.TrimSpace(payload.Email), strings.TrimSpace(payload.Token), payload.NewPassword)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"reset": true}, nil)
}

func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, apierror.Unauthorized("authentication required"))
		return
	}

	profile, err := h.service.GetProfile(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, profile, nil)
}
