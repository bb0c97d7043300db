package middleware

import (
	"context"
	"net/http"
	"strings"

	"go-auth-service/internal/model"
	"go-auth-service/pkg/apierror"
)

type tokenValidator interface {
	ValidateAccessToken(token string) (*model.Principal, error)
}

type contextKey string

const principalContextKey contextKey = "auth_principal"

type AuthMiddleware struct {
	validator tokenValidator
}

func NewAuthMiddleware(validator tokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// RequireAuth rejects requests without a valid, unexpired bearer token.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := BearerToken(r)
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, apierror.CodeUnauthorized, "missing or invalid authorization header")
			return
		}

		principal, err := m.validator.ValidateAccessToken(token)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, apierror.CodeUnauthorized, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// OptionalAuth attaches the principal when a valid bearer token is present
// and otherwise lets the request through anonymously.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token, ok := BearerToken(r); ok {
			if principal, err := m.validator.ValidateAccessToken(token); err == nil {
				r = r.WithContext(WithPrincipal(r.Context(), principal))
			}
		}

		next.ServeHTTP(w, r)
	})
}

// RequireRoles must run after RequireAuth.
func (m *AuthMiddleware) RequireRoles(allowedRoles ...string) func(http.Handler) http.Handler {
	roleSet := map[string]struct{}{}
	for _, role := range allowedRoles {
		roleSet[strings.ToUpper(strings.TrimSpace(role))] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, apierror.CodeUnauthorized, "authentication required")
				return
			}

			for _, role := range principal.Roles {
				if _, allowed := roleSet[strings.ToUpper(role)]; allowed {
					next.ServeHTTP(w, r)
					return
				}
			}

			writeJSONError(w, http.StatusForbidden, apierror.CodeForbidden, "insufficient permissions")
		})
	}
}

// BearerToken returns the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}

	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

func WithPrincipal(ctx context.Context, principal *model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

func PrincipalFromContext(ctx context.Context) (*model.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(*model.Principal)
	return principal, ok && principal != nil
}
