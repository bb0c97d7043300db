package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"go-auth-service/internal/config"
	"go-auth-service/internal/handler"
	"go-auth-service/internal/metrics"
	"go-auth-service/internal/middleware"
	"go-auth-service/internal/model"
)

type Handlers struct {
	Auth        *handler.AuthHandler
	Audit       *handler.AuditHandler
	AuditStream *handler.AuditStreamHandler
	Docs        *handler.DocsHandler
	Health      *handler.HealthHandler
}

func New(cfg *config.Config, authMiddleware *middleware.AuthMiddleware, handlers Handlers, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging(m))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", handlers.Health.Health)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/openapi.yaml", handlers.Docs.OpenAPI)
	r.Get("/swagger", handlers.Docs.SwaggerUI)

	// Outside the /api/v1 group: the timeout wrapper cannot hijack connections.
	if handlers.AuditStream != nil {
		r.With(authMiddleware.RequireAuth, authMiddleware.RequireRoles(model.RoleAdmin)).
			Get("/api/v1/audit/stream", handlers.AuditStream.Stream)
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Route("/auth", func(auth chi.Router) {
			auth.Post("/signup", handlers.Auth.SignUp)
			auth.Post("/signin", handlers.Auth.SignIn)
			auth.With(authMiddleware.OptionalAuth).Post("/signout", handlers.Auth.SignOut)
			auth.Post("/refresh-token", handlers.Auth.RefreshToken)
			auth.Post("/forgot-password", handlers.Auth.ForgotPassword)
			auth.Post("/reset-password", handlers.Auth.ResetPassword)
			auth.With(authMiddleware.RequireAuth).Get("/profile", handlers.Auth.Profile)
		})

		api.With(authMiddleware.RequireAuth, authMiddleware.RequireRoles(model.RoleAdmin)).Get("/audit", handlers.Audit.List)
	})

	return r
}
