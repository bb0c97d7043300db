package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-auth-service/internal/cache"
	"go-auth-service/internal/config"
	"go-auth-service/internal/database"
	"go-auth-service/internal/event"
	"go-auth-service/internal/handler"
	"go-auth-service/internal/logger"
	"go-auth-service/internal/metrics"
	"go-auth-service/internal/middleware"
	"go-auth-service/internal/notify"
	"go-auth-service/internal/repository"
	"go-auth-service/internal/router"
	"go-auth-service/internal/security"
	"go-auth-service/internal/service"
	"go-auth-service/internal/token"
	"go-auth-service/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	server       *http.Server
	cleanupFuncs []func(ctx context.Context)
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.SetDefault(logger.New(os.Stdout, cfg.LogLevel, cfg.LogFormat))

	ctx := context.Background()
	a := &App{}

	slog.Info("connecting to PostgreSQL")
	db, err := database.New(ctx, database.Options{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ConnectAttempts: 5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.onShutdown(func(context.Context) { db.Close() })

	if err := db.Migrate(ctx); err != nil {
		a.cleanup(ctx)
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	m := metrics.New()
	hasher := security.NewBcryptHasher(cfg.BcryptCost)
	userRepo := repository.NewUserRepository(db.Pool, hasher)
	tokenRepo := repository.NewTokenRepository(db.Pool)
	auditRepo := repository.NewAuditRepository(db.Pool)
	slog.Info("database ready")

	issuer, err := token.NewIssuer(token.Options{
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		AccessTTL:  cfg.JWTAccessTTL,
		RefreshTTL: cfg.JWTRefreshTTL,
		ResetTTL:   cfg.ResetTokenTTL,
	})
	if err != nil {
		a.cleanup(ctx)
		return nil, fmt.Errorf("failed to initialize token issuer: %w", err)
	}

	healthChecks := map[string]handler.HealthCheck{"database": db.Health}

	var cooldown *cache.Cooldown
	if cfg.RedisAddr != "" {
		redisCache, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			a.cleanup(ctx)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.onShutdown(func(context.Context) { _ = redisCache.Close() })
		cooldown = cache.NewCooldown(redisCache, "forgot-password", cfg.ResetRequestCooldown)
		healthChecks["redis"] = redisCache.Health
		slog.Info("redis ready", "addr", cfg.RedisAddr)
	}

	sender, err := newSender(cfg)
	if err != nil {
		a.cleanup(ctx)
		return nil, err
	}
	if closer, ok := sender.(interface{ Close() error }); ok {
		a.onShutdown(func(context.Context) { _ = closer.Close() })
	}

	dispatcher := notify.NewDispatcher(sender, notify.DispatcherOptions{
		Workers:   cfg.MailWorkers,
		QueueSize: cfg.MailQueueSize,
	}, m)
	dispatcher.Start()
	// Registered after the sender so the queue drains before the transport closes.
	a.onShutdown(func(ctx context.Context) {
		if err := dispatcher.Close(ctx); err != nil {
			slog.Warn("mail dispatcher did not drain", "error", err)
		}
	})

	bus := event.NewBus()
	auditService := service.NewAuditService(auditRepo)
	backgroundCtx, cancelBackground := context.WithCancel(context.Background())
	a.onShutdown(func(context.Context) { cancelBackground() })
	go auditService.Run(backgroundCtx, bus)

	hub := websocket.NewHub(bus)
	go hub.Run(backgroundCtx)

	sweeper := newTokenSweeper(tokenRepo, cfg.TokenSweepInterval, m)
	go sweeper.Run(backgroundCtx)

	authService := service.NewAuthService(userRepo, tokenRepo, issuer, dispatcher, service.AuthOptions{
		ResetPasswordURL: cfg.ResetPasswordURL,
		Bus:              bus,
		Metrics:          m,
		ResetThrottle:    cooldown,
	})

	if err := seedAdmin(ctx, cfg, userRepo); err != nil {
		a.cleanup(ctx)
		return nil, fmt.Errorf("failed to seed admin: %w", err)
	}

	appRouter := router.New(cfg, middleware.NewAuthMiddleware(issuer), router.Handlers{
		Auth:        handler.NewAuthHandler(authService),
		Audit:       handler.NewAuditHandler(auditService),
		AuditStream: handler.NewAuditStreamHandler(hub, cfg.CORSOrigins),
		Docs:        handler.NewDocsHandler(),
		Health:      handler.NewHealthHandler(healthChecks),
	}, m)

	a.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return a, nil
}

func newSender(cfg *config.Config) (notify.Sender, error) {
	switch cfg.MailTransport {
	case config.MailTransportSMTP:
		templates, err := notify.NewTemplates()
		if err != nil {
			return nil, fmt.Errorf("failed to parse mail templates: %w", err)
		}
		slog.Info("mail transport: smtp", "host", cfg.SMTPHost, "port", cfg.SMTPPort)
		return notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		}, templates), nil
	case config.MailTransportAMQP:
		slog.Info("mail transport: amqp", "queue", cfg.MailQueue)
		return notify.NewAMQPPublisher(cfg.AMQPURL, cfg.MailQueue), nil
	default:
		slog.Info("mail transport: log")
		return notify.LogSender{}, nil
	}
}

// onShutdown registers fn to run during shutdown. Functions run in reverse
// registration order.
func (a *App) onShutdown(fn func(ctx context.Context)) {
	a.cleanupFuncs = append(a.cleanupFuncs, fn)
}

func (a *App) cleanup(ctx context.Context) {
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i](ctx)
	}
	a.cleanupFuncs = nil
}

func (a *App) Run() error {
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case <-stop:
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil && runErr == nil {
		runErr = fmt.Errorf("graceful shutdown failed: %w", err)
	}

	a.cleanup(ctx)

	slog.Info("server stopped")
	return runErr
}
