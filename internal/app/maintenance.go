package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go-auth-service/internal/config"
	"go-auth-service/internal/metrics"
	"go-auth-service/internal/model"
)

type expiredTokenCleaner interface {
	CleanExpired(ctx context.Context) (int64, error)
}

// tokenSweeper deletes ledger rows whose expiry has passed. Lookups already
// ignore them; the sweep only keeps the table small.
type tokenSweeper struct {
	store    expiredTokenCleaner
	interval time.Duration
	metrics  *metrics.Metrics
}

func newTokenSweeper(store expiredTokenCleaner, interval time.Duration, m *metrics.Metrics) *tokenSweeper {
	return &tokenSweeper{store: store, interval: interval, metrics: m}
}

func (s *tokenSweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *tokenSweeper) sweep(ctx context.Context) {
	removed, err := s.store.CleanExpired(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("token sweep failed", "error", err)
		}
		return
	}

	s.metrics.AddSwept(removed)
	if removed > 0 {
		slog.Info("expired tokens removed", "count", removed)
	}
}

type adminSeeder interface {
	FindByEmail(ctx context.Context, email string) (model.User, error)
	CreateWithPassword(ctx context.Context, nu model.NewUser, password string) (model.User, error)
	AddRoles(ctx context.Context, userID string, roles ...string) error
}

// seedAdmin creates the configured administrator once. An existing account
// with the same email is left untouched.
func seedAdmin(ctx context.Context, cfg *config.Config, users adminSeeder) error {
	if cfg.SeedAdminEmail == "" {
		return nil
	}

	_, err := users.FindByEmail(ctx, cfg.SeedAdminEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, model.ErrUserNotFound) {
		return err
	}

	user, err := users.CreateWithPassword(ctx, model.NewUser{
		Email:       cfg.SeedAdminEmail,
		PhoneNumber: cfg.SeedAdminPhone,
		Username:    "admin",
		FullName:    "Administrator",
	}, cfg.SeedAdminPassword)
	if err != nil {
		return err
	}

	if err := users.AddRoles(ctx, user.ID, model.RoleAdmin, model.RoleCustomer); err != nil {
		return err
	}

	slog.Info("admin account seeded", "email", user.Email, "user_id", user.ID)
	return nil
}
