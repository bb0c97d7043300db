// Command mailer consumes queued auth emails and delivers them over SMTP.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go-auth-service/internal/config"
	"go-auth-service/internal/logger"
	"go-auth-service/internal/notify"
)

func main() {
	cfg, err := config.LoadMailer()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger.New(os.Stdout, cfg.LogLevel, cfg.LogFormat))

	templates, err := notify.NewTemplates()
	if err != nil {
		slog.Error("failed to parse mail templates", "error", err)
		os.Exit(1)
	}

	sender := notify.NewSMTPSender(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	}, templates)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("mailer starting", "queue", cfg.MailQueue)
	if err := notify.NewConsumer(cfg.AMQPURL, cfg.MailQueue, sender).Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("mailer stopped", "error", err)
		os.Exit(1)
	}

	slog.Info("mailer stopped")
}
