package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go-auth-service/internal/event"
	"go-auth-service/internal/model"
	"go-auth-service/pkg/apierror"
)

type AuditStore interface {
	Log(ctx context.Context, entry model.AuditEntry) error
	Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error)
}

// AuditService persists auth events as audit entries and serves them back.
type AuditService struct {
	store AuditStore
}

func NewAuditService(store AuditStore) *AuditService {
	return &AuditService{store: store}
}

// Run records every event from bus until ctx is cancelled or the
// subscription closes.
func (s *AuditService) Run(ctx context.Context, bus event.Bus) {
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			s.Record(ctx, e)
		}
	}
}

func (s *AuditService) Record(ctx context.Context, e event.Event) {
	status := "success"
	if !e.Success {
		status = "failure"
	}

	entry := model.AuditEntry{
		ID:         e.ID,
		Action:     string(e.Type),
		OccurredAt: e.Timestamp,
		Actor:      model.AuditActor{UserID: e.ActorID, IP: e.IP},
		Status:     status,
		Subject:    e.Subject,
		Error:      e.Error,
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.store.Log(writeCtx, entry); err != nil {
		slog.Error("audit write failed", "action", entry.Action, "error", err)
	}
}

func (s *AuditService) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	if _, err := parseOptionalAuditTime(query.From); err != nil {
		return nil, model.Meta{}, apierror.BadRequest("invalid 'from' datetime format")
	}
	if _, err := parseOptionalAuditTime(query.To); err != nil {
		return nil, model.Meta{}, apierror.BadRequest("invalid 'to' datetime format")
	}

	return s.store.Query(ctx, query)
}

func parseOptionalAuditTime(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, nil
	}

	if value, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
		return value.UTC(), nil
	}

	value, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, err
	}
	return value.UTC(), nil
}
