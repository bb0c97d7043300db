package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-auth-service/internal/model"
)

type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Log(ctx context.Context, entry model.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	occurredAt := time.Now().UTC()
	if entry.OccurredAt != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, entry.OccurredAt); err == nil {
			occurredAt = parsed
		}
	}

	var errText *string
	if entry.Error != "" {
		errText = &entry.Error
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_entries (id, action, occurred_at, actor_id, actor_ip, status, subject, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.Action, occurredAt, entry.Actor.UserID, entry.Actor.IP,
		entry.Status, entry.Subject, errText)
	if err != nil {
		return fmt.Errorf("log audit entry: %w", err)
	}
	return nil
}

// auditFilter accumulates WHERE conditions with numbered placeholders.
type auditFilter struct {
	conds []string
	args  []any
}

func (f *auditFilter) add(cond string, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	f.args = append(f.args, value)
	f.conds = append(f.conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(f.args))))
}

func (f *auditFilter) clause() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.conds, " AND ")
}

func (r *AuditRepository) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	query.Page = max(query.Page, 1)
	if query.Limit <= 0 {
		query.Limit = 50
	}
	query.Limit = min(query.Limit, 200)

	var f auditFilter
	f.add("lower(action) = lower(?)", query.Action)
	f.add("actor_id = ?", query.ActorID)
	f.add("lower(status) = lower(?)", query.Status)
	f.add("occurred_at >= ?::timestamptz", query.From)
	f.add("occurred_at <= ?::timestamptz", query.To)

	meta := model.Meta{Page: query.Page, Limit: query.Limit}
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_entries"+f.clause(), f.args...).Scan(&meta.Total); err != nil {
		return nil, model.Meta{}, fmt.Errorf("count audit entries: %w", err)
	}
	meta.TotalPages = (meta.Total + query.Limit - 1) / query.Limit

	n := len(f.args)
	sql := `SELECT id, action, occurred_at, actor_id, actor_ip, status, subject, COALESCE(error, '')
		FROM audit_entries` + f.clause() +
		fmt.Sprintf(" ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d", n+1, n+2)
	args := append(f.args, query.Limit, (query.Page-1)*query.Limit)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, model.Meta{}, fmt.Errorf("query audit entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanAuditEntry)
	if err != nil {
		return nil, model.Meta{}, fmt.Errorf("scan audit entries: %w", err)
	}
	return entries, meta, nil
}

func scanAuditEntry(row pgx.CollectableRow) (model.AuditEntry, error) {
	var (
		e  model.AuditEntry
		at time.Time
	)
	err := row.Scan(&e.ID, &e.Action, &at, &e.Actor.UserID, &e.Actor.IP, &e.Status, &e.Subject, &e.Error)
	e.OccurredAt = at.UTC().Format(time.RFC3339Nano)
	return e, err
}
