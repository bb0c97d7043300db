package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeSignedUp               Type = "auth.signed_up"
	TypeSignedIn               Type = "auth.signed_in"
	TypeSignInFailed           Type = "auth.sign_in_failed"
	TypeSignedOut              Type = "auth.signed_out"
	TypeTokenRefreshed         Type = "auth.token_refreshed"
	TypeRefreshRejected        Type = "auth.refresh_rejected"
	TypePasswordResetRequested Type = "auth.password_reset_requested"
	TypePasswordReset          Type = "auth.password_reset"
)

type Event struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	Timestamp string `json:"timestamp"`
	ActorID   string `json:"actor_id,omitempty"`
	// Subject is the identifier the operation was about (email, identity).
	Subject string `json:"subject,omitempty"`
	IP      string `json:"ip,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// New stamps an event with a fresh id and the current time.
func New(t Type, actorID string, subject string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		ActorID:   actorID,
		Subject:   subject,
		Success:   true,
	}
}

// Failed marks e as a failure caused by err.
func (e Event) Failed(err error) Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func())
}

type ipKey struct{}

// WithIP records the caller's address so events raised further down the
// call chain can carry it.
func WithIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipKey{}, ip)
}

func IPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ipKey{}).(string)
	return ip
}
