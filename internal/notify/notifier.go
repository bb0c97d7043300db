// Package notify delivers account emails off the request path.
//
// The auth service only sees Notifier. Calls enqueue a Message and return;
// a Dispatcher's workers render and hand it to a Sender (SMTP, AMQP or log).
// Delivery failures are logged and counted, never returned to the caller.
package notify

import (
	"context"
	"time"
)

type Kind string

const (
	KindRegistration  Kind = "registration"
	KindPasswordReset Kind = "password_reset"
)

// Message is the transport-neutral description of one email. It is also the
// JSON body published to the mail queue.
type Message struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	To        string    `json:"to"`
	Name      string    `json:"name,omitempty"`
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier is what the auth service calls. Both methods return immediately.
type Notifier interface {
	SendRegistrationConfirmation(ctx context.Context, email string, fullName string)
	SendPasswordReset(ctx context.Context, email string, link string)
}

// Sender performs the actual delivery of one message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
