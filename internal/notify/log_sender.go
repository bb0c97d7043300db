package notify

import (
	"context"
	"log/slog"
)

// LogSender writes messages to the log instead of delivering them. Links are
// only logged at debug level.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg Message) error {
	slog.InfoContext(ctx, "mail (log transport)", "kind", msg.Kind, "to", msg.To, "id", msg.ID)
	if msg.Link != "" {
		slog.DebugContext(ctx, "mail link", "id", msg.ID, "link", msg.Link)
	}
	return nil
}
