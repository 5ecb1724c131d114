package events

import (
	"context"

	"github.com/dmitrijs2005/formbot/internal/logging"
)

// LogPublisher records events in the log. Used when no broker is
// configured.
type LogPublisher struct {
	log logging.Logger
}

func NewLogPublisher(log logging.Logger) *LogPublisher {
	return &LogPublisher{log: log.With("module", "events")}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.log.Info(ctx, "event", "id", e.ID, "type", e.Type, "chat_id", e.ChatID, "username", e.Username, "attrs", e.Attrs)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
