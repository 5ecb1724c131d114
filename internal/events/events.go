// Package events publishes domain events (logins, expiries, pipeline stage
// outcomes). Publishing is best-effort: a failed publish never fails the
// operation that produced the event.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TypeUserRegistered   = "user.registered"
	TypeSessionStarted   = "session.started"
	TypeSessionEnded     = "session.ended"
	TypeSessionExpired   = "session.expired"
	TypeSessionDisplaced = "session.displaced"
	TypeFilesStored      = "vault.files_stored"
	TypeFormStored       = "vault.form_stored"
	TypeLabelsIngested   = "labels.ingested"
	TypePipelineStage    = "pipeline.stage"
	TypeFormDelivered    = "form.delivered"
)

type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	ChatID     int64             `json:"chat_id,omitempty"`
	Username   string            `json:"username,omitempty"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// New stamps an event with a fresh id and the current UTC time.
func New(typ string, chatID int64, username string, attrs map[string]string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		ChatID:     chatID,
		Username:   username,
		Attrs:      attrs,
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}
