// Package bot binds chat events to the dialogue machine, the staging area
// and the pipeline. Events of one chat are handled strictly in order;
// different chats proceed concurrently.
package bot

import "context"

// FileRef identifies a file attached to an inbound message. ID is
// transport specific.
type FileRef struct {
	ID       string
	Name     string
	MimeType string
	Size     int64
}

// Event is one inbound chat message: text, a file, or both (a caption).
type Event struct {
	ChatID int64
	Text   string
	File   *FileRef

	// set for internal inactivity events
	expiredUser string
}

// Transport is the chat side of the bot.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) error
	// SendFile returns nil only once the transport confirmed delivery.
	SendFile(ctx context.Context, chatID int64, path, name string) error
	Fetch(ctx context.Context, ref FileRef) ([]byte, error)
}
