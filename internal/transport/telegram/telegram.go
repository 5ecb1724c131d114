// Package telegram connects the dispatcher to the Telegram Bot API using
// long polling.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dmitrijs2005/formbot/internal/bot"
	"github.com/dmitrijs2005/formbot/internal/logging"
	"github.com/dmitrijs2005/formbot/internal/netx"
)

// maxMessageLen is the Bot API limit on message text, in characters.
const maxMessageLen = 4096

const pollTimeout = 60

// api is the subset of *tgbotapi.BotAPI the transport uses.
type api interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetFileDirectURL(fileID string) (string, error)
}

var newBotAPI = func(token string) (api, error) {
	return tgbotapi.NewBotAPI(token)
}

type Transport struct {
	api    api
	client *http.Client
	limit  int64
	logger logging.Logger
}

// New authenticates with token. limit caps the size of a fetched upload.
func New(token string, limit int64, l logging.Logger) (*Transport, error) {
	a, err := newBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	if l == nil {
		l = logging.Nop()
	}
	return &Transport{api: a, client: http.DefaultClient, limit: limit, logger: l.With("module", "telegram")}, nil
}

func (t *Transport) SendText(_ context.Context, chatID int64, text string) error {
	for _, part := range split(text, maxMessageLen) {
		if _, err := t.api.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			return err
		}
	}
	return nil
}

// SendFile uploads path under name. The Bot API answers only after the
// document is stored, so a nil error means delivery was confirmed.
func (t *Transport) SendFile(_ context.Context, chatID int64, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = t.api.Send(tgbotapi.NewDocument(chatID, tgbotapi.FileReader{Name: name, Reader: f}))
	return err
}

func (t *Transport) Fetch(ctx context.Context, ref bot.FileRef) ([]byte, error) {
	url, err := t.api.GetFileDirectURL(ref.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve file %s: %w", ref.ID, err)
	}
	return netx.Download(ctx, t.client, url, t.limit)
}

// Run polls for updates and passes each as an event to dispatch until ctx
// is done.
func (t *Transport) Run(ctx context.Context, dispatch func(bot.Event)) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := t.api.GetUpdatesChan(u)

	t.logger.Info(ctx, "Polling for updates")
	for {
		select {
		case <-ctx.Done():
			t.api.StopReceivingUpdates()
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			if ev, ok := toEvent(upd); ok {
				dispatch(ev)
			}
		}
	}
}

// toEvent converts an update into an event. Only private and group
// messages carrying text, a document or a photo are accepted.
func toEvent(upd tgbotapi.Update) (bot.Event, bool) {
	m := upd.Message
	if m == nil || m.Chat == nil {
		return bot.Event{}, false
	}
	ev := bot.Event{ChatID: m.Chat.ID, Text: m.Text}

	switch {
	case m.Document != nil:
		ev.Text = m.Caption
		ev.File = &bot.FileRef{
			ID:       m.Document.FileID,
			Name:     m.Document.FileName,
			MimeType: m.Document.MimeType,
			Size:     int64(m.Document.FileSize),
		}
	case len(m.Photo) > 0:
		// sizes are ascending; the last one is the original
		p := m.Photo[len(m.Photo)-1]
		ev.Text = m.Caption
		ev.File = &bot.FileRef{
			ID:       p.FileID,
			Name:     "photo-" + p.FileUniqueID + ".jpg",
			MimeType: "image/jpeg",
			Size:     int64(p.FileSize),
		}
	}

	if ev.Text == "" && ev.File == nil {
		return bot.Event{}, false
	}
	return ev, true
}

// split cuts s into pieces of at most n runes, preferring line breaks.
func split(s string, n int) []string {
	if utf8.RuneCountInString(s) <= n {
		return []string{s}
	}
	var parts []string
	runes := []rune(s)
	for len(runes) > n {
		cut := n
		for i := n; i > n/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
