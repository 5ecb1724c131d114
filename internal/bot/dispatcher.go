package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/dmitrijs2005/formbot/internal/dialog"
	"github.com/dmitrijs2005/formbot/internal/events"
	"github.com/dmitrijs2005/formbot/internal/logging"
	"github.com/dmitrijs2005/formbot/internal/pipeline"
	"github.com/dmitrijs2005/formbot/internal/sessions"
	"github.com/dmitrijs2005/formbot/internal/staging"
)

// DefaultMaxUpload matches the Telegram Bot API download limit.
const DefaultMaxUpload = 20 << 20

type Config struct {
	Transport Transport
	Users     dialog.UserStore
	Codes     dialog.CodeIssuer
	Mailer    dialog.CodeSender
	Registry  *sessions.Registry
	Area      *staging.Area
	Pipeline  *pipeline.Pipeline
	Ingester  *pipeline.Ingester
	Events    events.Publisher
	Log       logging.Logger

	InactivityTimeout time.Duration
	DialogueTTL       time.Duration
	MaxUpload         int64
	Now               func() time.Time
}

type Dispatcher struct {
	c       Config
	log     logging.Logger
	machine *dialog.Machine
	timers  *sessions.Timers
	queues  *chatQueues

	// ctx bounds every handler; cancelled on Shutdown so running stages
	// and their external processes stop.
	ctx    context.Context
	cancel context.CancelFunc
}

func New(c Config) *Dispatcher {
	if c.Log == nil {
		c.Log = logging.Nop()
	}
	if c.MaxUpload <= 0 {
		c.MaxUpload = DefaultMaxUpload
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	d := &Dispatcher{c: c, log: c.Log.With("module", "bot")}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.timers = sessions.NewTimers(c.InactivityTimeout, d.onInactive)
	d.machine = dialog.New(dialog.Deps{
		Users:    c.Users,
		Codes:    c.Codes,
		Mailer:   c.Mailer,
		Vaults:   c.Area,
		Sessions: d,
		Events:   c.Events,
		Log:      c.Log.With("module", "dialog"),
		TTL:      c.DialogueTTL,
		Now:      c.Now,
	})
	d.queues = newChatQueues(func(ev Event) { d.Handle(d.ctx, ev) })
	return d
}

func (d *Dispatcher) Machine() *dialog.Machine { return d.machine }

func (d *Dispatcher) Timers() *sessions.Timers { return d.timers }

// Dispatch queues ev behind earlier events of its chat.
func (d *Dispatcher) Dispatch(ev Event) {
	if !d.queues.push(ev) {
		d.log.Warn(d.ctx, "event dropped during shutdown", "chat_id", ev.ChatID)
	}
}

// Shutdown cancels running handlers, waits for the queues to drain until
// ctx ends and stops every inactivity timer. Sessions stay persisted and
// are restored on the next start.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.cancel()
	err := d.queues.close(ctx)
	d.timers.StopAll()
	return err
}

// Handle processes one event synchronously. Panics are logged and reported
// to the chat; they never escape.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error(ctx, "handler panic", "chat_id", ev.ChatID, "panic", r, "stack", string(debug.Stack()))
			d.say(ctx, ev.ChatID, MsgInternalError)
		}
	}()

	if ev.expiredUser != "" {
		d.expire(ctx, ev.ChatID, ev.expiredUser)
		return
	}

	sess, err := d.c.Registry.Get(ctx, ev.ChatID)
	if err != nil {
		d.log.Error(ctx, "load session", "chat_id", ev.ChatID, "error", err)
		d.say(ctx, ev.ChatID, MsgInternalError)
		return
	}
	username := ""
	if sess != nil {
		username = sess.Username
		if !d.timers.Touch(ev.ChatID) {
			d.timers.Start(ev.ChatID, username)
		}
	}

	if ev.File != nil {
		d.handleFile(ctx, ev.ChatID, username, *ev.File)
		return
	}

	text := strings.TrimSpace(ev.Text)
	if strings.HasPrefix(text, "/") {
		d.handleCommand(ctx, ev.ChatID, username, text)
		return
	}

	out, consumed, err := d.machine.Handle(ctx, ev.ChatID, text)
	if err != nil {
		d.log.Error(ctx, "dialogue step", "chat_id", ev.ChatID, "error", err)
		d.say(ctx, ev.ChatID, MsgInternalError)
		return
	}
	if !consumed {
		d.say(ctx, ev.ChatID, MsgUnknownInput)
		return
	}
	d.deliver(ctx, out)
}

// command returns the command name of text: "/files@formbot arg" -> "/files".
func command(text string) string {
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd)
}

func (d *Dispatcher) handleCommand(ctx context.Context, chatID int64, username, text string) {
	cmd := command(text)
	d.log.Debug(ctx, "command", "chat_id", chatID, "command", cmd)

	switch cmd {
	case "/start", "/help":
		d.say(ctx, chatID, msgHelp)
		return
	case "/register":
		d.deliver(ctx, []dialog.Outbound{d.machine.StartRegistration(chatID)})
		return
	case "/login":
		if username != "" {
			d.say(ctx, chatID, MsgAlreadyLoggedIn)
			return
		}
		d.deliver(ctx, []dialog.Outbound{d.machine.StartLogin(chatID)})
		return
	case "/logout":
		d.logout(ctx, chatID, username)
		return
	case "/cancel":
		d.cancelCmd(ctx, chatID)
		return
	}

	h, ok := map[string]func(context.Context, int64, string){
		"/files":        d.files,
		"/submit_files": d.submitFiles,
		"/process_file": d.processFile,
		"/form":         d.form,
		"/submit_form":  d.submitForm,
		"/process_form": d.processForm,
		"/get_form":     d.getForm,
	}[cmd]
	if !ok {
		d.say(ctx, chatID, MsgUnknownCommand)
		return
	}
	if username == "" {
		d.say(ctx, chatID, MsgLoginFirst)
		return
	}
	h(ctx, chatID, username)
}

func (d *Dispatcher) cancelCmd(ctx context.Context, chatID int64) {
	cancelled := d.machine.CancelDialogue(ctx, chatID)
	if d.machine.UploadMode(chatID) != dialog.UploadNone {
		d.machine.CloseUpload(chatID)
		if err := d.c.Area.ClearUploadStaging(chatID); err != nil {
			d.log.Warn(ctx, "clear upload staging", "chat_id", chatID, "error", err)
		}
		cancelled = true
	}
	if cancelled {
		d.say(ctx, chatID, MsgCancelled)
		return
	}
	d.say(ctx, chatID, MsgNothingToCancel)
}

func (d *Dispatcher) say(ctx context.Context, chatID int64, text string) {
	if err := d.c.Transport.SendText(ctx, chatID, text); err != nil {
		d.log.Warn(ctx, "send text", "chat_id", chatID, "error", err)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, out []dialog.Outbound) {
	for _, o := range out {
		d.say(ctx, o.ChatID, o.Text)
	}
}

func (d *Dispatcher) publish(ctx context.Context, typ string, chatID int64, username string, attrs map[string]string) {
	if d.c.Events == nil {
		return
	}
	if err := d.c.Events.Publish(ctx, events.New(typ, chatID, username, attrs)); err != nil {
		d.log.Warn(ctx, "publish event", "type", typ, "error", err)
	}
}

func numbered(names []string) string {
	var sb strings.Builder
	for i, n := range names {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%d. %s", i+1, n)
	}
	return sb.String()
}

// userMessage maps a pipeline error to what the chat is told.
func userMessage(err error, fallback string) string {
	var se *pipeline.StageError
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		return MsgBusy
	case errors.Is(err, pipeline.ErrNoForm):
		return MsgNoForm
	case errors.Is(err, pipeline.ErrNoLabels):
		return MsgNeedLabels
	case errors.Is(err, pipeline.ErrNoValues):
		return MsgNeedProcess
	case errors.Is(err, pipeline.ErrEmptyVault):
		return MsgIngestEmptyVault
	case errors.Is(err, pipeline.ErrNoText):
		return MsgIngestNoText
	case errors.As(err, &se):
		switch se.Stage {
		case pipeline.StageExtract:
			return MsgExtractFailed
		case pipeline.StageAlign:
			return MsgAlignFailed
		case pipeline.StageFill:
			return MsgFillFailed
		case pipeline.StageSend:
			return MsgSendFailed
		case pipeline.StageLabels, pipeline.StageIngest:
			return MsgIngestFailed
		}
	}
	return fallback
}
