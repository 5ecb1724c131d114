package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/formbot/internal/common"
	"github.com/dmitrijs2005/formbot/internal/events"
	"github.com/dmitrijs2005/formbot/internal/logging"
	"github.com/dmitrijs2005/formbot/internal/otp"
	"github.com/dmitrijs2005/formbot/internal/users"
)

type Deps struct {
	Users    UserStore
	Codes    CodeIssuer
	Mailer   CodeSender
	Vaults   VaultProvisioner
	Sessions SessionStarter
	// Events is optional.
	Events   events.Publisher
	Log      logging.Logger
	TTL      time.Duration
	Now      func() time.Time
}

// Machine owns every chat's Context. Events of one chat arrive in order;
// mu only guards the map against Drop and Sweep coming from other chats
// or the sweeper.
type Machine struct {
	mu       sync.Mutex
	contexts map[int64]*Context
	d        Deps
}

func New(d Deps) *Machine {
	if d.TTL <= 0 {
		d.TTL = DefaultTTL
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	return &Machine{contexts: make(map[int64]*Context), d: d}
}

// lookupLocked returns the context of chatID, expiring a stale dialogue on
// the way. expired is true when a register/login step was discarded.
func (m *Machine) lookupLocked(chatID int64) (c *Context, expired bool) {
	c, ok := m.contexts[chatID]
	if !ok {
		return nil, false
	}
	if c.Step != StepIdle && m.d.Now().Sub(c.UpdatedAt) > m.d.TTL {
		c.resetDialogue()
		expired = true
	}
	if c.empty() {
		delete(m.contexts, chatID)
		return nil, expired
	}
	return c, expired
}

func (m *Machine) getOrCreateLocked(chatID int64) *Context {
	c, _ := m.lookupLocked(chatID)
	if c == nil {
		c = &Context{ChatID: chatID}
		m.contexts[chatID] = c
	}
	return c
}

// Snapshot returns a copy of the context of chatID, if any.
func (m *Machine) Snapshot(chatID int64) (Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, _ := m.lookupLocked(chatID)
	if c == nil {
		return Context{}, false
	}
	return *c, true
}

func (m *Machine) StartRegistration(chatID int64) Outbound {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.getOrCreateLocked(chatID)
	c.resetDialogue()
	c.Step = StepRegisterUsername
	c.UpdatedAt = m.d.Now()
	return Outbound{ChatID: chatID, Text: MsgAskUsername}
}

func (m *Machine) StartLogin(chatID int64) Outbound {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.getOrCreateLocked(chatID)
	c.resetDialogue()
	c.Step = StepLoginUsername
	c.UpdatedAt = m.d.Now()
	return Outbound{ChatID: chatID, Text: MsgAskLoginUsername}
}

// InDialogue reports whether chatID is in the middle of register or login.
func (m *Machine) InDialogue(chatID int64) bool {
	s, ok := m.Snapshot(chatID)
	return ok && s.Step != StepIdle
}

// CancelDialogue abandons a register/login dialogue and its code.
func (m *Machine) CancelDialogue(ctx context.Context, chatID int64) bool {
	m.mu.Lock()
	c, _ := m.lookupLocked(chatID)
	active := c != nil && c.Step != StepIdle
	if active {
		c.resetDialogue()
		if c.empty() {
			delete(m.contexts, chatID)
		}
	}
	m.mu.Unlock()

	if active {
		if err := m.d.Codes.Revoke(ctx, chatID); err != nil {
			m.d.Log.Warn(ctx, "revoke code", "chat_id", chatID, "error", err)
		}
	}
	return active
}

// Handle feeds a text message into the dialogue of chatID. consumed is
// false when the text is a command or no dialogue is open; the caller then
// dispatches it elsewhere.
func (m *Machine) Handle(ctx context.Context, chatID int64, text string) (out []Outbound, consumed bool, err error) {
	if strings.HasPrefix(text, "/") {
		return nil, false, nil
	}

	m.mu.Lock()
	c, expired := m.lookupLocked(chatID)
	if expired {
		m.mu.Unlock()
		return []Outbound{{ChatID: chatID, Text: MsgDialogueExpired}}, true, nil
	}
	if c == nil || c.Step == StepIdle {
		m.mu.Unlock()
		return nil, false, nil
	}
	snap := *c
	m.mu.Unlock()

	text = strings.TrimSpace(text)

	next, out, err := m.step(ctx, snap, text)
	if err != nil {
		return nil, true, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// a Drop from another goroutine wins over this step
	if cur, ok := m.contexts[chatID]; ok && cur == c {
		cur.Step, cur.Username, cur.Email = next.Step, next.Username, next.Email
		cur.UpdatedAt = m.d.Now()
		if cur.empty() {
			delete(m.contexts, chatID)
		}
	}
	return out, true, nil
}

func reply(chatID int64, text string) []Outbound {
	return []Outbound{{ChatID: chatID, Text: text}}
}

// step computes the transition for one input. It never touches m.contexts.
func (m *Machine) step(ctx context.Context, c Context, text string) (Context, []Outbound, error) {
	switch c.Step {
	case StepRegisterUsername:
		return m.registerUsername(ctx, c, text)
	case StepRegisterEmail:
		return m.registerEmail(ctx, c, text)
	case StepRegisterOTP:
		return m.registerOTP(ctx, c, text)
	case StepLoginUsername:
		return m.loginUsername(ctx, c, text)
	case StepLoginOTP:
		return m.loginOTP(ctx, c, text)
	default:
		return c, nil, fmt.Errorf("unknown step %q", c.Step)
	}
}

func (m *Machine) registerUsername(ctx context.Context, c Context, text string) (Context, []Outbound, error) {
	if err := users.ValidateUsername(text); err != nil {
		return c, reply(c.ChatID, MsgUsernameInvalid), nil
	}
	exists, err := m.d.Users.Exists(ctx, text)
	if err != nil {
		return c, nil, err
	}
	if exists {
		return c, reply(c.ChatID, MsgUsernameTaken), nil
	}
	c.Username = text
	c.Step = StepRegisterEmail
	return c, reply(c.ChatID, MsgAskEmail), nil
}

func (m *Machine) registerEmail(ctx context.Context, c Context, text string) (Context, []Outbound, error) {
	if text == "" {
		return c, reply(c.ChatID, MsgEmailEmpty), nil
	}
	if !m.sendCode(ctx, c.ChatID, text, otp.PurposeRegister) {
		c.resetDialogue()
		return c, reply(c.ChatID, MsgCodeSendFailed), nil
	}
	c.Email = text
	c.Step = StepRegisterOTP
	return c, reply(c.ChatID, MsgCodeSent), nil
}

func (m *Machine) registerOTP(ctx context.Context, c Context, text string) (Context, []Outbound, error) {
	ok, err := m.d.Codes.Validate(ctx, c.ChatID, text, otp.PurposeRegister)
	if err != nil {
		return c, nil, err
	}
	if !ok {
		return c, reply(c.ChatID, MsgRegisterBadCode), nil
	}

	username, email := c.Username, c.Email
	c.resetDialogue()

	if err := m.d.Users.Add(ctx, username, email); err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return c, reply(c.ChatID, MsgRegisterRace), nil
		}
		return c, nil, err
	}
	if err := m.completeRegistration(ctx, username); err != nil {
		if rerr := m.d.Users.Remove(ctx, username); rerr != nil {
			m.d.Log.Error(ctx, "undo registration", "username", username, "error", rerr)
		}
		return c, nil, err
	}

	m.d.Log.Info(ctx, "user registered", "chat_id", c.ChatID, "username", username)
	if m.d.Events != nil {
		if err := m.d.Events.Publish(ctx, events.New(events.TypeUserRegistered, c.ChatID, username, nil)); err != nil {
			m.d.Log.Warn(ctx, "publish event", "type", events.TypeUserRegistered, "error", err)
		}
	}
	return c, reply(c.ChatID, MsgRegistered), nil
}

// completeRegistration runs the steps after the user record is written.
// A failure leaves the record to be removed by the caller.
func (m *Machine) completeRegistration(ctx context.Context, username string) error {
	if err := m.d.Vaults.ProvisionVault(username); err != nil {
		return fmt.Errorf("provision vault: %w", err)
	}
	return m.d.Users.MarkVerified(ctx, username)
}

func (m *Machine) loginUsername(ctx context.Context, c Context, text string) (Context, []Outbound, error) {
	verified, err := m.d.Users.IsVerified(ctx, text)
	if err != nil {
		return c, nil, err
	}
	email, found, err := m.d.Users.Email(ctx, text)
	if err != nil {
		return c, nil, err
	}
	if !verified || !found {
		c.resetDialogue()
		return c, reply(c.ChatID, MsgLoginUnknown), nil
	}

	if !m.sendCode(ctx, c.ChatID, email, otp.PurposeLogin) {
		c.resetDialogue()
		return c, reply(c.ChatID, MsgCodeSendFailed), nil
	}
	c.Username = text
	c.Step = StepLoginOTP
	return c, reply(c.ChatID, MsgLoginCodeSent), nil
}

func (m *Machine) loginOTP(ctx context.Context, c Context, text string) (Context, []Outbound, error) {
	ok, err := m.d.Codes.Validate(ctx, c.ChatID, text, otp.PurposeLogin)
	if err != nil {
		return c, nil, err
	}
	if !ok {
		return c, reply(c.ChatID, MsgLoginBadCode), nil
	}

	username := c.Username
	c.resetDialogue()

	displaced, wasDisplaced, err := m.d.Sessions.StartSession(ctx, c.ChatID, username)
	if err != nil {
		return c, nil, fmt.Errorf("start session: %w", err)
	}

	out := reply(c.ChatID, fmt.Sprintf(MsgLoginWelcome, username))
	if wasDisplaced {
		out = append(out, Outbound{ChatID: displaced, Text: MsgDisplaced})
	}
	m.d.Log.Info(ctx, "user logged in", "chat_id", c.ChatID, "username", username, "displaced", wasDisplaced)
	return c, out, nil
}

// sendCode issues a code and mails it. On any failure the code is revoked
// so nothing valid is left behind.
func (m *Machine) sendCode(ctx context.Context, chatID int64, email string, purpose otp.Purpose) bool {
	code, err := m.d.Codes.Issue(ctx, chatID, purpose)
	if err != nil {
		m.d.Log.Error(ctx, "issue code", "chat_id", chatID, "error", err)
		return false
	}
	if err := m.d.Mailer.SendCode(ctx, email, code); err != nil {
		m.d.Log.Error(ctx, "send code", "chat_id", chatID, "error", err)
		if err := m.d.Codes.Revoke(ctx, chatID); err != nil {
			m.d.Log.Warn(ctx, "revoke code", "chat_id", chatID, "error", err)
		}
		return false
	}
	return true
}

// OpenUpload starts an upload dialogue in mode, discarding a previous one.
func (m *Machine) OpenUpload(chatID int64, mode UploadMode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.getOrCreateLocked(chatID)
	c.Upload = mode
	c.FormReceived = false
	c.UpdatedAt = m.d.Now()
}

func (m *Machine) UploadMode(chatID int64) UploadMode {
	s, ok := m.Snapshot(chatID)
	if !ok {
		return UploadNone
	}
	return s.Upload
}

// MarkFormReceived records the single file of a form upload. It returns
// false when a form was already received in this dialogue.
func (m *Machine) MarkFormReceived(chatID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, _ := m.lookupLocked(chatID)
	if c == nil || c.Upload != UploadForm || c.FormReceived {
		return false
	}
	c.FormReceived = true
	c.UpdatedAt = m.d.Now()
	return true
}

// CloseUpload ends the upload dialogue of chatID.
func (m *Machine) CloseUpload(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.contexts[chatID]
	if !ok {
		return
	}
	c.Upload = UploadNone
	c.FormReceived = false
	if c.empty() {
		delete(m.contexts, chatID)
	}
}

// Drop destroys the context of chatID.
func (m *Machine) Drop(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contexts, chatID)
}

// Sweep discards register/login dialogues older than the TTL and returns
// the chats affected.
func (m *Machine) Sweep() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var swept []int64
	for id := range m.contexts {
		if _, expired := m.lookupLocked(id); expired {
			swept = append(swept, id)
		}
	}
	return swept
}

// Len is the number of live contexts.
func (m *Machine) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.contexts)
}
