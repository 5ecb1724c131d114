// Package dialog is the per-chat conversation state machine. It drives the
// register and login dialogues and remembers which upload dialogue, if any,
// a chat has open.
//
// State lives in one Context per chat. A Context is created by
// StartRegistration, StartLogin or OpenUpload and destroyed when its
// dialogue completes or aborts, on Drop (logout, inactivity, displacement)
// or when an unfinished register/login dialogue outlives the TTL.
package dialog

import (
	"context"
	"time"

	"github.com/dmitrijs2005/formbot/internal/otp"
)

type Step string

const (
	StepIdle             Step = ""
	StepRegisterUsername Step = "register_username"
	StepRegisterEmail    Step = "register_email"
	StepRegisterOTP      Step = "register_otp"
	StepLoginUsername    Step = "login_username"
	StepLoginOTP         Step = "login_otp"
)

type UploadMode string

const (
	UploadNone      UploadMode = ""
	UploadDocuments UploadMode = "documents"
	UploadForm      UploadMode = "form"
)

// DefaultTTL bounds how long a register/login dialogue may sit unanswered.
const DefaultTTL = 15 * time.Minute

type Context struct {
	ChatID       int64
	Step         Step
	Username     string
	Email        string
	Upload       UploadMode
	FormReceived bool
	UpdatedAt    time.Time
}

func (c *Context) empty() bool {
	return c.Step == StepIdle && c.Upload == UploadNone
}

func (c *Context) resetDialogue() {
	c.Step = StepIdle
	c.Username = ""
	c.Email = ""
}

// Outbound is a message the caller must deliver.
type Outbound struct {
	ChatID int64
	Text   string
}

type UserStore interface {
	Exists(ctx context.Context, username string) (bool, error)
	Add(ctx context.Context, username, email string) error
	MarkVerified(ctx context.Context, username string) error
	Remove(ctx context.Context, username string) error
	Email(ctx context.Context, username string) (string, bool, error)
	IsVerified(ctx context.Context, username string) (bool, error)
}

type CodeIssuer interface {
	Issue(ctx context.Context, chatID int64, purpose otp.Purpose) (string, error)
	Validate(ctx context.Context, chatID int64, code string, purpose otp.Purpose) (bool, error)
	Revoke(ctx context.Context, chatID int64) error
}

// CodeSender delivers a code to an email address.
type CodeSender interface {
	SendCode(ctx context.Context, to, code string) error
}

type VaultProvisioner interface {
	ProvisionVault(username string) error
}

// SessionStarter establishes an authenticated session for chatID. It
// returns the chat that lost its session to this login, if any, after
// that chat's timer, staging and context have been cleaned up.
type SessionStarter interface {
	StartSession(ctx context.Context, chatID int64, username string) (displaced int64, ok bool, err error)
}
