// Package otp issues and validates short-lived numeric one-time codes.
//
// At most one code is outstanding per chat: issuing overwrites whatever was
// there, whatever its purpose. A code validates once; wrong or expired
// submissions fail without touching the stored record.
package otp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/formbot/internal/common"
	"github.com/dmitrijs2005/formbot/internal/cryptox"
	"github.com/dmitrijs2005/formbot/internal/kv"
)

const (
	TableName  = "codes"
	DefaultTTL = 2 * time.Minute
	CodeLength = 6
)

type Purpose string

const (
	PurposeRegister Purpose = "register"
	PurposeLogin    Purpose = "login"
)

// Record is the persisted form of an issued code. Only the salted hash of
// the code is stored.
type Record struct {
	ChatID    int64     `json:"chat_id"`
	CodeHash  []byte    `json:"code_hash"`
	Salt      []byte    `json:"salt"`
	Purpose   Purpose   `json:"purpose"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Issuer struct {
	mu       sync.Mutex
	t        kv.Table
	ttl      time.Duration
	now      func() time.Time
	generate func() (string, error)
}

type Option func(*Issuer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// WithGenerator replaces the random code source.
func WithGenerator(gen func() (string, error)) Option {
	return func(i *Issuer) { i.generate = gen }
}

func NewIssuer(t kv.Table, ttl time.Duration, opts ...Option) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	i := &Issuer{
		t:        t,
		ttl:      ttl,
		now:      time.Now,
		generate: func() (string, error) { return common.RandomDigits(CodeLength) },
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// TTL is the lifetime given to new codes.
func (i *Issuer) TTL() time.Duration { return i.ttl }

func key(chatID int64) string { return strconv.FormatInt(chatID, 10) }

// Issue creates a fresh code for chatID, replacing any outstanding one.
func (i *Issuer) Issue(ctx context.Context, chatID int64, purpose Purpose) (string, error) {
	code, err := i.generate()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}

	salt := cryptox.NewSalt()
	rec := Record{
		ChatID:    chatID,
		CodeHash:  cryptox.HashCode(code, salt),
		Salt:      salt,
		Purpose:   purpose,
		ExpiresAt: i.now().Add(i.ttl),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.t.Set(ctx, key(chatID), raw); err != nil {
		return "", fmt.Errorf("store code: %w", err)
	}
	return code, nil
}

func (i *Issuer) load(ctx context.Context, chatID int64) (*Record, error) {
	raw, err := i.t.Get(ctx, key(chatID))
	if err != nil || raw == nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode code record: %w", err)
	}
	return &rec, nil
}

// Validate reports whether code is the outstanding, unexpired code for
// chatID and purpose. A code is valid strictly before its expiry instant.
// On success the record is consumed in the same critical section, so of
// two concurrent submissions of the right code only one wins.
func (i *Issuer) Validate(ctx context.Context, chatID int64, code string, purpose Purpose) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	rec, err := i.load(ctx, chatID)
	if err != nil {
		return false, err
	}
	if rec == nil || rec.Purpose != purpose {
		return false, nil
	}
	if !i.now().Before(rec.ExpiresAt) {
		return false, nil
	}
	if !cryptox.VerifyCode(code, rec.Salt, rec.CodeHash) {
		return false, nil
	}

	if err := i.t.Delete(ctx, key(chatID)); err != nil {
		return false, fmt.Errorf("consume code: %w", err)
	}
	return true, nil
}

// Revoke drops the outstanding code of chatID, if any.
func (i *Issuer) Revoke(ctx context.Context, chatID int64) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.t.Delete(ctx, key(chatID))
}

// PurgeExpired removes every record whose expiry has passed and returns how
// many were dropped.
func (i *Issuer) PurgeExpired(ctx context.Context) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	all, err := i.t.List(ctx)
	if err != nil {
		return 0, err
	}

	now := i.now()
	var ops []kv.Op
	for k, raw := range all {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil || !now.Before(rec.ExpiresAt) {
			ops = append(ops, kv.Del(k))
		}
	}
	if len(ops) == 0 {
		return 0, nil
	}
	if err := i.t.Apply(ctx, ops...); err != nil {
		return 0, err
	}
	return len(ops), nil
}
