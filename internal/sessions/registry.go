// Package sessions tracks which chat is authenticated as which username.
//
// A username has at most one session: Login removes any earlier session of
// the same username in the same batch that writes the new one.
package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/formbot/internal/kv"
)

const TableName = "sessions"

type Session struct {
	ChatID    int64     `json:"chat_id"`
	Username  string    `json:"username"`
	LoginTime time.Time `json:"login_time"`
}

type Registry struct {
	mu  sync.Mutex
	t   kv.Table
	now func() time.Time
}

func NewRegistry(t kv.Table, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{t: t, now: now}
}

func chatKey(chatID int64) string { return strconv.FormatInt(chatID, 10) }

func (r *Registry) list(ctx context.Context) (map[string]Session, error) {
	raw, err := r.t.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Session, len(raw))
	for k, v := range raw {
		var s Session
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}

// Login binds chatID to username. Any other chat holding a session for the
// same username loses it; that chat is returned as displaced with ok=true.
func (r *Registry) Login(ctx context.Context, chatID int64, username string) (displaced int64, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.list(ctx)
	if err != nil {
		return 0, false, err
	}

	var ops []kv.Op
	for k, s := range all {
		if s.Username != username || s.ChatID == chatID {
			continue
		}
		ops = append(ops, kv.Del(k))
		if !ok || s.ChatID < displaced {
			displaced, ok = s.ChatID, true
		}
	}

	raw, err := json.Marshal(Session{ChatID: chatID, Username: username, LoginTime: r.now()})
	if err != nil {
		return 0, false, err
	}
	ops = append(ops, kv.Put(chatKey(chatID), raw))

	if err := r.t.Apply(ctx, ops...); err != nil {
		return 0, false, fmt.Errorf("store session: %w", err)
	}
	return displaced, ok, nil
}

// Get returns the session of chatID or nil.
func (r *Registry) Get(ctx context.Context, chatID int64) (*Session, error) {
	raw, err := r.t.Get(ctx, chatKey(chatID))
	if err != nil || raw == nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %d: %w", chatID, err)
	}
	return &s, nil
}

// Logout deletes the session of chatID if present.
func (r *Registry) Logout(ctx context.Context, chatID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.t.Delete(ctx, chatKey(chatID))
}

// LogoutIfOwner deletes the session of chatID only while it still belongs to
// username. It reports whether a session was removed.
func (r *Registry) LogoutIfOwner(ctx context.Context, chatID int64, username string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.Get(ctx, chatID)
	if err != nil || s == nil || s.Username != username {
		return false, err
	}
	if err := r.t.Delete(ctx, chatKey(chatID)); err != nil {
		return false, err
	}
	return true, nil
}

// List returns all sessions ordered by chat id.
func (r *Registry) List(ctx context.Context) ([]Session, error) {
	all, err := r.list(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(all))
	for _, s := range all {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

// SweepExpired deletes every session older than maxAge and returns them.
// It is meant for process start, to drop state left by a previous run.
func (r *Registry) SweepExpired(ctx context.Context, maxAge time.Duration) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.list(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	var removed []Session
	var ops []kv.Op
	for k, s := range all {
		if now.Sub(s.LoginTime) > maxAge {
			removed = append(removed, s)
			ops = append(ops, kv.Del(k))
		}
	}
	if len(ops) == 0 {
		return nil, nil
	}
	if err := r.t.Apply(ctx, ops...); err != nil {
		return nil, err
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ChatID < removed[j].ChatID })
	return removed, nil
}
