// Package users is the credential store: the durable record of registered
// usernames, their email addresses and whether the address was verified.
package users

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/dmitrijs2005/formbot/internal/common"
	"github.com/dmitrijs2005/formbot/internal/kv"
)

// TableName is the kv table holding user records.
const TableName = "users"

type User struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
}

// Store persists users in a kv table keyed by username. mu makes every
// check-then-write sequence one step.
type Store struct {
	mu sync.Mutex
	t  kv.Table
}

func NewStore(t kv.Table) *Store {
	return &Store{t: t}
}

// ValidateUsername rejects empty names and names containing whitespace.
// Usernames also name vault directories, so path separators and the dot
// names are refused too.
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username is empty: %w", common.ErrValidation)
	}
	if strings.IndexFunc(username, unicode.IsSpace) >= 0 {
		return fmt.Errorf("username must not contain spaces: %w", common.ErrValidation)
	}
	if strings.ContainsAny(username, `/\`) || username == "." || username == ".." {
		return fmt.Errorf("username must not contain path separators: %w", common.ErrValidation)
	}
	return nil
}

func (s *Store) get(ctx context.Context, username string) (*User, error) {
	raw, err := s.t.Get(ctx, username)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", username, err)
	}
	return &u, nil
}

func (s *Store) put(ctx context.Context, u *User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.t.Set(ctx, u.Username, raw)
}

// Get returns the user or (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, username string) (*User, error) {
	return s.get(ctx, username)
}

func (s *Store) Exists(ctx context.Context, username string) (bool, error) {
	u, err := s.get(ctx, username)
	return u != nil, err
}

// Add creates an unverified user. Invalid or taken usernames are rejected
// before anything is written.
func (s *Store) Add(ctx context.Context, username, email string) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.get(ctx, username)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("user %s: %w", username, common.ErrAlreadyExists)
	}
	return s.put(ctx, &User{Username: username, Email: email})
}

func (s *Store) MarkVerified(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.get(ctx, username)
	if err != nil {
		return err
	}
	if u == nil {
		return fmt.Errorf("user %s: %w", username, common.ErrNotFound)
	}
	if u.Verified {
		return nil
	}
	u.Verified = true
	return s.put(ctx, u)
}

// Remove deletes username. Unknown users are not an error.
func (s *Store) Remove(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.Delete(ctx, username)
}

// Email returns the address of username; ok is false for unknown users.
func (s *Store) Email(ctx context.Context, username string) (email string, ok bool, err error) {
	u, err := s.get(ctx, username)
	if err != nil || u == nil {
		return "", false, err
	}
	return u.Email, true, nil
}

// IsVerified is false for unknown users.
func (s *Store) IsVerified(ctx context.Context, username string) (bool, error) {
	u, err := s.get(ctx, username)
	if err != nil || u == nil {
		return false, err
	}
	return u.Verified, nil
}
