package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dmitrijs2005/formbot/internal/common"
	"github.com/dmitrijs2005/formbot/internal/filex"
)

// FileStore keeps each table as one pretty-printed JSON object in
// <dir>/<table>.json. Values must be JSON documents so the files stay
// readable by hand.
type FileStore struct {
	dir    string
	mu     sync.Mutex
	tables map[string]*FileTable
}

func NewFileStore(dir string) (*FileStore, error) {
	if _, err := filex.EnsureDir(dir); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir, tables: make(map[string]*FileTable)}, nil
}

func (s *FileStore) Table(name string) Table {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[name]
	if !ok {
		t = &FileTable{path: filepath.Join(s.dir, name+".json")}
		s.tables[name] = t
	}
	return t
}

func (s *FileStore) Close() error { return nil }

// FileTable serializes every read-modify-write of its file behind one mutex,
// which is the single writer per table.
type FileTable struct {
	mu   sync.Mutex
	path string
}

func (t *FileTable) load() (map[string]json.RawMessage, error) {
	raw, err := os.ReadFile(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t.path, err)
	}

	data := map[string]json.RawMessage{}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t.path, err)
	}
	return data, nil
}

func (t *FileTable) save(data map[string]json.RawMessage) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", t.path, err)
	}
	return filex.WriteFileAtomic(t.path, raw, 0o600)
}

func (t *FileTable) Get(_ context.Context, key string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := t.load()
	if err != nil {
		return nil, err
	}
	v, ok := data[key]
	if !ok {
		return nil, nil
	}
	return clone(v), nil
}

func (t *FileTable) Set(ctx context.Context, key string, value []byte) error {
	return t.Apply(ctx, Put(key, value))
}

func (t *FileTable) Delete(ctx context.Context, key string) error {
	return t.Apply(ctx, Del(key))
}

func (t *FileTable) List(_ context.Context) (map[string][]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := t.load()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(data))
	for k, v := range data {
		out[k] = clone(v)
	}
	return out, nil
}

func (t *FileTable) Clear(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.save(map[string]json.RawMessage{})
}

func (t *FileTable) Apply(_ context.Context, ops ...Op) error {
	for _, op := range ops {
		if !op.Delete && !json.Valid(op.Value) {
			return fmt.Errorf("value for %q is not JSON: %w", op.Key, common.ErrValidation)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := t.load()
	if err != nil {
		return err
	}
	for _, op := range ops {
		if op.Delete {
			delete(data, op.Key)
			continue
		}
		data[op.Key] = clone(op.Value)
	}
	return t.save(data)
}
