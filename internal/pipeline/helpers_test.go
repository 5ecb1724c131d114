package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/formbot/internal/events"
	"github.com/dmitrijs2005/formbot/internal/staging"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	fn    func(in StageInput) error
}

func (f *fakeRunner) Run(_ context.Context, in StageInput) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fn == nil {
		return nil
	}
	return f.fn(in)
}

func (f *fakeRunner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// writes returns a runner body that creates the file chosen by pick.
func writes(pick func(StageInput) string, content string) func(StageInput) error {
	return func(in StageInput) error {
		return os.WriteFile(pick(in), []byte(content), 0o600)
	}
}

type fakeSender struct {
	err  error
	sent []string
}

func (f *fakeSender) SendFile(_ context.Context, chatID int64, path, name string) error {
	if f.err != nil {
		return f.err
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	f.sent = append(f.sent, name)
	return nil
}

type fakeArchiver struct {
	err   error
	paths []string
}

func (f *fakeArchiver) Archive(_ context.Context, username, path string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.paths = append(f.paths, path)
	return "forms/" + username + "/" + filepath.Base(path), nil
}

type recPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recPublisher) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recPublisher) Close() error { return nil }

// stages returns "stage:status" for every pipeline.stage event.
func (r *recPublisher) stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Type == events.TypePipelineStage {
			out = append(out, e.Attrs["stage"]+":"+e.Attrs["status"])
		}
	}
	return out
}

func (r *recPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// seedForm puts w9.pdf into the form vault of username.
func seedForm(t *testing.T, a *staging.Area, username string) {
	t.Helper()
	mustWrite(t, filepath.Join(a.FormDir(username), "w9.pdf"), "%PDF-1.7 form")
}

func seedLabels(t *testing.T, a *staging.Area, username string) {
	t.Helper()
	mustWrite(t, a.LabelsPath(username), `{"Full Name":"Alice Smith"}`)
}
