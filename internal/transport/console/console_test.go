package console

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/formbot/internal/bot"
)

func TestRun_ParsesLines(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "passport.png")
	require.NoError(t, os.WriteFile(doc, []byte("img"), 0o600))

	in := strings.NewReader(strings.Join([]string{
		"/login",
		"",
		"  alice  ",
		"/upload " + doc,
		"/upload",
		"/upload " + filepath.Join(dir, "missing.txt"),
		"/quit",
		"/never",
	}, "\n"))
	var out bytes.Buffer
	c := New(in, &out, dir, 1024)

	var got []bot.Event
	require.NoError(t, c.Run(context.Background(), func(ev bot.Event) { got = append(got, ev) }))

	require.Len(t, got, 3)
	assert.Equal(t, bot.Event{ChatID: ChatID, Text: "/login"}, got[0])
	assert.Equal(t, "alice", got[1].Text)
	assert.Equal(t, &bot.FileRef{ID: doc, Name: "passport.png", Size: 3}, got[2].File)
	assert.Contains(t, out.String(), "usage: /upload <path>")
	assert.Contains(t, out.String(), "cannot upload")
	assert.NotContains(t, out.String(), "you> ")
}

func TestRun_EndsAtEOF(t *testing.T) {
	c := New(strings.NewReader("/help"), &bytes.Buffer{}, t.TempDir(), 10)
	n := 0
	require.NoError(t, c.Run(context.Background(), func(bot.Event) { n++ }))
	assert.Equal(t, 1, n)
}

func TestSendAndFetch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	var out bytes.Buffer
	c := New(strings.NewReader(""), &out, outDir, 5)

	require.NoError(t, c.SendText(ctx, ChatID, "hello"))
	assert.Equal(t, "bot> hello\n", out.String())

	src := filepath.Join(dir, "filled.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF"), 0o600))
	require.NoError(t, c.SendFile(ctx, ChatID, src, "w9-filled.pdf"))
	b, err := os.ReadFile(filepath.Join(outDir, "w9-filled.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(b))

	b, err = c.Fetch(ctx, bot.FileRef{ID: src})
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(b))

	big := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(big, []byte("123456"), 0o600))
	_, err = c.Fetch(ctx, bot.FileRef{ID: big})
	assert.ErrorContains(t, err, "exceeds")
}

func TestNew_PromptOnTerminal(t *testing.T) {
	orig := isTerminal
	t.Cleanup(func() { isTerminal = orig })
	isTerminal = func(int) bool { return true }

	f, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer f.Close()

	var out bytes.Buffer
	c := New(f, &out, t.TempDir(), 10)
	require.NoError(t, c.Run(context.Background(), func(bot.Event) {}))
	assert.Equal(t, "you> ", out.String())
}
