// Package console is a local stand-in for the chat transport. One chat is
// simulated on stdin/stdout; "/upload <path>" sends a local file as if it
// had been attached to a message.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/dmitrijs2005/formbot/internal/bot"
	"github.com/dmitrijs2005/formbot/internal/filex"
)

// ChatID is the id of the simulated chat.
const ChatID int64 = 1

// isTerminal is a test seam for term.IsTerminal.
var isTerminal = term.IsTerminal

type Console struct {
	in     io.Reader
	out    io.Writer
	outDir string
	limit  int64

	mu     sync.Mutex
	prompt bool
}

// New reads from in and writes to out. Files the bot sends are copied into
// outDir.
func New(in io.Reader, out io.Writer, outDir string, limit int64) *Console {
	c := &Console{in: in, out: out, outDir: outDir, limit: limit}
	if f, ok := in.(*os.File); ok {
		c.prompt = isTerminal(int(f.Fd()))
	}
	return c
}

func (c *Console) println(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *Console) SendText(_ context.Context, _ int64, text string) error {
	c.println("bot> %s", text)
	return nil
}

func (c *Console) SendFile(_ context.Context, _ int64, path, name string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dst := filepath.Join(c.outDir, filepath.Base(name))
	if err := filex.WriteFileAtomic(dst, data, 0o640); err != nil {
		return err
	}
	c.println("bot> [file] %s", dst)
	return nil
}

// Fetch reads the local file named by ref.ID.
func (c *Console) Fetch(_ context.Context, ref bot.FileRef) ([]byte, error) {
	f, err := os.Open(ref.ID)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, c.limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > c.limit {
		return nil, fmt.Errorf("%s exceeds %d bytes", ref.ID, c.limit)
	}
	return data, nil
}

// Run reads lines until EOF, "/quit" or ctx is done and hands each to
// dispatch.
func (c *Console) Run(ctx context.Context, dispatch func(bot.Event)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- scanner.Err()
	}()

	for {
		if c.prompt {
			c.mu.Lock()
			fmt.Fprint(c.out, "you> ")
			c.mu.Unlock()
		}
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case line := <-lines:
			ev, quit := c.parse(line)
			if quit {
				return nil
			}
			if ev != nil {
				dispatch(*ev)
			}
		}
	}
}

func (c *Console) parse(line string) (*bot.Event, bool) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil, false
	case line == "/quit" || line == "/exit":
		return nil, true
	case line == "/upload" || strings.HasPrefix(line, "/upload "):
		path := strings.TrimSpace(strings.TrimPrefix(line, "/upload"))
		if path == "" {
			c.println("usage: /upload <path>")
			return nil, false
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			c.println("cannot upload %s", path)
			return nil, false
		}
		return &bot.Event{ChatID: ChatID, File: &bot.FileRef{
			ID:   path,
			Name: filepath.Base(path),
			Size: info.Size(),
		}}, false
	default:
		return &bot.Event{ChatID: ChatID, Text: line}, false
	}
}
