package app

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/formbot/internal/bot"
	"github.com/dmitrijs2005/formbot/internal/config"
	"github.com/dmitrijs2005/formbot/internal/events"
	"github.com/dmitrijs2005/formbot/internal/logging"
	"github.com/dmitrijs2005/formbot/internal/mailer"
	"github.com/dmitrijs2005/formbot/internal/otp"
	"github.com/dmitrijs2005/formbot/internal/sessions"
	"github.com/dmitrijs2005/formbot/internal/staging"
)

type fakeTransport struct {
	mu     sync.Mutex
	texts  map[int64][]string
	script []bot.Event
	block  bool
}

func (f *fakeTransport) SendText(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.texts == nil {
		f.texts = map[int64][]string{}
	}
	f.texts[chatID] = append(f.texts[chatID], text)
	return nil
}

func (f *fakeTransport) SendFile(context.Context, int64, string, string) error { return nil }

func (f *fakeTransport) Fetch(context.Context, bot.FileRef) ([]byte, error) { return nil, nil }

func (f *fakeTransport) Run(ctx context.Context, dispatch func(bot.Event)) error {
	for _, ev := range f.script {
		dispatch(ev)
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeTransport) sent(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts[chatID]...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.LoadDefaults()
	c.DataDir = t.TempDir()
	c.StoreDriver = "memory"
	c.HTTPAddr = ""
	c.GRPCAddr = ""
	return c
}

func TestNewApp_Defaults(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig(t), &fakeTransport{}, nil)
	require.NoError(t, err)
	defer app.close(context.Background())

	assert.IsType(t, &events.LogPublisher{}, app.publisher)
	assert.NotNil(t, app.dispatcher)
	assert.NotNil(t, app.ops)
}

func TestNewApp_Errors(t *testing.T) {
	c := testConfig(t)
	c.StoreDriver = "cassandra"
	_, err := NewApp(context.Background(), c, &fakeTransport{}, nil)
	assert.ErrorContains(t, err, "store init error")

	c = testConfig(t)
	c.FillCommand = "   "
	_, err = NewApp(context.Background(), c, &fakeTransport{}, nil)
	assert.ErrorContains(t, err, "fill command")
}

func TestNewMailer(t *testing.T) {
	c := testConfig(t)
	m, err := newMailer(c, logging.Nop())
	require.NoError(t, err)
	assert.IsType(t, &mailer.LogMailer{}, m)

	c.SMTPUser = "bot@example.com"
	c.SMTPPassword = "secret"
	m, err = newMailer(c, logging.Nop())
	require.NoError(t, err)
	assert.IsType(t, &mailer.SMTPMailer{}, m)
}

func TestNewStages_AlignSelection(t *testing.T) {
	c := testConfig(t)
	area := staging.New(c.DataDir)

	st, err := newStages(c, area, nil, nil, logging.Nop())
	require.NoError(t, err)
	assert.NotNil(t, st.pipeline)
	assert.NotNil(t, st.ingester)

	c.AlignCommand = "python align.py {fields} {labels} {values}"
	_, err = newStages(c, area, nil, nil, logging.Nop())
	require.NoError(t, err)

	c.RasterizeCommand = ""
	_, err = newStages(c, area, nil, nil, logging.Nop())
	require.NoError(t, err)
}

func seedSession(t *testing.T, app *App, chatID int64, username string, login time.Time) {
	t.Helper()
	b, err := json.Marshal(sessions.Session{ChatID: chatID, Username: username, LoginTime: login})
	require.NoError(t, err)
	require.NoError(t, app.store.Table(sessions.TableName).Set(context.Background(), strconv.FormatInt(chatID, 10), b))
}

func TestStartup(t *testing.T) {
	ctx := context.Background()
	app, err := NewApp(ctx, testConfig(t), &fakeTransport{}, nil)
	require.NoError(t, err)
	defer app.close(ctx)

	seedSession(t, app, 7, "stale", time.Now().Add(-time.Hour))
	seedSession(t, app, 8, "fresh", time.Now().Add(-time.Minute))
	_, err = app.area.StageUpload(9, staging.PurposeDocuments, "a.txt", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, app.startup(ctx))

	s, err := app.registry.Get(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, s)
	s, err = app.registry.Get(ctx, 8)
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.False(t, app.dispatcher.Timers().Active(7))
	assert.True(t, app.dispatcher.Timers().Active(8))
	assert.NoDirExists(t, app.area.UploadRoot(9))
}

func TestRun_StopsWhenTransportEnds(t *testing.T) {
	tr := &fakeTransport{script: []bot.Event{{ChatID: 1, Text: "/help"}, {ChatID: 1, Text: "/files"}}}
	app, err := NewApp(context.Background(), testConfig(t), tr, nil)
	require.NoError(t, err)

	require.NoError(t, app.Run(context.Background()))

	got := tr.sent(1)
	require.Len(t, got, 2)
	assert.True(t, strings.Contains(got[0], "/register"))
	assert.Equal(t, bot.MsgLoginFirst, got[1])
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig(t), &fakeTransport{block: true}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop after context cancel")
	}
}

func TestSweep_KeepsLiveCodes(t *testing.T) {
	ctx := context.Background()
	app, err := NewApp(ctx, testConfig(t), &fakeTransport{}, nil)
	require.NoError(t, err)
	defer app.close(ctx)

	code, err := app.codes.Issue(ctx, 1, otp.PurposeLogin)
	require.NoError(t, err)
	app.sweep(ctx)

	ok, err := app.codes.Validate(ctx, 1, code, otp.PurposeLogin)
	require.NoError(t, err)
	assert.True(t, ok)
}
