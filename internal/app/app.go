// Package app wires configuration into a running bot: storage, services,
// the dispatcher, the ops server and a chat transport.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/formbot/internal/bot"
	"github.com/dmitrijs2005/formbot/internal/config"
	"github.com/dmitrijs2005/formbot/internal/events"
	"github.com/dmitrijs2005/formbot/internal/kv"
	"github.com/dmitrijs2005/formbot/internal/logging"
	"github.com/dmitrijs2005/formbot/internal/opsserver"
	"github.com/dmitrijs2005/formbot/internal/otp"
	"github.com/dmitrijs2005/formbot/internal/sessions"
	"github.com/dmitrijs2005/formbot/internal/staging"
	"github.com/dmitrijs2005/formbot/internal/users"
)

const (
	janitorInterval = time.Minute
	shutdownTimeout = 30 * time.Second
)

// Transport is a chat transport that also produces events.
type Transport interface {
	bot.Transport
	Run(ctx context.Context, dispatch func(bot.Event)) error
}

type App struct {
	config    *config.Config
	logger    logging.Logger
	transport Transport

	store      kv.Store
	area       *staging.Area
	codes      *otp.Issuer
	registry   *sessions.Registry
	publisher  events.Publisher
	dispatcher *bot.Dispatcher
	ops        *opsserver.Server
}

func NewApp(ctx context.Context, c *config.Config, t Transport, l logging.Logger) (*App, error) {
	if l == nil {
		l = logging.Nop()
	}

	store, err := kv.Open(ctx, kv.Options{Driver: c.StoreDriver, DSN: c.StoreDSN, DataDir: c.DataDir})
	if err != nil {
		return nil, fmt.Errorf("store init error: %w", err)
	}
	app := &App{config: c, logger: l, transport: t, store: store}

	if err := app.build(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return app, nil
}

func (app *App) build(ctx context.Context) error {
	c, l := app.config, app.logger

	app.area = staging.New(c.DataDir)
	app.codes = otp.NewIssuer(app.store.Table(otp.TableName), c.CodeTTL)
	app.registry = sessions.NewRegistry(app.store.Table(sessions.TableName), nil)

	m, err := newMailer(c, l)
	if err != nil {
		return fmt.Errorf("mailer init error: %w", err)
	}
	pub, err := newPublisher(c, l)
	if err != nil {
		return fmt.Errorf("events init error: %w", err)
	}
	app.publisher = pub
	arch, err := newArchiver(ctx, c)
	if err != nil {
		return fmt.Errorf("archive init error: %w", err)
	}
	st, err := newStages(c, app.area, arch, pub, l)
	if err != nil {
		return err
	}

	app.dispatcher = bot.New(bot.Config{
		Transport:         app.transport,
		Users:             users.NewStore(app.store.Table(users.TableName)),
		Codes:             app.codes,
		Mailer:            m,
		Registry:          app.registry,
		Area:              app.area,
		Pipeline:          st.pipeline,
		Ingester:          st.ingester,
		Events:            pub,
		Log:               l,
		InactivityTimeout: c.InactivityTimeout,
		DialogueTTL:       c.DialogueTTL,
	})

	app.ops = opsserver.New(c.HTTPAddr, c.GRPCAddr, map[string]opsserver.Check{
		"store": func(ctx context.Context) error {
			_, err := app.store.Table(sessions.TableName).Get(ctx, "readiness-probe")
			return err
		},
		"data_dir": func(context.Context) error {
			_, err := os.Stat(c.DataDir)
			return err
		},
	}, l)
	return nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// startup reconciles persisted state with a fresh process: sessions idle
// for longer than the inactivity timeout are dropped, the others get their
// timers back, stale codes and upload staging are removed.
func (app *App) startup(ctx context.Context) error {
	if err := app.area.Ensure(app.area.Root()); err != nil {
		return err
	}
	if err := app.area.ClearAllUploads(); err != nil {
		return fmt.Errorf("clear upload staging: %w", err)
	}

	expired, err := app.registry.SweepExpired(ctx, app.config.InactivityTimeout)
	if err != nil {
		return fmt.Errorf("sweep sessions: %w", err)
	}
	for _, s := range expired {
		app.publish(ctx, events.New(events.TypeSessionExpired, s.ChatID, s.Username, map[string]string{"reason": "startup"}))
	}

	restored, err := app.dispatcher.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}

	purged, err := app.codes.PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("purge codes: %w", err)
	}

	app.logger.Info(ctx, "Startup sweep done", "expired_sessions", len(expired), "restored_sessions", restored, "purged_codes", purged)
	return nil
}

func (app *App) publish(ctx context.Context, e events.Event) {
	if err := app.publisher.Publish(ctx, e); err != nil {
		app.logger.Warn(ctx, "publish event", "type", e.Type, "error", err)
	}
}

// janitor periodically drops abandoned dialogues and expired codes.
func (app *App) janitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.sweep(ctx)
		}
	}
}

func (app *App) sweep(ctx context.Context) {
	if swept := app.dispatcher.Machine().Sweep(); len(swept) > 0 {
		app.logger.Debug(ctx, "abandoned dialogues dropped", "count", len(swept))
	}
	if n, err := app.codes.PurgeExpired(ctx); err != nil {
		app.logger.Warn(ctx, "purge codes", "error", err)
	} else if n > 0 {
		app.logger.Debug(ctx, "expired codes purged", "count", n)
	}
}

// Run serves until the transport stops or a termination signal arrives,
// then drains the chat queues and releases resources.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	if err := app.startup(ctx); err != nil {
		app.close(ctx)
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := app.ops.Run(ctx); err != nil {
			app.logger.Error(ctx, "ops server", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		app.janitor(ctx)
	}()

	runErr := app.transport.Run(ctx, app.dispatcher.Dispatch)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		app.logger.Error(ctx, "transport stopped", "error", runErr)
	} else {
		runErr = nil
	}
	cancelFunc()
	wg.Wait()

	app.close(context.Background())
	return runErr
}

func (app *App) close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := app.dispatcher.Shutdown(shutdownCtx); err != nil {
		app.logger.Warn(ctx, "dispatcher shutdown", "error", err)
	}
	if err := app.publisher.Close(); err != nil {
		app.logger.Warn(ctx, "close publisher", "error", err)
	}
	if err := app.store.Close(); err != nil {
		app.logger.Warn(ctx, "close store", "error", err)
	}
	app.logger.Info(ctx, "Stopped")
}
