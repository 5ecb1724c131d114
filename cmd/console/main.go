package main

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/formbot/internal/app"
	"github.com/dmitrijs2005/formbot/internal/bot"
	"github.com/dmitrijs2005/formbot/internal/config"
	"github.com/dmitrijs2005/formbot/internal/logging"
	"github.com/dmitrijs2005/formbot/internal/transport/console"
)

// Runs the bot against a single simulated chat on the terminal. Logs go to
// stderr so they do not interleave with the conversation.
func main() {

	ctx := context.Background()
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}

	logger := logging.New(os.Stderr, cfg.LogLevel)
	tr := console.New(os.Stdin, os.Stdout, filepath.Join(cfg.DataDir, "outbox"), bot.DefaultMaxUpload)

	a, err := app.NewApp(ctx, cfg, tr, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := a.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}

}
