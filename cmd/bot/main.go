package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/formbot/internal/app"
	"github.com/dmitrijs2005/formbot/internal/bot"
	"github.com/dmitrijs2005/formbot/internal/buildinfo"
	"github.com/dmitrijs2005/formbot/internal/config"
	"github.com/dmitrijs2005/formbot/internal/logging"
	"github.com/dmitrijs2005/formbot/internal/transport/telegram"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}
	if cfg.TelegramToken == "" {
		log.Fatalf("telegram token is required (-t or TELEGRAM_TOKEN)")
	}

	logger := logging.New(os.Stdout, cfg.LogLevel)

	tr, err := telegram.New(cfg.TelegramToken, bot.DefaultMaxUpload, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	a, err := app.NewApp(ctx, cfg, tr, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := a.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}

}
