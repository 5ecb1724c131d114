package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/formbot/internal/flagx"
)

// parseFlags overlays settings from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   data directory
//	-s string   kv store driver (file, memory, sqlite, postgres, redis)
//	-n string   kv store DSN
//	-l string   log level
//	-t string   Telegram bot token
//	-i int      inactivity timeout, minutes
//	-a string   ops HTTP address
//	-g string   ops gRPC address
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-d", "-s", "-n", "-l", "-t", "-i", "-a", "-g"})

	fs := flag.NewFlagSet("formbot", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.DataDir, "d", config.DataDir, "data directory")
	fs.StringVar(&config.StoreDriver, "s", config.StoreDriver, "kv store driver")
	fs.StringVar(&config.StoreDSN, "n", config.StoreDSN, "kv store DSN")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.TelegramToken, "t", config.TelegramToken, "telegram bot token")
	inactivity := fs.Int("i", int(config.InactivityTimeout.Minutes()), "inactivity timeout (in minutes)")
	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "ops HTTP address")
	fs.StringVar(&config.GRPCAddr, "g", config.GRPCAddr, "ops gRPC address")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "i" {
			config.InactivityTimeout = time.Duration(*inactivity) * time.Minute
		}
	})
	return nil
}
