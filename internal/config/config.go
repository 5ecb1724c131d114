// Package config handles runtime configuration for formbot: defaults,
// an optional JSON or YAML file, .env and environment variables, and
// command-line flags, applied in that order.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/dmitrijs2005/formbot/internal/flagx"
)

// Config holds runtime settings.
//
// Fields:
//   - DataDir: root of the staging directories and of the file kv engine.
//   - StoreDriver / StoreDSN: kv engine ("file", "memory", "sqlite",
//     "postgres", "redis") and its connection string.
//   - InactivityTimeout: idle time after which a chat session is logged out.
//   - CodeTTL: lifetime of one-time codes.
//   - DialogueTTL: lifetime of an unfinished register/login dialogue.
//   - ExtractCommand / AlignCommand / FillCommand / RasterizeCommand: external
//     process templates for pipeline stages. An empty AlignCommand selects the
//     built-in LLM alignment.
//   - HTTPAddr / GRPCAddr: ops endpoints; empty disables them.
type Config struct {
	DataDir  string
	LogLevel string

	StoreDriver string
	StoreDSN    string

	TelegramToken string

	InactivityTimeout time.Duration
	CodeTTL           time.Duration
	DialogueTTL       time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	VisionAPIKey   string
	VisionEndpoint string
	GeminiAPIKey   string
	GeminiEndpoint string
	GeminiModel    string

	ExtractCommand   string
	AlignCommand     string
	FillCommand      string
	RasterizeCommand string

	HTTPAddr string
	GRPCAddr string

	KafkaBrokers []string
	KafkaTopic   string

	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
	S3AccessKey    string
	S3SecretKey    string
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.DataDir = "data"
	c.LogLevel = "info"
	c.StoreDriver = "file"
	c.StoreDSN = ""
	c.InactivityTimeout = 10 * time.Minute
	c.CodeTTL = 2 * time.Minute
	c.DialogueTTL = 15 * time.Minute
	c.SMTPHost = "smtp.gmail.com"
	c.SMTPPort = 587
	c.VisionEndpoint = "https://vision.googleapis.com/v1/images:annotate"
	c.GeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models"
	c.GeminiModel = "gemini-2.0-flash"
	c.ExtractCommand = "python ./form-process/fill_form.py extract {form} {fields}"
	c.AlignCommand = ""
	c.FillCommand = "python ./form-process/fill_form.py fill {form} {values} {filled}"
	c.RasterizeCommand = "pdftoppm -png -r 150 {input} {output}"
	c.HTTPAddr = ":8080"
	c.GRPCAddr = ""
	c.KafkaTopic = "formbot.events"
	c.S3Region = "us-east-1"
}

// LoadConfig builds a Config from defaults, then the file given with
// -c/-config, then .env and the process environment, then flags.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if path := flagx.ConfigFileFlag(args); path != "" {
		if err := parseFile(cfg, path); err != nil {
			return nil, err
		}
	}

	// a missing .env is normal outside development
	_ = godotenv.Load()
	if err := parseEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	return cfg, nil
}
