package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseEnv overlays settings from environment variables. lookup is normally
// os.LookupEnv.
func parseEnv(c *Config, lookup func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	str(&c.DataDir, "FORMBOT_DATA_DIR")
	str(&c.LogLevel, "FORMBOT_LOG_LEVEL")
	str(&c.StoreDriver, "FORMBOT_STORE_DRIVER")
	str(&c.StoreDSN, "FORMBOT_STORE_DSN")
	str(&c.TelegramToken, "TELEGRAM_TOKEN")

	str(&c.SMTPHost, "SMTP_HOST")
	str(&c.SMTPUser, "SMTP_USER", "GMAIL_USER")
	str(&c.SMTPPassword, "SMTP_PASSWORD", "GMAIL_PASS")
	str(&c.SMTPFrom, "SMTP_FROM")
	if v, ok := lookup("SMTP_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SMTP_PORT: %w", err)
		}
		c.SMTPPort = port
	}

	str(&c.VisionAPIKey, "GOOGLE_VISION_API_KEY")
	str(&c.GeminiAPIKey, "GEMINI_API_KEY")
	str(&c.GeminiModel, "GEMINI_MODEL")

	str(&c.ExtractCommand, "FORMBOT_EXTRACT_COMMAND")
	str(&c.AlignCommand, "FORMBOT_ALIGN_COMMAND")
	str(&c.FillCommand, "FORMBOT_FILL_COMMAND")
	str(&c.RasterizeCommand, "FORMBOT_RASTERIZE_COMMAND")

	str(&c.HTTPAddr, "FORMBOT_HTTP_ADDR")
	str(&c.GRPCAddr, "FORMBOT_GRPC_ADDR")

	if v, ok := lookup("FORMBOT_KAFKA_BROKERS"); ok && v != "" {
		c.KafkaBrokers = splitList(v)
	}
	str(&c.KafkaTopic, "FORMBOT_KAFKA_TOPIC")

	str(&c.S3Bucket, "S3_BUCKET")
	str(&c.S3Region, "S3_REGION")
	str(&c.S3BaseEndpoint, "S3_BASE_ENDPOINT")
	str(&c.S3AccessKey, "S3_ACCESS_KEY")
	str(&c.S3SecretKey, "S3_SECRET_KEY")

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"FORMBOT_INACTIVITY_TIMEOUT", &c.InactivityTimeout},
		{"FORMBOT_CODE_TTL", &c.CodeTTL},
		{"FORMBOT_DIALOGUE_TTL", &c.DialogueTTL},
	}
	for _, d := range durations {
		v, ok := lookup(d.key)
		if !ok || v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
