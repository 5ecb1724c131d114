package app

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/formbot/internal/archive"
	"github.com/dmitrijs2005/formbot/internal/config"
	"github.com/dmitrijs2005/formbot/internal/dialog"
	"github.com/dmitrijs2005/formbot/internal/events"
	"github.com/dmitrijs2005/formbot/internal/llm"
	"github.com/dmitrijs2005/formbot/internal/logging"
	"github.com/dmitrijs2005/formbot/internal/mailer"
	"github.com/dmitrijs2005/formbot/internal/ocr"
	"github.com/dmitrijs2005/formbot/internal/pipeline"
	"github.com/dmitrijs2005/formbot/internal/staging"
)

// newMailer sends codes over SMTP, or only logs them when no SMTP account
// is configured.
func newMailer(c *config.Config, l logging.Logger) (dialog.CodeSender, error) {
	if c.SMTPUser == "" {
		l.Warn(context.Background(), "SMTP user not set, one-time codes are only logged")
		return mailer.NewLogMailer(l.With("module", "mailer"), c.CodeTTL), nil
	}
	return mailer.NewSMTPMailer(mailer.SMTPConfig{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		Username: c.SMTPUser,
		Password: c.SMTPPassword,
		From:     c.SMTPFrom,
	}, c.CodeTTL)
}

func newPublisher(c *config.Config, l logging.Logger) (events.Publisher, error) {
	if len(c.KafkaBrokers) == 0 {
		return events.NewLogPublisher(l.With("module", "events")), nil
	}
	return events.NewKafkaPublisher(c.KafkaBrokers, c.KafkaTopic)
}

// newArchiver returns nil when no bucket is configured.
func newArchiver(ctx context.Context, c *config.Config) (archive.Archiver, error) {
	if c.S3Bucket == "" {
		return nil, nil
	}
	return archive.NewS3Archiver(ctx, archive.S3Config{
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
		AccessKey:    c.S3AccessKey,
		SecretKey:    c.S3SecretKey,
	})
}

type stages struct {
	pipeline *pipeline.Pipeline
	ingester *pipeline.Ingester
}

func newStages(c *config.Config, area *staging.Area, arch archive.Archiver, pub events.Publisher, l logging.Logger) (stages, error) {
	gemini := llm.NewGeminiClient(c.GeminiEndpoint, c.GeminiModel, c.GeminiAPIKey, l.With("module", "llm"))
	vision := ocr.NewVisionClient(c.VisionEndpoint, c.VisionAPIKey, l.With("module", "ocr"))

	extract, err := pipeline.NewExecRunner(c.ExtractCommand, "")
	if err != nil {
		return stages{}, fmt.Errorf("extract command: %w", err)
	}
	fill, err := pipeline.NewExecRunner(c.FillCommand, "")
	if err != nil {
		return stages{}, fmt.Errorf("fill command: %w", err)
	}
	var align pipeline.Runner = pipeline.NewAlignLLMRunner(gemini)
	if c.AlignCommand != "" {
		if align, err = pipeline.NewExecRunner(c.AlignCommand, ""); err != nil {
			return stages{}, fmt.Errorf("align command: %w", err)
		}
	}
	var raster pipeline.Rasterizer
	if c.RasterizeCommand != "" {
		if raster, err = pipeline.NewExecRasterizer(c.RasterizeCommand); err != nil {
			return stages{}, fmt.Errorf("rasterize command: %w", err)
		}
	}

	// ingestion and form processing of one user never overlap
	locks := pipeline.NewKeyedLock()
	return stages{
		pipeline: pipeline.New(pipeline.Deps{
			Area:    area,
			Extract: extract,
			Align:   align,
			Fill:    fill,
			Archive: arch,
			Events:  pub,
			Locks:   locks,
			Log:     l.With("module", "pipeline"),
		}),
		ingester: pipeline.NewIngester(pipeline.IngestDeps{
			Area:       area,
			OCR:        vision,
			Labels:     gemini,
			Rasterizer: raster,
			Events:     pub,
			Locks:      locks,
			Log:        l.With("module", "ingest"),
		}),
	}, nil
}
