package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/formbot/internal/common"
	"github.com/dmitrijs2005/formbot/internal/events"
	"github.com/dmitrijs2005/formbot/internal/filex"
	"github.com/dmitrijs2005/formbot/internal/llm"
	"github.com/dmitrijs2005/formbot/internal/logging"
	"github.com/dmitrijs2005/formbot/internal/ocr"
	"github.com/dmitrijs2005/formbot/internal/staging"
)

var (
	ErrEmptyVault = fmt.Errorf("no documents in vault: %w", common.ErrPrecondition)
	ErrNoText     = fmt.Errorf("no text found in documents: %w", common.ErrUnavailable)
)

var errUnsupported = errors.New("unsupported file type")

type IngestDeps struct {
	Area       *staging.Area
	OCR        ocr.Transcriber
	Labels     llm.LabelExtractor
	Rasterizer Rasterizer
	Events     events.Publisher
	Locks      *KeyedLock
	Log        logging.Logger
}

// Ingester builds a user's label set from the documents in their vault.
type Ingester struct {
	d IngestDeps
}

func NewIngester(d IngestDeps) *Ingester {
	if d.Locks == nil {
		d.Locks = NewKeyedLock()
	}
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	d.Log = d.Log.With("module", "ingest")
	return &Ingester{d: d}
}

type IngestResult struct {
	Processed []string
	Skipped   []string
	Labels    int
}

// Ingest transcribes every vault document of username in name order and
// writes the extracted label set. Files that fail or carry no text are
// skipped. The scratch directory is removed whatever happens.
func (g *Ingester) Ingest(ctx context.Context, username string) (IngestResult, error) {
	var res IngestResult
	if !g.d.Locks.TryLock(username) {
		return res, ErrBusy
	}
	defer g.d.Locks.Unlock(username)

	names, err := g.d.Area.ListVault(username)
	if err != nil {
		return res, err
	}
	if len(names) == 0 {
		return res, ErrEmptyVault
	}

	defer func() {
		if err := g.d.Area.ClearScratch(username); err != nil {
			g.d.Log.Warn(ctx, "clear scratch", "username", username, "error", err)
		}
	}()

	var sb strings.Builder
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		path := filepath.Join(g.d.Area.VaultDir(username), name)
		text, err := g.fileText(ctx, username, i, path)
		if err != nil || strings.TrimSpace(text) == "" {
			g.d.Log.Warn(ctx, "document skipped", "username", username, "file", name, "error", err)
			res.Skipped = append(res.Skipped, name)
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "--- FILE: %s ---\n%s", name, strings.TrimSpace(text))
		res.Processed = append(res.Processed, name)
	}

	if sb.Len() == 0 {
		g.stageEvent(ctx, username, StageIngest, statusFailed, ErrNoText)
		return res, ErrNoText
	}
	g.stageEvent(ctx, username, StageIngest, statusSucceeded, nil)

	labels := g.d.Labels.ExtractLabels(ctx, sb.String())
	if len(labels) == 0 {
		err := fmt.Errorf("label extraction returned nothing: %w", common.ErrUnavailable)
		g.stageEvent(ctx, username, StageLabels, statusFailed, err)
		return res, &StageError{Stage: StageLabels, Err: err}
	}

	path := g.d.Area.LabelsPath(username)
	if err := g.d.Area.Ensure(filepath.Dir(path)); err != nil {
		return res, err
	}
	if err := writeJSON(path, labels); err != nil {
		g.stageEvent(ctx, username, StageLabels, statusFailed, err)
		return res, &StageError{Stage: StageLabels, Err: err}
	}
	g.stageEvent(ctx, username, StageLabels, statusSucceeded, nil)

	res.Labels = len(labels)
	publish(ctx, g.d.Events, g.d.Log, events.New(events.TypeLabelsIngested, 0, username, map[string]string{
		"files":  strconv.Itoa(len(res.Processed)),
		"labels": strconv.Itoa(res.Labels),
	}))
	return res, nil
}

func (g *Ingester) fileText(ctx context.Context, username string, idx int, path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png":
		img, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return g.d.OCR.Transcribe(ctx, img), nil
	case ".txt":
		b, err := os.ReadFile(path)
		return string(b), err
	case ".pdf":
		return g.pdfText(ctx, username, idx, path)
	case ".docx":
		return DocxText(path)
	default:
		return "", errUnsupported
	}
}

// pdfText rasterizes path into scratch and transcribes the pages in order.
func (g *Ingester) pdfText(ctx context.Context, username string, idx int, path string) (string, error) {
	if g.d.Rasterizer == nil {
		return "", errors.New("no rasterizer configured")
	}
	scratch := g.d.Area.ScratchDir(username)
	if err := g.d.Area.Ensure(scratch); err != nil {
		return "", err
	}

	prefix := fmt.Sprintf("doc%03d", idx)
	if err := g.d.Rasterizer.Rasterize(ctx, path, filepath.Join(scratch, prefix)); err != nil {
		return "", err
	}

	files, err := filex.ListFiles(scratch)
	if err != nil {
		return "", err
	}
	var pages []string
	for _, f := range files {
		if !strings.HasPrefix(f, prefix) || !strings.EqualFold(filepath.Ext(f), ".png") {
			continue
		}
		img, err := os.ReadFile(filepath.Join(scratch, f))
		if err != nil {
			return "", err
		}
		if text := g.d.OCR.Transcribe(ctx, img); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n"), nil
}

func (g *Ingester) stageEvent(ctx context.Context, username string, stage Stage, status string, err error) {
	attrs := map[string]string{"stage": string(stage), "status": status}
	if err != nil {
		attrs["error"] = err.Error()
	}
	publish(ctx, g.d.Events, g.d.Log, events.New(events.TypePipelineStage, 0, username, attrs))
}
