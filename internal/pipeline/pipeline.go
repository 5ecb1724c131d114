// Package pipeline turns a user's vault and active form into a filled PDF:
//
//	ingest:  vault documents -> text -> labels/<user>-labels.json
//	extract: form -> <base>-fields.json   (skipped when present)
//	align:   fields + labels -> <base>-values.json
//	fill:    form + values -> <base>-filled.pdf (skipped when present)
//	send:    filled PDF -> chat; work area and artifact cleared after
//
// Runs for one user are mutually exclusive; a concurrent trigger gets
// ErrBusy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dmitrijs2005/formbot/internal/archive"
	"github.com/dmitrijs2005/formbot/internal/common"
	"github.com/dmitrijs2005/formbot/internal/events"
	"github.com/dmitrijs2005/formbot/internal/filex"
	"github.com/dmitrijs2005/formbot/internal/logging"
	"github.com/dmitrijs2005/formbot/internal/staging"
)

type Stage string

const (
	StageIngest  Stage = "ingest"
	StageLabels  Stage = "labels"
	StageExtract Stage = "extract"
	StageAlign   Stage = "align"
	StageFill    Stage = "fill"
	StageSend    Stage = "send"
)

const (
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusSkipped   = "skipped"
)

var (
	ErrBusy = errors.New("pipeline already running for this user")

	ErrNoForm   = fmt.Errorf("no active form: %w", common.ErrPrecondition)
	ErrNoLabels = fmt.Errorf("no label set: %w", common.ErrPrecondition)
	ErrNoValues = fmt.Errorf("no aligned values: %w", common.ErrPrecondition)
)

// StageError reports which stage failed. Earlier stage outputs are kept.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Sender delivers a file to a chat. A nil error means the transport
// confirmed delivery.
type Sender interface {
	SendFile(ctx context.Context, chatID int64, path, name string) error
}

type Deps struct {
	Area    *staging.Area
	Extract Runner
	Align   Runner
	Fill    Runner
	// Archive is optional.
	Archive archive.Archiver
	Events  events.Publisher
	Locks   *KeyedLock
	Log     logging.Logger
}

type Pipeline struct {
	d Deps
}

func New(d Deps) *Pipeline {
	if d.Locks == nil {
		d.Locks = NewKeyedLock()
	}
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	d.Log = d.Log.With("module", "pipeline")
	return &Pipeline{d: d}
}

type ProcessResult struct {
	Form         string
	FieldsReused bool
}

// Process runs extract (unless its output survives from an earlier run)
// and align for the active form of username.
func (p *Pipeline) Process(ctx context.Context, username string) (ProcessResult, error) {
	if !p.d.Locks.TryLock(username) {
		return ProcessResult{}, ErrBusy
	}
	defer p.d.Locks.Unlock(username)

	in, err := p.input(username)
	if err != nil {
		return ProcessResult{}, err
	}
	res := ProcessResult{Form: filepath.Base(in.Form)}

	if !filex.Exists(in.Labels) {
		return res, ErrNoLabels
	}
	if err := p.d.Area.Ensure(p.d.Area.WorkDir(username)); err != nil {
		return res, err
	}

	if filex.Exists(in.Fields) {
		res.FieldsReused = true
		p.stageEvent(ctx, username, StageExtract, statusSkipped, nil)
	} else if err := p.runStage(ctx, StageExtract, p.d.Extract, in, in.Fields); err != nil {
		return res, err
	}

	// New values make any earlier fill stale; stale values must not pass
	// for align output.
	for _, stale := range []string{in.Values, in.Filled} {
		if err := filex.RemoveIfExists(stale); err != nil {
			return res, err
		}
	}
	if err := p.runStage(ctx, StageAlign, p.d.Align, in, in.Values); err != nil {
		return res, err
	}
	return res, nil
}

type DeliverResult struct {
	Form       string
	FillReused bool
	ArchiveKey string
}

// Deliver fills the active form (unless an undelivered artifact exists)
// and sends it to chatID. Only after the transport confirms delivery are
// the work area and the artifact removed; a failed send keeps both so the
// command can be retried.
func (p *Pipeline) Deliver(ctx context.Context, username string, chatID int64, to Sender) (DeliverResult, error) {
	if !p.d.Locks.TryLock(username) {
		return DeliverResult{}, ErrBusy
	}
	defer p.d.Locks.Unlock(username)

	in, err := p.input(username)
	if err != nil {
		return DeliverResult{}, err
	}
	res := DeliverResult{Form: filepath.Base(in.Form)}

	if filex.Exists(in.Filled) {
		res.FillReused = true
		p.stageEvent(ctx, username, StageFill, statusSkipped, nil)
	} else {
		if !filex.Exists(in.Values) {
			return res, ErrNoValues
		}
		if err := p.d.Area.Ensure(p.d.Area.DeliveryDir(username)); err != nil {
			return res, err
		}
		if err := p.runStage(ctx, StageFill, p.d.Fill, in, in.Filled); err != nil {
			return res, err
		}
	}

	name := in.Base + "-filled.pdf"
	if err := to.SendFile(ctx, chatID, in.Filled, name); err != nil {
		p.stageEvent(ctx, username, StageSend, statusFailed, err)
		return res, &StageError{Stage: StageSend, Err: err}
	}
	p.stageEvent(ctx, username, StageSend, statusSucceeded, nil)

	if p.d.Archive != nil {
		key, err := p.d.Archive.Archive(ctx, username, in.Filled)
		if err != nil {
			p.d.Log.Warn(ctx, "archive failed", "username", username, "error", err)
		} else {
			res.ArchiveKey = key
		}
	}

	if err := p.d.Area.ClearWorkArea(username); err != nil {
		p.d.Log.Error(ctx, "clear work area", "username", username, "error", err)
	}
	if err := filex.RemoveIfExists(in.Filled); err != nil {
		p.d.Log.Error(ctx, "remove delivered form", "username", username, "error", err)
	}

	p.publish(ctx, events.New(events.TypeFormDelivered, chatID, username, map[string]string{
		"form":        res.Form,
		"archive_key": res.ArchiveKey,
	}))
	return res, nil
}

// input resolves the file set of the active form of username.
func (p *Pipeline) input(username string) (StageInput, error) {
	a := p.d.Area
	form, ok, err := a.ActiveFormPath(username)
	if err != nil {
		return StageInput{}, err
	}
	if !ok {
		return StageInput{}, ErrNoForm
	}
	base := staging.BaseName(filepath.Base(form))
	return StageInput{
		Username: username,
		Form:     form,
		Base:     base,
		Fields:   a.FieldsPath(username, base),
		Labels:   a.LabelsPath(username),
		Values:   a.ValuesPath(username, base),
		Filled:   a.FilledPath(username, base),
	}, nil
}

// runStage succeeds only if r returns nil and output exists afterwards.
func (p *Pipeline) runStage(ctx context.Context, stage Stage, r Runner, in StageInput, output string) error {
	err := r.Run(ctx, in)
	if err == nil && !filex.Exists(output) {
		err = fmt.Errorf("%s was not produced", filepath.Base(output))
	}
	if err != nil {
		p.d.Log.Error(ctx, "stage failed", "stage", stage, "username", in.Username, "error", err)
		p.stageEvent(ctx, in.Username, stage, statusFailed, err)
		return &StageError{Stage: stage, Err: err}
	}
	p.d.Log.Info(ctx, "stage succeeded", "stage", stage, "username", in.Username)
	p.stageEvent(ctx, in.Username, stage, statusSucceeded, nil)
	return nil
}

func (p *Pipeline) stageEvent(ctx context.Context, username string, stage Stage, status string, err error) {
	attrs := map[string]string{"stage": string(stage), "status": status}
	if err != nil {
		attrs["error"] = err.Error()
	}
	p.publish(ctx, events.New(events.TypePipelineStage, 0, username, attrs))
}

func (p *Pipeline) publish(ctx context.Context, e events.Event) {
	publish(ctx, p.d.Events, p.d.Log, e)
}

func publish(ctx context.Context, pub events.Publisher, log logging.Logger, e events.Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, e); err != nil {
		log.Warn(ctx, "publish event", "type", e.Type, "error", err)
	}
}
