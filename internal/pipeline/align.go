package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/formbot/internal/common"
	"github.com/dmitrijs2005/formbot/internal/filex"
	"github.com/dmitrijs2005/formbot/internal/llm"
)

// AlignLLMRunner aligns form fields to the user's labels in process,
// without an external command. It reads the fields list and the label set
// and writes the values file.
type AlignLLMRunner struct {
	aligner llm.FieldAligner
}

func NewAlignLLMRunner(aligner llm.FieldAligner) *AlignLLMRunner {
	return &AlignLLMRunner{aligner: aligner}
}

func (r *AlignLLMRunner) Run(ctx context.Context, in StageInput) error {
	var fields []string
	if err := readJSON(in.Fields, &fields); err != nil {
		return fmt.Errorf("read fields: %w", err)
	}
	var labels map[string]any
	if err := readJSON(in.Labels, &labels); err != nil {
		return fmt.Errorf("read labels: %w", err)
	}

	values := r.aligner.AlignFields(ctx, fields, labels)
	if len(values) == 0 {
		return fmt.Errorf("no field could be aligned: %w", common.ErrUnavailable)
	}
	return writeJSON(in.Values, values)
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return filex.WriteFileAtomic(path, b, 0o640)
}
