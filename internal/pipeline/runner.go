package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// StageInput names every file a stage may read or write. Runners pick the
// ones they need.
type StageInput struct {
	Username string
	Form     string // absolute path of the active PDF
	Base     string // form name without extension
	Fields   string // <base>-fields.json
	Labels   string // <username>-labels.json
	Values   string // <base>-values.json
	Filled   string // <base>-filled.pdf
}

func (in StageInput) vars() map[string]string {
	return map[string]string{
		"username": in.Username,
		"form":     in.Form,
		"base":     in.Base,
		"fields":   in.Fields,
		"labels":   in.Labels,
		"values":   in.Values,
		"filled":   in.Filled,
	}
}

// Runner executes one pipeline stage. A nil error alone is not success:
// the pipeline also checks the stage's expected output file.
type Runner interface {
	Run(ctx context.Context, in StageInput) error
}

// Template is a command line with {placeholder} arguments. It is split on
// whitespace once; placeholders are substituted per argument, so values
// containing spaces stay a single argument and no shell is involved.
type Template struct {
	args []string
}

func ParseTemplate(cmdline string) (Template, error) {
	args := strings.Fields(cmdline)
	if len(args) == 0 {
		return Template{}, fmt.Errorf("empty command template")
	}
	return Template{args: args}, nil
}

// Expand returns argv with every {name} replaced from vars. Unknown
// placeholders are left as written.
func (t Template) Expand(vars map[string]string) []string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)

	out := make([]string, len(t.args))
	for i, a := range t.args {
		out[i] = r.Replace(a)
	}
	return out
}

func (t Template) String() string { return strings.Join(t.args, " ") }

// maxOutput caps how much process output is quoted in errors.
const maxOutput = 1024

// runCommand starts argv bound to ctx and returns its combined output.
func runCommand(ctx context.Context, dir string, argv []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.WaitDelay = 5 * time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(out.String())
		if len(msg) > maxOutput {
			msg = msg[len(msg)-maxOutput:]
		}
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}

// ExecRunner runs a stage as an external process built from a Template.
type ExecRunner struct {
	tpl Template
	dir string
}

// NewExecRunner parses cmdline. dir is the working directory of the
// process; empty means the current one.
func NewExecRunner(cmdline, dir string) (*ExecRunner, error) {
	tpl, err := ParseTemplate(cmdline)
	if err != nil {
		return nil, err
	}
	return &ExecRunner{tpl: tpl, dir: dir}, nil
}

func (r *ExecRunner) Run(ctx context.Context, in StageInput) error {
	return runCommand(ctx, r.dir, r.tpl.Expand(in.vars()))
}

// Rasterizer renders the pages of a PDF as PNG files whose names start
// with outPrefix.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdfPath, outPrefix string) error
}

// ExecRasterizer shells out to a page renderer such as pdftoppm, with
// {input} and {output} placeholders.
type ExecRasterizer struct {
	tpl Template
}

func NewExecRasterizer(cmdline string) (*ExecRasterizer, error) {
	tpl, err := ParseTemplate(cmdline)
	if err != nil {
		return nil, err
	}
	return &ExecRasterizer{tpl: tpl}, nil
}

func (r *ExecRasterizer) Rasterize(ctx context.Context, pdfPath, outPrefix string) error {
	return runCommand(ctx, "", r.tpl.Expand(map[string]string{"input": pdfPath, "output": outPrefix}))
}
