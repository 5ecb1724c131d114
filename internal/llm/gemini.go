// Package llm wraps the Gemini generateContent REST API for the two
// language tasks of the pipeline: label extraction and field alignment.
package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/formbot/internal/logging"
	"github.com/dmitrijs2005/formbot/internal/netx"
)

const (
	DefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/models"
	DefaultModel    = "gemini-2.0-flash"
)

// LabelExtractor turns free text into label/value pairs. Failures yield an
// empty map.
type LabelExtractor interface {
	ExtractLabels(ctx context.Context, text string) map[string]any
}

// FieldAligner maps form field names to values drawn from labels. Fields
// without a sensible match are omitted. Failures yield an empty map.
type FieldAligner interface {
	AlignFields(ctx context.Context, fields []string, labels map[string]any) map[string]any
}

type GeminiClient struct {
	endpoint string
	model    string
	apiKey   string
	http     *http.Client
	log      logging.Logger
}

func NewGeminiClient(endpoint, model, apiKey string, log logging.Logger) *GeminiClient {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if model == "" {
		model = DefaultModel
	}
	return &GeminiClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 2 * time.Minute},
		log:      log.With("module", "llm"),
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (c *GeminiClient) ExtractLabels(ctx context.Context, text string) map[string]any {
	return c.generateObject(ctx, "extract", labelPrompt(text))
}

func (c *GeminiClient) AlignFields(ctx context.Context, fields []string, labels map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	return c.generateObject(ctx, "align", alignPrompt(fields, labels))
}

// generateObject sends prompt and parses the first candidate as a JSON
// object.
func (c *GeminiClient) generateObject(ctx context.Context, task, prompt string) map[string]any {
	req := generateRequest{Contents: []content{{Parts: []part{{Text: prompt}}}}}

	var resp generateResponse
	if err := netx.PostJSON(ctx, c.http, c.url(), req, &resp); err != nil {
		c.log.Error(ctx, "gemini request failed", "task", task, "error", err)
		return map[string]any{}
	}

	raw := "{}"
	if len(resp.Candidates) > 0 && len(resp.Candidates[0].Content.Parts) > 0 {
		raw = resp.Candidates[0].Content.Parts[0].Text
	}

	out, err := ParseObject(raw)
	if err != nil {
		c.log.Error(ctx, "gemini returned invalid JSON", "task", task, "error", err)
		return map[string]any{}
	}
	return out
}

func (c *GeminiClient) url() string {
	u := c.endpoint + "/" + url.PathEscape(c.model) + ":generateContent"
	if c.apiKey != "" {
		u += "?key=" + url.QueryEscape(c.apiKey)
	}
	return u
}

// StripFences removes markdown code fences around a model answer.
func StripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// ParseObject decodes a fenced or bare JSON object. A JSON null decodes to
// an empty map.
func ParseObject(raw string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(StripFences(raw)), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
