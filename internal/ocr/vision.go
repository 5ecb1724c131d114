// Package ocr transcribes images to text through the Google Vision REST API.
package ocr

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/formbot/internal/logging"
	"github.com/dmitrijs2005/formbot/internal/netx"
)

// Transcriber turns an image into text. An empty string means nothing was
// recognized or the service failed.
type Transcriber interface {
	Transcribe(ctx context.Context, image []byte) string
}

const DefaultEndpoint = "https://vision.googleapis.com/v1/images:annotate"

type VisionClient struct {
	endpoint string
	apiKey   string
	http     *http.Client
	log      logging.Logger
}

func NewVisionClient(endpoint, apiKey string, log logging.Logger) *VisionClient {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &VisionClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 60 * time.Second},
		log:      log.With("module", "ocr"),
	}
}

type annotateRequest struct {
	Requests []imageRequest `json:"requests"`
}

type imageRequest struct {
	Image    image     `json:"image"`
	Features []feature `json:"features"`
}

type image struct {
	Content string `json:"content"`
}

type feature struct {
	Type string `json:"type"`
}

type annotateResponse struct {
	Responses []struct {
		FullTextAnnotation *struct {
			Text string `json:"text"`
		} `json:"fullTextAnnotation"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"responses"`
}

func (c *VisionClient) Transcribe(ctx context.Context, img []byte) string {
	req := annotateRequest{Requests: []imageRequest{{
		Image:    image{Content: base64.StdEncoding.EncodeToString(img)},
		Features: []feature{{Type: "TEXT_DETECTION"}},
	}}}

	var resp annotateResponse
	if err := netx.PostJSON(ctx, c.http, c.url(), req, &resp); err != nil {
		c.log.Error(ctx, "vision request failed", "error", err)
		return ""
	}
	if len(resp.Responses) == 0 {
		return ""
	}

	r := resp.Responses[0]
	if r.Error != nil {
		c.log.Error(ctx, "vision annotate error", "code", r.Error.Code, "message", r.Error.Message)
		return ""
	}
	if r.FullTextAnnotation == nil {
		return ""
	}
	return strings.TrimSpace(r.FullTextAnnotation.Text)
}

func (c *VisionClient) url() string {
	if c.apiKey == "" {
		return c.endpoint
	}
	return c.endpoint + "?key=" + url.QueryEscape(c.apiKey)
}
