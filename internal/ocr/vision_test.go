package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/formbot/internal/logging"
)

func TestVisionClient_Transcribe(t *testing.T) {
	var got annotateRequest
	var gotKey string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"responses":[{"fullTextAnnotation":{"text":"  Name: Alice\nDOB: 1990-01-01\n"}}]}`))
	}))
	defer ts.Close()

	c := NewVisionClient(ts.URL, "k3y", logging.Nop())
	text := c.Transcribe(context.Background(), []byte("png-bytes"))

	assert.Equal(t, "Name: Alice\nDOB: 1990-01-01", text)
	assert.Equal(t, "k3y", gotKey)
	require.Len(t, got.Requests, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png-bytes")), got.Requests[0].Image.Content)
	assert.Equal(t, "TEXT_DETECTION", got.Requests[0].Features[0].Type)
}

func TestVisionClient_FailuresYieldEmpty(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"http error": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"annotate error": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"responses":[{"error":{"code":3,"message":"bad image"}}]}`))
		},
		"no responses": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"responses":[]}`))
		},
		"no text": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"responses":[{}]}`))
		},
		"garbage": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		},
	}

	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			ts := httptest.NewServer(h)
			defer ts.Close()

			c := NewVisionClient(ts.URL, "", logging.Nop())
			assert.Empty(t, c.Transcribe(context.Background(), []byte("x")))
		})
	}
}
