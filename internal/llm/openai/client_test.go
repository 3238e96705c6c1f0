package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/bill-trends/constants"
	"github.com/joseph-ayodele/bill-trends/internal/llm"
)

type captured struct {
	auth string
	body map[string]any
}

func fakeServer(t *testing.T, status int, content string, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		if got != nil {
			got.auth = r.Header.Get("Authorization")
			b, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(b, &got.body))
		}
		w.WriteHeader(status)
		resp := map[string]any{"choices": []any{map[string]any{"message": map[string]any{"content": content}}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExtractFields_Text(t *testing.T) {
	var got captured
	srv := fakeServer(t, http.StatusOK, "```json\n{\"totale\":\"85,50\",\"kwh\":120,\"period_start\":\"2024-01-01\"}\n```", &got)
	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL + "/"}, nil)

	raw, err := c.ExtractFields(context.Background(), llm.ExtractRequest{Text: "Totale 85,50", Kind: constants.DocKindRecent})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, 85.5, m["total_due"])
	assert.Equal(t, 120.0, m["kwh"])

	assert.Equal(t, "Bearer k", got.auth)
	assert.Equal(t, "gpt-4o-mini", got.body["model"])
	msgs := got.body["messages"].([]any)
	require.Len(t, msgs, 3)
	assert.Contains(t, msgs[1].(map[string]any)["content"], "Totale 85,50")
}

func TestExtractFields_Vision(t *testing.T) {
	img := filepath.Join(t.TempDir(), "bill.jpg")
	require.NoError(t, os.WriteFile(img, []byte("jpeg"), 0o600))

	var got captured
	srv := fakeServer(t, http.StatusOK, `{"smc":40}`, &got)
	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, nil)

	_, err := c.ExtractFields(context.Background(), llm.ExtractRequest{ImagePath: img})
	require.NoError(t, err)

	user := got.body["messages"].([]any)[1].(map[string]any)
	parts := user["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "image_url", parts[1].(map[string]any)["type"])
}

func TestExtractFields_LenientSanitize(t *testing.T) {
	srv := fakeServer(t, http.StatusOK, `{"total_due":10,"pdr":"123","confidence":{"total_due":3}}`, nil)

	strict := NewClient(Config{BaseURL: srv.URL}, nil)
	_, err := strict.ExtractFields(context.Background(), llm.ExtractRequest{Text: "x"})
	require.Error(t, err)

	lenient := NewClient(Config{BaseURL: srv.URL, LenientOptional: true}, nil)
	raw, err := lenient.ExtractFields(context.Background(), llm.ExtractRequest{Text: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total_due":10,"confidence":{"total_due":1}}`, string(raw))
}

func TestExtractFields_HTTPError(t *testing.T) {
	srv := fakeServer(t, http.StatusTooManyRequests, `{}`, nil)
	c := NewClient(Config{BaseURL: srv.URL}, nil)
	_, err := c.ExtractFields(context.Background(), llm.ExtractRequest{Text: "x"})
	assert.ErrorContains(t, err, "429")
}

func TestExtractFields_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()
	c := NewClient(Config{BaseURL: srv.URL}, nil)
	_, err := c.ExtractFields(context.Background(), llm.ExtractRequest{Text: "x"})
	assert.ErrorContains(t, err, "no choices")
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFence(` {"a":1} `))
}
