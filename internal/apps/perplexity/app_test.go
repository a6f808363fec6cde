package perplexity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ca-srg/toolbelt/internal/application"
	"github.com/ca-srg/toolbelt/internal/integration"
)

func answerTool(app *App) application.Tool {
	return app.Tools()[0]
}

func TestAnswerWithSearchDefaults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer pplx-key", r.Header.Get("Authorization"))

		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sonar-pro", req.Model)
		assert.Equal(t, 1.0, req.Temperature)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, defaultSystemPrompt, req.Messages[0].Content)
		assert.Equal(t, "what is new?", req.Messages[1].Content)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Plenty."}}],"citations":["https://example.com"]}`))
	}))
	defer server.Close()

	app := New(integration.NewStatic("perplexity", map[string]string{"api_key": "pplx-key"}), application.WithBaseURL(server.URL))
	out, err := answerTool(app).Handler(context.Background(), json.RawMessage(`{"query":"what is new?"}`))
	require.NoError(t, err)
	assert.Equal(t, Answer{Content: "Plenty.", Citations: []string{"https://example.com"}}, out)
}

func TestAnswerWithSearchEmptySystemPrompt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "sonar", req.Model)
		assert.Equal(t, 0.2, req.Temperature)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	app := New(integration.NewStatic("perplexity", map[string]string{"api_key": "k"}), application.WithBaseURL(server.URL))
	out, err := answerTool(app).Handler(context.Background(),
		json.RawMessage(`{"query":"q","model":"sonar","temperature":0.2,"system_prompt":""}`))
	require.NoError(t, err)
	assert.Equal(t, []string{}, out.(Answer).Citations)
}

func TestAnswerWithSearchValidation(t *testing.T) {
	app := New(nil)
	_, err := answerTool(app).Handler(context.Background(), json.RawMessage(`{}`))
	assert.Equal(t, application.ErrorTypeValidation, application.KindOf(err))

	_, err = answerTool(app).Handler(context.Background(), json.RawMessage(`{"query":"q","model":"gpt"}`))
	assert.Equal(t, application.ErrorTypeValidation, application.KindOf(err))

	_, err = answerTool(app).Handler(context.Background(), json.RawMessage(`{"query":"q"}`))
	assert.Equal(t, application.ErrorTypeAuth, application.KindOf(err))
}
