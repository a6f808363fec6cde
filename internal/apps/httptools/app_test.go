package httptools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ca-srg/toolbelt/internal/application"
)

func toolByName(t *testing.T, name string) application.Tool {
	t.Helper()
	for _, tool := range New(nil).Tools() {
		if tool.Name == name {
			return tool
		}
	}
	t.Fatalf("tool %s not found", name)
	return application.Tool{}
}

func call(t *testing.T, name string, args interface{}) (interface{}, error) {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return toolByName(t, name).Handler(context.Background(), raw)
}

func TestHTTPGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, []string{"a", "b"}, r.URL.Query()["ids"])
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "Bearer x", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[1]}`))
	}))
	defer server.Close()

	out, err := call(t, "http_get", map[string]interface{}{
		"url":          server.URL + "/items",
		"headers":      map[string]string{"Authorization": "Bearer x"},
		"query_params": map[string]interface{}{"ids": []string{"a", "b"}, "page": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"data": []interface{}{float64(1)}}, out)
}

func TestHTTPPostTextFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"John"}`, string(data))
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	}))
	defer server.Close()

	out, err := call(t, "http_post", map[string]interface{}{
		"url":  server.URL,
		"body": map[string]string{"name": "John"},
	})
	require.NoError(t, err)

	text, ok := out.(TextResponse)
	require.True(t, ok)
	assert.Equal(t, "created", text.Text)
	assert.Equal(t, http.StatusCreated, text.StatusCode)
	assert.Equal(t, "text/plain", text.Headers["Content-Type"])
}

func TestHTTPDeleteErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	_, err := call(t, "http_delete", map[string]interface{}{"url": server.URL + "/x/1"})
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, application.StatusCode(err))
}

func TestHTTPRequiresURL(t *testing.T) {
	_, err := call(t, "http_put", map[string]interface{}{"body": map[string]int{"a": 1}})
	require.Error(t, err)
	assert.Equal(t, application.ErrorTypeValidation, application.KindOf(err))

	_, err = call(t, "http_patch", map[string]interface{}{"url": "not a url"})
	assert.Equal(t, application.ErrorTypeValidation, application.KindOf(err))
}
