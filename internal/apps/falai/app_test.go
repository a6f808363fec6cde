package falai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ca-srg/toolbelt/internal/application"
	"github.com/ca-srg/toolbelt/internal/integration"
)

func newTestApp(t *testing.T, handler http.HandlerFunc) *App {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	app := New(integration.NewStatic("falai", map[string]string{"apiKey": "fal-key"}), application.WithBaseURL(server.URL))
	app.pollInterval = time.Millisecond
	return app
}

func invoke(t *testing.T, app *App, name string, args interface{}) (interface{}, error) {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	for _, tool := range app.Tools() {
		if tool.Name == name {
			return tool.Handler(context.Background(), raw)
		}
	}
	t.Fatalf("tool %s not found", name)
	return nil, nil
}

func TestRequestPath(t *testing.T) {
	assert.Equal(t, "fal-ai/flux/requests/r1", requestPath("", "r1"))
	assert.Equal(t, "fal-ai/fast-sdxl/requests/r1", requestPath("fal-ai/fast-sdxl", "r1"))
	assert.Equal(t, "fal-ai/flux-pro/requests/r1", requestPath("fal-ai/flux-pro/v1.1/ultra", "r1"))
}

func TestSubmitSendsHeaders(t *testing.T) {
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fal-ai/flux/dev", r.URL.Path)
		assert.Equal(t, "Key fal-key", r.Header.Get("Authorization"))
		assert.Equal(t, "low", r.Header.Get("X-Fal-Queue-Priority"))
		assert.Equal(t, "https://hooks.example.com/fal", r.URL.Query().Get("fal_webhook"))
		_, _ = w.Write([]byte(`{"request_id":"r1","status_url":"s"}`))
	})

	out, err := invoke(t, app, "submit", map[string]interface{}{
		"arguments":   map[string]string{"prompt": "cat"},
		"priority":    "low",
		"webhook_url": "https://hooks.example.com/fal",
	})
	require.NoError(t, err)
	assert.Equal(t, "r1", out.(Handle).RequestID)
}

func TestGenerateImageRunsToCompletion(t *testing.T) {
	var polls int32
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			var args map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&args))
			assert.Equal(t, "landscape_4_3", args["image_size"])
			assert.Equal(t, float64(defaultImageSeed), args["seed"])
			assert.Equal(t, float64(2), args["num_images"])
			_, _ = w.Write([]byte(`{"request_id":"r1"}`))
		case r.URL.Path == "/fal-ai/flux/requests/r1/status":
			if atomic.AddInt32(&polls, 1) == 1 {
				_, _ = w.Write([]byte(`{"status":"IN_QUEUE","queue_position":0}`))
				return
			}
			_, _ = w.Write([]byte(`{"status":"COMPLETED"}`))
		case r.URL.Path == "/fal-ai/flux/requests/r1":
			_, _ = w.Write([]byte(`{"images":[{"url":"https://fal.media/1.png"}]}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	out, err := invoke(t, app, "generate_image", map[string]interface{}{"prompt": "a cat", "num_images": 2})
	require.NoError(t, err)
	images := out.(map[string]interface{})["images"].([]interface{})
	assert.Len(t, images, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&polls))
}

func TestCancelAndStatusErrors(t *testing.T) {
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			assert.Equal(t, "/fal-ai/flux/requests/r1/cancel", r.URL.Path)
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"status":"CANCELLATION_REQUESTED"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Request not found"}`))
	})

	_, err := invoke(t, app, "cancel", map[string]string{"request_id": "r1"})
	require.NoError(t, err)

	_, err = invoke(t, app, "check_status", map[string]string{"request_id": "missing"})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, application.StatusCode(err))
	assert.Contains(t, err.Error(), "Request not found")
}

func TestSubmitRequiresArguments(t *testing.T) {
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := invoke(t, app, "submit", map[string]string{"application": "fal-ai/flux/dev"})
	require.Error(t, err)
	assert.Equal(t, application.ErrorTypeValidation, application.KindOf(err))
}

func TestUploadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cat.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG fake"), 0o644))

	var uploaded []byte
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/storage/upload/initiate":
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "Key fal-key", r.Header.Get("Authorization"))
			assert.Equal(t, "fal-cdn-v3", r.URL.Query().Get("storage_type"))
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, map[string]string{"content_type": "image/png", "file_name": "cat.png"}, body)
			_, _ = w.Write([]byte(`{"upload_url":"http://` + r.Host + `/signed/abc?sig=1","file_url":"https://v3.fal.media/files/abc/cat.png"}`))
		case "/signed/abc":
			assert.Equal(t, http.MethodPut, r.Method)
			assert.Empty(t, r.Header.Get("Authorization"))
			assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
			uploaded, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})
	app.storageURL = app.Client().BaseURL()

	out, err := invoke(t, app, "upload_file", map[string]string{"path": path})
	require.NoError(t, err)
	upload := out.(Upload)
	assert.Equal(t, "https://v3.fal.media/files/abc/cat.png", upload.FileURL)
	assert.Equal(t, "cat.png", upload.FileName)
	assert.Equal(t, 9, upload.Size)
	assert.Equal(t, "\x89PNG fake", string(uploaded))
}

func TestUploadFileMissing(t *testing.T) {
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := invoke(t, app, "upload_file", map[string]string{"path": filepath.Join(t.TempDir(), "nope.bin")})
	require.Error(t, err)
	assert.Equal(t, application.ErrorTypeValidation, application.KindOf(err))
	assert.Contains(t, err.Error(), "file not found")
}
