package googledrive

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

func newTestApp(t *testing.T, handler http.HandlerFunc) *App {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer drive-token", r.Header.Get("Authorization"))
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return New(integration.NewStatic(Name, map[string]string{"access_token": "drive-token"}), WithEndpoint(server.URL+"/drive/v3/"))
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

func TestBuildQuery(t *testing.T) {
	assert.Equal(t, "trashed = false", buildQuery(listFilesInput{}))
	assert.Equal(t,
		"(name contains 'q3') and 'f\\'1' in parents and mimeType = 'text/csv'",
		buildQuery(listFilesInput{Query: "name contains 'q3'", FolderID: "f'1", MimeType: "text/csv", Trashed: true}))
}

func TestListFiles(t *testing.T) {
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/drive/v3/files", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "'root' in parents and trashed = false", q.Get("q"))
		assert.Equal(t, "100", q.Get("pageSize"))
		assert.Equal(t, "modifiedTime desc", q.Get("orderBy"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"nextPageToken":"p2","files":[{"id":"1","name":"notes.txt","mimeType":"text/plain","size":"12","parents":["root"]}]}`))
	})

	out, err := invoke(t, app, "list_files", map[string]string{"folder_id": "root", "order_by": "modifiedTime desc"})
	require.NoError(t, err)
	list := out.(FileList)
	assert.Equal(t, "p2", list.NextPageToken)
	require.Len(t, list.Files, 1)
	assert.Equal(t, File{ID: "1", Name: "notes.txt", MimeType: "text/plain", Size: 12, Parents: []string{"root"}}, list.Files[0])
}

func TestDownloadExportsGoogleDocs(t *testing.T) {
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/drive/v3/files/doc1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"doc1","name":"Plan","mimeType":"application/vnd.google-apps.document"}`))
		case "/drive/v3/files/doc1/export":
			assert.Equal(t, "text/plain", r.URL.Query().Get("mimeType"))
			_, _ = w.Write([]byte("Quarterly plan"))
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
		}
	})

	out, err := invoke(t, app, "download_text_file", map[string]string{"file_id": "doc1"})
	require.NoError(t, err)
	content := out.(TextContent)
	assert.Equal(t, "Quarterly plan", content.Content)
	assert.Equal(t, "Plan", content.Name)
}

func TestDownloadRejectsBinary(t *testing.T) {
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("alt") == "media" {
			_, _ = w.Write([]byte{0xff, 0xfe, 0x00, 0x81})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"img","name":"photo.jpg","mimeType":"image/jpeg"}`))
	})

	_, err := invoke(t, app, "download_text_file", map[string]string{"file_id": "img"})
	require.Error(t, err)
	assert.Equal(t, application.ErrorTypeValidation, application.KindOf(err))
}

func TestShareFile(t *testing.T) {
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/drive/v3/files/f1/permissions", r.URL.Path)
		assert.Equal(t, "false", r.URL.Query().Get("sendNotificationEmail"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "writer", body["role"])
		assert.Equal(t, "ana@example.com", body["emailAddress"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"p1","type":"user","role":"writer","emailAddress":"ana@example.com"}`))
	})

	out, err := invoke(t, app, "share_file", map[string]string{"file_id": "f1", "role": "writer", "type": "user", "email_address": "ana@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "p1", out.(Permission).ID)

	_, err = invoke(t, app, "share_file", map[string]string{"file_id": "f1", "role": "reader", "type": "domain"})
	require.Error(t, err)
	assert.Equal(t, application.ErrorTypeValidation, application.KindOf(err))
}

func TestDeleteFileNotFound(t *testing.T) {
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"File not found: gone."}}`))
	})

	_, err := invoke(t, app, "delete_file", map[string]string{"file_id": "gone"})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, application.StatusCode(err))
}
