package googleauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/ca-srg/toolbelt/internal/application"
	"github.com/ca-srg/toolbelt/internal/integration"
)

// serviceAccountJSON returns a service account key whose token_uri points at a
// local token endpoint that issues token.
func serviceAccountJSON(t *testing.T, token string) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.PostForm.Get("grant_type"))
		assert.NotEmpty(t, r.PostForm.Get("assertion"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"access_token":%q,"token_type":"Bearer","expires_in":3600}`, token)
	}))
	t.Cleanup(server.Close)

	raw, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"project_id":     "toolbelt-test",
		"private_key_id": "key-1",
		"private_key":    string(keyPEM),
		"client_email":   "robot@toolbelt-test.iam.gserviceaccount.com",
		"token_uri":      server.URL,
	})
	require.NoError(t, err)
	return string(raw)
}

func TestTokenSource(t *testing.T) {
	saJSON := serviceAccountJSON(t, "sa-token")

	tests := []struct {
		name      string
		creds     map[string]string
		wantToken string
		wantAuth  bool
	}{
		{name: "access token", creds: map[string]string{"access_token": "ya29.static"}, wantToken: "ya29.static"},
		{name: "service account", creds: map[string]string{"credentials_json": saJSON}, wantToken: "sa-token"},
		{name: "service account alias key", creds: map[string]string{"GOOGLE_CREDENTIALS_JSON": saJSON}, wantToken: "sa-token"},
		{name: "malformed credentials json", creds: map[string]string{"credentials_json": "{not json"}, wantAuth: true},
		{name: "no usable credential", creds: map[string]string{"project": "x"}, wantAuth: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := application.NewBase("google_sheet", integration.NewStatic("google_sheet", tt.creds))
			ts, err := tokenSource(context.Background(), &base, []string{"https://www.googleapis.com/auth/spreadsheets"})
			if tt.wantAuth {
				require.Error(t, err)
				assert.Equal(t, application.ErrorTypeAuth, application.KindOf(err))
				var authErr *application.NotAuthorizedError
				require.True(t, errors.As(err, &authErr))
				assert.Equal(t, "google_sheet", authErr.App)
				return
			}
			require.NoError(t, err)
			token, err := ts.Token()
			require.NoError(t, err)
			assert.Equal(t, tt.wantToken, token.AccessToken)
		})
	}
}

func TestTokenSourceWithoutIntegrationOrDefaults(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", filepath.Join(t.TempDir(), "missing.json"))

	base := application.NewBase("google_drive", nil)
	_, err := tokenSource(context.Background(), &base, nil)
	require.Error(t, err)
	assert.Equal(t, application.ErrorTypeAuth, application.KindOf(err))
}

func TestClientOptions(t *testing.T) {
	base := application.NewBase("google_drive", integration.NewStatic("google_drive", map[string]string{"access_token": "tok"}))

	opts, err := ClientOptions(context.Background(), &base, "")
	require.NoError(t, err)
	assert.Len(t, opts, 1)

	opts, err = ClientOptions(context.Background(), &base, "http://127.0.0.1:9999/")
	require.NoError(t, err)
	assert.Len(t, opts, 2)

	empty := application.NewBase("google_drive", integration.NewStatic("google_drive", map[string]string{}))
	_, err = ClientOptions(context.Background(), &empty, "")
	assert.Equal(t, application.ErrorTypeAuth, application.KindOf(err))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantKind      application.ErrorType
		wantStatus    int
		wantRetryable bool
		wantMessage   string
	}{
		{name: "unauthorized", err: &googleapi.Error{Code: 401, Message: "invalid credentials"}, wantKind: application.ErrorTypeAuth, wantStatus: 401, wantMessage: "credentials rejected"},
		{name: "forbidden", err: &googleapi.Error{Code: 403}, wantKind: application.ErrorTypeAuth, wantStatus: 403},
		{name: "not found", err: &googleapi.Error{Code: 404, Message: "Requested entity was not found."}, wantKind: application.ErrorTypeHTTP, wantStatus: 404, wantMessage: "Requested entity was not found."},
		{name: "rate limited", err: &googleapi.Error{Code: 429}, wantKind: application.ErrorTypeRateLimit, wantStatus: 429, wantRetryable: true, wantMessage: "Too Many Requests"},
		{name: "server error", err: fmt.Errorf("wrapped: %w", &googleapi.Error{Code: 503, Message: "backend"}), wantKind: application.ErrorTypeHTTP, wantStatus: 503, wantRetryable: true},
		{name: "transport failure", err: errors.New("connection reset"), wantKind: application.ErrorTypeInternal, wantMessage: "google_sheet values.get: connection reset"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyError("google_sheet", "values.get", tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, application.KindOf(err))
			if tt.wantMessage != "" {
				assert.Contains(t, err.Error(), tt.wantMessage)
			}
			if tt.wantStatus == 0 {
				return
			}
			assert.Equal(t, tt.wantStatus, application.StatusCode(err))
			var httpErr *application.HTTPError
			require.True(t, errors.As(err, &httpErr))
			assert.Equal(t, tt.wantRetryable, httpErr.Retryable)
			assert.Equal(t, "values.get", httpErr.Method)
		})
	}

	assert.NoError(t, ClassifyError("google_sheet", "values.get", nil))
}
