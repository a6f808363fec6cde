package resend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ca-srg/toolbelt/internal/application"
	"github.com/ca-srg/toolbelt/internal/integration"
)

type recorded struct {
	method string
	path   string
	header http.Header
	body   []byte
}

func newTestApp(t *testing.T, reply string) (*App, *[]recorded) {
	t.Helper()
	var calls []recorded
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&body)
		calls = append(calls, recorded{method: r.Method, path: r.URL.Path, header: r.Header.Clone(), body: body})
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(server.Close)
	app := New(integration.NewStatic("resend", map[string]string{"API_KEY": "re_123"}), application.WithBaseURL(server.URL))
	return app, &calls
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

func email(to string) map[string]interface{} {
	return map[string]interface{}{"from": "Team <team@example.com>", "to": []string{to}, "subject": "hi", "text": "hello"}
}

func TestSendEmail(t *testing.T) {
	app, calls := newTestApp(t, `{"id":"em_1"}`)

	out, err := invoke(t, app, "send_email", email("a@example.com"))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"id": "em_1"}, out)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "/emails", call.path)
	assert.Equal(t, "Bearer re_123", call.header.Get("Authorization"))
	assert.Empty(t, call.header.Get("Idempotency-Key"))
	assert.JSONEq(t, `{"from":"Team <team@example.com>","to":["a@example.com"],"subject":"hi","text":"hello"}`, string(call.body))
}

func TestSendEmailAcceptsNamedRecipients(t *testing.T) {
	app, calls := newTestApp(t, `{"id":"em_2"}`)

	msg := email("Ada Lovelace <ada@example.com>")
	msg["cc"] = []string{"grace@example.com", "\"Hopper, Grace\" <grace@navy.example>"}
	_, err := invoke(t, app, "send_email", msg)
	require.NoError(t, err)
	require.Len(t, *calls, 1)
	var sent sendEmailInput
	require.NoError(t, json.Unmarshal((*calls)[0].body, &sent))
	assert.Equal(t, []string{"Ada Lovelace <ada@example.com>"}, sent.To)
	assert.Len(t, sent.Cc, 2)

	_, err = invoke(t, app, "send_email", email("not an address"))
	require.Error(t, err)
	assert.Equal(t, application.ErrorTypeValidation, application.KindOf(err))
	assert.Contains(t, err.Error(), "to[0]")
	assert.Len(t, *calls, 1)
}

func TestSendBatchEmailsGeneratesIdempotencyKey(t *testing.T) {
	app, calls := newTestApp(t, `{"data":[{"id":"1"},{"id":"2"}]}`)

	_, err := invoke(t, app, "send_batch_emails", map[string]interface{}{
		"emails": []interface{}{email("a@example.com"), email("b@example.com")},
	})
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "/emails/batch", call.path)
	_, err = uuid.Parse(call.header.Get("Idempotency-Key"))
	assert.NoError(t, err)

	var sent []Email
	require.NoError(t, json.Unmarshal(call.body, &sent))
	assert.Len(t, sent, 2)
}

func TestSendBatchEmailsRejectsBadSizesWithoutCalling(t *testing.T) {
	app, calls := newTestApp(t, `{}`)

	_, err := invoke(t, app, "send_batch_emails", map[string]interface{}{"emails": []interface{}{}})
	require.Error(t, err)
	assert.Equal(t, application.ErrorTypeValidation, application.KindOf(err))

	many := make([]interface{}, MaxBatchEmails+1)
	for i := range many {
		many[i] = email("a@example.com")
	}
	_, err = invoke(t, app, "send_batch_emails", map[string]interface{}{"emails": many})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "between 1 and 100")

	assert.Empty(t, *calls)
}

func TestContactIdentity(t *testing.T) {
	app, calls := newTestApp(t, `{"object":"contact","id":"c1"}`)

	_, err := invoke(t, app, "update_contact", map[string]interface{}{
		"audience_id": "aud", "contact_id": "c1", "email": "a@example.com", "first_name": "A",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one")

	_, err = invoke(t, app, "update_contact", map[string]interface{}{"audience_id": "aud", "contact_id": "c1"})
	require.Error(t, err)
	assert.Empty(t, *calls)

	_, err = invoke(t, app, "update_contact", map[string]interface{}{
		"audience_id": "aud", "email": "a@example.com", "unsubscribed": true,
	})
	require.NoError(t, err)
	require.Len(t, *calls, 1)
	assert.Equal(t, http.MethodPatch, (*calls)[0].method)
	assert.Equal(t, "/audiences/aud/contacts/a@example.com", (*calls)[0].path)
	assert.JSONEq(t, `{"unsubscribed":true}`, string((*calls)[0].body))
}

func TestDomainLifecycle(t *testing.T) {
	app, calls := newTestApp(t, `{"id":"d1"}`)

	_, err := invoke(t, app, "create_domain", map[string]string{"name": "example.com"})
	require.NoError(t, err)
	_, err = invoke(t, app, "verify_domain", map[string]string{"domain_id": "d1"})
	require.NoError(t, err)
	_, err = invoke(t, app, "delete_domain", map[string]string{"domain_id": "d1"})
	require.NoError(t, err)

	require.Len(t, *calls, 3)
	assert.Equal(t, "/domains", (*calls)[0].path)
	assert.Equal(t, "/domains/d1/verify", (*calls)[1].path)
	assert.Equal(t, http.MethodDelete, (*calls)[2].method)
}
