package airtable

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ca-srg/toolbelt/internal/application"
	"github.com/ca-srg/toolbelt/internal/integration"
)

func newTestApp(t *testing.T, handler http.HandlerFunc) *App {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(integration.NewStatic("airtable", map[string]string{"api_key": "pat"}),
		application.WithBaseURL(server.URL), application.WithRateLimit(0, 0))
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

func TestCreateRecordsBatchesOfTen(t *testing.T) {
	var mu sync.Mutex
	var sizes []int
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/appX/Tasks", r.URL.Path)
		assert.Equal(t, "Bearer pat", r.Header.Get("Authorization"))

		var body struct {
			Records []Record `json:"records"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		sizes = append(sizes, len(body.Records))
		mu.Unlock()

		for i := range body.Records {
			body.Records[i].ID = fmt.Sprintf("rec%v", body.Records[i].Fields["n"])
		}
		_ = json.NewEncoder(w).Encode(body)
	})

	records := make([]map[string]interface{}, 23)
	for i := range records {
		records[i] = map[string]interface{}{"n": i}
	}

	out, err := invoke(t, app, "create_records", map[string]interface{}{
		"base_id": "appX", "table_id_or_name": "Tasks", "records": records,
	})
	require.NoError(t, err)

	created := out.([]Record)
	require.Len(t, created, 23)
	assert.Equal(t, "rec0", created[0].ID)
	assert.Equal(t, "rec22", created[22].ID)
	assert.Equal(t, []int{10, 10, 3}, sizes)
}

func TestDeleteRecordsUsesRepeatedQuery(t *testing.T) {
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		ids := r.URL.Query()["records[]"]
		assert.LessOrEqual(t, len(ids), BatchSize)
		out := struct {
			Records []DeletedRecord `json:"records"`
		}{}
		for _, id := range ids {
			out.Records = append(out.Records, DeletedRecord{ID: id, Deleted: true})
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("rec%d", i)
	}
	out, err := invoke(t, app, "delete_records", map[string]interface{}{
		"base_id": "appX", "table_id_or_name": "Tasks", "record_ids": ids,
	})
	require.NoError(t, err)
	assert.Len(t, out.([]DeletedRecord), 12)
}

func TestListRecordsFollowsOffset(t *testing.T) {
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, []string{"Name", "Status"}, r.URL.Query()["fields[]"])
		if r.URL.Query().Get("offset") == "" {
			_, _ = w.Write([]byte(`{"records":[{"id":"rec1","fields":{}}],"offset":"next"}`))
			return
		}
		_, _ = w.Write([]byte(`{"records":[{"id":"rec2","fields":{}},{"id":"rec3","fields":{}}]}`))
	})

	out, err := invoke(t, app, "list_records", map[string]interface{}{
		"base_id": "appX", "table_id_or_name": "Tasks", "fields": []string{"Name", "Status"}, "max_records": 2,
	})
	require.NoError(t, err)
	records := out.([]Record)
	require.Len(t, records, 2)
	assert.Equal(t, "rec2", records[1].ID)
}

func TestUpsertRecordsMergesBatches(t *testing.T) {
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]interface{}{"fieldsToMergeOn": []interface{}{"Email"}}, body["performUpsert"])
		_, _ = w.Write([]byte(`{"records":[{"id":"rec1","fields":{}}],"createdRecords":["rec1"],"updatedRecords":[]}`))
	})

	out, err := invoke(t, app, "upsert_records", map[string]interface{}{
		"base_id": "appX", "table_id_or_name": "People",
		"records":    []map[string]interface{}{{"Email": "a@example.com"}},
		"key_fields": []string{"Email"},
	})
	require.NoError(t, err)
	res := out.(UpsertResult)
	assert.Equal(t, []string{"rec1"}, res.CreatedRecords)
	assert.Empty(t, res.UpdatedRecords)
}

func TestUpdateRecordsRequiresIDs(t *testing.T) {
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := invoke(t, app, "update_records", map[string]interface{}{
		"base_id": "appX", "table_id_or_name": "Tasks",
		"records": []map[string]interface{}{{"fields": map[string]string{"Name": "x"}}},
	})
	require.Error(t, err)
	assert.Equal(t, application.ErrorTypeValidation, application.KindOf(err))

	_, err = invoke(t, app, "create_records", map[string]interface{}{"base_id": "appX", "table_id_or_name": "Tasks"})
	assert.Equal(t, application.ErrorTypeValidation, application.KindOf(err))
}
