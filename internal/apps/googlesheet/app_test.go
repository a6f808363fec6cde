package googlesheet

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
		assert.Equal(t, "Bearer ya29.token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return New(integration.NewStatic(Name, map[string]string{"access_token": "ya29.token"}), WithEndpoint(server.URL+"/"))
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

func TestListSheets(t *testing.T) {
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v4/spreadsheets/ss1", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"spreadsheetId": "ss1",
			"properties": {"title": "Budget"},
			"sheets": [
				{"properties": {"sheetId": 0, "title": "2024", "index": 0, "gridProperties": {"rowCount": 1000, "columnCount": 26}}},
				{"properties": {"sheetId": 42, "title": "2025", "index": 1}}
			]
		}`))
	})

	out, err := invoke(t, app, "list_sheets", map[string]string{"spreadsheet_id": "ss1"})
	require.NoError(t, err)
	sheets := out.([]Sheet)
	require.Len(t, sheets, 2)
	assert.Equal(t, Sheet{SheetID: 0, Title: "2024", Index: 0, RowCount: 1000, ColumnCount: 26}, sheets[0])
	assert.Equal(t, int64(42), sheets[1].SheetID)
}

func TestGetValues(t *testing.T) {
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v4/spreadsheets/ss1/values/Sheet1!A1:B2", r.URL.Path)
		assert.Equal(t, "FORMULA", r.URL.Query().Get("valueRenderOption"))
		_, _ = w.Write([]byte(`{"range":"Sheet1!A1:B2","values":[["a","b"],["=SUM(1,2)"]]}`))
	})

	out, err := invoke(t, app, "get_values", map[string]string{"spreadsheet_id": "ss1", "range": "Sheet1!A1:B2", "value_render_option": "FORMULA"})
	require.NoError(t, err)
	values := out.(Values)
	assert.Equal(t, "Sheet1!A1:B2", values.Range)
	assert.Equal(t, "=SUM(1,2)", values.Values[1][0])
}

func TestAppendValuesDefaultsToUserEntered(t *testing.T) {
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v4/spreadsheets/ss1/values/Log!A1:append", r.URL.Path)
		assert.Equal(t, "USER_ENTERED", r.URL.Query().Get("valueInputOption"))
		assert.Equal(t, "INSERT_ROWS", r.URL.Query().Get("insertDataOption"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body["values"], 2)
		_, _ = w.Write([]byte(`{"spreadsheetId":"ss1","updates":{"updatedRange":"Log!A5:B6","updatedRows":2,"updatedColumns":2,"updatedCells":4}}`))
	})

	out, err := invoke(t, app, "append_values", map[string]interface{}{
		"spreadsheet_id": "ss1",
		"range":          "Log!A1",
		"values":         [][]interface{}{{"2025-01-01", 3}, {"2025-01-02", 5}},
	})
	require.NoError(t, err)
	result := out.(UpdateResult)
	assert.Equal(t, int64(4), result.UpdatedCells)
	assert.Equal(t, "Log!A5:B6", result.UpdatedRange)
}

func TestDeleteSheetSendsZeroID(t *testing.T) {
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v4/spreadsheets/ss1:batchUpdate", r.URL.Path)
		var body struct {
			Requests []map[string]map[string]interface{} `json:"requests"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Requests, 1)
		assert.Equal(t, float64(0), body.Requests[0]["deleteSheet"]["sheetId"])
		_, _ = w.Write([]byte(`{"spreadsheetId":"ss1","replies":[{}]}`))
	})

	_, err := invoke(t, app, "delete_sheet", map[string]interface{}{"spreadsheet_id": "ss1", "sheet_id": 0})
	require.NoError(t, err)
}

func TestErrorsCarryStatus(t *testing.T) {
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found.","status":"NOT_FOUND"}}`))
	})

	_, err := invoke(t, app, "get_spreadsheet", map[string]string{"spreadsheet_id": "missing"})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, application.StatusCode(err))
	assert.Contains(t, err.Error(), "Requested entity was not found.")
}

func TestMissingCredentials(t *testing.T) {
	app := New(integration.NewStatic(Name, map[string]string{"client_id": "x"}))
	_, err := invoke(t, app, "list_sheets", map[string]string{"spreadsheet_id": "ss1"})
	require.Error(t, err)
	assert.Equal(t, application.ErrorTypeAuth, application.KindOf(err))
}

func TestValidationBeforeRequest(t *testing.T) {
	app := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := invoke(t, app, "update_values", map[string]interface{}{"spreadsheet_id": "ss1", "range": "A1"})
	require.Error(t, err)
	assert.Equal(t, application.ErrorTypeValidation, application.KindOf(err))
}
