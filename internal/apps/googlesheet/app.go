// Package googlesheet reads and writes Google Sheets through the Sheets v4 API.
package googlesheet

import (
	"context"
	"fmt"

	"google.golang.org/api/sheets/v4"

	"github.com/ca-srg/toolbelt/internal/application"
	"github.com/ca-srg/toolbelt/internal/apps/googleauth"
)

const Name = "google_sheet"

// App is the Google Sheets application.
type App struct {
	application.Base

	endpoint string
}

// Option configures the application.
type Option func(*App)

// WithEndpoint overrides the Sheets API base URL.
func WithEndpoint(endpoint string) Option {
	return func(a *App) {
		a.endpoint = endpoint
	}
}

// New creates the application.
func New(integration application.Integration, opts ...Option) *App {
	a := &App{Base: application.NewBase(Name, integration)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Tools lists the application's tools.
func (a *App) Tools() []application.Tool {
	return []application.Tool{
		application.NewTool("get_spreadsheet", "Returns spreadsheet metadata and its sheets.",
			a.getSpreadsheet, application.ReadOnly(), application.WithTags("spreadsheet")),
		application.NewTool("list_sheets", "Lists the sheet titles of a spreadsheet.",
			a.listSheets, application.Important(), application.ReadOnly(), application.WithTags("spreadsheet")),
		application.NewTool("get_values", "Reads the cell values of an A1 range.",
			a.getValues, application.Important(), application.ReadOnly(), application.WithTags("values")),
		application.NewTool("batch_get_values", "Reads several A1 ranges in one request.",
			a.batchGetValues, application.ReadOnly(), application.WithTags("values")),
		application.NewTool("update_values", "Overwrites the cells of an A1 range.",
			a.updateValues, application.Important(), application.Idempotent(), application.WithTags("values")),
		application.NewTool("append_values", "Appends rows after the last row of a table.",
			a.appendValues, application.Important(), application.WithTags("values")),
		application.NewTool("clear_values", "Clears the values of an A1 range, keeping formatting.",
			a.clearValues, application.Destructive(), application.WithTags("values")),
		application.NewTool("create_spreadsheet", "Creates a spreadsheet with optional sheet titles.",
			a.createSpreadsheet, application.WithTags("spreadsheet")),
		application.NewTool("add_sheet", "Adds a sheet to a spreadsheet.",
			a.addSheet, application.WithTags("spreadsheet")),
		application.NewTool("delete_sheet", "Deletes a sheet by its numeric id.",
			a.deleteSheet, application.Destructive(), application.WithTags("spreadsheet")),
	}
}

// sheetsService builds a service per call so rotated credentials take effect.
func (a *App) sheetsService(ctx context.Context) (*sheets.Service, error) {
	opts, err := googleauth.ClientOptions(ctx, &a.Base, a.endpoint, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, err
	}
	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Sheets service: %w", err)
	}
	return service, nil
}

// Sheet describes one tab.
type Sheet struct {
	SheetID     int64  `json:"sheet_id"`
	Title       string `json:"title"`
	Index       int64  `json:"index"`
	RowCount    int64  `json:"row_count,omitempty"`
	ColumnCount int64  `json:"column_count,omitempty"`
}

// Spreadsheet is spreadsheet metadata.
type Spreadsheet struct {
	SpreadsheetID string  `json:"spreadsheet_id"`
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Sheets        []Sheet `json:"sheets"`
}

// Values is the content of a range.
type Values struct {
	Range  string          `json:"range"`
	Values [][]interface{} `json:"values"`
}

// UpdateResult reports what a write touched.
type UpdateResult struct {
	SpreadsheetID  string `json:"spreadsheet_id"`
	UpdatedRange   string `json:"updated_range"`
	UpdatedRows    int64  `json:"updated_rows"`
	UpdatedColumns int64  `json:"updated_columns"`
	UpdatedCells   int64  `json:"updated_cells"`
}

type spreadsheetInput struct {
	SpreadsheetID string `json:"spreadsheet_id" validate:"required" jsonschema:"spreadsheet id from its URL"`
}

type rangeInput struct {
	SpreadsheetID     string `json:"spreadsheet_id" validate:"required" jsonschema:"spreadsheet id"`
	Range             string `json:"range" validate:"required" jsonschema:"A1 notation, e.g. Sheet1!A1:C10"`
	ValueRenderOption string `json:"value_render_option,omitempty" validate:"omitempty,oneof=FORMATTED_VALUE UNFORMATTED_VALUE FORMULA" jsonschema:"how values are rendered"`
}

type batchRangesInput struct {
	SpreadsheetID string   `json:"spreadsheet_id" validate:"required" jsonschema:"spreadsheet id"`
	Ranges        []string `json:"ranges" validate:"required,min=1" jsonschema:"A1 ranges to read"`
}

type writeInput struct {
	SpreadsheetID    string          `json:"spreadsheet_id" validate:"required" jsonschema:"spreadsheet id"`
	Range            string          `json:"range" validate:"required" jsonschema:"A1 notation of the target"`
	Values           [][]interface{} `json:"values" validate:"required,min=1" jsonschema:"rows of cell values"`
	ValueInputOption string          `json:"value_input_option,omitempty" validate:"omitempty,oneof=RAW USER_ENTERED" jsonschema:"USER_ENTERED by default"`
}

type clearInput struct {
	SpreadsheetID string `json:"spreadsheet_id" validate:"required" jsonschema:"spreadsheet id"`
	Range         string `json:"range" validate:"required" jsonschema:"A1 notation to clear"`
}

type createInput struct {
	Title       string   `json:"title" validate:"required" jsonschema:"spreadsheet title"`
	SheetTitles []string `json:"sheet_titles,omitempty" jsonschema:"titles of the initial sheets"`
}

type addSheetInput struct {
	SpreadsheetID string `json:"spreadsheet_id" validate:"required" jsonschema:"spreadsheet id"`
	Title         string `json:"title" validate:"required" jsonschema:"new sheet title"`
}

type deleteSheetInput struct {
	SpreadsheetID string `json:"spreadsheet_id" validate:"required" jsonschema:"spreadsheet id"`
	SheetID       *int64 `json:"sheet_id" validate:"required" jsonschema:"numeric sheet id, see list_sheets"`
}

func (a *App) getSpreadsheet(ctx context.Context, in spreadsheetInput) (Spreadsheet, error) {
	svc, err := a.sheetsService(ctx)
	if err != nil {
		return Spreadsheet{}, err
	}
	ss, err := svc.Spreadsheets.Get(in.SpreadsheetID).Context(ctx).Do()
	if err != nil {
		return Spreadsheet{}, googleauth.ClassifyError(Name, "spreadsheets.get", err)
	}
	return toSpreadsheet(ss), nil
}

func (a *App) listSheets(ctx context.Context, in spreadsheetInput) ([]Sheet, error) {
	ss, err := a.getSpreadsheet(ctx, in)
	if err != nil {
		return nil, err
	}
	return ss.Sheets, nil
}

func (a *App) getValues(ctx context.Context, in rangeInput) (Values, error) {
	svc, err := a.sheetsService(ctx)
	if err != nil {
		return Values{}, err
	}
	call := svc.Spreadsheets.Values.Get(in.SpreadsheetID, in.Range).Context(ctx)
	if in.ValueRenderOption != "" {
		call = call.ValueRenderOption(in.ValueRenderOption)
	}
	vr, err := call.Do()
	if err != nil {
		return Values{}, googleauth.ClassifyError(Name, "values.get", err)
	}
	return toValues(vr), nil
}

func (a *App) batchGetValues(ctx context.Context, in batchRangesInput) ([]Values, error) {
	svc, err := a.sheetsService(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Spreadsheets.Values.BatchGet(in.SpreadsheetID).Ranges(in.Ranges...).Context(ctx).Do()
	if err != nil {
		return nil, googleauth.ClassifyError(Name, "values.batchGet", err)
	}
	out := make([]Values, 0, len(resp.ValueRanges))
	for _, vr := range resp.ValueRanges {
		out = append(out, toValues(vr))
	}
	return out, nil
}

func (a *App) updateValues(ctx context.Context, in writeInput) (UpdateResult, error) {
	svc, err := a.sheetsService(ctx)
	if err != nil {
		return UpdateResult{}, err
	}
	resp, err := svc.Spreadsheets.Values.Update(in.SpreadsheetID, in.Range, &sheets.ValueRange{Values: in.Values}).
		ValueInputOption(inputOption(in.ValueInputOption)).Context(ctx).Do()
	if err != nil {
		return UpdateResult{}, googleauth.ClassifyError(Name, "values.update", err)
	}
	return UpdateResult{
		SpreadsheetID:  resp.SpreadsheetId,
		UpdatedRange:   resp.UpdatedRange,
		UpdatedRows:    resp.UpdatedRows,
		UpdatedColumns: resp.UpdatedColumns,
		UpdatedCells:   resp.UpdatedCells,
	}, nil
}

func (a *App) appendValues(ctx context.Context, in writeInput) (UpdateResult, error) {
	svc, err := a.sheetsService(ctx)
	if err != nil {
		return UpdateResult{}, err
	}
	resp, err := svc.Spreadsheets.Values.Append(in.SpreadsheetID, in.Range, &sheets.ValueRange{Values: in.Values}).
		ValueInputOption(inputOption(in.ValueInputOption)).InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return UpdateResult{}, googleauth.ClassifyError(Name, "values.append", err)
	}
	result := UpdateResult{SpreadsheetID: resp.SpreadsheetId}
	if u := resp.Updates; u != nil {
		result.UpdatedRange = u.UpdatedRange
		result.UpdatedRows = u.UpdatedRows
		result.UpdatedColumns = u.UpdatedColumns
		result.UpdatedCells = u.UpdatedCells
	}
	return result, nil
}

func (a *App) clearValues(ctx context.Context, in clearInput) (map[string]string, error) {
	svc, err := a.sheetsService(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Spreadsheets.Values.Clear(in.SpreadsheetID, in.Range, &sheets.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return nil, googleauth.ClassifyError(Name, "values.clear", err)
	}
	return map[string]string{"spreadsheet_id": resp.SpreadsheetId, "cleared_range": resp.ClearedRange}, nil
}

func (a *App) createSpreadsheet(ctx context.Context, in createInput) (Spreadsheet, error) {
	svc, err := a.sheetsService(ctx)
	if err != nil {
		return Spreadsheet{}, err
	}
	req := &sheets.Spreadsheet{Properties: &sheets.SpreadsheetProperties{Title: in.Title}}
	for _, title := range in.SheetTitles {
		req.Sheets = append(req.Sheets, &sheets.Sheet{Properties: &sheets.SheetProperties{Title: title}})
	}
	ss, err := svc.Spreadsheets.Create(req).Context(ctx).Do()
	if err != nil {
		return Spreadsheet{}, googleauth.ClassifyError(Name, "spreadsheets.create", err)
	}
	return toSpreadsheet(ss), nil
}

func (a *App) addSheet(ctx context.Context, in addSheetInput) (Sheet, error) {
	resp, err := a.batchUpdate(ctx, in.SpreadsheetID, &sheets.Request{
		AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: in.Title}},
	})
	if err != nil {
		return Sheet{}, err
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil {
		return Sheet{Title: in.Title}, nil
	}
	return toSheet(resp.Replies[0].AddSheet.Properties), nil
}

func (a *App) deleteSheet(ctx context.Context, in deleteSheetInput) (map[string]interface{}, error) {
	_, err := a.batchUpdate(ctx, in.SpreadsheetID, &sheets.Request{
		DeleteSheet: &sheets.DeleteSheetRequest{SheetId: *in.SheetID, ForceSendFields: []string{"SheetId"}},
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"spreadsheet_id": in.SpreadsheetID, "deleted_sheet_id": *in.SheetID}, nil
}

func (a *App) batchUpdate(ctx context.Context, spreadsheetID string, requests ...*sheets.Request) (*sheets.BatchUpdateSpreadsheetResponse, error) {
	svc, err := a.sheetsService(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{Requests: requests}).Context(ctx).Do()
	if err != nil {
		return nil, googleauth.ClassifyError(Name, "spreadsheets.batchUpdate", err)
	}
	return resp, nil
}

func inputOption(v string) string {
	if v == "" {
		return "USER_ENTERED"
	}
	return v
}

func toSpreadsheet(ss *sheets.Spreadsheet) Spreadsheet {
	out := Spreadsheet{SpreadsheetID: ss.SpreadsheetId, URL: ss.SpreadsheetUrl, Sheets: []Sheet{}}
	if ss.Properties != nil {
		out.Title = ss.Properties.Title
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			out.Sheets = append(out.Sheets, toSheet(sh.Properties))
		}
	}
	return out
}

func toSheet(p *sheets.SheetProperties) Sheet {
	s := Sheet{SheetID: p.SheetId, Title: p.Title, Index: p.Index}
	if g := p.GridProperties; g != nil {
		s.RowCount = g.RowCount
		s.ColumnCount = g.ColumnCount
	}
	return s
}

func toValues(vr *sheets.ValueRange) Values {
	values := vr.Values
	if values == nil {
		values = [][]interface{}{}
	}
	return Values{Range: vr.Range, Values: values}
}
