// Package airtable wraps the Airtable Web API. Record writes are sent in batches of
// at most ten records, the per-request limit Airtable enforces.
package airtable

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ca-srg/toolbelt/internal/application"
)

const (
	Name           = "airtable"
	defaultBaseURL = "https://api.airtable.com/v0"

	// BatchSize is the maximum number of records per write request.
	BatchSize = 10
	// requestsPerSecond is Airtable's per-base rate limit.
	requestsPerSecond = 5
)

// App is the Airtable application.
type App struct {
	application.Base
}

// Record is an Airtable record.
type Record struct {
	ID          string                 `json:"id,omitempty"`
	CreatedTime string                 `json:"createdTime,omitempty"`
	Fields      map[string]interface{} `json:"fields"`
}

// DeletedRecord is the acknowledgement for one deleted record.
type DeletedRecord struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// UpsertResult aggregates the batches of an upsert.
type UpsertResult struct {
	Records        []Record `json:"records"`
	CreatedRecords []string `json:"createdRecords"`
	UpdatedRecords []string `json:"updatedRecords"`
}

func tablePath(baseID, table string) string {
	return application.PathEscape(baseID) + "/" + application.PathEscape(table)
}

type listBasesInput struct{}

type listTablesInput struct {
	BaseID string `json:"base_id" validate:"required" jsonschema:"base ID"`
}

type listRecordsInput struct {
	BaseID          string   `json:"base_id" validate:"required" jsonschema:"base ID such as appXXXXXXXX"`
	Table           string   `json:"table_id_or_name" validate:"required" jsonschema:"table ID or name"`
	View            string   `json:"view,omitempty" jsonschema:"view name or ID"`
	Fields          []string `json:"fields,omitempty" jsonschema:"fields to return"`
	FilterByFormula string   `json:"filter_by_formula,omitempty" jsonschema:"Airtable formula records must satisfy"`
	MaxRecords      *int     `json:"max_records,omitempty" validate:"omitempty,gte=1" jsonschema:"maximum number of records across all pages"`
	PageSize        *int     `json:"page_size,omitempty" validate:"omitempty,gte=1,lte=100" jsonschema:"records per page, at most 100"`
}

type getRecordInput struct {
	BaseID   string `json:"base_id" validate:"required" jsonschema:"base ID such as appXXXXXXXX"`
	Table    string `json:"table_id_or_name" validate:"required" jsonschema:"table ID or name"`
	RecordID string `json:"record_id" validate:"required" jsonschema:"record ID"`
}

type createRecordsInput struct {
	BaseID   string                   `json:"base_id" validate:"required" jsonschema:"base ID such as appXXXXXXXX"`
	Table    string                   `json:"table_id_or_name" validate:"required" jsonschema:"table ID or name"`
	Records  []map[string]interface{} `json:"records" validate:"required,min=1" jsonschema:"field maps for the new records"`
	Typecast bool                     `json:"typecast,omitempty" jsonschema:"let Airtable convert string values"`
}

type updateRecordsInput struct {
	BaseID   string   `json:"base_id" validate:"required" jsonschema:"base ID such as appXXXXXXXX"`
	Table    string   `json:"table_id_or_name" validate:"required" jsonschema:"table ID or name"`
	Records  []Record `json:"records" validate:"required,min=1" jsonschema:"records with id and fields"`
	Replace  bool     `json:"replace,omitempty" jsonschema:"clear fields that are not given"`
	Typecast bool     `json:"typecast,omitempty" jsonschema:"let Airtable convert string values"`
}

type deleteRecordsInput struct {
	BaseID    string   `json:"base_id" validate:"required" jsonschema:"base ID such as appXXXXXXXX"`
	Table     string   `json:"table_id_or_name" validate:"required" jsonschema:"table ID or name"`
	RecordIDs []string `json:"record_ids" validate:"required,min=1" jsonschema:"IDs of the records to delete"`
}

type upsertRecordsInput struct {
	BaseID    string                   `json:"base_id" validate:"required" jsonschema:"base ID such as appXXXXXXXX"`
	Table     string                   `json:"table_id_or_name" validate:"required" jsonschema:"table ID or name"`
	Records   []map[string]interface{} `json:"records" validate:"required,min=1" jsonschema:"field maps to create or update"`
	KeyFields []string                 `json:"key_fields" validate:"required,min=1,max=3" jsonschema:"fields used to match existing records"`
	Replace   bool                     `json:"replace,omitempty" jsonschema:"clear fields that are not given"`
	Typecast  bool                     `json:"typecast,omitempty" jsonschema:"let Airtable convert string values"`
}

type recordsPage struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset"`
}

type upsertPage struct {
	Records        []Record `json:"records"`
	CreatedRecords []string `json:"createdRecords"`
	UpdatedRecords []string `json:"updatedRecords"`
}

// New creates the application.
func New(integration application.Integration, opts ...application.ClientOption) *App {
	a := &App{Base: application.NewBase(Name, integration)}
	defaults := []application.ClientOption{
		application.WithAuth(a.BearerAuth()),
		application.WithRateLimit(requestsPerSecond, 1),
	}
	a.InitClient(defaultBaseURL, append(defaults, opts...)...)
	return a
}

// Tools lists the application's tools.
func (a *App) Tools() []application.Tool {
	return []application.Tool{
		application.NewTool("list_bases", "Lists the bases the token can access.",
			a.listBases, application.ReadOnly(), application.WithTags("base")),
		application.NewTool("list_tables", "Lists the tables of a base with their fields and views.",
			a.listTables, application.ReadOnly(), application.WithTags("table")),
		application.NewTool("list_records", "Lists records of a table, following pagination until max_records is reached.",
			a.listRecords, application.Important(), application.ReadOnly(), application.WithTags("record")),
		application.NewTool("get_record", "Fetches a single record by ID.",
			a.getRecord, application.ReadOnly(), application.WithTags("record")),
		application.NewTool("create_records", "Creates records in batches of ten.",
			a.createRecords, application.Important(), application.WithTags("record", "batch")),
		application.NewTool("update_records", "Updates records in batches of ten. With replace, unspecified fields are cleared.",
			a.updateRecords, application.WithTags("record", "batch")),
		application.NewTool("delete_records", "Deletes records in batches of ten.",
			a.deleteRecords, application.Destructive(), application.WithTags("record", "batch")),
		application.NewTool("upsert_records", "Creates or updates records in batches of ten, matching on key_fields.",
			a.upsertRecords, application.WithTags("record", "batch", "upsert")),
	}
}

func (a *App) listBases(ctx context.Context, _ listBasesInput) ([]interface{}, error) {
	var bases []interface{}
	offset := ""
	for {
		query := application.NewQuery().Set("offset", offset).Values()
		resp, err := a.Client().Get(ctx, "meta/bases", query)
		if err != nil {
			return nil, err
		}
		var page struct {
			Bases  []interface{} `json:"bases"`
			Offset string        `json:"offset"`
		}
		if err := resp.JSON(&page); err != nil {
			return nil, err
		}
		bases = append(bases, page.Bases...)
		if page.Offset == "" {
			return bases, nil
		}
		offset = page.Offset
	}
}

func (a *App) listTables(ctx context.Context, in listTablesInput) (interface{}, error) {
	resp, err := a.Client().Get(ctx, "meta/bases/"+application.PathEscape(in.BaseID)+"/tables", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Tables []interface{} `json:"tables"`
	}
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}
	return out.Tables, nil
}

func (a *App) listRecords(ctx context.Context, in listRecordsInput) ([]Record, error) {
	records := []Record{}
	offset := ""
	for {
		q := application.NewQuery().
			Set("view", in.View).
			Set("filterByFormula", in.FilterByFormula).
			Set("maxRecords", in.MaxRecords).
			Set("pageSize", in.PageSize).
			Set("offset", offset).
			Repeat("fields[]", in.Fields)

		resp, err := a.Client().Get(ctx, tablePath(in.BaseID, in.Table), q.Values())
		if err != nil {
			return nil, err
		}
		var page recordsPage
		if err := resp.JSON(&page); err != nil {
			return nil, err
		}
		records = append(records, page.Records...)

		if in.MaxRecords != nil && len(records) >= *in.MaxRecords {
			return records[:*in.MaxRecords], nil
		}
		if page.Offset == "" {
			return records, nil
		}
		offset = page.Offset
	}
}

func (a *App) getRecord(ctx context.Context, in getRecordInput) (Record, error) {
	resp, err := a.Client().Get(ctx, tablePath(in.BaseID, in.Table)+"/"+application.PathEscape(in.RecordID), nil)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	err = resp.JSON(&rec)
	return rec, err
}

func (a *App) createRecords(ctx context.Context, in createRecordsInput) ([]Record, error) {
	pages, err := application.ForEachChunk(ctx, in.Records, BatchSize, 1,
		func(ctx context.Context, batch []map[string]interface{}) (recordsPage, error) {
			records := make([]Record, len(batch))
			for i, fields := range batch {
				records[i] = Record{Fields: fields}
			}
			return a.writeBatch(ctx, http.MethodPost, tablePath(in.BaseID, in.Table), map[string]interface{}{"records": records, "typecast": in.Typecast})
		})
	if err != nil {
		return nil, err
	}
	return flatten(pages), nil
}

func (a *App) updateRecords(ctx context.Context, in updateRecordsInput) ([]Record, error) {
	method := http.MethodPatch
	if in.Replace {
		method = http.MethodPut
	}
	for i, rec := range in.Records {
		if rec.ID == "" {
			return nil, application.MissingParams(fmt.Sprintf("records[%d].id", i))
		}
	}
	pages, err := application.ForEachChunk(ctx, in.Records, BatchSize, 1,
		func(ctx context.Context, batch []Record) (recordsPage, error) {
			records := make([]Record, len(batch))
			for i, rec := range batch {
				records[i] = Record{ID: rec.ID, Fields: rec.Fields}
			}
			return a.writeBatch(ctx, method, tablePath(in.BaseID, in.Table), map[string]interface{}{"records": records, "typecast": in.Typecast})
		})
	if err != nil {
		return nil, err
	}
	return flatten(pages), nil
}

func (a *App) deleteRecords(ctx context.Context, in deleteRecordsInput) ([]DeletedRecord, error) {
	pages, err := application.ForEachChunk(ctx, in.RecordIDs, BatchSize, 1,
		func(ctx context.Context, batch []string) ([]DeletedRecord, error) {
			query := url.Values{}
			for _, id := range batch {
				query.Add("records[]", id)
			}
			resp, err := a.Client().Delete(ctx, tablePath(in.BaseID, in.Table), query)
			if err != nil {
				return nil, err
			}
			var out struct {
				Records []DeletedRecord `json:"records"`
			}
			err = resp.JSON(&out)
			return out.Records, err
		})
	if err != nil {
		return nil, err
	}
	deleted := []DeletedRecord{}
	for _, page := range pages {
		deleted = append(deleted, page...)
	}
	return deleted, nil
}

func (a *App) upsertRecords(ctx context.Context, in upsertRecordsInput) (UpsertResult, error) {
	method := http.MethodPatch
	if in.Replace {
		method = http.MethodPut
	}
	pages, err := application.ForEachChunk(ctx, in.Records, BatchSize, 1,
		func(ctx context.Context, batch []map[string]interface{}) (upsertPage, error) {
			records := make([]Record, len(batch))
			for i, fields := range batch {
				records[i] = Record{Fields: fields}
			}
			body := map[string]interface{}{
				"records":       records,
				"typecast":      in.Typecast,
				"performUpsert": map[string]interface{}{"fieldsToMergeOn": in.KeyFields},
			}
			resp, err := a.Client().Do(ctx, method, tablePath(in.BaseID, in.Table), nil, body)
			if err != nil {
				return upsertPage{}, err
			}
			var page upsertPage
			err = resp.JSON(&page)
			return page, err
		})
	if err != nil {
		return UpsertResult{}, err
	}

	out := UpsertResult{Records: []Record{}, CreatedRecords: []string{}, UpdatedRecords: []string{}}
	for _, page := range pages {
		out.Records = append(out.Records, page.Records...)
		out.CreatedRecords = append(out.CreatedRecords, page.CreatedRecords...)
		out.UpdatedRecords = append(out.UpdatedRecords, page.UpdatedRecords...)
	}
	return out, nil
}

func (a *App) writeBatch(ctx context.Context, method, path string, body interface{}) (recordsPage, error) {
	resp, err := a.Client().Do(ctx, method, path, nil, body)
	if err != nil {
		return recordsPage{}, err
	}
	var page recordsPage
	err = resp.JSON(&page)
	return page, err
}

func flatten(pages []recordsPage) []Record {
	out := []Record{}
	for _, page := range pages {
		out = append(out, page.Records...)
	}
	return out
}
