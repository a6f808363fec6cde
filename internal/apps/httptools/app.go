// Package httptools exposes generic HTTP verbs as tools.
package httptools

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/ca-srg/toolbelt/internal/application"
)

const Name = "http_tools"

// App issues arbitrary HTTP requests.
type App struct {
	application.Base
	logger *log.Logger
}

// RequestInput is shared by all verbs. Body is ignored for GET.
type RequestInput struct {
	URL         string                 `json:"url" validate:"required,url" jsonschema:"absolute URL to call"`
	Headers     map[string]string      `json:"headers,omitempty" jsonschema:"extra request headers"`
	QueryParams map[string]interface{} `json:"query_params,omitempty" jsonschema:"query parameters; list values repeat the key"`
	Body        interface{}            `json:"body,omitempty" jsonschema:"JSON request body"`
}

// TextResponse is returned when the response body is not JSON.
type TextResponse struct {
	Text       string            `json:"text"`
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
}

// New creates the application. integration may be nil.
func New(integration application.Integration, opts ...application.ClientOption) *App {
	a := &App{
		Base:   application.NewBase(Name, integration),
		logger: log.New(os.Stderr, "[http_tools] ", log.LstdFlags),
	}
	a.InitClient("", opts...)
	return a
}

// Tools lists the application's tools.
func (a *App) Tools() []application.Tool {
	verb := func(method string) func(context.Context, RequestInput) (interface{}, error) {
		return func(ctx context.Context, in RequestInput) (interface{}, error) {
			return a.send(ctx, method, in)
		}
	}

	return []application.Tool{
		application.NewTool("http_get", "Executes an HTTP GET request and returns the JSON body, or the text with status and headers when the body is not JSON.",
			verb(http.MethodGet), application.Important(), application.ReadOnly(), application.WithTags("get")),
		application.NewTool("http_post", "Sends an HTTP POST request with an optional JSON body.",
			verb(http.MethodPost), application.Important(), application.WithTags("post")),
		application.NewTool("http_put", "Sends an HTTP PUT request to replace a resource.",
			verb(http.MethodPut), application.Important(), application.Idempotent(), application.WithTags("put")),
		application.NewTool("http_patch", "Sends an HTTP PATCH request to partially update a resource.",
			verb(http.MethodPatch), application.Important(), application.WithTags("patch")),
		application.NewTool("http_delete", "Sends an HTTP DELETE request with an optional JSON body.",
			verb(http.MethodDelete), application.Important(), application.Destructive(), application.WithTags("delete")),
	}
}

func (a *App) send(ctx context.Context, method string, in RequestInput) (interface{}, error) {
	query := application.NewQuery()
	for key, value := range in.QueryParams {
		if list, ok := value.([]interface{}); ok {
			query.Repeat(key, queryList(list))
			continue
		}
		query.Set(key, value)
	}

	header := make(http.Header, len(in.Headers))
	for key, value := range in.Headers {
		header.Set(key, value)
	}

	var body interface{}
	if method != http.MethodGet {
		body = in.Body
	}

	resp, err := a.Client().DoWithHeaders(ctx, method, in.URL, query.Values(), body, header)
	if err != nil {
		return nil, err
	}

	if resp.IsJSON() {
		return resp.Decode()
	}

	a.logger.Printf("Response is not JSON, returning text. Content-Type: %s", resp.Header.Get("Content-Type"))
	flat := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		flat[key] = resp.Header.Get(key)
	}
	return TextResponse{Text: string(resp.Body), StatusCode: resp.StatusCode, Headers: flat}, nil
}

// queryList renders a JSON list so each entry becomes its own key=value pair.
func queryList(list []interface{}) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := application.FormatValue(item); ok {
			out = append(out, s)
		}
	}
	return out
}
