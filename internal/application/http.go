package application

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBytes   = 32 << 20
)

// AuthFunc sets authentication headers right before a request is sent.
type AuthFunc func(ctx context.Context, header http.Header) error

// Client performs vendor HTTP calls on behalf of an application.
type Client struct {
	app        string
	baseURL    string
	httpClient *http.Client
	headers    http.Header
	auth       AuthFunc
	limiter    *rate.Limiter
	tracer     trace.Tracer
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the vendor base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// WithAuth sets the function used to authorize requests.
func WithAuth(auth AuthFunc) ClientOption {
	return func(c *Client) {
		c.auth = auth
	}
}

// WithRateLimit caps outbound requests per second. A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewClient creates a Client for the given application and base URL.
func NewClient(app, baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		app:        app,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		headers:    make(http.Header),
		tracer:     otel.Tracer("toolbelt/application"),
	}
	c.headers.Set("Accept", "application/json")

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the resolved vendor base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Response is a successful vendor response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the body into v.
func (r *Response) JSON(v interface{}) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// IsJSON reports whether the body parses as JSON.
func (r *Response) IsJSON() bool {
	return json.Valid(bytes.TrimSpace(r.Body))
}

// Decode returns the parsed JSON body, or an empty map for empty bodies.
func (r *Response) Decode() (interface{}, error) {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return map[string]interface{}{}, nil
	}
	var v interface{}
	if err := r.JSON(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, query, nil)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body interface{}, query url.Values) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, query, body)
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body interface{}, query url.Values) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, query, body)
}

// Patch issues a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body interface{}, query url.Values) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, path, query, body)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, query, nil)
}

// PostForm issues a form-encoded POST request.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, nil, form)
}

// Do sends a request. body may be nil, url.Values (form), []byte (raw) or any
// JSON-encodable value. Non-2xx responses are returned as errors.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body interface{}) (*Response, error) {
	return c.DoWithHeaders(ctx, method, path, query, body, nil)
}

// DoWithHeaders is Do with extra per-request headers.
func (c *Client) DoWithHeaders(ctx context.Context, method, path string, query url.Values, body interface{}, extra http.Header) (*Response, error) {
	target, err := c.resolve(path, query)
	if err != nil {
		return nil, err
	}

	reader, contentType, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "toolbelt.http."+strings.ToLower(method), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("toolbelt.app", c.app),
		attribute.String("http.request.method", method),
		attribute.String("url.path", path),
	)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "rate limiter wait failed")
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for key, values := range extra {
		req.Header.Del(key)
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	if c.auth != nil {
		if err := c.auth(ctx, req.Header); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "authorization failed")
			return nil, err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		classified := ClassifyHTTPError(c.app, method, target, resp.StatusCode, data)
		span.RecordError(classified)
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		return nil, classified
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) resolve(path string, query url.Values) (string, error) {
	var raw string
	switch {
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		raw = path
	case c.baseURL == "":
		return "", fmt.Errorf("relative path %q used without a base URL", path)
	default:
		raw = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid request URL %q: %w", raw, err)
	}

	if len(query) > 0 {
		merged := u.Query()
		for key, values := range query {
			for _, v := range values {
				merged.Add(key, v)
			}
		}
		u.RawQuery = merged.Encode()
	}
	return u.String(), nil
}

func encodeBody(body interface{}) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case url.Values:
		return strings.NewReader(b.Encode()), "application/x-www-form-urlencoded", nil
	case []byte:
		return bytes.NewReader(b), "application/octet-stream", nil
	case io.Reader:
		return b, "application/octet-stream", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal request: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
}
