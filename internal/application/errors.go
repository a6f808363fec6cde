package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ErrorType classifies tool failures for callers and metrics.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeHTTP       ErrorType = "http"
	ErrorTypeAuth       ErrorType = "authentication"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeInternal   ErrorType = "internal"
)

// FieldError describes one rejected parameter.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned before any network call when parameters are missing or malformed.
type ValidationError struct {
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Fields) == 0 {
		return e.Message
	}

	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(parts, "; "))
}

// MissingParams builds a ValidationError for required parameters that were not supplied.
func MissingParams(names ...string) *ValidationError {
	fields := make([]FieldError, 0, len(names))
	for _, name := range names {
		fields = append(fields, FieldError{Field: name, Message: "This field is required"})
	}
	return &ValidationError{Message: "missing required parameters", Fields: fields}
}

// Invalid builds a ValidationError for a single parameter.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{
		Message: "invalid parameters",
		Fields:  []FieldError{{Field: field, Message: message}},
	}
}

// HTTPError carries a non-success vendor response.
type HTTPError struct {
	StatusCode int    `json:"status_code"`
	Method     string `json:"method"`
	URL        string `json:"url"`
	Message    string `json:"message"`
	Body       string `json:"body,omitempty"`
	Retryable  bool   `json:"retryable"`
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// NotAuthorizedError means credentials are absent or were rejected by the vendor.
type NotAuthorizedError struct {
	App     string `json:"app"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// Error implements the error interface.
func (e *NotAuthorizedError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.App != "" {
		msg = fmt.Sprintf("%s: %s", e.App, msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap exposes the underlying cause for errors.Unwrap compatibility.
func (e *NotAuthorizedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NotAuthorized builds the error returned when an application has no usable credentials.
func NotAuthorized(app, message string) *NotAuthorizedError {
	return &NotAuthorizedError{App: app, Message: message}
}

// ClassifyHTTPError converts a non-2xx response from app into an HTTPError, wrapped
// in a NotAuthorizedError for 401 and 403.
func ClassifyHTTPError(app, method, url string, statusCode int, body []byte) error {
	httpErr := &HTTPError{
		StatusCode: statusCode,
		Method:     method,
		URL:        url,
		Message:    extractErrorMessage(statusCode, body),
		Body:       truncate(string(body), 2048),
		Retryable:  statusCode == http.StatusTooManyRequests || statusCode >= 500,
	}

	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return &NotAuthorizedError{App: app, Message: "credentials rejected", Cause: httpErr}
	}
	return httpErr
}

// StatusCode returns the vendor status code carried by err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// KindOf classifies err for metrics and result formatting.
func KindOf(err error) ErrorType {
	if err == nil {
		return ""
	}

	var validationErr *ValidationError
	var authErr *NotAuthorizedError
	var httpErr *HTTPError

	switch {
	case errors.As(err, &validationErr):
		return ErrorTypeValidation
	case errors.As(err, &authErr):
		return ErrorTypeAuth
	case errors.As(err, &httpErr):
		if httpErr.StatusCode == http.StatusTooManyRequests {
			return ErrorTypeRateLimit
		}
		return ErrorTypeHTTP
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	default:
		return ErrorTypeInternal
	}
}

// extractErrorMessage pulls a human readable message from the common vendor error shapes.
func extractErrorMessage(statusCode int, body []byte) string {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := messageFrom(payload["error"]); msg != "" {
			return msg
		}
		for _, key := range []string{"message", "detail", "error_description", "errors"} {
			if msg := messageFrom(payload[key]); msg != "" {
				return msg
			}
		}
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return http.StatusText(statusCode)
	}
	return truncate(text, 512)
}

func messageFrom(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]interface{}:
		for _, key := range []string{"message", "detail", "type"} {
			if s, ok := val[key].(string); ok && s != "" {
				return s
			}
		}
	case []interface{}:
		msgs := make([]string, 0, len(val))
		for _, item := range val {
			if msg := messageFrom(item); msg != "" {
				msgs = append(msgs, msg)
			}
		}
		sort.Strings(msgs)
		return strings.Join(msgs, "; ")
	}
	return ""
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
