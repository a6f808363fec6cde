// Package googleauth builds Google API client options from integration credentials.
package googleauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ca-srg/toolbelt/internal/application"
)

// ClientOptions resolves credentials into options for a google.golang.org/api service.
//
// An access token is used as-is. A service account or workload identity JSON under
// credentials_json is exchanged for the given scopes. With no integration the
// Application Default Credentials are used. endpoint, when set, replaces the
// service's base URL.
func ClientOptions(ctx context.Context, base *application.Base, endpoint string, scopes ...string) ([]option.ClientOption, error) {
	ts, err := tokenSource(ctx, base, scopes)
	if err != nil {
		return nil, err
	}

	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return opts, nil
}

func tokenSource(ctx context.Context, base *application.Base, scopes []string) (oauth2.TokenSource, error) {
	if base.Integration() == nil {
		ts, err := google.DefaultTokenSource(ctx, scopes...)
		if err != nil {
			return nil, application.NotAuthorized(base.Name(), fmt.Sprintf("no integration and no default credentials: %v", err))
		}
		return ts, nil
	}

	creds, err := base.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	if token := creds.AccessToken(); token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}), nil
	}
	if raw := creds.Get("credentials_json", "service_account_json", "GOOGLE_CREDENTIALS_JSON"); raw != "" {
		parsed, err := google.CredentialsFromJSON(ctx, []byte(raw), scopes...)
		if err != nil {
			return nil, application.NotAuthorized(base.Name(), fmt.Sprintf("failed to parse credentials: %v", err))
		}
		return parsed.TokenSource, nil
	}
	return nil, application.NotAuthorized(base.Name(), "access_token or credentials_json is required")
}

// ClassifyError converts a googleapi failure into the shared error kinds.
func ClassifyError(app, op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%s %s: %w", app, op, err)
	}

	message := apiErr.Message
	if message == "" {
		message = http.StatusText(apiErr.Code)
	}
	httpErr := &application.HTTPError{
		StatusCode: apiErr.Code,
		Method:     op,
		Message:    message,
		Body:       apiErr.Body,
		Retryable:  apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500,
	}
	if apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden {
		return &application.NotAuthorizedError{App: app, Message: "credentials rejected", Cause: httpErr}
	}
	return httpErr
}
