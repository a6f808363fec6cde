package application

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// TagImportant marks the tools an agent should be offered first.
const TagImportant = "important"

// Application is a single vendor wrapper exposing a set of tools.
type Application interface {
	Name() string
	Tools() []Tool
}

// Credentials holds the secrets an Integration supplies to an application.
type Credentials map[string]string

// Get returns the first non-empty value among keys.
func (c Credentials) Get(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(c[key]); v != "" {
			return v
		}
	}
	return ""
}

// APIKey looks up the API key under the aliases vendors commonly use.
func (c Credentials) APIKey() string {
	return c.Get("api_key", "API_KEY", "apiKey", "key")
}

// AccessToken looks up an OAuth or bot token.
func (c Credentials) AccessToken() string {
	return c.Get("access_token", "ACCESS_TOKEN", "token", "bot_token")
}

// Integration injects credentials into an application at call time.
type Integration interface {
	Name() string
	Credentials(ctx context.Context) (Credentials, error)
}

// Base is embedded by every application and gives access to credentials and the HTTP client.
type Base struct {
	name        string
	integration Integration
	client      *Client
}

// NewBase creates the shared application state.
func NewBase(name string, integration Integration) Base {
	return Base{name: name, integration: integration}
}

// InitClient builds and stores the HTTP client used by the application's tools.
// Options are applied in order, so caller-supplied options override defaults.
func (b *Base) InitClient(baseURL string, opts ...ClientOption) *Client {
	b.client = NewClient(b.name, baseURL, opts...)
	return b.client
}

// Name returns the application slug.
func (b *Base) Name() string {
	return b.name
}

// Integration returns the configured credential source.
func (b *Base) Integration() Integration {
	return b.integration
}

// Client returns the application's HTTP client.
func (b *Base) Client() *Client {
	return b.client
}

// Credentials resolves credentials through the integration.
func (b *Base) Credentials(ctx context.Context) (Credentials, error) {
	if b.integration == nil {
		return nil, NotAuthorized(b.name, "no integration configured")
	}

	creds, err := b.integration.Credentials(ctx)
	if err != nil {
		return nil, &NotAuthorizedError{App: b.name, Message: "failed to load credentials", Cause: err}
	}
	if len(creds) == 0 {
		return nil, NotAuthorized(b.name, fmt.Sprintf("integration %s returned no credentials", b.integration.Name()))
	}
	return creds, nil
}

// APIKey resolves the API key or fails with NotAuthorizedError.
func (b *Base) APIKey(ctx context.Context) (string, error) {
	creds, err := b.Credentials(ctx)
	if err != nil {
		return "", err
	}
	key := creds.APIKey()
	if key == "" {
		return "", NotAuthorized(b.name, "API key not found in credentials")
	}
	return key, nil
}

// AccessToken resolves an access token or fails with NotAuthorizedError.
func (b *Base) AccessToken(ctx context.Context) (string, error) {
	creds, err := b.Credentials(ctx)
	if err != nil {
		return "", err
	}
	token := creds.AccessToken()
	if token == "" {
		return "", NotAuthorized(b.name, "access token not found in credentials")
	}
	return token, nil
}

// BearerAuth authorizes requests with the integration's API key as a bearer token.
func (b *Base) BearerAuth() AuthFunc {
	return func(ctx context.Context, header http.Header) error {
		key, err := b.APIKey(ctx)
		if err != nil {
			return err
		}
		header.Set("Authorization", "Bearer "+key)
		return nil
	}
}

// HeaderAuth authorizes requests with the API key in the named header.
func (b *Base) HeaderAuth(name string) AuthFunc {
	return func(ctx context.Context, header http.Header) error {
		key, err := b.APIKey(ctx)
		if err != nil {
			return err
		}
		header.Set(name, key)
		return nil
	}
}
