// Package zenquotes wraps the public Zen Quotes API. It needs no credentials.
package zenquotes

import (
	"context"
	"fmt"

	"github.com/ca-srg/toolbelt/internal/application"
)

const (
	Name           = "zenquotes"
	defaultBaseURL = "https://zenquotes.io/api"
)

// App is the Zen Quotes application.
type App struct {
	application.Base
}

// Quote is a single quote with its author.
type Quote struct {
	Quote  string `json:"quote"`
	Author string `json:"author"`
}

type rawQuote struct {
	Q string `json:"q"`
	A string `json:"a"`
}

// New creates the application. integration may be nil.
func New(integration application.Integration, opts ...application.ClientOption) *App {
	a := &App{Base: application.NewBase(Name, integration)}
	a.InitClient(defaultBaseURL, opts...)
	return a
}

// Tools lists the application's tools.
func (a *App) Tools() []application.Tool {
	return []application.Tool{
		application.NewTool("get_random_quote",
			"Fetches a random inspirational quote and its author.",
			func(ctx context.Context, _ struct{}) (Quote, error) { return a.fetch(ctx, "random") },
			application.Important(), application.ReadOnly()),
		application.NewTool("get_today_quote",
			"Fetches the quote of the day and its author.",
			func(ctx context.Context, _ struct{}) (Quote, error) { return a.fetch(ctx, "today") },
			application.ReadOnly()),
	}
}

func (a *App) fetch(ctx context.Context, path string) (Quote, error) {
	resp, err := a.Client().Get(ctx, path, nil)
	if err != nil {
		return Quote{}, err
	}

	var quotes []rawQuote
	if err := resp.JSON(&quotes); err != nil {
		return Quote{}, err
	}
	if len(quotes) == 0 {
		return Quote{}, fmt.Errorf("no quotes in response")
	}
	return Quote{Quote: quotes[0].Q, Author: quotes[0].A}, nil
}
