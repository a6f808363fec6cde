// Package exa wraps the Exa neural search API.
package exa

import (
	"context"

	"github.com/ca-srg/toolbelt/internal/application"
)

const (
	Name           = "exa"
	defaultBaseURL = "https://api.exa.ai"
)

// App is the Exa application.
type App struct {
	application.Base
}

type searchInput struct {
	Query              string                 `json:"query" validate:"required" jsonschema:"search query"`
	UseAutoprompt      *bool                  `json:"useAutoprompt,omitempty" jsonschema:"rewrite the query into an Exa-style prompt"`
	Type               string                 `json:"type,omitempty" validate:"omitempty,oneof=auto neural keyword fast" jsonschema:"search type, auto by default"`
	Category           string                 `json:"category,omitempty" jsonschema:"data category such as 'research paper'"`
	NumResults         *int                   `json:"numResults,omitempty" validate:"omitempty,gte=1" jsonschema:"number of results"`
	IncludeDomains     []string               `json:"includeDomains,omitempty" jsonschema:"only return results from these domains"`
	ExcludeDomains     []string               `json:"excludeDomains,omitempty" jsonschema:"never return results from these domains"`
	StartCrawlDate     string                 `json:"startCrawlDate,omitempty" jsonschema:"ISO 8601 lower bound on crawl date"`
	EndCrawlDate       string                 `json:"endCrawlDate,omitempty" jsonschema:"ISO 8601 upper bound on crawl date"`
	StartPublishedDate string                 `json:"startPublishedDate,omitempty" jsonschema:"ISO 8601 lower bound on published date"`
	EndPublishedDate   string                 `json:"endPublishedDate,omitempty" jsonschema:"ISO 8601 upper bound on published date"`
	IncludeText        []string               `json:"includeText,omitempty" jsonschema:"text that must appear in results"`
	ExcludeText        []string               `json:"excludeText,omitempty" jsonschema:"text that must not appear in results"`
	Contents           map[string]interface{} `json:"contents,omitempty" jsonschema:"content retrieval options"`
}

type similarInput struct {
	URL                string                 `json:"url" validate:"required,url" jsonschema:"page to find similar links for"`
	NumResults         *int                   `json:"numResults,omitempty" validate:"omitempty,gte=1" jsonschema:"number of results"`
	IncludeDomains     []string               `json:"includeDomains,omitempty" jsonschema:"only return results from these domains"`
	ExcludeDomains     []string               `json:"excludeDomains,omitempty" jsonschema:"never return results from these domains"`
	StartCrawlDate     string                 `json:"startCrawlDate,omitempty" jsonschema:"ISO 8601 lower bound on crawl date"`
	EndCrawlDate       string                 `json:"endCrawlDate,omitempty" jsonschema:"ISO 8601 upper bound on crawl date"`
	StartPublishedDate string                 `json:"startPublishedDate,omitempty" jsonschema:"ISO 8601 lower bound on published date"`
	EndPublishedDate   string                 `json:"endPublishedDate,omitempty" jsonschema:"ISO 8601 upper bound on published date"`
	IncludeText        []string               `json:"includeText,omitempty" jsonschema:"text that must appear in results"`
	ExcludeText        []string               `json:"excludeText,omitempty" jsonschema:"text that must not appear in results"`
	Contents           map[string]interface{} `json:"contents,omitempty" jsonschema:"content retrieval options"`
}

type contentsInput struct {
	URLs             []string               `json:"urls" validate:"required,min=1" jsonschema:"URLs to fetch"`
	Text             interface{}            `json:"text,omitempty" jsonschema:"true or an options object to include full text"`
	Highlights       map[string]interface{} `json:"highlights,omitempty" jsonschema:"highlight options"`
	Summary          map[string]interface{} `json:"summary,omitempty" jsonschema:"summary options"`
	Livecrawl        string                 `json:"livecrawl,omitempty" validate:"omitempty,oneof=never fallback always auto preferred" jsonschema:"livecrawl mode"`
	LivecrawlTimeout *int                   `json:"livecrawlTimeout,omitempty" jsonschema:"livecrawl timeout in milliseconds"`
	Subpages         *int                   `json:"subpages,omitempty" jsonschema:"number of subpages to crawl"`
	SubpageTarget    []string               `json:"subpageTarget,omitempty" jsonschema:"keywords selecting subpages"`
	Extras           map[string]interface{} `json:"extras,omitempty" jsonschema:"extra parameters"`
}

type answerInput struct {
	Query string `json:"query" validate:"required" jsonschema:"question to answer"`
	Text  *bool  `json:"text,omitempty" jsonschema:"include full text of sources"`
	Model string `json:"model,omitempty" validate:"omitempty,oneof=exa exa-pro" jsonschema:"answer model"`
}

// New creates the application.
func New(integration application.Integration, opts ...application.ClientOption) *App {
	a := &App{Base: application.NewBase(Name, integration)}
	a.InitClient(defaultBaseURL, append([]application.ClientOption{application.WithAuth(a.HeaderAuth("x-api-key"))}, opts...)...)
	return a
}

// Tools lists the application's tools.
func (a *App) Tools() []application.Tool {
	return []application.Tool{
		application.NewTool("search", "Searches the web with optional filters on type, category, domains, dates and text.",
			func(ctx context.Context, in searchInput) (interface{}, error) { return a.post(ctx, "search", in) },
			application.Important(), application.ReadOnly(), application.WithTags("search")),
		application.NewTool("find_similar", "Finds pages semantically similar to a URL.",
			func(ctx context.Context, in similarInput) (interface{}, error) { return a.post(ctx, "findSimilar", in) },
			application.Important(), application.ReadOnly(), application.WithTags("search")),
		application.NewTool("get_contents", "Fetches text, highlights or summaries for a list of URLs.",
			func(ctx context.Context, in contentsInput) (interface{}, error) { return a.post(ctx, "contents", in) },
			application.Important(), application.ReadOnly(), application.WithTags("crawl")),
		application.NewTool("answer", "Returns a synthesized answer with citations for a question.",
			func(ctx context.Context, in answerInput) (interface{}, error) { return a.post(ctx, "answer", in) },
			application.Important(), application.ReadOnly(), application.WithTags("answer")),
	}
}

func (a *App) post(ctx context.Context, path string, body interface{}) (interface{}, error) {
	resp, err := a.Client().Post(ctx, path, body, nil)
	if err != nil {
		return nil, err
	}
	return resp.Decode()
}
