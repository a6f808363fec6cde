// Package perplexity wraps the Perplexity chat completions API for search-grounded answers.
package perplexity

import (
	"context"
	"fmt"

	"github.com/ca-srg/toolbelt/internal/application"
)

const (
	Name                = "perplexity"
	defaultBaseURL      = "https://api.perplexity.ai"
	defaultModel        = "sonar-pro"
	defaultTemperature  = 1.0
	defaultSystemPrompt = "You are a helpful AI assistant that answers questions using real-time information from the web."
)

// App is the Perplexity application.
type App struct {
	application.Base
}

// Answer is the synthesized answer and its sources.
type Answer struct {
	Content   string   `json:"content"`
	Citations []string `json:"citations"`
}

type searchInput struct {
	Query        string   `json:"query" validate:"required" jsonschema:"question to answer using the web"`
	Model        string   `json:"model,omitempty" validate:"omitempty,oneof=r1-1776 sonar sonar-pro sonar-reasoning sonar-reasoning-pro sonar-deep-research" jsonschema:"model name, sonar-pro by default"`
	Temperature  *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lt=2" jsonschema:"sampling temperature, 1 by default"`
	SystemPrompt *string  `json:"system_prompt,omitempty" jsonschema:"system message; an empty string sends none"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
}

// New creates the application.
func New(integration application.Integration, opts ...application.ClientOption) *App {
	a := &App{Base: application.NewBase(Name, integration)}
	a.InitClient(defaultBaseURL, append([]application.ClientOption{application.WithAuth(a.BearerAuth())}, opts...)...)
	return a
}

// Tools lists the application's tools.
func (a *App) Tools() []application.Tool {
	return []application.Tool{
		application.NewTool("answer_with_search",
			"Answers a question with a web-search-grounded completion and returns the content with its source citations.",
			a.answerWithSearch,
			application.Important(), application.ReadOnly(), application.WithTags("search", "web", "research", "citations")),
	}
}

func (a *App) answerWithSearch(ctx context.Context, in searchInput) (Answer, error) {
	req := completionRequest{Model: defaultModel, Temperature: defaultTemperature}
	if in.Model != "" {
		req.Model = in.Model
	}
	if in.Temperature != nil {
		req.Temperature = *in.Temperature
	}

	systemPrompt := defaultSystemPrompt
	if in.SystemPrompt != nil {
		systemPrompt = *in.SystemPrompt
	}
	if systemPrompt != "" {
		req.Messages = append(req.Messages, message{Role: "system", Content: systemPrompt})
	}
	req.Messages = append(req.Messages, message{Role: "user", Content: in.Query})

	resp, err := a.Client().Post(ctx, "chat/completions", req, nil)
	if err != nil {
		return Answer{}, err
	}

	var out completionResponse
	if err := resp.JSON(&out); err != nil {
		return Answer{}, err
	}
	if len(out.Choices) == 0 {
		return Answer{}, fmt.Errorf("perplexity returned no choices")
	}
	citations := out.Citations
	if citations == nil {
		citations = []string{}
	}
	return Answer{Content: out.Choices[0].Message.Content, Citations: citations}, nil
}
