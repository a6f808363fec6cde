// Package gemini generates text and images with Google Gemini models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/ca-srg/toolbelt/internal/application"
	"github.com/ca-srg/toolbelt/internal/apps/filesystem"
)

const (
	Name = "google_gemini"

	DefaultTextModel  = "gemini-2.5-flash"
	DefaultImageModel = "gemini-2.5-flash-image-preview"
)

// App is the Gemini application.
type App struct {
	application.Base

	baseURL    string
	httpClient *http.Client
	logger     *log.Logger
}

// Option configures the application.
type Option func(*App)

// WithBaseURL points the client at another Gemini API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(a *App) {
		a.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client used by the SDK.
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) {
		a.httpClient = c
	}
}

// New creates the application.
func New(integration application.Integration, opts ...Option) *App {
	a := &App{
		Base:   application.NewBase(Name, integration),
		logger: log.New(os.Stderr, "[gemini] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Tools lists the application's tools.
func (a *App) Tools() []application.Tool {
	return []application.Tool{
		application.NewTool("generate_text", "Generates text from a prompt.",
			a.generateText, application.Important(), application.WithTags("text", "ai")),
		application.NewTool("generate_image", "Generates images from a prompt and an optional reference image; images are saved as local files.",
			a.generateImage, application.Important(), application.WithTags("image", "ai")),
		application.NewTool("count_tokens", "Counts the tokens a prompt uses for a model.",
			a.countTokens, application.ReadOnly(), application.WithTags("text", "ai")),
	}
}

func (a *App) genaiClient(ctx context.Context) (*genai.Client, error) {
	key, err := a.APIKey(ctx)
	if err != nil {
		return nil, err
	}
	cfg := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: a.httpClient,
	}
	if a.baseURL != "" {
		cfg.HTTPOptions.BaseURL = a.baseURL
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client, nil
}

type generateTextInput struct {
	Prompt            string   `json:"prompt" validate:"required" jsonschema:"prompt to answer"`
	Model             string   `json:"model,omitempty" jsonschema:"model name, gemini-2.5-flash by default"`
	SystemInstruction string   `json:"system_instruction,omitempty" jsonschema:"instruction that frames the conversation"`
	Temperature       *float32 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2" jsonschema:"sampling temperature"`
	MaxOutputTokens   int32    `json:"max_output_tokens,omitempty" validate:"omitempty,gte=1" jsonschema:"output token limit"`
}

// TextResult is generated text.
type TextResult struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason,omitempty"`
}

func (a *App) generateText(ctx context.Context, in generateTextInput) (TextResult, error) {
	client, err := a.genaiClient(ctx)
	if err != nil {
		return TextResult{}, err
	}
	model := defaultModel(in.Model, DefaultTextModel)

	cfg := &genai.GenerateContentConfig{Temperature: in.Temperature, MaxOutputTokens: in.MaxOutputTokens}
	if in.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(in.SystemInstruction, genai.RoleUser)
	}

	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(in.Prompt), cfg)
	if err != nil {
		return TextResult{}, classifyGenAIError(err)
	}
	if len(resp.Candidates) == 0 {
		return TextResult{}, blockedError(resp)
	}

	result := TextResult{Model: model, FinishReason: string(resp.Candidates[0].FinishReason)}
	for _, part := range candidateParts(resp) {
		result.Text += part.Text
	}
	return result, nil
}

type generateImageInput struct {
	Prompt    string `json:"prompt" validate:"required" jsonschema:"image description"`
	ImagePath string `json:"image,omitempty" jsonschema:"local path of a reference image"`
	Model     string `json:"model,omitempty" jsonschema:"model name, gemini-2.5-flash-image-preview by default"`
}

// ImageResult is the model's text with saved images embedded as markdown.
type ImageResult struct {
	Text   string   `json:"text"`
	Images []string `json:"images"`
}

func (a *App) generateImage(ctx context.Context, in generateImageInput) (ImageResult, error) {
	parts := []*genai.Part{genai.NewPartFromText(in.Prompt)}
	if in.ImagePath != "" {
		data, err := os.ReadFile(in.ImagePath)
		if err != nil {
			return ImageResult{}, application.Invalid("image", fmt.Sprintf("cannot read reference image: %v", err))
		}
		parts = append(parts, genai.NewPartFromBytes(data, http.DetectContentType(data)))
	}

	client, err := a.genaiClient(ctx)
	if err != nil {
		return ImageResult{}, err
	}
	model := defaultModel(in.Model, DefaultImageModel)
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return ImageResult{}, classifyGenAIError(err)
	}
	if len(resp.Candidates) == 0 {
		return ImageResult{}, blockedError(resp)
	}

	result := ImageResult{Images: []string{}}
	var text strings.Builder
	for _, part := range candidateParts(resp) {
		switch {
		case part.Text != "":
			text.WriteString(part.Text)
		case part.InlineData != nil:
			path := filepath.Join(filesystem.TempDir, uuid.NewString()+extensionFor(part.InlineData.MIMEType))
			written, err := filesystem.WriteFile(part.InlineData.Data, path)
			if err != nil {
				return ImageResult{}, err
			}
			a.logger.Printf("Saved generated image to %s (%d bytes)", written.Data.URL, written.Data.Size)
			result.Images = append(result.Images, written.Data.URL)
			fmt.Fprintf(&text, "![Image](%s)", written.Data.URL)
		}
	}
	result.Text = text.String()
	return result, nil
}

type countTokensInput struct {
	Prompt string `json:"prompt" validate:"required" jsonschema:"text to count"`
	Model  string `json:"model,omitempty" jsonschema:"model name, gemini-2.5-flash by default"`
}

// TokenCount is the size of a prompt.
type TokenCount struct {
	Model       string `json:"model"`
	TotalTokens int32  `json:"total_tokens"`
}

func (a *App) countTokens(ctx context.Context, in countTokensInput) (TokenCount, error) {
	client, err := a.genaiClient(ctx)
	if err != nil {
		return TokenCount{}, err
	}
	model := defaultModel(in.Model, DefaultTextModel)
	resp, err := client.Models.CountTokens(ctx, model, genai.Text(in.Prompt), nil)
	if err != nil {
		return TokenCount{}, classifyGenAIError(err)
	}
	return TokenCount{Model: model, TotalTokens: resp.TotalTokens}, nil
}

func candidateParts(resp *genai.GenerateContentResponse) []*genai.Part {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	return resp.Candidates[0].Content.Parts
}

func blockedError(resp *genai.GenerateContentResponse) error {
	reason := "no candidates returned"
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		reason = "prompt blocked: " + string(resp.PromptFeedback.BlockReason)
	}
	return &application.HTTPError{StatusCode: http.StatusUnprocessableEntity, Method: "generateContent", Message: reason}
}

func classifyGenAIError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var apiErrPtr *genai.APIError
		if !errors.As(err, &apiErrPtr) {
			return fmt.Errorf("gemini: %w", err)
		}
		apiErr = *apiErrPtr
	}
	httpErr := &application.HTTPError{
		StatusCode: apiErr.Code,
		Method:     "gemini",
		Message:    apiErr.Message,
		Retryable:  apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500,
	}
	if apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden ||
		(apiErr.Code == http.StatusBadRequest && strings.Contains(apiErr.Message, "API key")) {
		return &application.NotAuthorizedError{App: Name, Message: "API key rejected", Cause: httpErr}
	}
	return httpErr
}

func defaultModel(model, fallback string) string {
	if model == "" {
		return fallback
	}
	return model
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
