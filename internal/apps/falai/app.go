// Package falai wraps the fal.ai queue API. Jobs are submitted to the queue and
// then checked, fetched or cancelled by request ID; run does all three.
package falai

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ca-srg/toolbelt/internal/application"
)

const (
	Name               = "falai"
	defaultBaseURL     = "https://queue.fal.run"
	defaultStorageURL  = "https://rest.alpha.fal.ai"
	DefaultApplication = "fal-ai/flux/dev"

	defaultImageSize    = "landscape_4_3"
	defaultImageSeed    = 6252023
	defaultPollInterval = time.Second
	defaultRunTimeout   = 5 * time.Minute
)

// Queue states reported by fal.ai.
const (
	StatusInQueue    = "IN_QUEUE"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
)

// App is the fal.ai application.
type App struct {
	application.Base
	logger       *log.Logger
	pollInterval time.Duration

	storageURL string
	// uploader PUTs to presigned CDN URLs, which must not carry the API key.
	uploader *application.Client
}

// Upload is a file stored on the fal CDN.
type Upload struct {
	FileURL     string `json:"file_url"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// Handle identifies a queued request.
type Handle struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url,omitempty"`
	ResponseURL string `json:"response_url,omitempty"`
	CancelURL   string `json:"cancel_url,omitempty"`
}

// Status is the queue state of a request.
type Status struct {
	Status        string        `json:"status"`
	QueuePosition *int          `json:"queue_position,omitempty"`
	Logs          []interface{} `json:"logs,omitempty"`
	ResponseURL   string        `json:"response_url,omitempty"`
}

type submitInput struct {
	Arguments   map[string]interface{} `json:"arguments" validate:"required" jsonschema:"input arguments for the fal application"`
	Application string                 `json:"application,omitempty" jsonschema:"application ID, fal-ai/flux/dev by default"`
	Path        string                 `json:"path,omitempty" jsonschema:"optional endpoint subpath"`
	Hint        string                 `json:"hint,omitempty" jsonschema:"runner selection hint"`
	WebhookURL  string                 `json:"webhook_url,omitempty" validate:"omitempty,url" jsonschema:"called when the request completes"`
	Priority    string                 `json:"priority,omitempty" validate:"omitempty,oneof=normal low" jsonschema:"queue priority"`
}

type runInput struct {
	Arguments      map[string]interface{} `json:"arguments" validate:"required" jsonschema:"input arguments for the fal application"`
	Application    string                 `json:"application,omitempty" jsonschema:"application ID, fal-ai/flux/dev by default"`
	Path           string                 `json:"path,omitempty" jsonschema:"optional endpoint subpath"`
	Hint           string                 `json:"hint,omitempty" jsonschema:"runner selection hint"`
	TimeoutSeconds float64                `json:"timeout,omitempty" validate:"omitempty,gt=0" jsonschema:"seconds to wait for completion, 300 by default"`
}

type requestInput struct {
	RequestID   string `json:"request_id" validate:"required" jsonschema:"request ID returned by submit"`
	Application string `json:"application,omitempty" jsonschema:"application ID, fal-ai/flux/dev by default"`
}

type statusInput struct {
	RequestID   string `json:"request_id" validate:"required" jsonschema:"request ID returned by submit"`
	Application string `json:"application,omitempty" jsonschema:"application ID, fal-ai/flux/dev by default"`
	WithLogs    bool   `json:"with_logs,omitempty" jsonschema:"include execution logs"`
}

type uploadInput struct {
	Path        string `json:"path" validate:"required" jsonschema:"local file to upload"`
	ContentType string `json:"content_type,omitempty" jsonschema:"MIME type; detected from the name or content when empty"`
}

type imageInput struct {
	Prompt         string                 `json:"prompt" validate:"required" jsonschema:"what to draw"`
	Seed           *int                   `json:"seed,omitempty" jsonschema:"random seed, 6252023 by default"`
	ImageSize      string                 `json:"image_size,omitempty" jsonschema:"size preset, landscape_4_3 by default"`
	NumImages      int                    `json:"num_images,omitempty" validate:"omitempty,gte=1,lte=4" jsonschema:"images to generate, 1 by default"`
	ExtraArguments map[string]interface{} `json:"extra_arguments,omitempty" jsonschema:"merged over the defaults"`
	TimeoutSeconds float64                `json:"timeout,omitempty" validate:"omitempty,gt=0" jsonschema:"seconds to wait for completion"`
}

// New creates the application.
func New(integration application.Integration, opts ...application.ClientOption) *App {
	a := &App{
		Base:         application.NewBase(Name, integration),
		logger:       log.New(os.Stderr, "[falai] ", log.LstdFlags),
		pollInterval: defaultPollInterval,
		storageURL:   defaultStorageURL,
		uploader:     application.NewClient(Name, ""),
	}
	a.InitClient(defaultBaseURL, append([]application.ClientOption{application.WithAuth(a.keyAuth)}, opts...)...)
	return a
}

func (a *App) keyAuth(ctx context.Context, header http.Header) error {
	key, err := a.APIKey(ctx)
	if err != nil {
		return err
	}
	header.Set("Authorization", "Key "+key)
	return nil
}

// Tools lists the application's tools.
func (a *App) Tools() []application.Tool {
	return []application.Tool{
		application.NewTool("run", "Runs a fal application and waits for its result.",
			a.run, application.Important(), application.WithTags("run", "ai")),
		application.NewTool("submit", "Queues a fal application request and returns its request ID without waiting.",
			a.submit, application.WithTags("submit", "async_job", "queue")),
		application.NewTool("check_status", "Returns the queue status of a request.",
			a.checkStatus, application.ReadOnly(), application.WithTags("status", "async_job")),
		application.NewTool("get_result", "Fetches the output of a completed request.",
			a.getResult, application.ReadOnly(), application.WithTags("result", "async_job")),
		application.NewTool("cancel", "Cancels a queued request.",
			a.cancel, application.Destructive(), application.WithTags("cancel", "async_job")),
		application.NewTool("upload_file", "Uploads a local file to the fal CDN and returns a public URL usable as job input.",
			a.uploadFile, application.Important(), application.WithTags("upload", "file", "cdn")),
		application.NewTool("generate_image", "Generates images with fal-ai/flux/dev and returns their URLs.",
			a.generateImage, application.Important(), application.WithTags("image", "generate", "flux")),
	}
}

func (a *App) submit(ctx context.Context, in submitInput) (Handle, error) {
	app := orDefault(in.Application)
	path := app
	if in.Path != "" {
		path += "/" + strings.TrimLeft(in.Path, "/")
	}

	header := http.Header{}
	if in.Hint != "" {
		header.Set("X-Fal-Runner-Hint", in.Hint)
	}
	if in.Priority != "" {
		header.Set("X-Fal-Queue-Priority", in.Priority)
	}
	query := application.NewQuery().Set("fal_webhook", in.WebhookURL).Values()

	resp, err := a.Client().DoWithHeaders(ctx, http.MethodPost, path, query, in.Arguments, header)
	if err != nil {
		return Handle{}, err
	}
	var h Handle
	if err := resp.JSON(&h); err != nil {
		return Handle{}, err
	}
	if h.RequestID == "" {
		return Handle{}, fmt.Errorf("fal queue returned no request_id for %s", app)
	}
	a.logger.Printf("Submitted %s request %s", app, h.RequestID)
	return h, nil
}

func (a *App) checkStatus(ctx context.Context, in statusInput) (Status, error) {
	query := application.NewQuery()
	if in.WithLogs {
		query.Set("logs", "1")
	}
	resp, err := a.Client().Get(ctx, requestPath(in.Application, in.RequestID)+"/status", query.Values())
	if err != nil {
		return Status{}, err
	}
	var s Status
	err = resp.JSON(&s)
	return s, err
}

func (a *App) getResult(ctx context.Context, in requestInput) (interface{}, error) {
	resp, err := a.Client().Get(ctx, requestPath(in.Application, in.RequestID), nil)
	if err != nil {
		return nil, err
	}
	return resp.Decode()
}

func (a *App) cancel(ctx context.Context, in requestInput) (interface{}, error) {
	resp, err := a.Client().Put(ctx, requestPath(in.Application, in.RequestID)+"/cancel", nil, nil)
	if err != nil {
		return nil, err
	}
	return resp.Decode()
}

func (a *App) run(ctx context.Context, in runInput) (interface{}, error) {
	timeout := defaultRunTimeout
	if in.TimeoutSeconds > 0 {
		timeout = time.Duration(in.TimeoutSeconds * float64(time.Second))
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	h, err := a.submit(ctx, submitInput{Arguments: in.Arguments, Application: in.Application, Path: in.Path, Hint: in.Hint})
	if err != nil {
		return nil, err
	}

	err = application.Poll(ctx, a.pollInterval, func(ctx context.Context) (bool, error) {
		s, err := a.checkStatus(ctx, statusInput{RequestID: h.RequestID, Application: in.Application})
		if err != nil {
			return false, err
		}
		return s.Status == StatusCompleted, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fal request %s did not complete: %w", h.RequestID, err)
	}

	return a.getResult(ctx, requestInput{RequestID: h.RequestID, Application: in.Application})
}

func (a *App) uploadFile(ctx context.Context, in uploadInput) (Upload, error) {
	data, err := os.ReadFile(in.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Upload{}, application.Invalid("path", "file not found: "+in.Path)
		}
		return Upload{}, fmt.Errorf("failed to read %s: %w", in.Path, err)
	}

	name := filepath.Base(in.Path)
	contentType := in.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(name))
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	query := application.NewQuery().Set("storage_type", "fal-cdn-v3").Values()
	resp, err := a.Client().Post(ctx, strings.TrimRight(a.storageURL, "/")+"/storage/upload/initiate", map[string]string{
		"content_type": contentType,
		"file_name":    name,
	}, query)
	if err != nil {
		return Upload{}, err
	}
	var target struct {
		UploadURL string `json:"upload_url"`
		FileURL   string `json:"file_url"`
	}
	if err := resp.JSON(&target); err != nil {
		return Upload{}, err
	}
	if target.UploadURL == "" || target.FileURL == "" {
		return Upload{}, fmt.Errorf("fal storage returned no upload target for %s", name)
	}

	header := http.Header{}
	header.Set("Content-Type", contentType)
	if _, err := a.uploader.DoWithHeaders(ctx, http.MethodPut, target.UploadURL, nil, data, header); err != nil {
		return Upload{}, fmt.Errorf("failed to upload %s: %w", name, err)
	}
	a.logger.Printf("Uploaded %s (%d bytes) to %s", name, len(data), target.FileURL)
	return Upload{FileURL: target.FileURL, FileName: name, ContentType: contentType, Size: len(data)}, nil
}

func (a *App) generateImage(ctx context.Context, in imageInput) (interface{}, error) {
	seed := defaultImageSeed
	if in.Seed != nil {
		seed = *in.Seed
	}
	numImages := in.NumImages
	if numImages == 0 {
		numImages = 1
	}
	size := in.ImageSize
	if size == "" {
		size = defaultImageSize
	}

	args := map[string]interface{}{
		"prompt":     in.Prompt,
		"seed":       seed,
		"image_size": size,
		"num_images": numImages,
	}
	for k, v := range in.ExtraArguments {
		args[k] = v
	}
	return a.run(ctx, runInput{Arguments: args, Application: DefaultApplication, TimeoutSeconds: in.TimeoutSeconds})
}

// requestPath addresses a queued request. The queue keys requests by owner/alias,
// so any endpoint subpath of the application is dropped.
func requestPath(app, requestID string) string {
	parts := strings.SplitN(orDefault(app), "/", 3)
	root := strings.Join(parts[:min(2, len(parts))], "/")
	return root + "/requests/" + application.PathEscape(requestID)
}

func orDefault(app string) string {
	app = strings.Trim(app, "/")
	if app == "" {
		return DefaultApplication
	}
	return app
}
