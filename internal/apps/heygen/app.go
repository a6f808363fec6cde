// Package heygen wraps the HeyGen avatar video API. Video generation is asynchronous:
// create_avatar_video submits a job, get_video_status checks it once and
// wait_for_video polls until it finishes.
package heygen

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/ca-srg/toolbelt/internal/application"
)

const (
	Name           = "heygen"
	defaultBaseURL = "https://api.heygen.com"

	defaultPollInterval = 10 * time.Second
	defaultWaitTimeout  = 10 * time.Minute
)

// Video job states reported by HeyGen.
const (
	StatusPending    = "pending"
	StatusWaiting    = "waiting"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// App is the HeyGen application.
type App struct {
	application.Base
	pollInterval time.Duration
}

// VideoStatus is the state of a generation job.
type VideoStatus struct {
	ID           string      `json:"id"`
	Status       string      `json:"status"`
	VideoURL     string      `json:"video_url,omitempty"`
	ThumbnailURL string      `json:"thumbnail_url,omitempty"`
	Duration     float64     `json:"duration,omitempty"`
	Error        interface{} `json:"error,omitempty"`
}

// Done reports whether the job reached a terminal state.
func (s VideoStatus) Done() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

type envelope struct {
	Code  int                    `json:"code"`
	Error interface{}            `json:"error"`
	Data  map[string]interface{} `json:"data"`
}

type emptyInput struct{}

type videoInput struct {
	AvatarID        string  `json:"avatar_id,omitempty" validate:"required_without=TalkingPhotoID" jsonschema:"avatar to animate; avatar_id or talking_photo_id is required"`
	TalkingPhotoID  string  `json:"talking_photo_id,omitempty" jsonschema:"talking photo to animate"`
	AvatarStyle     string  `json:"avatar_style,omitempty" validate:"omitempty,oneof=normal circle closeUp" jsonschema:"avatar framing, normal by default"`
	TalkingStyle    string  `json:"talking_style,omitempty" validate:"omitempty,oneof=stable expressive" jsonschema:"talking photo motion, stable by default"`
	VoiceType       string  `json:"voice_type,omitempty" validate:"omitempty,oneof=text audio silence" jsonschema:"text, audio or silence; text by default"`
	InputText       string  `json:"input_text,omitempty" jsonschema:"script for text voices"`
	VoiceID         string  `json:"voice_id,omitempty" jsonschema:"voice for text voices"`
	VoiceSpeed      float64 `json:"voice_speed,omitempty" validate:"omitempty,gte=0.5,lte=1.5" jsonschema:"speech rate"`
	AudioURL        string  `json:"audio_url,omitempty" validate:"omitempty,url" jsonschema:"audio for audio voices"`
	SilenceDuration float64 `json:"silence_duration,omitempty" jsonschema:"seconds of silence for silence voices"`
	BackgroundType  string  `json:"background_type,omitempty" validate:"omitempty,oneof=color image video" jsonschema:"color, image or video"`
	BackgroundValue string  `json:"background_value,omitempty" jsonschema:"hex color for color backgrounds"`
	BackgroundURL   string  `json:"background_url,omitempty" validate:"omitempty,url" jsonschema:"image or video URL for media backgrounds"`
	Width           int     `json:"width,omitempty" validate:"omitempty,gte=128,lte=4096" jsonschema:"video width, 1280 by default"`
	Height          int     `json:"height,omitempty" validate:"omitempty,gte=128,lte=4096" jsonschema:"video height, 720 by default"`
	Title           string  `json:"title,omitempty" jsonschema:"video title"`
	Caption         bool    `json:"caption,omitempty" jsonschema:"burn in captions"`
	FolderID        string  `json:"folder_id,omitempty" jsonschema:"folder to store the video in"`
	CallbackURL     string  `json:"callback_url,omitempty" validate:"omitempty,url" jsonschema:"webhook called on completion"`
}

type videoIDInput struct {
	VideoID string `json:"video_id" validate:"required" jsonschema:"video ID returned by create_avatar_video"`
}

type waitInput struct {
	VideoID         string `json:"video_id" validate:"required" jsonschema:"video ID returned by create_avatar_video"`
	TimeoutSeconds  int    `json:"timeout_seconds,omitempty" validate:"omitempty,gte=1" jsonschema:"give up after this many seconds, 600 by default"`
	IntervalSeconds int    `json:"interval_seconds,omitempty" validate:"omitempty,gte=1" jsonschema:"seconds between checks, 10 by default"`
}

type listFoldersInput struct {
	Limit      *int   `json:"limit,omitempty" validate:"omitempty,gte=0,lte=100" jsonschema:"page size"`
	ParentID   string `json:"parent_id,omitempty" jsonschema:"list children of this folder"`
	NameFilter string `json:"name_filter,omitempty" jsonschema:"name substring"`
	IsTrash    bool   `json:"is_trash,omitempty" jsonschema:"list trashed folders"`
	Token      string `json:"token,omitempty" jsonschema:"pagination token"`
}

type avatarGroupsInput struct {
	IncludePublic bool `json:"include_public,omitempty" jsonschema:"include public avatar groups"`
}

type groupIDInput struct {
	GroupID string `json:"group_id" validate:"required" jsonschema:"avatar group ID"`
}

type avatarIDInput struct {
	AvatarID string `json:"avatar_id" validate:"required" jsonschema:"avatar ID"`
}

type folderIDInput struct {
	FolderID string `json:"folder_id" validate:"required" jsonschema:"folder ID"`
}

type updateFolderInput struct {
	FolderID string `json:"folder_id" validate:"required" jsonschema:"folder ID"`
	Name     string `json:"name" validate:"required" jsonschema:"new folder name"`
}

type createFolderInput struct {
	Name        string `json:"name" validate:"required" jsonschema:"folder name"`
	ProjectType string `json:"project_type,omitempty" jsonschema:"project type, video_translate by default"`
	ParentID    string `json:"parent_id,omitempty" jsonschema:"parent folder"`
}

// New creates the application.
func New(integration application.Integration, opts ...application.ClientOption) *App {
	a := &App{Base: application.NewBase(Name, integration), pollInterval: defaultPollInterval}
	a.InitClient(defaultBaseURL, append([]application.ClientOption{application.WithAuth(a.HeaderAuth("x-api-key"))}, opts...)...)
	return a
}

// Tools lists the application's tools.
func (a *App) Tools() []application.Tool {
	return []application.Tool{
		application.NewTool("list_avatars", "Lists the avatars and talking photos available to the account.",
			func(ctx context.Context, _ emptyInput) (interface{}, error) { return a.data(ctx, "v2/avatars", nil) },
			application.ReadOnly(), application.WithTags("avatar")),
		application.NewTool("list_avatar_groups", "Lists avatar groups, optionally including public ones.",
			a.listAvatarGroups, application.ReadOnly(), application.WithTags("avatar")),
		application.NewTool("list_avatars_in_group", "Lists the avatars of an avatar group.",
			func(ctx context.Context, in groupIDInput) (interface{}, error) {
				return a.get(ctx, "v2/avatar_group/"+application.PathEscape(in.GroupID)+"/avatars", nil)
			}, application.ReadOnly(), application.WithTags("avatar")),
		application.NewTool("get_avatar_details", "Returns the details of one avatar.",
			func(ctx context.Context, in avatarIDInput) (interface{}, error) {
				return a.get(ctx, "v2/avatar/"+application.PathEscape(in.AvatarID)+"/details", nil)
			}, application.ReadOnly(), application.WithTags("avatar")),
		application.NewTool("list_voices", "Lists the voices available for text-to-speech.",
			func(ctx context.Context, _ emptyInput) (interface{}, error) { return a.data(ctx, "v2/voices", nil) },
			application.ReadOnly(), application.WithTags("voice")),
		application.NewTool("create_avatar_video", "Submits an avatar video generation job and returns its video_id.",
			a.createAvatarVideo, application.Important(), application.WithTags("video", "avatar")),
		application.NewTool("get_video_status", "Checks a video job once and returns its status and, when completed, its URL.",
			func(ctx context.Context, in videoIDInput) (VideoStatus, error) { return a.status(ctx, in.VideoID) },
			application.ReadOnly(), application.WithTags("video", "status")),
		application.NewTool("wait_for_video", "Polls a video job until it completes or fails.",
			a.waitForVideo, application.ReadOnly(), application.WithTags("video", "status")),
		application.NewTool("list_folders", "Lists folders, optionally under a parent or in the trash.",
			a.listFolders, application.ReadOnly(), application.WithTags("folder")),
		application.NewTool("create_folder", "Creates a folder.",
			a.createFolder, application.WithTags("folder")),
		application.NewTool("update_folder", "Renames a folder.",
			func(ctx context.Context, in updateFolderInput) (interface{}, error) {
				return a.post(ctx, "v1/folders/"+application.PathEscape(in.FolderID), map[string]string{"name": in.Name})
			}, application.Idempotent(), application.WithTags("folder")),
		application.NewTool("trash_folder", "Moves a folder to the trash.",
			func(ctx context.Context, in folderIDInput) (interface{}, error) {
				return a.post(ctx, "v1/folders/"+application.PathEscape(in.FolderID)+"/trash", nil)
			}, application.Destructive(), application.WithTags("folder")),
		application.NewTool("restore_folder", "Restores a trashed folder.",
			func(ctx context.Context, in folderIDInput) (interface{}, error) {
				return a.post(ctx, "v1/folders/"+application.PathEscape(in.FolderID)+"/restore", nil)
			}, application.WithTags("folder")),
	}
}

func (a *App) createAvatarVideo(ctx context.Context, in videoInput) (map[string]interface{}, error) {
	character := map[string]interface{}{}
	if in.AvatarID != "" {
		character["type"] = "avatar"
		character["avatar_id"] = in.AvatarID
		character["avatar_style"] = orDefault(in.AvatarStyle, "normal")
	} else {
		character["type"] = "talking_photo"
		character["talking_photo_id"] = in.TalkingPhotoID
		character["talking_style"] = orDefault(in.TalkingStyle, "stable")
	}

	voiceType := orDefault(in.VoiceType, "text")
	voice := map[string]interface{}{"type": voiceType}
	switch voiceType {
	case "text":
		if in.InputText == "" {
			return nil, application.MissingParams("input_text")
		}
		voice["input_text"] = in.InputText
		if in.VoiceID != "" {
			voice["voice_id"] = in.VoiceID
		}
		if in.VoiceSpeed != 0 && in.VoiceSpeed != 1 {
			voice["speed"] = in.VoiceSpeed
		}
	case "audio":
		if in.AudioURL == "" {
			return nil, application.MissingParams("audio_url")
		}
		voice["audio_url"] = in.AudioURL
	case "silence":
		duration := in.SilenceDuration
		if duration == 0 {
			duration = 1
		}
		voice["duration"] = strconv.FormatFloat(duration, 'f', -1, 64)
	}

	backgroundType := orDefault(in.BackgroundType, "color")
	background := map[string]interface{}{"type": backgroundType}
	if backgroundType == "color" {
		background["value"] = orDefault(in.BackgroundValue, "#FFFFFF")
	} else {
		if in.BackgroundURL == "" {
			return nil, application.MissingParams("background_url")
		}
		background["url"] = in.BackgroundURL
		background["play_style"] = "loop"
		background["fit"] = "cover"
	}

	width, height := in.Width, in.Height
	if width == 0 {
		width = 1280
	}
	if height == 0 {
		height = 720
	}

	payload := application.Compact(map[string]interface{}{
		"title":        in.Title,
		"folder_id":    in.FolderID,
		"callback_url": in.CallbackURL,
	})
	payload["caption"] = in.Caption
	payload["video_inputs"] = []map[string]interface{}{{
		"character":  character,
		"voice":      voice,
		"background": background,
		"dimension":  map[string]int{"width": width, "height": height},
	}}

	return a.data(ctx, "v2/video/generate", payload)
}

func (a *App) status(ctx context.Context, videoID string) (VideoStatus, error) {
	query := application.NewQuery().Set("video_id", videoID).Values()
	resp, err := a.Client().Get(ctx, "v1/video_status.get", query)
	if err != nil {
		return VideoStatus{}, err
	}
	var out struct {
		Data VideoStatus `json:"data"`
	}
	if err := resp.JSON(&out); err != nil {
		return VideoStatus{}, err
	}
	if out.Data.ID == "" {
		out.Data.ID = videoID
	}
	return out.Data, nil
}

func (a *App) waitForVideo(ctx context.Context, in waitInput) (VideoStatus, error) {
	timeout := defaultWaitTimeout
	if in.TimeoutSeconds > 0 {
		timeout = time.Duration(in.TimeoutSeconds) * time.Second
	}
	interval := a.pollInterval
	if in.IntervalSeconds > 0 {
		interval = time.Duration(in.IntervalSeconds) * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last VideoStatus
	err := application.Poll(ctx, interval, func(ctx context.Context) (bool, error) {
		s, err := a.status(ctx, in.VideoID)
		if err != nil {
			return false, err
		}
		last = s
		return s.Done(), nil
	})
	if err != nil {
		return last, fmt.Errorf("video %s not finished (last status %q): %w", in.VideoID, last.Status, err)
	}
	if last.Status == StatusFailed {
		return last, fmt.Errorf("video %s failed: %v", in.VideoID, last.Error)
	}
	return last, nil
}

func (a *App) listFolders(ctx context.Context, in listFoldersInput) (interface{}, error) {
	q := application.NewQuery().
		Set("limit", in.Limit).
		Set("parent_id", in.ParentID).
		Set("name_filter", in.NameFilter).
		Set("token", in.Token)
	if in.IsTrash {
		q.Set("is_trash", "true")
	}
	return a.get(ctx, "v1/folders", q.Values())
}

func (a *App) createFolder(ctx context.Context, in createFolderInput) (interface{}, error) {
	body := application.Compact(map[string]interface{}{
		"name":         in.Name,
		"project_type": orDefault(in.ProjectType, "video_translate"),
		"parent_id":    in.ParentID,
	})
	return a.post(ctx, "v1/folders/create", body)
}

func (a *App) listAvatarGroups(ctx context.Context, in avatarGroupsInput) (interface{}, error) {
	query := application.NewQuery().Set("include_public", strconv.FormatBool(in.IncludePublic)).Values()
	return a.get(ctx, "v2/avatar_group.list", query)
}

func (a *App) get(ctx context.Context, path string, query url.Values) (interface{}, error) {
	resp, err := a.Client().Get(ctx, path, query)
	if err != nil {
		return nil, err
	}
	return resp.Decode()
}

func (a *App) post(ctx context.Context, path string, body interface{}) (interface{}, error) {
	resp, err := a.Client().Post(ctx, path, body, nil)
	if err != nil {
		return nil, err
	}
	return resp.Decode()
}

// data posts body (or GETs when body is nil) and unwraps HeyGen's {"error","data"} envelope.
func (a *App) data(ctx context.Context, path string, body interface{}) (map[string]interface{}, error) {
	var resp *application.Response
	var err error
	if body == nil {
		resp, err = a.Client().Get(ctx, path, nil)
	} else {
		resp, err = a.Client().Post(ctx, path, body, nil)
	}
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := resp.JSON(&env); err != nil {
		return nil, err
	}
	if env.Error != nil {
		return nil, fmt.Errorf("heygen error: %v", env.Error)
	}
	if env.Data == nil {
		return map[string]interface{}{}, nil
	}
	return env.Data, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
