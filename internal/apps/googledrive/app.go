// Package googledrive manages Google Drive files through the Drive v3 API.
package googledrive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"github.com/ca-srg/toolbelt/internal/application"
	"github.com/ca-srg/toolbelt/internal/apps/googleauth"
)

const (
	Name = "google_drive"

	FolderMimeType  = "application/vnd.google-apps.folder"
	fileFields      = "id, name, mimeType, size, createdTime, modifiedTime, parents, webViewLink, trashed"
	maxDownloadSize = 10 << 20
)

// exportFormats maps Google Workspace types to the text format they are downloaded as.
var exportFormats = map[string]string{
	"application/vnd.google-apps.document":     "text/plain",
	"application/vnd.google-apps.spreadsheet":  "text/csv",
	"application/vnd.google-apps.presentation": "text/plain",
	"application/vnd.google-apps.script":       "application/vnd.google-apps.script+json",
}

// App is the Google Drive application.
type App struct {
	application.Base

	endpoint string
}

// Option configures the application.
type Option func(*App)

// WithEndpoint overrides the Drive API base URL.
func WithEndpoint(endpoint string) Option {
	return func(a *App) {
		a.endpoint = endpoint
	}
}

// New creates the application.
func New(integration application.Integration, opts ...Option) *App {
	a := &App{Base: application.NewBase(Name, integration)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Tools lists the application's tools.
func (a *App) Tools() []application.Tool {
	return []application.Tool{
		application.NewTool("list_files", "Lists files matching a Drive query, optionally inside one folder.",
			a.listFiles, application.Important(), application.ReadOnly(), application.WithTags("file", "search")),
		application.NewTool("get_file", "Returns a file's metadata.",
			a.getFile, application.ReadOnly(), application.WithTags("file")),
		application.NewTool("create_folder", "Creates a folder, under a parent when given.",
			a.createFolder, application.Important(), application.WithTags("folder")),
		application.NewTool("create_text_file", "Uploads text content as a new file.",
			a.createTextFile, application.Important(), application.WithTags("file")),
		application.NewTool("download_text_file", "Downloads a file as text; Google Docs and Sheets are exported first.",
			a.downloadTextFile, application.Important(), application.ReadOnly(), application.WithTags("file")),
		application.NewTool("move_file", "Moves a file into another folder.",
			a.moveFile, application.WithTags("file", "folder")),
		application.NewTool("copy_file", "Copies a file, optionally renaming it.",
			a.copyFile, application.WithTags("file")),
		application.NewTool("trash_file", "Moves a file to the trash.",
			a.trashFile, application.WithTags("file")),
		application.NewTool("delete_file", "Permanently deletes a file, bypassing the trash.",
			a.deleteFile, application.Destructive(), application.WithTags("file")),
		application.NewTool("share_file", "Grants a user, group, domain or anyone a role on a file.",
			a.shareFile, application.WithTags("permission")),
		application.NewTool("list_permissions", "Lists who has access to a file.",
			a.listPermissions, application.ReadOnly(), application.WithTags("permission")),
		application.NewTool("get_drive_info", "Returns the signed-in user and storage quota.",
			a.getDriveInfo, application.ReadOnly(), application.WithTags("account")),
	}
}

func (a *App) driveService(ctx context.Context) (*drive.Service, error) {
	opts, err := googleauth.ClientOptions(ctx, &a.Base, a.endpoint, drive.DriveScope)
	if err != nil {
		return nil, err
	}
	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}
	return service, nil
}

// File is file metadata.
type File struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	MimeType     string   `json:"mime_type"`
	Size         int64    `json:"size,omitempty"`
	CreatedTime  string   `json:"created_time,omitempty"`
	ModifiedTime string   `json:"modified_time,omitempty"`
	Parents      []string `json:"parents,omitempty"`
	WebViewLink  string   `json:"web_view_link,omitempty"`
	Trashed      bool     `json:"trashed,omitempty"`
}

// FileList is a page of files.
type FileList struct {
	Files         []File `json:"files"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

// TextContent is a downloaded file.
type TextContent struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Content  string `json:"content"`
}

// Permission is an access grant.
type Permission struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Role         string `json:"role"`
	EmailAddress string `json:"email_address,omitempty"`
	Domain       string `json:"domain,omitempty"`
}

type listFilesInput struct {
	Query     string `json:"query,omitempty" jsonschema:"Drive search query, e.g. name contains 'report'"`
	FolderID  string `json:"folder_id,omitempty" jsonschema:"only list children of this folder"`
	MimeType  string `json:"mime_type,omitempty" jsonschema:"only list files of this MIME type"`
	PageSize  int64  `json:"page_size,omitempty" validate:"omitempty,gte=1,lte=1000" jsonschema:"results per page, 100 by default"`
	PageToken string `json:"page_token,omitempty" jsonschema:"token from a previous page"`
	OrderBy   string `json:"order_by,omitempty" jsonschema:"sort keys, e.g. modifiedTime desc"`
	Trashed   bool   `json:"include_trashed,omitempty" jsonschema:"include trashed files"`
}

type fileInput struct {
	FileID string `json:"file_id" validate:"required" jsonschema:"file id"`
}

type createFolderInput struct {
	Name     string `json:"folder_name" validate:"required" jsonschema:"folder name"`
	ParentID string `json:"parent_id,omitempty" jsonschema:"parent folder id, My Drive root by default"`
}

type createTextInput struct {
	Name     string `json:"file_name" validate:"required" jsonschema:"file name"`
	Content  string `json:"text_content" jsonschema:"file content"`
	ParentID string `json:"parent_id,omitempty" jsonschema:"parent folder id"`
	MimeType string `json:"mime_type,omitempty" jsonschema:"MIME type, text/plain by default"`
}

type moveInput struct {
	FileID   string `json:"file_id" validate:"required" jsonschema:"file id"`
	FolderID string `json:"folder_id" validate:"required" jsonschema:"destination folder id"`
}

type copyInput struct {
	FileID   string `json:"file_id" validate:"required" jsonschema:"file id"`
	Name     string `json:"name,omitempty" jsonschema:"name of the copy"`
	ParentID string `json:"parent_id,omitempty" jsonschema:"folder of the copy"`
}

type shareInput struct {
	FileID       string `json:"file_id" validate:"required" jsonschema:"file id"`
	Role         string `json:"role" validate:"required,oneof=reader commenter writer fileOrganizer organizer owner" jsonschema:"reader, commenter, writer, fileOrganizer, organizer or owner"`
	Type         string `json:"type" validate:"required,oneof=user group domain anyone" jsonschema:"user, group, domain or anyone"`
	EmailAddress string `json:"email_address,omitempty" validate:"omitempty,email" jsonschema:"grantee email for user and group"`
	Domain       string `json:"domain,omitempty" jsonschema:"grantee domain for domain"`
	Notify       bool   `json:"send_notification_email,omitempty" jsonschema:"email the grantee"`
}

type emptyInput struct{}

func (a *App) listFiles(ctx context.Context, in listFilesInput) (FileList, error) {
	svc, err := a.driveService(ctx)
	if err != nil {
		return FileList{}, err
	}

	call := svc.Files.List().Q(buildQuery(in)).Fields(googleapi.Field("nextPageToken, files(" + fileFields + ")")).Context(ctx)
	pageSize := in.PageSize
	if pageSize == 0 {
		pageSize = 100
	}
	call = call.PageSize(pageSize)
	if in.PageToken != "" {
		call = call.PageToken(in.PageToken)
	}
	if in.OrderBy != "" {
		call = call.OrderBy(in.OrderBy)
	}

	resp, err := call.Do()
	if err != nil {
		return FileList{}, googleauth.ClassifyError(Name, "files.list", err)
	}
	out := FileList{Files: make([]File, 0, len(resp.Files)), NextPageToken: resp.NextPageToken}
	for _, f := range resp.Files {
		out.Files = append(out.Files, toFile(f))
	}
	return out, nil
}

// buildQuery combines the filters into one Drive query expression.
func buildQuery(in listFilesInput) string {
	var clauses []string
	if in.Query != "" {
		clauses = append(clauses, "("+in.Query+")")
	}
	if in.FolderID != "" {
		clauses = append(clauses, fmt.Sprintf("'%s' in parents", escapeQuery(in.FolderID)))
	}
	if in.MimeType != "" {
		clauses = append(clauses, fmt.Sprintf("mimeType = '%s'", escapeQuery(in.MimeType)))
	}
	if !in.Trashed {
		clauses = append(clauses, "trashed = false")
	}
	return strings.Join(clauses, " and ")
}

func escapeQuery(v string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v)
}

func (a *App) getFile(ctx context.Context, in fileInput) (File, error) {
	svc, err := a.driveService(ctx)
	if err != nil {
		return File{}, err
	}
	f, err := svc.Files.Get(in.FileID).Fields(fileFields).SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return File{}, googleauth.ClassifyError(Name, "files.get", err)
	}
	return toFile(f), nil
}

func (a *App) createFolder(ctx context.Context, in createFolderInput) (File, error) {
	svc, err := a.driveService(ctx)
	if err != nil {
		return File{}, err
	}
	meta := &drive.File{Name: in.Name, MimeType: FolderMimeType}
	if in.ParentID != "" {
		meta.Parents = []string{in.ParentID}
	}
	f, err := svc.Files.Create(meta).Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return File{}, googleauth.ClassifyError(Name, "files.create", err)
	}
	return toFile(f), nil
}

func (a *App) createTextFile(ctx context.Context, in createTextInput) (File, error) {
	svc, err := a.driveService(ctx)
	if err != nil {
		return File{}, err
	}
	mimeType := in.MimeType
	if mimeType == "" {
		mimeType = "text/plain"
	}
	meta := &drive.File{Name: in.Name, MimeType: mimeType}
	if in.ParentID != "" {
		meta.Parents = []string{in.ParentID}
	}
	f, err := svc.Files.Create(meta).
		Media(strings.NewReader(in.Content), googleapi.ContentType(mimeType)).
		Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return File{}, googleauth.ClassifyError(Name, "files.create", err)
	}
	return toFile(f), nil
}

func (a *App) downloadTextFile(ctx context.Context, in fileInput) (TextContent, error) {
	svc, err := a.driveService(ctx)
	if err != nil {
		return TextContent{}, err
	}
	meta, err := svc.Files.Get(in.FileID).Fields("id, name, mimeType").Context(ctx).Do()
	if err != nil {
		return TextContent{}, googleauth.ClassifyError(Name, "files.get", err)
	}

	var body io.ReadCloser
	if exportAs, ok := exportFormats[meta.MimeType]; ok {
		resp, err := svc.Files.Export(in.FileID, exportAs).Context(ctx).Download()
		if err != nil {
			return TextContent{}, googleauth.ClassifyError(Name, "files.export", err)
		}
		body = resp.Body
	} else if strings.HasPrefix(meta.MimeType, "application/vnd.google-apps.") {
		return TextContent{}, application.Invalid("file_id", fmt.Sprintf("%s cannot be downloaded as text", meta.MimeType))
	} else {
		resp, err := svc.Files.Get(in.FileID).Context(ctx).Download()
		if err != nil {
			return TextContent{}, googleauth.ClassifyError(Name, "files.get", err)
		}
		body = resp.Body
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(io.LimitReader(body, maxDownloadSize))
	if err != nil {
		return TextContent{}, fmt.Errorf("failed to read %s: %w", in.FileID, err)
	}
	if !utf8.Valid(data) {
		return TextContent{}, application.Invalid("file_id", fmt.Sprintf("%s (%s) is not a text file", meta.Name, meta.MimeType))
	}
	return TextContent{ID: meta.Id, Name: meta.Name, MimeType: meta.MimeType, Content: string(data)}, nil
}

func (a *App) moveFile(ctx context.Context, in moveInput) (File, error) {
	svc, err := a.driveService(ctx)
	if err != nil {
		return File{}, err
	}
	current, err := svc.Files.Get(in.FileID).Fields("parents").Context(ctx).Do()
	if err != nil {
		return File{}, googleauth.ClassifyError(Name, "files.get", err)
	}
	f, err := svc.Files.Update(in.FileID, &drive.File{}).
		AddParents(in.FolderID).
		RemoveParents(strings.Join(current.Parents, ",")).
		Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return File{}, googleauth.ClassifyError(Name, "files.update", err)
	}
	return toFile(f), nil
}

func (a *App) copyFile(ctx context.Context, in copyInput) (File, error) {
	svc, err := a.driveService(ctx)
	if err != nil {
		return File{}, err
	}
	meta := &drive.File{Name: in.Name}
	if in.ParentID != "" {
		meta.Parents = []string{in.ParentID}
	}
	f, err := svc.Files.Copy(in.FileID, meta).Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return File{}, googleauth.ClassifyError(Name, "files.copy", err)
	}
	return toFile(f), nil
}

func (a *App) trashFile(ctx context.Context, in fileInput) (File, error) {
	svc, err := a.driveService(ctx)
	if err != nil {
		return File{}, err
	}
	f, err := svc.Files.Update(in.FileID, &drive.File{Trashed: true}).Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return File{}, googleauth.ClassifyError(Name, "files.update", err)
	}
	return toFile(f), nil
}

func (a *App) deleteFile(ctx context.Context, in fileInput) (map[string]interface{}, error) {
	svc, err := a.driveService(ctx)
	if err != nil {
		return nil, err
	}
	if err := svc.Files.Delete(in.FileID).Context(ctx).Do(); err != nil {
		return nil, googleauth.ClassifyError(Name, "files.delete", err)
	}
	return map[string]interface{}{"deleted": true, "file_id": in.FileID}, nil
}

func (a *App) shareFile(ctx context.Context, in shareInput) (Permission, error) {
	switch {
	case (in.Type == "user" || in.Type == "group") && in.EmailAddress == "":
		return Permission{}, application.MissingParams("email_address")
	case in.Type == "domain" && in.Domain == "":
		return Permission{}, application.MissingParams("domain")
	}
	svc, err := a.driveService(ctx)
	if err != nil {
		return Permission{}, err
	}
	perm := &drive.Permission{Role: in.Role, Type: in.Type, EmailAddress: in.EmailAddress, Domain: in.Domain}
	call := svc.Permissions.Create(in.FileID, perm).Context(ctx)
	if in.Type == "user" || in.Type == "group" {
		call = call.SendNotificationEmail(in.Notify)
	}
	if in.Role == "owner" {
		call = call.TransferOwnership(true)
	}
	p, err := call.Do()
	if err != nil {
		return Permission{}, googleauth.ClassifyError(Name, "permissions.create", err)
	}
	return toPermission(p), nil
}

func (a *App) listPermissions(ctx context.Context, in fileInput) ([]Permission, error) {
	svc, err := a.driveService(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Permissions.List(in.FileID).Fields("permissions(id, type, role, emailAddress, domain)").Context(ctx).Do()
	if err != nil {
		return nil, googleauth.ClassifyError(Name, "permissions.list", err)
	}
	out := make([]Permission, 0, len(resp.Permissions))
	for _, p := range resp.Permissions {
		out = append(out, toPermission(p))
	}
	return out, nil
}

func (a *App) getDriveInfo(ctx context.Context, _ emptyInput) (map[string]interface{}, error) {
	svc, err := a.driveService(ctx)
	if err != nil {
		return nil, err
	}
	about, err := svc.About.Get().Fields("user, storageQuota").Context(ctx).Do()
	if err != nil {
		return nil, googleauth.ClassifyError(Name, "about.get", err)
	}
	info := map[string]interface{}{}
	if about.User != nil {
		info["user"] = map[string]string{"display_name": about.User.DisplayName, "email_address": about.User.EmailAddress}
	}
	if q := about.StorageQuota; q != nil {
		info["storage_quota"] = map[string]int64{"limit": q.Limit, "usage": q.Usage, "usage_in_drive": q.UsageInDrive, "usage_in_trash": q.UsageInDriveTrash}
	}
	return info, nil
}

func toFile(f *drive.File) File {
	return File{
		ID:           f.Id,
		Name:         f.Name,
		MimeType:     f.MimeType,
		Size:         f.Size,
		CreatedTime:  f.CreatedTime,
		ModifiedTime: f.ModifiedTime,
		Parents:      f.Parents,
		WebViewLink:  f.WebViewLink,
		Trashed:      f.Trashed,
	}
}

func toPermission(p *drive.Permission) Permission {
	return Permission{ID: p.Id, Type: p.Type, Role: p.Role, EmailAddress: p.EmailAddress, Domain: p.Domain}
}
