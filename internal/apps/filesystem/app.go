// Package filesystem exposes local file operations. Writes without an explicit
// path land in a fresh file under the temp directory.
package filesystem

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ca-srg/toolbelt/internal/application"
)

const Name = "file_system"

// TempDir is where generated files are written.
var TempDir = "/tmp"

// App is the local file system application.
type App struct {
	application.Base
}

// Status is the plain acknowledgement returned by mutating tools.
type Status struct {
	Status string `json:"status"`
}

// FileInfo describes a written file.
type FileInfo struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Size     int    `json:"size"`
}

// WriteResult is returned by write_file.
type WriteResult struct {
	Status string   `json:"status"`
	Data   FileInfo `json:"data"`
}

// FileContent is returned by read_file. Content is set for UTF-8 data,
// ContentBase64 otherwise.
type FileContent struct {
	Path          string `json:"path"`
	Size          int    `json:"size"`
	Content       string `json:"content,omitempty"`
	ContentBase64 string `json:"content_base64,omitempty"`
}

// Entry is a single directory listing item.
type Entry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

type pathInput struct {
	FilePath string `json:"file_path" validate:"required" jsonschema:"path of the file"`
}

type writeInput struct {
	Content       *string `json:"content,omitempty" jsonschema:"text to write, may be empty"`
	ContentBase64 *string `json:"content_base64,omitempty" jsonschema:"base64 encoded bytes to write; takes precedence over content"`
	FilePath      string  `json:"file_path,omitempty" jsonschema:"destination path; a new file under the temp directory when empty"`
}

type transferInput struct {
	SourceFilePath string `json:"source_file_path" validate:"required" jsonschema:"existing file"`
	DestFilePath   string `json:"dest_file_path" validate:"required" jsonschema:"destination path"`
}

type listInput struct {
	Path string `json:"path" validate:"required" jsonschema:"directory to list"`
}

// New creates the application. integration is unused and may be nil.
func New(integration application.Integration) *App {
	return &App{Base: application.NewBase(Name, integration)}
}

// Tools lists the application's tools.
func (a *App) Tools() []application.Tool {
	return []application.Tool{
		application.NewTool("read_file", "Reads the whole content of a file. UTF-8 files come back as text, anything else as base64.",
			a.readFile, application.Important(), application.ReadOnly(), application.LocalOnly()),
		application.NewTool("write_file", "Writes data to a file. Without file_path a unique file under /tmp is created. Returns the path and size written.",
			a.writeFile, application.Important(), application.LocalOnly()),
		application.NewTool("remove_file", "Permanently removes a file.",
			a.removeFile, application.Destructive(), application.LocalOnly()),
		application.NewTool("move_file", "Moves or renames a file.",
			a.moveFile, application.LocalOnly()),
		application.NewTool("copy_file", "Copies a file, leaving the source untouched.",
			a.copyFile, application.LocalOnly()),
		application.NewTool("list_directory", "Lists the entries of a directory sorted by name.",
			a.listDirectory, application.ReadOnly(), application.LocalOnly()),
	}
}

func (a *App) readFile(_ context.Context, in pathInput) (FileContent, error) {
	data, err := os.ReadFile(in.FilePath)
	if err != nil {
		return FileContent{}, fmt.Errorf("failed to read %s: %w", in.FilePath, err)
	}
	out := FileContent{Path: in.FilePath, Size: len(data)}
	if utf8.Valid(data) {
		out.Content = string(data)
	} else {
		out.ContentBase64 = base64.StdEncoding.EncodeToString(data)
	}
	return out, nil
}

func (a *App) writeFile(_ context.Context, in writeInput) (WriteResult, error) {
	var data []byte
	switch {
	case in.ContentBase64 != nil:
		decoded, err := base64.StdEncoding.DecodeString(*in.ContentBase64)
		if err != nil {
			return WriteResult{}, application.Invalid("content_base64", "must be valid base64")
		}
		data = decoded
	case in.Content != nil:
		data = []byte(*in.Content)
	default:
		return WriteResult{}, application.MissingParams("content")
	}
	return WriteFile(data, in.FilePath)
}

// WriteFile writes data to path, or to a new file under TempDir when path is empty.
func WriteFile(data []byte, path string) (WriteResult, error) {
	if path == "" {
		path = filepath.Join(TempDir, uuid.NewString())
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return WriteResult{}, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return WriteResult{
		Status: "success",
		Data:   FileInfo{URL: path, Filename: path, Size: len(data)},
	}, nil
}

func (a *App) removeFile(_ context.Context, in pathInput) (Status, error) {
	if err := os.Remove(in.FilePath); err != nil {
		return Status{}, fmt.Errorf("failed to remove %s: %w", in.FilePath, err)
	}
	return Status{Status: "success"}, nil
}

func (a *App) moveFile(_ context.Context, in transferInput) (Status, error) {
	if err := os.Rename(in.SourceFilePath, in.DestFilePath); err != nil {
		return Status{}, fmt.Errorf("failed to move %s: %w", in.SourceFilePath, err)
	}
	return Status{Status: "success"}, nil
}

func (a *App) copyFile(_ context.Context, in transferInput) (Status, error) {
	src, err := os.Open(in.SourceFilePath)
	if err != nil {
		return Status{}, fmt.Errorf("failed to open %s: %w", in.SourceFilePath, err)
	}
	defer func() { _ = src.Close() }()

	info, err := src.Stat()
	if err != nil {
		return Status{}, err
	}

	dst, err := os.OpenFile(in.DestFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return Status{}, fmt.Errorf("failed to create %s: %w", in.DestFilePath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return Status{}, fmt.Errorf("failed to copy to %s: %w", in.DestFilePath, err)
	}
	if err := dst.Close(); err != nil {
		return Status{}, err
	}
	return Status{Status: "success"}, nil
}

func (a *App) listDirectory(_ context.Context, in listInput) ([]Entry, error) {
	entries, err := os.ReadDir(in.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", in.Path, err)
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		item := Entry{Name: e.Name(), Path: filepath.Join(in.Path, e.Name()), IsDir: e.IsDir()}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			item.Size = info.Size()
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
