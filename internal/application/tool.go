package application

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Handler runs a tool against raw JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (interface{}, error)

// Annotations are behavioural hints surfaced to MCP clients.
type Annotations struct {
	Title       string
	ReadOnly    bool
	Destructive bool
	Idempotent  bool
	OpenWorld   bool
}

// Tool is one callable operation of an application.
type Tool struct {
	Name        string
	Description string
	Tags        []string
	Annotations Annotations
	InputSchema *jsonschema.Schema
	Handler     Handler
}

// HasTag reports whether the tool carries tag.
func (t Tool) HasTag(tag string) bool {
	for _, candidate := range t.Tags {
		if candidate == tag {
			return true
		}
	}
	return false
}

// ToolOption customizes a Tool built by NewTool.
type ToolOption func(*Tool)

// WithTags attaches tags to the tool.
func WithTags(tags ...string) ToolOption {
	return func(t *Tool) {
		t.Tags = append(t.Tags, tags...)
	}
}

// Important tags the tool as one an agent should see first.
func Important() ToolOption {
	return WithTags(TagImportant)
}

// ReadOnly marks tools that never modify vendor state.
func ReadOnly() ToolOption {
	return func(t *Tool) {
		t.Annotations.ReadOnly = true
		t.Annotations.Idempotent = true
	}
}

// Destructive marks tools that delete or overwrite data.
func Destructive() ToolOption {
	return func(t *Tool) {
		t.Annotations.Destructive = true
	}
}

// Idempotent marks tools that are safe to repeat.
func Idempotent() ToolOption {
	return func(t *Tool) {
		t.Annotations.Idempotent = true
	}
}

// LocalOnly marks tools that do not reach outside the host.
func LocalOnly() ToolOption {
	return func(t *Tool) {
		t.Annotations.OpenWorld = false
	}
}

// Title sets a display title.
func Title(title string) ToolOption {
	return func(t *Tool) {
		t.Annotations.Title = title
	}
}

// NewTool builds a Tool from a typed handler. The input schema is derived from In;
// arguments are decoded into In and validated before fn runs. It panics if In cannot
// be described as a JSON schema object, which is a programming error.
func NewTool[In any, Out any](name, description string, fn func(context.Context, In) (Out, error), opts ...ToolOption) Tool {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		panic(fmt.Sprintf("tool %s: cannot derive input schema: %v", name, err))
	}
	if schema.Type == "" {
		schema.Type = "object"
	}

	tool := Tool{
		Name:        name,
		Description: description,
		Annotations: Annotations{OpenWorld: true},
		InputSchema: schema,
		Handler: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var in In
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			if err := ValidateStruct(in); err != nil {
				return nil, err
			}
			return fn(ctx, in)
		},
	}

	for _, opt := range opts {
		opt(&tool)
	}
	return tool
}

// DecodeArgs unmarshals tool arguments, treating empty input as an empty object.
func DecodeArgs(args json.RawMessage, v interface{}) error {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return &ValidationError{Message: fmt.Sprintf("invalid arguments: %v", err)}
	}
	return nil
}

// FilterTools keeps tools whose name is listed in names or that carry any of tags.
// With both lists empty every tool is kept.
func FilterTools(tools []Tool, names []string, tags []string) []Tool {
	if len(names) == 0 && len(tags) == 0 {
		return tools
	}

	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}

	filtered := make([]Tool, 0, len(tools))
	for _, t := range tools {
		if _, ok := wanted[t.Name]; ok {
			filtered = append(filtered, t)
			continue
		}
		for _, tag := range tags {
			if t.HasTag(tag) {
				filtered = append(filtered, t)
				break
			}
		}
	}
	return filtered
}
