package registry

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// ToolSeparator joins an application slug and a tool name.
const ToolSeparator = "__"

var slugReplacer = strings.NewReplacer("-", "_", " ", "_", ".", "_")

// NormalizeSlug maps user-supplied application names onto registry slugs:
// "Google-Sheet" and "google sheet" both become "google_sheet".
func NormalizeSlug(slug string) string {
	s := norm.NFKC.String(strings.TrimSpace(slug))
	s = cases.Lower(language.Und).String(s)
	return slugReplacer.Replace(s)
}

// QualifiedName returns the name a tool is exposed under.
func QualifiedName(app, tool string) string {
	return app + ToolSeparator + tool
}

// SplitQualifiedName splits "<app>__<tool>". ok is false when name has no separator.
func SplitQualifiedName(name string) (app, tool string, ok bool) {
	app, tool, ok = strings.Cut(name, ToolSeparator)
	if !ok || app == "" || tool == "" {
		return "", "", false
	}
	return app, tool, true
}
