// Package render writes generated articles to disk as markdown, HTML or
// EPUB.
package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"distill/internal/model"
)

// Supported output formats.
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatEPUB     = "epub"
)

// ValidFormat reports whether f names a supported output format.
func ValidFormat(f string) bool {
	switch f {
	case FormatMarkdown, FormatHTML, FormatEPUB:
		return true
	}
	return false
}

// Write renders the article under dir in the given format and returns
// the written file's path. The filename derives from the article title.
func Write(art *model.Article, src model.Source, dir, format string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	name := safeTitle(art)
	switch format {
	case FormatEPUB:
		path := filepath.Join(dir, name+".epub")
		if err := EPUB(art, src, path); err != nil {
			return "", err
		}
		return path, nil
	case FormatHTML:
		content, err := HTML(art, src)
		if err != nil {
			return "", err
		}
		path := filepath.Join(dir, name+".html")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("write html: %w", err)
		}
		return path, nil
	case FormatMarkdown:
		path := filepath.Join(dir, name+".md")
		if err := os.WriteFile(path, []byte(Markdown(art, src)), 0o644); err != nil {
			return "", fmt.Errorf("write markdown: %w", err)
		}
		return path, nil
	default:
		return "", fmt.Errorf("unsupported format %q", format)
	}
}

// safeTitle turns the article title into a filesystem-safe name, falling
// back to a content id prefix when nothing survives.
func safeTitle(art *model.Article) string {
	var b strings.Builder
	for _, r := range art.Title {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	name := strings.TrimSpace(b.String())
	if len(name) > 80 {
		name = strings.TrimSpace(name[:80])
	}
	if name == "" {
		id := art.ContentID
		if len(id) > 16 {
			id = id[:16]
		}
		name = id
	}
	return name
}
