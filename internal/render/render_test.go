package render

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"distill/internal/model"
)

func testArticle() *model.Article {
	return &model.Article{
		ContentID: "abcdef0123456789abcdef",
		Title:     "Why Retries Need Backoff",
		Subtitle:  "A war story",
		Summary:   "Unbounded retries amplify outages.",
		Sections: []model.Section{
			{Heading: "The Incident", Body: "It started with a **single** timeout."},
			{Heading: "The Fix", Body: "Exponential backoff with jitter."},
		},
		Style:    model.StyleDetailed,
		Language: "en",
	}
}

func testRenderSource() model.Source {
	published := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	return model.Source{
		ContentID:   "abcdef0123456789abcdef",
		URL:         "https://www.youtube.com/watch?v=abc123",
		Kind:        model.SourceYouTube,
		Title:       "SRE Stories Ep 4",
		PublishedAt: &published,
	}
}

func TestMarkdown(t *testing.T) {
	got := Markdown(testArticle(), testRenderSource())

	for _, want := range []string{
		"# Why Retries Need Backoff",
		"*A war story*",
		"> **TLDR:** Unbounded retries amplify outages.",
		"[SRE Stories Ep 4](https://www.youtube.com/watch?v=abc123)",
		"Published: 2026-01-10",
		"## The Incident",
		"## The Fix",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("markdown missing %q:\n%s", want, got)
		}
	}
}

func TestMarkdownOmitsEmptySubtitle(t *testing.T) {
	art := testArticle()
	art.Subtitle = ""
	got := Markdown(art, testRenderSource())
	if strings.Contains(got, "**") && strings.Contains(got, "*A war story*") {
		t.Error("subtitle rendered despite being empty")
	}
}

func TestHTML(t *testing.T) {
	got, err := HTML(testArticle(), testRenderSource())
	if err != nil {
		t.Fatalf("HTML: %v", err)
	}

	for _, want := range []string{
		"<!DOCTYPE html>",
		`<html lang="en">`,
		"<title>Why Retries Need Backoff</title>",
		"<h2", // sections become headings
		"<strong>single</strong>",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("html missing %q", want)
		}
	}
}

func TestWriteFormats(t *testing.T) {
	tests := []struct {
		format  string
		wantExt string
	}{
		{format: FormatMarkdown, wantExt: ".md"},
		{format: FormatHTML, wantExt: ".html"},
		{format: FormatEPUB, wantExt: ".epub"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			dir := t.TempDir()
			path, err := Write(testArticle(), testRenderSource(), dir, tt.format)
			if err != nil {
				t.Fatalf("Write: %v", err)
			}
			if filepath.Ext(path) != tt.wantExt {
				t.Errorf("ext = %q, want %q", filepath.Ext(path), tt.wantExt)
			}
			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("stat output: %v", err)
			}
			if info.Size() == 0 {
				t.Error("output file is empty")
			}
		})
	}
}

func TestWriteUnsupportedFormat(t *testing.T) {
	_, err := Write(testArticle(), testRenderSource(), t.TempDir(), "docx")
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestSafeTitle(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{name: "plain", title: "Hello World", want: "Hello World"},
		{name: "punctuation stripped", title: "What?! A / Title: Yes", want: "What A  Title Yes"},
		{name: "empty falls back to id", title: "///", want: "abcdef0123456789"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			art := testArticle()
			art.Title = tt.title
			if got := safeTitle(art); got != tt.want {
				t.Errorf("safeTitle(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}
