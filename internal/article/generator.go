// Package article turns transcripts into structured articles through an
// LLM backend. Short transcripts are handled in a single call; long ones
// are summarized chunk by chunk and synthesized afterwards.
package article

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"distill/internal/backoff"
	"distill/internal/model"
)

const (
	// Roughly 50k tokens at 4 chars per token.
	singlePassCharLimit = 200_000
	chunkSizeChars      = 200_000
	chunkOverlapChars   = 2_000
)

// Failure reasons carried by GenerationError.
const (
	ReasonBackend = "backend"
	ReasonParse   = "response-parse"
)

// GenerationError reports an article generation failure.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate: %s: %v", e.Reason, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Backend is an LLM completion provider. Implementations mark transient
// failures as retryable so the generator can back off and retry.
type Backend interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Model() string
}

// Generator produces articles from transcripts.
type Generator struct {
	backend   Backend
	log       *slog.Logger
	attempts  uint64
	retryBase time.Duration
}

// NewGenerator creates a Generator over the given backend.
func NewGenerator(backend Backend, log *slog.Logger) *Generator {
	return &Generator{
		backend:   backend,
		log:       log,
		attempts:  backoff.DefaultAttempts,
		retryBase: backoff.DefaultBase,
	}
}

// Generate turns a transcript into an article in the requested style and
// language.
func (g *Generator) Generate(ctx context.Context, transcriptText string, src model.Source, style model.ArticleStyle, language string) (*model.Article, error) {
	var raw string
	var err error
	if len(transcriptText) <= singlePassCharLimit {
		g.log.Info("generating article", "content_id", src.ContentID, "style", style, "mode", "single-pass", "chars", len(transcriptText))
		raw, err = g.complete(ctx, systemPrompt(language), generationPrompt(transcriptText, src, style))
	} else {
		raw, err = g.generateChunked(ctx, transcriptText, src, style, language)
	}
	if err != nil {
		return nil, &GenerationError{Reason: ReasonBackend, Err: err}
	}

	art, err := parseArticleJSON(raw, src, style)
	if err != nil {
		return nil, &GenerationError{Reason: ReasonParse, Err: err}
	}
	art.Language = language
	art.Model = g.backend.Model()
	return art, nil
}

func (g *Generator) generateChunked(ctx context.Context, transcriptText string, src model.Source, style model.ArticleStyle, language string) (string, error) {
	chunks := splitChunks(transcriptText)
	g.log.Info("generating article", "content_id", src.ContentID, "style", style, "mode", "chunked", "chunks", len(chunks))

	summaries := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		summary, err := g.complete(ctx, "", chunkPrompt(chunk, i+1, len(chunks)))
		if err != nil {
			return "", fmt.Errorf("summarize chunk %d/%d: %w", i+1, len(chunks), err)
		}
		summaries = append(summaries, summary)
		g.log.Info("summarized chunk", "content_id", src.ContentID, "chunk", i+1, "total", len(chunks))
	}

	return g.complete(ctx, systemPrompt(language), synthesisPrompt(summaries, src, style))
}

func (g *Generator) complete(ctx context.Context, system, user string) (string, error) {
	var raw string
	err := backoff.Retry(ctx, g.attempts, g.retryBase, func(ctx context.Context) error {
		var err error
		raw, err = g.backend.Complete(ctx, system, user)
		return err
	})
	return raw, err
}

type articlePayload struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Summary  string `json:"summary"`
	Sections []struct {
		Heading string `json:"heading"`
		Body    string `json:"body"`
	} `json:"sections"`
}

// parseArticleJSON decodes the backend's JSON response, tolerating a
// surrounding markdown code fence.
func parseArticleJSON(raw string, src model.Source, style model.ArticleStyle) (*model.Article, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		lines = lines[1:]
		if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
			lines = lines[:len(lines)-1]
		}
		text = strings.Join(lines, "\n")
	}

	var payload articlePayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("decode article: %w", err)
	}

	title := payload.Title
	if title == "" {
		title = src.Title
	}

	sections := make([]model.Section, 0, len(payload.Sections))
	for _, s := range payload.Sections {
		sections = append(sections, model.Section{Heading: s.Heading, Body: s.Body})
	}

	return &model.Article{
		ContentID: src.ContentID,
		Title:     title,
		Subtitle:  payload.Subtitle,
		Summary:   payload.Summary,
		Sections:  sections,
		Style:     style,
	}, nil
}

// splitChunks splits text into overlapping chunks, preferring sentence
// boundaries near the cut point.
func splitChunks(text string) []string {
	var chunks []string
	start := 0
	for start < len(text) {
		end := start + chunkSizeChars
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}
		if boundary := strings.LastIndex(text[start+chunkSizeChars-1000:end], ". "); boundary >= 0 {
			end = start + chunkSizeChars - 1000 + boundary + 1
		}
		chunks = append(chunks, text[start:end])
		start = end - chunkOverlapChars
	}
	return chunks
}
