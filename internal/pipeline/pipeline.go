// Package pipeline orchestrates the processing of one content item:
// persist the source, acquire a transcript, generate an article and
// render it to disk. Transcripts and articles are cached in storage;
// cached results are reused unless a force flag overrides them.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"distill/internal/model"
	"distill/internal/render"
	"distill/internal/source"
	"distill/internal/storage"
	"distill/internal/transcribe"
)

// StageError reports which stage failed while processing a content item.
type StageError struct {
	Stage     string
	ContentID string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage for %s: %v", e.Stage, e.ContentID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Transcriber acquires a transcript for a content item.
type Transcriber interface {
	Run(ctx context.Context, req transcribe.Request) (*model.Transcript, error)
}

// Generator turns a transcript into an article.
type Generator interface {
	Generate(ctx context.Context, transcriptText string, src model.Source, style model.ArticleStyle, language string) (*model.Article, error)
}

// Deliverer pushes a finished article to an external channel.
type Deliverer interface {
	SendArticle(art *model.Article, src model.Source, path string) error
}

// Item is one unit of work: a resolved source, plus caption tracks when
// the source offers them.
type Item struct {
	Source   model.Source
	Captions map[string]source.CaptionTrack
}

// Options control one Process run.
type Options struct {
	Style           model.ArticleStyle
	Format          string
	Language        string // transcript language hint, "auto" for detection
	ArticleLanguage string // defaults to the transcript's language
	OutputDir       string
	ForceTranscript bool
	ForceArticle    bool
	Deliver         bool
}

// Pipeline wires the stages together.
type Pipeline struct {
	store       storage.Storage
	transcriber Transcriber
	generator   Generator
	deliverer   Deliverer // nil disables delivery
	log         *slog.Logger
}

// New creates a Pipeline. deliverer may be nil.
func New(store storage.Storage, transcriber Transcriber, generator Generator, deliverer Deliverer, log *slog.Logger) *Pipeline {
	return &Pipeline{
		store:       store,
		transcriber: transcriber,
		generator:   generator,
		deliverer:   deliverer,
		log:         log,
	}
}

// Process runs the item through the pipeline and returns the article and
// the rendered file's path. Reprocessing the same item is idempotent:
// cached transcripts and articles are reused, and forcing a stage
// appends a fresh row without touching earlier ones.
func (p *Pipeline) Process(ctx context.Context, item Item, opts Options) (*model.Article, string, error) {
	if err := p.store.SaveSource(ctx, &item.Source); err != nil {
		return nil, "", err
	}

	transcript, err := p.transcript(ctx, item, opts)
	if err != nil {
		return nil, "", &StageError{Stage: "transcribe", ContentID: item.Source.ContentID, Err: err}
	}

	articleLang := opts.ArticleLanguage
	if articleLang == "" || articleLang == "auto" {
		articleLang = transcript.Language
	}

	art, generated, err := p.article(ctx, item.Source, transcript, opts, articleLang)
	if err != nil {
		return nil, "", &StageError{Stage: "generate", ContentID: item.Source.ContentID, Err: err}
	}

	path, err := render.Write(art, item.Source, opts.OutputDir, opts.Format)
	if err != nil {
		return nil, "", &StageError{Stage: "render", ContentID: item.Source.ContentID, Err: err}
	}

	if generated {
		art.OutputPath = path
		art.Format = opts.Format
		if err := p.store.SaveArticle(ctx, art); err != nil {
			return nil, "", err
		}
	}

	if opts.Deliver && p.deliverer != nil {
		if err := p.deliverer.SendArticle(art, item.Source, path); err != nil {
			return nil, "", &StageError{Stage: "deliver", ContentID: item.Source.ContentID, Err: err}
		}
	}

	p.log.Info("processed", "content_id", item.Source.ContentID, "path", path)
	return art, path, nil
}

func (p *Pipeline) transcript(ctx context.Context, item Item, opts Options) (*model.Transcript, error) {
	lookupLang := opts.Language
	if lookupLang == "auto" {
		lookupLang = ""
	}

	if !opts.ForceTranscript {
		cached, err := p.store.GetTranscript(ctx, item.Source.ContentID, lookupLang)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			p.log.Info("transcript cache hit", "content_id", item.Source.ContentID, "language", cached.Language, "method", cached.Method)
			return cached, nil
		}
	}

	transcript, err := p.transcriber.Run(ctx, transcribe.Request{
		Source:   item.Source,
		Captions: item.Captions,
		Language: opts.Language,
	})
	if err != nil {
		return nil, err
	}
	if err := p.store.SaveTranscript(ctx, transcript); err != nil {
		return nil, err
	}
	return transcript, nil
}

// article returns the article to render plus whether it was freshly
// generated and needs persisting.
func (p *Pipeline) article(ctx context.Context, src model.Source, transcript *model.Transcript, opts Options, language string) (*model.Article, bool, error) {
	if !opts.ForceArticle {
		cached, err := p.store.GetArticle(ctx, src.ContentID, opts.Style, language)
		if err != nil {
			return nil, false, err
		}
		if cached != nil {
			p.log.Info("article cache hit", "content_id", src.ContentID, "style", opts.Style, "language", language)
			return cached, false, nil
		}
	}

	art, err := p.generator.Generate(ctx, transcript.Text, src, opts.Style, language)
	if err != nil {
		return nil, false, err
	}
	return art, true, nil
}
