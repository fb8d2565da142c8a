// Command distill turns YouTube videos and podcast episodes into
// articles. Transcripts and generated articles are cached in a local
// SQLite database so reprocessing the same content is cheap.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"distill/internal/article"
	"distill/internal/config"
	"distill/internal/deliver"
	"distill/internal/executor"
	"distill/internal/identity"
	"distill/internal/model"
	"distill/internal/pipeline"
	"distill/internal/render"
	"distill/internal/source"
	"distill/internal/storage"
	"distill/internal/sync"
	"distill/internal/transcribe"
)

const usageText = `Usage: distill [-config path] <command> [arguments]

Commands:
  youtube <url>          Process a YouTube video into an article
  podcast <feed-url>     Process a podcast episode (latest by default)
  episode <audio-url>    Process a direct audio URL
  regenerate <id>        Regenerate an article from a cached transcript
  subscribe <feed-url>   Subscribe to a podcast feed
  unsubscribe <feed-url> Remove a subscription
  subscriptions          List subscriptions
  favorite <feed-url>    Mark or unmark a subscription as favorite
  sync                   Check subscribed feeds for new episodes
  history                Show processing history
  config [set <key> <value>]
                         Show resolved configuration, or write one
                         setting (key is section.name, e.g. whisper.model)

Run "distill <command> -h" for command flags.`

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usageText) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	log := newLogger(cfg.General.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *configPath, log, args[0], args[1:]); err != nil {
		log.Error("command failed", "command", args[0], "error", err)
		os.Exit(exitCode(err))
	}
}

func run(ctx context.Context, cfg *config.Config, cfgPath string, log *slog.Logger, cmd string, args []string) error {
	a := &app{cfg: cfg, cfgPath: cfgPath, log: log}

	switch cmd {
	case "youtube":
		return a.cmdYouTube(ctx, args)
	case "podcast":
		return a.cmdPodcast(ctx, args)
	case "episode":
		return a.cmdEpisode(ctx, args)
	case "regenerate":
		return a.cmdRegenerate(ctx, args)
	case "subscribe":
		return a.cmdSubscribe(ctx, args)
	case "unsubscribe":
		return a.cmdUnsubscribe(ctx, args)
	case "subscriptions":
		return a.cmdSubscriptions(ctx)
	case "favorite":
		return a.cmdFavorite(ctx, args)
	case "sync":
		return a.cmdSync(ctx, args)
	case "history":
		return a.cmdHistory(ctx, args)
	case "config":
		return a.cmdConfig(args)
	default:
		fmt.Fprintln(os.Stderr, usageText)
		return &usageError{msg: fmt.Sprintf("unknown command %q", cmd)}
	}
}

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

// exitCode maps error kinds to process exit codes: 2 for configuration
// and usage problems, 1 for everything else.
func exitCode(err error) int {
	var cfgErr *config.ConfigurationError
	var useErr *usageError
	if errors.As(err, &cfgErr) || errors.As(err, &useErr) {
		return 2
	}
	return 1
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

type app struct {
	cfg     *config.Config
	cfgPath string
	log     *slog.Logger
}

func (a *app) openStore() (storage.Storage, error) {
	dbPath := a.cfg.DatabasePath()
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}
	return storage.NewSQLite(dbPath)
}

// processFlags are the flags shared by every processing command.
type processFlags struct {
	style           string
	format          string
	output          string
	language        string
	articleLanguage string
	forceTranscript bool
	forceArticle    bool
	deliver         bool
}

func (a *app) addProcessFlags(fs *flag.FlagSet) *processFlags {
	pf := &processFlags{}
	fs.StringVar(&pf.style, "style", a.cfg.General.DefaultStyle, "article style: detailed, concise, summary, bullets")
	fs.StringVar(&pf.format, "format", a.cfg.General.DefaultFormat, "output format: markdown, html, epub")
	fs.StringVar(&pf.output, "output", a.cfg.General.OutputDir, "output directory")
	fs.StringVar(&pf.language, "language", a.cfg.Whisper.Language, "transcript language hint, or auto")
	fs.StringVar(&pf.articleLanguage, "article-language", "", "article language (defaults to transcript language)")
	fs.BoolVar(&pf.forceTranscript, "force-transcript", false, "re-transcribe even if cached")
	fs.BoolVar(&pf.forceArticle, "force-article", false, "regenerate the article even if cached")
	fs.BoolVar(&pf.deliver, "deliver", false, "send the article via telegram")
	return pf
}

func (pf *processFlags) options() (pipeline.Options, error) {
	style := model.ArticleStyle(pf.style)
	if !model.ValidStyle(style) {
		return pipeline.Options{}, &usageError{msg: fmt.Sprintf("unknown style %q", pf.style)}
	}
	if !render.ValidFormat(pf.format) {
		return pipeline.Options{}, &usageError{msg: fmt.Sprintf("unknown format %q", pf.format)}
	}
	return pipeline.Options{
		Style:           style,
		Format:          pf.format,
		Language:        pf.language,
		ArticleLanguage: pf.articleLanguage,
		OutputDir:       pf.output,
		ForceTranscript: pf.forceTranscript,
		ForceArticle:    pf.forceArticle,
		Deliver:         pf.deliver,
	}, nil
}

// newPipeline assembles the processing pipeline. requireAudio makes a
// usable transcription backend mandatory; without it, caption-only
// processing is still possible.
func (a *app) newPipeline(ctx context.Context, store storage.Storage, deliverTo bool, requireAudio bool) (*pipeline.Pipeline, error) {
	if err := a.cfg.RequireGenerationCredentials(); err != nil {
		return nil, err
	}

	exec := executor.New()
	yt := source.NewYouTube(exec)
	pod := source.NewPodcast(http.DefaultClient)
	captions := transcribe.NewCaptionClient(http.DefaultClient)

	backend, backendErr := a.transcriptionBackend(exec)
	if backendErr != nil {
		if requireAudio {
			return nil, backendErr
		}
		a.log.Debug("transcription backend unavailable, captions only", "error", backendErr)
		backend = nil
	}
	stage := transcribe.New(backend, yt, pod, captions, a.log)
	if backendErr != nil {
		// Keeps the configuration error reachable via errors.As when an
		// audio job hits the missing backend.
		stage.SetBackendError(backendErr)
	}

	gen, err := a.generationBackend(ctx)
	if err != nil {
		return nil, err
	}

	var deliverer pipeline.Deliverer
	if deliverTo {
		if err := a.cfg.RequireDeliveryCredentials(); err != nil {
			return nil, err
		}
		tg, err := deliver.NewTelegram(a.cfg.TelegramToken, a.cfg.Telegram.ChatID, a.log)
		if err != nil {
			return nil, fmt.Errorf("create telegram deliverer: %w", err)
		}
		deliverer = tg
	}

	return pipeline.New(store, stage, article.NewGenerator(gen, a.log), deliverer, a.log), nil
}

func (a *app) transcriptionBackend(exec executor.Executor) (transcribe.Backend, error) {
	if err := a.cfg.RequireTranscriptionCredentials(); err != nil {
		return nil, err
	}
	switch a.cfg.Whisper.Backend {
	case "api":
		return transcribe.NewWhisperAPI(http.DefaultClient, exec, a.cfg.OpenAIAPIKey), nil
	default:
		return transcribe.NewWhisperLocal(exec, a.cfg.Whisper.BinaryPath, a.cfg.WhisperModelPath()), nil
	}
}

func (a *app) generationBackend(ctx context.Context) (article.Backend, error) {
	switch a.cfg.Generation.Backend {
	case "gemini":
		return article.NewGemini(ctx, a.cfg.GeminiAPIKey, a.cfg.Gemini.Model)
	default:
		return article.NewClaude(http.DefaultClient, a.cfg.AnthropicAPIKey, a.cfg.Claude.Model, a.cfg.Claude.MaxTokens), nil
	}
}

func (a *app) cmdYouTube(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("youtube", flag.ExitOnError)
	pf := a.addProcessFlags(fs)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return &usageError{msg: "usage: distill youtube [flags] <url>"}
	}

	opts, err := pf.options()
	if err != nil {
		return err
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	p, err := a.newPipeline(ctx, store, pf.deliver, false)
	if err != nil {
		return err
	}

	item, err := a.youtubeItem(ctx, store, fs.Arg(0), opts)
	if err != nil {
		return err
	}

	_, path, err := p.Process(ctx, *item, opts)
	if err != nil {
		return err
	}
	fmt.Println("Article saved to", path)
	return nil
}

// youtubeItem builds the work item for a YouTube URL. When the store
// already holds the source and a usable transcript, the yt-dlp lookup
// is skipped entirely.
func (a *app) youtubeItem(ctx context.Context, store storage.Storage, url string, opts pipeline.Options) (*pipeline.Item, error) {
	if !opts.ForceTranscript {
		contentID, err := identity.ID(url)
		if err != nil {
			return nil, err
		}
		src, err := store.GetSource(ctx, contentID)
		if err != nil {
			return nil, err
		}
		if src != nil {
			lookupLang := opts.Language
			if lookupLang == "auto" {
				lookupLang = ""
			}
			transcript, err := store.GetTranscript(ctx, contentID, lookupLang)
			if err != nil {
				return nil, err
			}
			if transcript != nil {
				a.log.Info("source cached, skipping resolve", "content_id", contentID)
				return &pipeline.Item{Source: *src}, nil
			}
		}
	}

	yt := source.NewYouTube(executor.New())
	desc, err := yt.Resolve(ctx, url)
	if err != nil {
		return nil, err
	}
	return &pipeline.Item{Source: desc.Source, Captions: desc.Captions}, nil
}

func (a *app) cmdPodcast(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("podcast", flag.ExitOnError)
	pf := a.addProcessFlags(fs)
	episode := fs.Int("episode", 0, "episode index, 0 is the most recent")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return &usageError{msg: "usage: distill podcast [flags] <feed-url>"}
	}

	opts, err := pf.options()
	if err != nil {
		return err
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	p, err := a.newPipeline(ctx, store, pf.deliver, true)
	if err != nil {
		return err
	}

	pod := source.NewPodcast(http.DefaultClient)
	feed, err := pod.FetchFeed(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if *episode < 0 || *episode >= len(feed.Episodes) {
		return &usageError{msg: fmt.Sprintf("feed has %d episodes, index %d out of range", len(feed.Episodes), *episode)}
	}

	ep := feed.Episodes[*episode]
	src, err := source.EpisodeSource(ep, feed.FeedURL)
	if err != nil {
		return err
	}
	fmt.Println("Processing episode:", ep.Title)

	_, path, err := p.Process(ctx, pipeline.Item{Source: *src}, opts)
	if err != nil {
		return err
	}
	fmt.Println("Article saved to", path)
	return nil
}

func (a *app) cmdEpisode(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("episode", flag.ExitOnError)
	pf := a.addProcessFlags(fs)
	title := fs.String("title", "", "title for the audio (defaults to the file name)")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return &usageError{msg: "usage: distill episode [flags] <audio-url>"}
	}

	opts, err := pf.options()
	if err != nil {
		return err
	}

	normalized, kind, err := identity.Normalize(fs.Arg(0))
	if err != nil {
		return err
	}
	if kind == model.SourceYouTube {
		return &usageError{msg: "use the youtube command for YouTube URLs"}
	}

	srcTitle := *title
	if srcTitle == "" {
		srcTitle = filepath.Base(strings.SplitN(normalized, "?", 2)[0])
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	p, err := a.newPipeline(ctx, store, pf.deliver, true)
	if err != nil {
		return err
	}

	src := model.Source{
		ContentID: identity.IDForNormalized(normalized),
		URL:       normalized,
		Kind:      model.SourceAudio,
		Title:     srcTitle,
	}
	_, path, err := p.Process(ctx, pipeline.Item{Source: src}, opts)
	if err != nil {
		return err
	}
	fmt.Println("Article saved to", path)
	return nil
}

func (a *app) cmdRegenerate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("regenerate", flag.ExitOnError)
	pf := a.addProcessFlags(fs)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return &usageError{msg: "usage: distill regenerate [flags] <content-id>"}
	}
	contentID := fs.Arg(0)

	opts, err := pf.options()
	if err != nil {
		return err
	}
	// Regeneration always produces a new article from the cached
	// transcript; re-fetching the transcript makes no sense here.
	opts.ForceArticle = true
	opts.ForceTranscript = false

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	src, err := store.GetSource(ctx, contentID)
	if err != nil {
		return err
	}
	if src == nil {
		return &usageError{msg: fmt.Sprintf("content id %s not found", contentID)}
	}

	transcript, err := store.GetTranscript(ctx, contentID, "")
	if err != nil {
		return err
	}
	if transcript == nil {
		return fmt.Errorf("no cached transcript for %s", contentID)
	}
	if opts.ArticleLanguage == "" {
		opts.ArticleLanguage = transcript.Language
	}
	opts.Language = transcript.Language

	p, err := a.newPipeline(ctx, store, pf.deliver, false)
	if err != nil {
		return err
	}

	_, path, err := p.Process(ctx, pipeline.Item{Source: *src}, opts)
	if err != nil {
		return err
	}
	fmt.Println("Article saved to", path)
	return nil
}

func (a *app) cmdSubscribe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("subscribe", flag.ExitOnError)
	autoProcess := fs.Bool("auto-process", a.cfg.Subscriptions.AutoProcess, "process new episodes automatically on sync")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return &usageError{msg: "usage: distill subscribe [flags] <feed-url>"}
	}
	feedURL := fs.Arg(0)

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	title := ""
	pod := source.NewPodcast(http.DefaultClient)
	if feed, err := pod.FetchFeed(ctx, feedURL); err == nil {
		title = feed.Title
	} else {
		a.log.Warn("could not fetch feed title", "feed_url", feedURL, "error", err)
	}

	sub := &model.Subscription{FeedURL: feedURL, Title: title, AutoProcess: *autoProcess}
	if err := store.CreateSubscription(ctx, sub); err != nil {
		return err
	}
	if title == "" {
		title = feedURL
	}
	fmt.Println("Subscribed to", title)
	return nil
}

func (a *app) cmdUnsubscribe(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return &usageError{msg: "usage: distill unsubscribe <feed-url>"}
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.DeleteSubscription(ctx, args[0]); err != nil {
		return err
	}
	fmt.Println("Unsubscribed from", args[0])
	return nil
}

func (a *app) cmdSubscriptions(ctx context.Context) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	subs, err := store.ListSubscriptions(ctx)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		fmt.Println("No subscriptions yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TITLE\tFEED\tLAST CHECKED\tAUTO\tFAV")
	for _, sub := range subs {
		lastChecked := "never"
		if sub.LastCheckedAt != nil {
			lastChecked = sub.LastCheckedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			sub.Title, sub.FeedURL, lastChecked, yesNo(sub.AutoProcess), yesNo(sub.Favorite))
	}
	return w.Flush()
}

func (a *app) cmdFavorite(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("favorite", flag.ExitOnError)
	unset := fs.Bool("unset", false, "remove the favorite mark")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return &usageError{msg: "usage: distill favorite [-unset] <feed-url>"}
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	return store.SetFavorite(ctx, fs.Arg(0), !*unset)
}

func (a *app) cmdSync(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	watch := fs.Bool("watch", false, "keep running and sync on the configured interval")
	_ = fs.Parse(args)

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	opts := pipeline.Options{
		Style:     model.ArticleStyle(a.cfg.General.DefaultStyle),
		Format:    a.cfg.General.DefaultFormat,
		Language:  a.cfg.Whisper.Language,
		OutputDir: a.cfg.General.OutputDir,
	}

	// Auto-processing is best effort: without a working pipeline, sync
	// still records new episodes.
	var processor sync.Processor
	if p, err := a.newPipeline(ctx, store, false, true); err == nil {
		processor = p
	} else {
		a.log.Warn("auto-processing disabled", "error", err)
	}

	s := sync.New(store, source.NewPodcast(http.DefaultClient), processor, opts, a.log)
	if *watch {
		s.SetTickInterval(time.Duration(a.cfg.Subscriptions.CheckIntervalHours) * time.Hour)
		s.Run(ctx)
		return nil
	}
	s.SyncAll(ctx)
	return nil
}

func (a *app) cmdHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 20, "number of entries to show")
	_ = fs.Parse(args)

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	entries, err := store.ListHistory(ctx, *limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No history yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTYLE\tFORMAT\tTYPE\tDATE")
	for _, e := range entries {
		id := e.ContentID
		if len(id) > 12 {
			id = id[:12]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			id, e.Title, e.Style, e.Format, e.Kind, e.CreatedAt.Format("2006-01-02"))
	}
	return w.Flush()
}

func (a *app) cmdConfig(args []string) error {
	if len(args) > 0 {
		if args[0] != "set" || len(args) != 3 {
			return &usageError{msg: "usage: config set <section.key> <value>"}
		}
		if err := config.Set(a.cfgPath, args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("set %s = %s\n", args[1], args[2])
		return nil
	}

	cfg := a.cfg
	fmt.Println("[general]")
	fmt.Println("  output_dir =", cfg.General.OutputDir)
	fmt.Println("  default_format =", cfg.General.DefaultFormat)
	fmt.Println("  default_style =", cfg.General.DefaultStyle)
	fmt.Println("  log_level =", cfg.General.LogLevel)
	fmt.Println()
	fmt.Println("[whisper]")
	fmt.Println("  backend =", cfg.Whisper.Backend)
	fmt.Println("  model =", cfg.Whisper.Model)
	fmt.Println("  binary_path =", cfg.Whisper.BinaryPath)
	fmt.Println("  model_path =", cfg.Whisper.ModelPath)
	fmt.Println("  language =", cfg.Whisper.Language)
	fmt.Println()
	fmt.Println("[generation]")
	fmt.Println("  backend =", cfg.Generation.Backend)
	fmt.Println()
	fmt.Println("[claude]")
	fmt.Println("  model =", cfg.Claude.Model)
	fmt.Println("  max_tokens =", cfg.Claude.MaxTokens)
	fmt.Println()
	fmt.Println("[gemini]")
	fmt.Println("  model =", cfg.Gemini.Model)
	fmt.Println()
	fmt.Println("[subscriptions]")
	fmt.Println("  check_interval_hours =", cfg.Subscriptions.CheckIntervalHours)
	fmt.Println("  auto_process =", cfg.Subscriptions.AutoProcess)
	fmt.Println()
	fmt.Println("[telegram]")
	fmt.Println("  chat_id =", cfg.Telegram.ChatID)
	fmt.Println()
	fmt.Println("credentials:")
	fmt.Println("  ANTHROPIC_API_KEY set:", cfg.AnthropicAPIKey != "")
	fmt.Println("  OPENAI_API_KEY set:", cfg.OpenAIAPIKey != "")
	fmt.Println("  GEMINI_API_KEY set:", cfg.GeminiAPIKey != "")
	fmt.Println("  TELEGRAM_BOT_TOKEN set:", cfg.TelegramToken != "")
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
