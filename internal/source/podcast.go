package source

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"distill/internal/backoff"
	"distill/internal/identity"
	"distill/internal/model"
)

const feedBodyLimit = 10 * 1024 * 1024

// Episode is a single podcast episode parsed from an RSS feed.
type Episode struct {
	Title           string
	AudioURL        string
	GUID            string
	PublishedAt     *time.Time
	DurationSeconds int
	Description     string
}

// Feed is a parsed podcast feed with its playable episodes.
type Feed struct {
	Title       string
	FeedURL     string
	Description string
	Episodes    []Episode
}

// Podcast fetches and parses podcast feeds and downloads episode audio.
type Podcast struct {
	client    HTTPClient
	attempts  uint64
	retryBase time.Duration
}

// NewPodcast creates a Podcast resolver with the given HTTP client.
func NewPodcast(client HTTPClient) *Podcast {
	return &Podcast{
		client:    client,
		attempts:  backoff.DefaultAttempts,
		retryBase: backoff.DefaultBase,
	}
}

// FetchFeed downloads and parses a podcast RSS/Atom feed. Entries without
// an audio enclosure are skipped. Transient HTTP failures are retried.
func (p *Podcast) FetchFeed(ctx context.Context, feedURL string) (*Feed, error) {
	var body string
	err := backoff.Retry(ctx, p.attempts, p.retryBase, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", "distill/1.0")

		resp, err := p.client.Do(req)
		if err != nil {
			if backoff.RetryableNetErr(err) {
				return backoff.Transient(err)
			}
			return fmt.Errorf("http get: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("unexpected status %d", resp.StatusCode)
			if backoff.RetryableStatus(resp.StatusCode) {
				return backoff.Transient(err)
			}
			return err
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, feedBodyLimit))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		body = string(data)
		return nil
	})
	if err != nil {
		return nil, &ResolutionError{Locator: feedURL, Err: err}
	}

	parsed, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		return nil, &ResolutionError{Locator: feedURL, Err: fmt.Errorf("parse feed: %w", err)}
	}

	feed := &Feed{
		Title:       parsed.Title,
		FeedURL:     feedURL,
		Description: parsed.Description,
	}
	for _, item := range parsed.Items {
		audioURL := audioEnclosure(item)
		if audioURL == "" {
			continue
		}
		feed.Episodes = append(feed.Episodes, Episode{
			Title:           item.Title,
			AudioURL:        audioURL,
			GUID:            episodeGUID(item),
			PublishedAt:     item.PublishedParsed,
			DurationSeconds: itunesDuration(item),
			Description:     item.Description,
		})
	}
	return feed, nil
}

// EpisodeSource converts an episode to its source record, keyed by the
// normalized audio URL.
func EpisodeSource(ep Episode, feedURL string) (*model.Source, error) {
	normalized, _, err := identity.Normalize(ep.AudioURL)
	if err != nil {
		return nil, &ResolutionError{Locator: ep.AudioURL, Err: err}
	}
	return &model.Source{
		ContentID:       identity.IDForNormalized(normalized),
		URL:             normalized,
		Kind:            model.SourcePodcast,
		Title:           ep.Title,
		DurationSeconds: ep.DurationSeconds,
		PublishedAt:     ep.PublishedAt,
		FeedURL:         feedURL,
	}, nil
}

// DownloadEpisode streams an episode's audio into dir and returns the
// file path. Transient failures are retried from scratch.
func (p *Podcast) DownloadEpisode(ctx context.Context, audioURL, dir string) (string, error) {
	name := path.Base(strings.SplitN(audioURL, "?", 2)[0])
	if name == "" || name == "." || name == "/" {
		name = "episode.mp3"
	}
	outputPath := filepath.Join(dir, name)

	err := backoff.Retry(ctx, p.attempts, p.retryBase, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", "distill/1.0")

		resp, err := p.client.Do(req)
		if err != nil {
			if backoff.RetryableNetErr(err) {
				return backoff.Transient(err)
			}
			return fmt.Errorf("http get: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("unexpected status %d", resp.StatusCode)
			if backoff.RetryableStatus(resp.StatusCode) {
				return backoff.Transient(err)
			}
			return err
		}

		f, err := os.Create(outputPath) //nolint:gosec // path derived above
		if err != nil {
			return fmt.Errorf("create file: %w", err)
		}
		if _, err := io.Copy(f, resp.Body); err != nil {
			_ = f.Close()
			_ = os.Remove(outputPath)
			return backoff.Transient(fmt.Errorf("download body: %w", err))
		}
		return f.Close()
	})
	if err != nil {
		return "", fmt.Errorf("download episode %s: %w", audioURL, err)
	}
	return outputPath, nil
}

func audioEnclosure(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "audio/") && enc.URL != "" {
			return enc.URL
		}
	}
	return ""
}

// episodeGUID returns the feed GUID for an episode. If the entry has no
// GUID, a SHA-256 hash of title+audio URL is used.
func episodeGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	audioURL := audioEnclosure(item)
	h := sha256.Sum256([]byte(item.Title + "|" + audioURL))
	return fmt.Sprintf("sha256:%x", h[:16])
}

// itunesDuration parses the iTunes duration field, which may be plain
// seconds, MM:SS, or HH:MM:SS.
func itunesDuration(item *gofeed.Item) int {
	if item.ITunesExt == nil || item.ITunesExt.Duration == "" {
		return 0
	}
	raw := item.ITunesExt.Duration
	parts := strings.Split(raw, ":")
	switch len(parts) {
	case 1:
		n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return 0
		}
		return n
	case 2:
		m, err1 := strconv.Atoi(parts[0])
		s, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return 0
		}
		return m*60 + s
	case 3:
		h, err1 := strconv.Atoi(parts[0])
		m, err2 := strconv.Atoi(parts[1])
		s, err3 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil || err3 != nil {
			return 0
		}
		return h*3600 + m*60 + s
	}
	return 0
}
