package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"distill/internal/model"
)

type mockTransport struct {
	body       string
	statusCode int
	err        error
	calls      int
}

func (m *mockTransport) Do(_ *http.Request) (*http.Response, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

// flakyTransport fails with a transient status a number of times before
// succeeding.
type flakyTransport struct {
	failures   int
	failStatus int
	body       string
	calls      int
}

func (f *flakyTransport) Do(_ *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return &http.Response{
			StatusCode: f.failStatus,
			Body:       io.NopCloser(strings.NewReader("busy")),
		}, nil
	}
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(strings.NewReader(f.body)),
	}, nil
}

func loadFixture(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // test-only fixture loading
	if err != nil {
		t.Fatalf("read fixture %s: %v", path, err)
	}
	return string(data)
}

func TestFetchFeed(t *testing.T) {
	xml := loadFixture(t, "../../testdata/feed.xml")

	tests := []struct {
		name         string
		transport    *mockTransport
		wantTitle    string
		wantEpisodes int
		wantErr      bool
	}{
		{
			name:         "successful fetch skips enclosure-less items",
			transport:    &mockTransport{body: xml, statusCode: 200},
			wantTitle:    "Systems Weekly",
			wantEpisodes: 3,
		},
		{
			name:      "not found",
			transport: &mockTransport{body: "gone", statusCode: 404},
			wantErr:   true,
		},
		{
			name:      "invalid xml",
			transport: &mockTransport{body: "not xml at all", statusCode: 200},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFastPodcast(tt.transport)
			feed, err := p.FetchFeed(context.Background(), "https://systemsweekly.example.com/rss")

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				var resErr *ResolutionError
				if !errors.As(err, &resErr) {
					t.Fatalf("expected ResolutionError, got %T: %v", err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.wantTitle, feed.Title); diff != "" {
				t.Errorf("title mismatch (-want +got):\n%s", diff)
			}
			if len(feed.Episodes) != tt.wantEpisodes {
				t.Errorf("episodes = %d, want %d", len(feed.Episodes), tt.wantEpisodes)
			}
		})
	}
}

func TestFetchFeedParsesEpisodes(t *testing.T) {
	xml := loadFixture(t, "../../testdata/feed.xml")
	p := NewPodcast(&mockTransport{body: xml, statusCode: 200})

	feed, err := p.FetchFeed(context.Background(), "https://systemsweekly.example.com/rss")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	first := feed.Episodes[0]
	if first.Title != "Designing Local-First Apps" {
		t.Errorf("title = %q", first.Title)
	}
	if first.GUID != "sw-ep-103" {
		t.Errorf("guid = %q", first.GUID)
	}
	if first.DurationSeconds != 3750 {
		t.Errorf("duration = %d, want 3750", first.DurationSeconds)
	}
	if first.PublishedAt == nil || first.PublishedAt.UTC() != time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC) {
		t.Errorf("published = %v", first.PublishedAt)
	}

	// MM:SS and plain-seconds duration forms.
	if feed.Episodes[1].DurationSeconds != 2895 {
		t.Errorf("second duration = %d, want 2895", feed.Episodes[1].DurationSeconds)
	}
	if feed.Episodes[2].DurationSeconds != 1800 {
		t.Errorf("third duration = %d, want 1800", feed.Episodes[2].DurationSeconds)
	}

	// GUID fallback hashes title + audio URL.
	if !strings.HasPrefix(feed.Episodes[2].GUID, "sha256:") {
		t.Errorf("expected hashed GUID, got %q", feed.Episodes[2].GUID)
	}
}

func TestFetchFeedRetriesTransientFailures(t *testing.T) {
	xml := loadFixture(t, "../../testdata/feed.xml")
	transport := &flakyTransport{failures: 2, failStatus: 503, body: xml}

	p := newFastPodcast(transport)

	feed, err := p.FetchFeed(context.Background(), "https://systemsweekly.example.com/rss")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if feed.Title != "Systems Weekly" {
		t.Errorf("title = %q", feed.Title)
	}
	if transport.calls != 3 {
		t.Errorf("calls = %d, want 3", transport.calls)
	}
}

func TestFetchFeedRetryBoundExceeded(t *testing.T) {
	transport := &flakyTransport{failures: 10, failStatus: 503}
	p := newFastPodcast(transport)

	_, err := p.FetchFeed(context.Background(), "https://systemsweekly.example.com/rss")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if transport.calls != 3 {
		t.Errorf("calls = %d, want 3 (retry bound)", transport.calls)
	}
}

func TestFetchFeedClientErrorFailsFast(t *testing.T) {
	transport := &mockTransport{body: "forbidden", statusCode: 403}
	p := newFastPodcast(transport)

	_, err := p.FetchFeed(context.Background(), "https://systemsweekly.example.com/rss")
	if err == nil {
		t.Fatal("expected error")
	}
	if transport.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 403)", transport.calls)
	}
}

func TestEpisodeSource(t *testing.T) {
	published := time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC)
	ep := Episode{
		Title:           "Designing Local-First Apps",
		AudioURL:        "https://cdn.systemsweekly.example.com/audio/103.mp3?utm_source=feed",
		GUID:            "sw-ep-103",
		PublishedAt:     &published,
		DurationSeconds: 3750,
	}

	src, err := EpisodeSource(ep, "https://systemsweekly.example.com/rss")
	if err != nil {
		t.Fatalf("episode source: %v", err)
	}

	if src.Kind != model.SourcePodcast {
		t.Errorf("kind = %s", src.Kind)
	}
	if src.URL != "https://cdn.systemsweekly.example.com/audio/103.mp3" {
		t.Errorf("tracking params not stripped: %s", src.URL)
	}
	if src.ContentID == "" || len(src.ContentID) != 64 {
		t.Errorf("content id = %q", src.ContentID)
	}
	if src.FeedURL != "https://systemsweekly.example.com/rss" {
		t.Errorf("feed url = %s", src.FeedURL)
	}
}

func TestDownloadEpisode(t *testing.T) {
	transport := &mockTransport{body: "fake mp3 bytes", statusCode: 200}
	p := newFastPodcast(transport)
	dir := t.TempDir()

	path, err := p.DownloadEpisode(context.Background(), "https://cdn.example.com/audio/103.mp3?session=xyz", dir)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if filepath.Base(path) != "103.mp3" {
		t.Errorf("filename = %s", filepath.Base(path))
	}
	data, err := os.ReadFile(path) //nolint:gosec // test output
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != "fake mp3 bytes" {
		t.Errorf("content = %q", data)
	}
}

func newFastPodcast(client HTTPClient) *Podcast {
	p := NewPodcast(client)
	p.retryBase = time.Millisecond
	return p
}
