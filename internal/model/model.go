// Package model defines the domain types used across the application.
package model

import "time"

// SourceKind identifies where a piece of content came from.
type SourceKind string

// Supported source kinds.
const (
	SourceYouTube SourceKind = "youtube"
	SourcePodcast SourceKind = "podcast"
	SourceAudio   SourceKind = "audio"
)

// Source represents one processable unit: a video or a podcast episode.
// ContentID is the sha256 of the normalized locator and is the primary
// key for all cached artifacts.
type Source struct {
	ContentID       string
	URL             string
	Kind            SourceKind
	Title           string
	DurationSeconds int
	PublishedAt     *time.Time
	FeedURL         string
	CreatedAt       time.Time
}

// TranscriptMethod records how a transcript was acquired.
type TranscriptMethod string

// Supported transcript acquisition methods.
const (
	MethodCaptions     TranscriptMethod = "captions"
	MethodWhisperLocal TranscriptMethod = "whisper-local"
	MethodWhisperAPI   TranscriptMethod = "whisper-api"
)

// Segment is a timed slice of a transcript.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the full text of a video or episode in one language.
// Rows are append-only; the newest row per (ContentID, Language) wins.
type Transcript struct {
	ID        int64
	ContentID string
	Text      string
	Segments  []Segment
	Language  string
	Method    TranscriptMethod
	CreatedAt time.Time
}

// ArticleStyle selects the shape of a generated article.
type ArticleStyle string

// Supported article styles.
const (
	StyleDetailed ArticleStyle = "detailed"
	StyleConcise  ArticleStyle = "concise"
	StyleSummary  ArticleStyle = "summary"
	StyleBullets  ArticleStyle = "bullets"
)

// ValidStyle reports whether s is a known article style.
func ValidStyle(s ArticleStyle) bool {
	switch s {
	case StyleDetailed, StyleConcise, StyleSummary, StyleBullets:
		return true
	}
	return false
}

// Section is one heading+body block of a generated article.
type Section struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// Article is a generated article. Rows are append-only; the newest row
// per (ContentID, Style, Language) is the current one.
type Article struct {
	ID         int64
	ContentID  string
	Title      string
	Subtitle   string
	Summary    string
	Sections   []Section
	Style      ArticleStyle
	Language   string
	Model      string
	OutputPath string
	Format     string
	CreatedAt  time.Time
}

// Subscription is a podcast feed the user follows.
type Subscription struct {
	FeedURL       string
	Title         string
	AutoProcess   bool
	Favorite      bool
	LastCheckedAt *time.Time
	CreatedAt     time.Time
}

// HistoryEntry is one row of the processing history listing.
type HistoryEntry struct {
	ArticleID int64
	ContentID string
	Title     string
	Style     ArticleStyle
	Format    string
	Kind      SourceKind
	URL       string
	CreatedAt time.Time
}
