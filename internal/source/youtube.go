package source

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"distill/internal/executor"
	"distill/internal/identity"
	"distill/internal/model"
)

// CaptionTrack points at one downloadable caption track.
type CaptionTrack struct {
	Language  string
	URL       string
	Generated bool
}

// YouTubeDescriptor is a resolved YouTube video: its source record plus
// the caption tracks yt-dlp reported, keyed by language.
type YouTubeDescriptor struct {
	Source   model.Source
	Captions map[string]CaptionTrack
}

// HasCaptions reports whether a caption track exists for the language.
func (d *YouTubeDescriptor) HasCaptions(language string) bool {
	_, ok := d.Captions[language]
	return ok
}

// YouTube resolves video metadata and downloads audio via yt-dlp.
type YouTube struct {
	exec   executor.Executor
	binary string
}

// NewYouTube creates a YouTube resolver using the given executor.
func NewYouTube(exec executor.Executor) *YouTube {
	return &YouTube{exec: exec, binary: "yt-dlp"}
}

// ytDlpInfo is the subset of yt-dlp --dump-json output we consume.
type ytDlpInfo struct {
	Title             string                    `json:"title"`
	Duration          float64                   `json:"duration"`
	UploadDate        string                    `json:"upload_date"`
	Subtitles         map[string][]ytDlpCaption `json:"subtitles"`
	AutomaticCaptions map[string][]ytDlpCaption `json:"automatic_captions"`
}

type ytDlpCaption struct {
	URL string `json:"url"`
	Ext string `json:"ext"`
}

// Resolve fetches metadata for a YouTube locator without downloading
// anything. Human caption tracks win over auto-generated ones for the
// same language.
func (y *YouTube) Resolve(ctx context.Context, locator string) (*YouTubeDescriptor, error) {
	videoID := identity.VideoID(locator)
	if videoID == "" {
		return nil, &ResolutionError{Locator: locator, Err: fmt.Errorf("not a recognizable YouTube URL")}
	}
	canonical := identity.CanonicalYouTubeURL(videoID)

	out, err := y.exec.Execute(ctx, y.binary, "--dump-json", "--no-download", canonical)
	if err != nil {
		return nil, &ResolutionError{Locator: locator, Err: err}
	}

	var info ytDlpInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		return nil, &ResolutionError{Locator: locator, Err: fmt.Errorf("parse metadata: %w", err)}
	}

	title := info.Title
	if title == "" {
		title = "YouTube Video " + videoID
	}

	src := model.Source{
		ContentID:       identity.IDForNormalized(canonical),
		URL:             canonical,
		Kind:            model.SourceYouTube,
		Title:           title,
		DurationSeconds: int(info.Duration),
	}
	if t, err := time.Parse("20060102", info.UploadDate); err == nil {
		src.PublishedAt = &t
	}

	captions := make(map[string]CaptionTrack)
	for lang, tracks := range info.AutomaticCaptions {
		if url := pickTrackURL(tracks); url != "" {
			captions[lang] = CaptionTrack{Language: lang, URL: url, Generated: true}
		}
	}
	for lang, tracks := range info.Subtitles {
		if url := pickTrackURL(tracks); url != "" {
			captions[lang] = CaptionTrack{Language: lang, URL: url}
		}
	}

	return &YouTubeDescriptor{Source: src, Captions: captions}, nil
}

// DownloadAudio extracts the video's audio as mp3 into dir and returns
// the file path.
func (y *YouTube) DownloadAudio(ctx context.Context, locator, dir string) (string, error) {
	videoID := identity.VideoID(locator)
	if videoID == "" {
		return "", &ResolutionError{Locator: locator, Err: fmt.Errorf("not a recognizable YouTube URL")}
	}

	outputPath := filepath.Join(dir, videoID+".mp3")
	_, err := y.exec.Execute(ctx, y.binary,
		"-x",
		"--audio-format", "mp3",
		"-o", outputPath,
		identity.CanonicalYouTubeURL(videoID),
	)
	if err != nil {
		return "", fmt.Errorf("download audio for %s: %w", videoID, err)
	}
	return outputPath, nil
}

// pickTrackURL prefers the json3 variant of a caption track.
func pickTrackURL(tracks []ytDlpCaption) string {
	for _, t := range tracks {
		if t.Ext == "json3" {
			return t.URL
		}
	}
	if len(tracks) > 0 {
		return tracks[0].URL
	}
	return ""
}
