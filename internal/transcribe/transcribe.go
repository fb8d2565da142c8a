// Package transcribe acquires transcripts: directly from YouTube caption
// tracks when available, otherwise by downloading audio and running a
// whisper backend (local binary or remote API).
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"distill/internal/model"
	"distill/internal/source"
)

// Failure reasons carried by TranscriptionError.
const (
	ReasonCaptions      = "captions"
	ReasonDownload      = "audio-download"
	ReasonBackendConfig = "backend-config"
	ReasonBackend       = "backend"
)

// TranscriptionError reports a transcript acquisition failure and which
// sub-step caused it.
type TranscriptionError struct {
	Reason string
	Err    error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcribe: %s: %v", e.Reason, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// Result is a backend's transcription output. Duration is the audio
// length in seconds when the backend reports it, zero otherwise.
type Result struct {
	Text     string
	Segments []model.Segment
	Language string
	Duration float64
}

// Backend converts an audio file to text. Implementations must accept a
// language hint ("auto" for detection) and report the language used.
type Backend interface {
	Transcribe(ctx context.Context, audioPath, language string) (*Result, error)
	Method() model.TranscriptMethod
}

// Request describes one transcription job.
type Request struct {
	Source   model.Source
	Captions map[string]source.CaptionTrack
	Language string
}

// Stage runs the transcript acquisition policy.
type Stage struct {
	backend    Backend
	backendErr error
	youtube    *source.YouTube
	podcast    *source.Podcast
	captions   *CaptionClient
	log        *slog.Logger
}

// New creates a Stage. The backend may be nil when only caption-based
// transcription is expected; audio jobs then fail with a backend-config
// error instead of a crash.
func New(backend Backend, yt *source.YouTube, pod *source.Podcast, captions *CaptionClient, log *slog.Logger) *Stage {
	return &Stage{
		backend:  backend,
		youtube:  yt,
		podcast:  pod,
		captions: captions,
		log:      log,
	}
}

// SetBackendError records why no backend is available. It is wrapped
// into the failure of any job that needs audio transcription, so the
// caller still sees the underlying configuration problem.
func (s *Stage) SetBackendError(err error) {
	s.backendErr = err
}

// Run acquires a transcript for the request. For YouTube sources with a
// caption track in the requested language the track is fetched directly;
// everything else goes through audio download plus the whisper backend.
func (s *Stage) Run(ctx context.Context, req Request) (*model.Transcript, error) {
	if req.Source.Kind == model.SourceYouTube {
		if track, ok := req.Captions[req.Language]; ok {
			s.log.Info("fetching captions", "content_id", req.Source.ContentID, "language", req.Language, "generated", track.Generated)
			segments, err := s.captions.Fetch(ctx, track.URL)
			if err != nil {
				return nil, &TranscriptionError{Reason: ReasonCaptions, Err: err}
			}
			return &model.Transcript{
				ContentID: req.Source.ContentID,
				Text:      joinSegments(segments),
				Segments:  segments,
				Language:  req.Language,
				Method:    model.MethodCaptions,
			}, nil
		}
		s.log.Info("no captions in requested language, falling back to audio",
			"content_id", req.Source.ContentID, "language", req.Language)
	}

	return s.transcribeAudio(ctx, req)
}

func (s *Stage) transcribeAudio(ctx context.Context, req Request) (*model.Transcript, error) {
	if s.backend == nil {
		err := s.backendErr
		if err == nil {
			err = fmt.Errorf("no transcription backend configured")
		}
		return nil, &TranscriptionError{Reason: ReasonBackendConfig, Err: err}
	}

	workDir, err := os.MkdirTemp("", "distill-")
	if err != nil {
		return nil, &TranscriptionError{Reason: ReasonDownload, Err: fmt.Errorf("create work dir: %w", err)}
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	var audioPath string
	switch req.Source.Kind {
	case model.SourceYouTube:
		audioPath, err = s.youtube.DownloadAudio(ctx, req.Source.URL, workDir)
	default:
		audioPath, err = s.podcast.DownloadEpisode(ctx, req.Source.URL, workDir)
	}
	if err != nil {
		return nil, &TranscriptionError{Reason: ReasonDownload, Err: err}
	}

	s.log.Info("transcribing audio", "content_id", req.Source.ContentID, "backend", s.backend.Method(), "language", req.Language)
	result, err := s.backend.Transcribe(ctx, audioPath, req.Language)
	if err != nil {
		return nil, &TranscriptionError{Reason: ReasonBackend, Err: err}
	}

	language := result.Language
	if language == "" {
		language = req.Language
	}
	return &model.Transcript{
		ContentID: req.Source.ContentID,
		Text:      result.Text,
		Segments:  result.Segments,
		Language:  language,
		Method:    s.backend.Method(),
	}, nil
}

func joinSegments(segments []model.Segment) string {
	text := ""
	for i, seg := range segments {
		if i > 0 {
			text += " "
		}
		text += seg.Text
	}
	return text
}
