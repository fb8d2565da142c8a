package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"distill/internal/backoff"
	"distill/internal/executor"
	"distill/internal/model"
	"distill/internal/source"
)

const (
	whisperAPIURL   = "https://api.openai.com/v1/audio/transcriptions"
	whisperAPIModel = "whisper-1"

	// The API rejects uploads above 25MB; larger files are split into
	// ten minute pieces with ffmpeg and transcribed in order.
	maxUploadBytes   = 25 * 1024 * 1024
	chunkSeconds     = "600"
	ffmpegBinary     = "ffmpeg"
	chunkNamePattern = "chunk_%03d.mp3"
)

// WhisperAPI transcribes audio through the OpenAI Whisper API.
type WhisperAPI struct {
	client    source.HTTPClient
	exec      executor.Executor
	apiKey    string
	attempts  uint64
	retryBase time.Duration
}

// NewWhisperAPI creates an API-backed whisper backend. The executor is
// used to split oversized files with ffmpeg.
func NewWhisperAPI(client source.HTTPClient, exec executor.Executor, apiKey string) *WhisperAPI {
	return &WhisperAPI{
		client:    client,
		exec:      exec,
		apiKey:    apiKey,
		attempts:  backoff.DefaultAttempts,
		retryBase: backoff.DefaultBase,
	}
}

func (w *WhisperAPI) Method() model.TranscriptMethod { return model.MethodWhisperAPI }

// Transcribe sends the audio file to the API, chunking first when it
// exceeds the upload limit.
func (w *WhisperAPI) Transcribe(ctx context.Context, audioPath, language string) (*Result, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, fmt.Errorf("stat audio: %w", err)
	}
	if info.Size() > maxUploadBytes {
		return w.transcribeChunked(ctx, audioPath, language)
	}
	return w.transcribeSingle(ctx, audioPath, language)
}

func (w *WhisperAPI) transcribeSingle(ctx context.Context, audioPath, language string) (*Result, error) {
	var payload verboseTranscription
	err := backoff.Retry(ctx, w.attempts, w.retryBase, func(ctx context.Context) error {
		req, err := w.buildRequest(ctx, audioPath, language)
		if err != nil {
			return err
		}

		resp, err := w.client.Do(req)
		if err != nil {
			if backoff.RetryableNetErr(err) {
				return backoff.Transient(err)
			}
			return fmt.Errorf("http post: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			err := decodeAPIError(resp)
			if backoff.RetryableStatus(resp.StatusCode) {
				return backoff.Transient(err)
			}
			return err
		}

		payload = verboseTranscription{}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	segments := make([]model.Segment, 0, len(payload.Segments))
	for _, seg := range payload.Segments {
		segments = append(segments, model.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		})
	}

	return &Result{
		Text:     strings.TrimSpace(payload.Text),
		Segments: segments,
		Language: payload.Language,
		Duration: payload.Duration,
	}, nil
}

// transcribeChunked splits the file into pieces, transcribes each and
// stitches the segments back together with running time offsets.
func (w *WhisperAPI) transcribeChunked(ctx context.Context, audioPath, language string) (*Result, error) {
	chunkDir, err := os.MkdirTemp("", "distill-chunks-")
	if err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(chunkDir) }()

	args := []string{
		"-i", audioPath,
		"-f", "segment",
		"-segment_time", chunkSeconds,
		"-c", "copy",
		filepath.Join(chunkDir, chunkNamePattern),
	}
	if _, err := w.exec.Execute(ctx, ffmpegBinary, args...); err != nil {
		return nil, fmt.Errorf("split audio: %w", err)
	}

	chunks, err := filepath.Glob(filepath.Join(chunkDir, "chunk_*.mp3"))
	if err != nil || len(chunks) == 0 {
		return nil, fmt.Errorf("no audio chunks produced")
	}
	sort.Strings(chunks)

	var (
		texts    []string
		segments []model.Segment
		offset   float64
		detected string
	)
	for _, chunk := range chunks {
		res, err := w.transcribeSingle(ctx, chunk, language)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", filepath.Base(chunk), err)
		}
		texts = append(texts, res.Text)
		for _, seg := range res.Segments {
			segments = append(segments, model.Segment{
				Start: seg.Start + offset,
				End:   seg.End + offset,
				Text:  seg.Text,
			})
		}
		// The reported duration keeps later chunks anchored even when a
		// chunk comes back without segments.
		switch {
		case res.Duration > 0:
			offset += res.Duration
		case len(res.Segments) > 0:
			offset = segments[len(segments)-1].End
		}
		if detected == "" {
			detected = res.Language
		}
	}

	return &Result{
		Text:     strings.Join(texts, " "),
		Segments: segments,
		Language: detected,
	}, nil
}

func (w *WhisperAPI) buildRequest(ctx context.Context, audioPath, language string) (*http.Request, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer func() { _ = f.Close() }()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create multipart file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	if err := writer.WriteField("model", whisperAPIModel); err != nil {
		return nil, fmt.Errorf("write model field: %w", err)
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("write format field: %w", err)
	}
	if language != "" && language != "auto" {
		if err := writer.WriteField("language", language); err != nil {
			return nil, fmt.Errorf("write language field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, whisperAPIURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req, nil
}

type verboseTranscription struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err == nil && payload.Error.Message != "" {
		return fmt.Errorf("api error (status %d): %s", resp.StatusCode, payload.Error.Message)
	}
	return fmt.Errorf("api error (status %d)", resp.StatusCode)
}
