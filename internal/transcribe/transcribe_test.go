package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"distill/internal/config"
	"distill/internal/model"
	"distill/internal/source"
)

const timedTextBody = `{
	"events": [
		{"tStartMs": 0, "dDurationMs": 2500, "segs": [{"utf8": "welcome "}, {"utf8": "back"}]},
		{"tStartMs": 2500, "dDurationMs": 100, "segs": [{"utf8": "\n"}]},
		{"tStartMs": 2600, "dDurationMs": 3400, "segs": [{"utf8": "to the show"}]}
	]
}`

const srtBody = `1
00:00:00,000 --> 00:00:02,500
welcome back

2
00:00:02,600 --> 00:00:06,000
to the show
everyone
`

type mockClient struct {
	body       string
	statusCode int
	lastReq    *http.Request
	calls      int
}

func (m *mockClient) Do(req *http.Request) (*http.Response, error) {
	m.lastReq = req
	m.calls++
	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(strings.NewReader(m.body)),
	}, nil
}

// flakyClient fails with a transient status a number of times before
// succeeding.
type flakyClient struct {
	failures   int
	failStatus int
	body       string
	calls      int
}

func (f *flakyClient) Do(_ *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return &http.Response{
			StatusCode: f.failStatus,
			Body:       io.NopCloser(strings.NewReader(`{"error":{"message":"overloaded"}}`)),
		}, nil
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(f.body)),
	}, nil
}

// sequenceClient serves one body per call, in order.
type sequenceClient struct {
	bodies []string
	calls  int
}

func (s *sequenceClient) Do(_ *http.Request) (*http.Response, error) {
	body := s.bodies[s.calls]
	s.calls++
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

type mockExecutor struct {
	name   string
	args   []string
	output string
	err    error
	onExec func(name string, args []string) error
}

func (m *mockExecutor) Execute(_ context.Context, name string, args ...string) (string, error) {
	m.name = name
	m.args = args
	if m.onExec != nil {
		if err := m.onExec(name, args); err != nil {
			return "", err
		}
	}
	return m.output, m.err
}

type mockBackend struct {
	result *Result
	err    error
	path   string
}

func (m *mockBackend) Transcribe(_ context.Context, audioPath, _ string) (*Result, error) {
	m.path = audioPath
	return m.result, m.err
}

func (m *mockBackend) Method() model.TranscriptMethod { return model.MethodWhisperLocal }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseTimedText(t *testing.T) {
	segments, err := parseTimedText([]byte(timedTextBody))
	if err != nil {
		t.Fatalf("parseTimedText: %v", err)
	}

	want := []model.Segment{
		{Start: 0, End: 2.5, Text: "welcome back"},
		{Start: 2.6, End: 6.0, Text: "to the show"},
	}
	if diff := cmp.Diff(want, segments); diff != "" {
		t.Errorf("segments mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTimedTextNoText(t *testing.T) {
	_, err := parseTimedText([]byte(`{"events":[{"tStartMs":0,"dDurationMs":100,"segs":[{"utf8":" "}]}]}`))
	if err == nil {
		t.Fatal("expected error for track without text")
	}
}

func TestCaptionClientRetries(t *testing.T) {
	flaky := &flakyClient{failures: 2, failStatus: 503, body: timedTextBody}
	c := &CaptionClient{client: flaky, attempts: 3, retryBase: time.Millisecond}

	segments, err := c.Fetch(context.Background(), "https://captions.example/track")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if flaky.calls != 3 {
		t.Errorf("calls = %d, want 3", flaky.calls)
	}
	if len(segments) != 2 {
		t.Errorf("len(segments) = %d, want 2", len(segments))
	}
}

func TestParseSRT(t *testing.T) {
	segments, err := parseSRT(srtBody)
	if err != nil {
		t.Fatalf("parseSRT: %v", err)
	}

	want := []model.Segment{
		{Start: 0, End: 2.5, Text: "welcome back"},
		{Start: 2.6, End: 6.0, Text: "to the show everyone"},
	}
	if diff := cmp.Diff(want, segments); diff != "" {
		t.Errorf("segments mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSRTTime(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: "00:00:01,500", want: 1.5},
		{in: "01:02:03,000", want: 3723},
		{in: "garbage", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseSRTTime(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseSRTTime(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseSRTTime(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseSRTTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWhisperLocalTranscribe(t *testing.T) {
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "episode.mp3")
	if err := os.WriteFile(audioPath, []byte("fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	exec := &mockExecutor{
		onExec: func(_ string, _ []string) error {
			return os.WriteFile(filepath.Join(dir, "episode.srt"), []byte(srtBody), 0o644)
		},
	}
	w := NewWhisperLocal(exec, "/opt/whisper/main", "/opt/whisper/ggml-base.bin")

	result, err := w.Transcribe(context.Background(), audioPath, "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if exec.name != "/opt/whisper/main" {
		t.Errorf("binary = %q", exec.name)
	}
	wantArgs := []string{
		"-m", "/opt/whisper/ggml-base.bin",
		"-f", audioPath,
		"-osrt",
		"--output-file", filepath.Join(dir, "episode"),
		"-l", "en",
	}
	if diff := cmp.Diff(wantArgs, exec.args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	if result.Text != "welcome back to the show everyone" {
		t.Errorf("text = %q", result.Text)
	}
	if len(result.Segments) != 2 {
		t.Errorf("len(segments) = %d, want 2", len(result.Segments))
	}
}

func TestWhisperLocalAutoLanguage(t *testing.T) {
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "a.mp3")

	exec := &mockExecutor{
		onExec: func(_ string, _ []string) error {
			return os.WriteFile(filepath.Join(dir, "a.srt"), []byte(srtBody), 0o644)
		},
	}
	w := NewWhisperLocal(exec, "whisper", "model.bin")

	if _, err := w.Transcribe(context.Background(), audioPath, "auto"); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	for _, arg := range exec.args {
		if arg == "-l" {
			t.Error("language flag passed for auto detection")
		}
	}
}

func TestWhisperAPITranscribe(t *testing.T) {
	audioPath := writeTestAudio(t, 128)

	client := &mockClient{
		statusCode: 200,
		body:       `{"text":" hello world ","language":"en","segments":[{"start":0,"end":3.5,"text":" hello world "}]}`,
	}
	w := newFastWhisperAPI(client, &mockExecutor{})

	result, err := w.Transcribe(context.Background(), audioPath, "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if result.Text != "hello world" {
		t.Errorf("text = %q", result.Text)
	}
	if result.Language != "en" {
		t.Errorf("language = %q", result.Language)
	}
	want := []model.Segment{{Start: 0, End: 3.5, Text: "hello world"}}
	if diff := cmp.Diff(want, result.Segments); diff != "" {
		t.Errorf("segments mismatch (-want +got):\n%s", diff)
	}

	if got := client.lastReq.Header.Get("Authorization"); got != "Bearer test-key" {
		t.Errorf("authorization = %q", got)
	}
	if ct := client.lastReq.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/form-data") {
		t.Errorf("content type = %q", ct)
	}
}

func TestWhisperAPIRetriesTransient(t *testing.T) {
	audioPath := writeTestAudio(t, 128)

	flaky := &flakyClient{
		failures:   2,
		failStatus: 429,
		body:       `{"text":"ok","language":"en","segments":[]}`,
	}
	w := newFastWhisperAPI(flaky, &mockExecutor{})

	result, err := w.Transcribe(context.Background(), audioPath, "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if flaky.calls != 3 {
		t.Errorf("calls = %d, want 3", flaky.calls)
	}
	if result.Text != "ok" {
		t.Errorf("text = %q", result.Text)
	}
}

func TestWhisperAPIFailsFastOnClientError(t *testing.T) {
	audioPath := writeTestAudio(t, 128)

	client := &mockClient{statusCode: 400, body: `{"error":{"message":"bad audio"}}`}
	w := newFastWhisperAPI(client, &mockExecutor{})

	_, err := w.Transcribe(context.Background(), audioPath, "en")
	if err == nil {
		t.Fatal("expected error")
	}
	if client.calls != 1 {
		t.Errorf("calls = %d, want 1", client.calls)
	}
	if !strings.Contains(err.Error(), "bad audio") {
		t.Errorf("error %q does not carry the API message", err)
	}
}

func TestWhisperAPIChunkedKeepsTimeOffsets(t *testing.T) {
	audioPath := writeTestAudio(t, 128)

	exec := &mockExecutor{
		onExec: func(_ string, args []string) error {
			dir := filepath.Dir(args[len(args)-1])
			for i := 0; i < 2; i++ {
				name := fmt.Sprintf("chunk_%03d.mp3", i)
				if err := os.WriteFile(filepath.Join(dir, name), []byte("chunk"), 0o644); err != nil {
					return err
				}
			}
			return nil
		},
	}
	// The first chunk reports no segments; its duration must still push
	// the second chunk's timestamps forward.
	client := &sequenceClient{bodies: []string{
		`{"text":"first part","language":"en","duration":600,"segments":[]}`,
		`{"text":"second part","language":"en","duration":12.5,"segments":[{"start":0,"end":3.5,"text":"second part"}]}`,
	}}
	w := newFastWhisperAPI(client, exec)

	result, err := w.transcribeChunked(context.Background(), audioPath, "en")
	if err != nil {
		t.Fatalf("transcribeChunked: %v", err)
	}

	if result.Text != "first part second part" {
		t.Errorf("text = %q", result.Text)
	}
	want := []model.Segment{{Start: 600, End: 603.5, Text: "second part"}}
	if diff := cmp.Diff(want, result.Segments); diff != "" {
		t.Errorf("segments mismatch (-want +got):\n%s", diff)
	}
}

func TestStageUsesCaptions(t *testing.T) {
	client := &mockClient{statusCode: 200, body: timedTextBody}
	stage := New(
		&mockBackend{err: errors.New("backend must not run")},
		nil, nil,
		&CaptionClient{client: client, attempts: 1, retryBase: time.Millisecond},
		testLogger(),
	)

	transcript, err := stage.Run(context.Background(), Request{
		Source: model.Source{ContentID: "abc", Kind: model.SourceYouTube},
		Captions: map[string]source.CaptionTrack{
			"en": {Language: "en", URL: "https://captions.example/track"},
		},
		Language: "en",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if transcript.Method != model.MethodCaptions {
		t.Errorf("method = %q, want captions", transcript.Method)
	}
	if transcript.Text != "welcome back to the show" {
		t.Errorf("text = %q", transcript.Text)
	}
	if transcript.Language != "en" {
		t.Errorf("language = %q", transcript.Language)
	}
}

func TestStageFallsBackToAudio(t *testing.T) {
	backend := &mockBackend{
		result: &Result{Text: "spoken words", Language: "sv", Segments: []model.Segment{{End: 2, Text: "spoken words"}}},
	}
	pod := source.NewPodcast(&mockClient{statusCode: 200, body: "fake mp3 bytes"})
	stage := New(backend, nil, pod, nil, testLogger())

	transcript, err := stage.Run(context.Background(), Request{
		Source:   model.Source{ContentID: "def", Kind: model.SourcePodcast, URL: "https://feeds.example/ep1.mp3"},
		Language: "auto",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if transcript.Method != model.MethodWhisperLocal {
		t.Errorf("method = %q", transcript.Method)
	}
	if transcript.Text != "spoken words" {
		t.Errorf("text = %q", transcript.Text)
	}
	if transcript.Language != "sv" {
		t.Errorf("language = %q, want detected language", transcript.Language)
	}
	if backend.path == "" {
		t.Error("backend never received an audio path")
	}
}

func TestStageNoBackendConfigured(t *testing.T) {
	stage := New(nil, nil, nil, nil, testLogger())

	_, err := stage.Run(context.Background(), Request{
		Source:   model.Source{ContentID: "ghi", Kind: model.SourcePodcast, URL: "https://feeds.example/ep1.mp3"},
		Language: "en",
	})

	var terr *TranscriptionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TranscriptionError, got %v", err)
	}
	if terr.Reason != ReasonBackendConfig {
		t.Errorf("reason = %q, want %q", terr.Reason, ReasonBackendConfig)
	}
}

func TestStageMissingCredentialKeepsConfigurationError(t *testing.T) {
	stage := New(nil, nil, nil, nil, testLogger())
	stage.SetBackendError(&config.ConfigurationError{
		Setting: "OPENAI_API_KEY",
		Reason:  "required for the api whisper backend",
	})

	_, err := stage.Run(context.Background(), Request{
		Source:   model.Source{ContentID: "jkl", Kind: model.SourceYouTube, URL: "https://www.youtube.com/watch?v=abc12345678"},
		Language: "en",
	})

	var terr *TranscriptionError
	if !errors.As(err, &terr) || terr.Reason != ReasonBackendConfig {
		t.Fatalf("expected backend-config TranscriptionError, got %v", err)
	}
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("configuration error lost from the chain: %v", err)
	}
	if cfgErr.Setting != "OPENAI_API_KEY" {
		t.Errorf("setting = %q", cfgErr.Setting)
	}
}

func newFastWhisperAPI(client source.HTTPClient, exec *mockExecutor) *WhisperAPI {
	w := NewWhisperAPI(client, exec, "test-key")
	w.retryBase = time.Millisecond
	return w
}

func writeTestAudio(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.mp3")
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
