package transcribe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"distill/internal/executor"
	"distill/internal/model"
)

// WhisperLocal transcribes audio with a local whisper.cpp binary.
type WhisperLocal struct {
	exec      executor.Executor
	binary    string
	modelPath string
}

// NewWhisperLocal creates a local whisper backend. binary is the path to
// the whisper.cpp executable and modelPath the ggml model file.
func NewWhisperLocal(exec executor.Executor, binary, modelPath string) *WhisperLocal {
	return &WhisperLocal{exec: exec, binary: binary, modelPath: modelPath}
}

func (w *WhisperLocal) Method() model.TranscriptMethod { return model.MethodWhisperLocal }

// Transcribe runs whisper.cpp over the audio file and parses its SRT
// output. A language of "auto" enables whisper's language detection.
func (w *WhisperLocal) Transcribe(ctx context.Context, audioPath, language string) (*Result, error) {
	outputPrefix := strings.TrimSuffix(audioPath, filepath.Ext(audioPath))

	args := []string{
		"-m", w.modelPath,
		"-f", audioPath,
		"-osrt",
		"--output-file", outputPrefix,
	}
	if language != "" && language != "auto" {
		args = append(args, "-l", language)
	}

	if _, err := w.exec.Execute(ctx, w.binary, args...); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	srtPath := outputPrefix + ".srt"
	data, err := os.ReadFile(srtPath)
	if err != nil {
		return nil, fmt.Errorf("read whisper output: %w", err)
	}

	segments, err := parseSRT(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse whisper output: %w", err)
	}

	return &Result{
		Text:     joinSegments(segments),
		Segments: segments,
		Language: language,
	}, nil
}

// parseSRT converts SubRip text into segments. Cue numbers are ignored;
// multi-line cue text is joined with spaces.
func parseSRT(data string) ([]model.Segment, error) {
	var segments []model.Segment

	blocks := strings.Split(strings.ReplaceAll(data, "\r\n", "\n"), "\n\n")
	for _, block := range blocks {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 2 {
			continue
		}

		// Skip the cue number when present.
		i := 0
		if _, err := strconv.Atoi(strings.TrimSpace(lines[0])); err == nil {
			i = 1
		}
		if i >= len(lines) || !strings.Contains(lines[i], "-->") {
			continue
		}

		parts := strings.SplitN(lines[i], "-->", 2)
		start, err := parseSRTTime(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, err
		}
		end, err := parseSRTTime(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, err
		}

		text := strings.TrimSpace(strings.Join(lines[i+1:], " "))
		if text == "" {
			continue
		}
		segments = append(segments, model.Segment{Start: start, End: end, Text: text})
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("no cues found")
	}
	return segments, nil
}

// parseSRTTime parses "HH:MM:SS,mmm" into seconds.
func parseSRTTime(s string) (float64, error) {
	s = strings.Replace(s, ",", ".", 1)
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed timestamp %q", s)
	}

	d, err := time.ParseDuration(parts[0] + "h" + parts[1] + "m" + parts[2] + "s")
	if err != nil {
		return 0, fmt.Errorf("malformed timestamp %q", s)
	}
	return d.Seconds(), nil
}
