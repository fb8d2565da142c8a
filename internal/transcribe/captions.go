package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"distill/internal/backoff"
	"distill/internal/model"
	"distill/internal/source"
)

const captionBodyLimit = 20 * 1024 * 1024

// CaptionClient fetches YouTube caption tracks in json3 form.
type CaptionClient struct {
	client    source.HTTPClient
	attempts  uint64
	retryBase time.Duration
}

// NewCaptionClient creates a CaptionClient with the given HTTP client.
func NewCaptionClient(client source.HTTPClient) *CaptionClient {
	return &CaptionClient{
		client:    client,
		attempts:  backoff.DefaultAttempts,
		retryBase: backoff.DefaultBase,
	}
}

// json3 timedtext payload: a list of timed events, each holding utf8
// text fragments.
type timedText struct {
	Events []timedTextEvent `json:"events"`
}

type timedTextEvent struct {
	StartMs    int64          `json:"tStartMs"`
	DurationMs int64          `json:"dDurationMs"`
	Segs       []timedTextSeg `json:"segs"`
}

type timedTextSeg struct {
	UTF8 string `json:"utf8"`
}

// Fetch downloads a caption track and converts it to ordered segments.
// Transient HTTP failures are retried.
func (c *CaptionClient) Fetch(ctx context.Context, trackURL string) ([]model.Segment, error) {
	var body []byte
	err := backoff.Retry(ctx, c.attempts, c.retryBase, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, trackURL, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		resp, err := c.client.Do(req)
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

		body, err = io.ReadAll(io.LimitReader(resp.Body, captionBodyLimit))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return parseTimedText(body)
}

func parseTimedText(body []byte) ([]model.Segment, error) {
	var tt timedText
	if err := json.Unmarshal(body, &tt); err != nil {
		return nil, fmt.Errorf("parse caption track: %w", err)
	}

	var segments []model.Segment
	for _, ev := range tt.Events {
		var b strings.Builder
		for _, seg := range ev.Segs {
			b.WriteString(seg.UTF8)
		}
		text := strings.TrimSpace(b.String())
		if text == "" {
			continue
		}
		start := float64(ev.StartMs) / 1000
		segments = append(segments, model.Segment{
			Start: start,
			End:   start + float64(ev.DurationMs)/1000,
			Text:  text,
		})
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("caption track has no text events")
	}
	return segments, nil
}
