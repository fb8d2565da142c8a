// Package identity derives stable content identifiers from source locators.
package identity

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"distill/internal/model"
)

var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?.*v=|youtu\.be/)([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`youtube\.com/embed/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`youtube\.com/shorts/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`youtube\.com/live/([a-zA-Z0-9_-]{11})`),
}

// Tracking parameters stripped from non-YouTube locators.
var trackingParams = map[string]bool{
	"fbclid": true,
	"gclid":  true,
	"ref":    true,
	"si":     true,
	"source": true,
}

// VideoID extracts the 11-character video ID from a YouTube URL.
// Returns "" when the URL is not a recognizable YouTube form.
func VideoID(locator string) string {
	for _, p := range videoIDPatterns {
		if m := p.FindStringSubmatch(locator); m != nil {
			return m[1]
		}
	}
	return ""
}

// CanonicalYouTubeURL rebuilds the canonical watch URL for a video ID.
func CanonicalYouTubeURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// Normalize reduces a locator to its canonical form and classifies it.
//
// YouTube URLs in any form (watch, youtu.be, embed, shorts, live) become
// the canonical watch URL with every query parameter dropped. Other URLs
// keep their path and non-tracking query parameters, with scheme and host
// lowercased, fragments removed, and remaining query keys sorted.
func Normalize(locator string) (string, model.SourceKind, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return "", "", fmt.Errorf("empty locator")
	}

	if id := VideoID(locator); id != "" {
		return CanonicalYouTubeURL(id), model.SourceYouTube, nil
	}

	u, err := url.Parse(locator)
	if err != nil {
		return "", "", fmt.Errorf("parse locator: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("locator has no host: %s", locator)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	// Only the scheme's own default port is redundant.
	switch u.Scheme {
	case "http":
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case "https":
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")

	q := u.Query()
	var keys []string
	for k := range q {
		if trackingParams[k] || strings.HasPrefix(k, "utm_") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vals := q[k]
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	u.RawQuery = b.String()

	return u.String(), model.SourceAudio, nil
}

// ID returns the content identifier for a locator: the sha256 hex digest
// of its normalized form. Deterministic across calls and processes.
func ID(locator string) (string, error) {
	normalized, _, err := Normalize(locator)
	if err != nil {
		return "", err
	}
	return IDForNormalized(normalized), nil
}

// IDForNormalized hashes an already-normalized locator.
func IDForNormalized(normalized string) string {
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h)
}
