// Package source resolves locators (YouTube URLs, podcast feeds, direct
// audio URLs) into processable source descriptors and acquires their
// audio. Resolution is a pure lookup; callers own caching.
package source

import (
	"fmt"
	"net/http"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ResolutionError reports a locator that could not be resolved: malformed
// input, an unavailable resource, or a network failure after retries.
type ResolutionError struct {
	Locator string
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Locator, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }
