// Package snapshot fetches webcam still images at their trigger points.
// Streaming pipelines are outside this agent; the only contract here is
// "give me the latest JPEG".
package snapshot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Source produces the latest webcam frame.
type Source interface {
	Configured() bool
	Capture(ctx context.Context) ([]byte, error)
}

// HTTPSource fetches frames from a snapshot URL.
type HTTPSource struct {
	url    string
	client *http.Client
}

func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

// Configured reports whether a snapshot URL was set.
func (s *HTTPSource) Configured() bool {
	return s.url != ""
}

func (s *HTTPSource) Capture(ctx context.Context) ([]byte, error) {
	if s.url == "" {
		return nil, fmt.Errorf("snapshot url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot fetch: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
