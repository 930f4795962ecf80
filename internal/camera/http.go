package camera

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/kozaktomas/face-greeter/internal/detector"
)

// maxSnapshotBytes caps a single snapshot download.
const maxSnapshotBytes = 32 << 20

// HTTPCamera fetches a still image from a snapshot URL on every Capture,
// e.g. mjpg-streamer's "?action=snapshot" or a camera's "/snapshot.jpg".
type HTTPCamera struct {
	url    string
	client *http.Client
}

// NewHTTPCamera creates a snapshot camera.
func NewHTTPCamera(url string, timeout time.Duration) *HTTPCamera {
	return &HTTPCamera{url: url, client: &http.Client{Timeout: timeout}}
}

func (c *HTTPCamera) Capture(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot failed (status %d)", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return detector.DecodeImage(data)
}

func (c *HTTPCamera) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
