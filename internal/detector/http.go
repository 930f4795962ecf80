package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/face-greeter/internal/facematch"
)

const (
	defaultEmbeddingURL = "http://localhost:8000"
	faceEndpoint        = "/embed/face"
	jpegQuality         = 90
)

// HTTPDetector calls an embedding server that detects faces and returns one embedding per face.
type HTTPDetector struct {
	baseURL  string
	client   *http.Client
	minScore float64
}

// HTTPOption configures an HTTPDetector.
type HTTPOption func(*HTTPDetector)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(d *HTTPDetector) { d.client = c }
}

// WithMinScore drops detections whose det_score is below score.
func WithMinScore(score float64) HTTPOption {
	return func(d *HTTPDetector) { d.minScore = score }
}

// NewHTTPDetector creates a detector for the server at baseURL (default http://localhost:8000).
func NewHTTPDetector(baseURL string, timeout time.Duration, opts ...HTTPOption) *HTTPDetector {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	d := &HTTPDetector{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// faceDetection is a single face in the server response.
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// DetectAndEncode JPEG-encodes img and posts it to the face endpoint.
func (d *HTTPDetector) DetectAndEncode(ctx context.Context, img image.Image) ([]Face, error) {
	data, err := EncodeJPEG(img, jpegQuality)
	if err != nil {
		return nil, err
	}
	return d.DetectBytes(ctx, data)
}

// DetectBytes posts already encoded image data, skipping a decode/encode round trip.
func (d *HTTPDetector) DetectBytes(ctx context.Context, data []byte) ([]Face, error) {
	body, err := d.postImage(ctx, faceEndpoint, data)
	if err != nil {
		return nil, err
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	faces := make([]Face, 0, len(resp.Faces))
	for _, det := range resp.Faces {
		if len(det.Embedding) == 0 {
			continue
		}
		if d.minScore > 0 && det.DetScore < d.minScore {
			continue
		}
		box, ok := facematch.BoxFromSlice(det.BBox)
		if !ok {
			return nil, fmt.Errorf("face %d: invalid bbox %v", det.FaceIndex, det.BBox)
		}
		faces = append(faces, Face{Box: box, Embedding: det.Embedding, Score: det.DetScore})
	}
	return faces, nil
}

func (d *HTTPDetector) postImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", http.DetectContentType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}
