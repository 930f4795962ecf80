//go:build dlib

package detector

import (
	"context"
	"fmt"
	"image"
	"sync"

	face "github.com/Kagami/go-face"

	"github.com/kozaktomas/face-greeter/internal/facematch"
)

// DlibAvailable reports whether the binary was built with the dlib backend.
const DlibAvailable = true

// DlibDetector runs dlib's HOG (or CNN) detector and ResNet encoder in process via go-face.
// go-face recognizers are not safe for concurrent use, so calls are serialized.
type DlibDetector struct {
	mu  sync.Mutex
	rec *face.Recognizer
	cnn bool
}

// NewDlibDetector loads the dlib models from modelsDir.
func NewDlibDetector(modelsDir string, cnn bool) (*DlibDetector, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load dlib models from %s: %w", modelsDir, err)
	}
	return &DlibDetector{rec: rec, cnn: cnn}, nil
}

// DetectAndEncode encodes img as JPEG and hands it to dlib.
func (d *DlibDetector) DetectAndEncode(ctx context.Context, img image.Image) ([]Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := EncodeJPEG(img, jpegQuality)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	var found []face.Face
	if d.cnn {
		found, err = d.rec.RecognizeCNN(data)
	} else {
		found, err = d.rec.Recognize(data)
	}
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("dlib recognize: %w", err)
	}

	faces := make([]Face, len(found))
	for i, f := range found {
		r := f.Rectangle
		emb := make([]float32, len(f.Descriptor))
		copy(emb, f.Descriptor[:])
		faces[i] = Face{
			Box:       facematch.Box{X1: float64(r.Min.X), Y1: float64(r.Min.Y), X2: float64(r.Max.X), Y2: float64(r.Max.Y)},
			Embedding: emb,
		}
	}
	return faces, nil
}

// Close frees the dlib models.
func (d *DlibDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rec.Close()
	return nil
}
