// Package detector finds faces in an image and encodes each one as an embedding vector.
package detector

import (
	"context"
	"errors"
	"image"

	"github.com/kozaktomas/face-greeter/internal/facematch"
)

// ErrDlibUnavailable is returned when the binary was built without the dlib tag.
var ErrDlibUnavailable = errors.New("dlib backend not compiled in (rebuild with -tags dlib)")

// Face is one detected face. Box is in the coordinate space of the image passed to the detector.
type Face struct {
	Box       facematch.Box
	Embedding []float32
	Score     float64 // detection confidence when the backend reports one, otherwise 0
}

// Detector locates and encodes faces.
type Detector interface {
	DetectAndEncode(ctx context.Context, img image.Image) ([]Face, error)
}

// Func adapts a plain function to the Detector interface.
type Func func(ctx context.Context, img image.Image) ([]Face, error)

func (f Func) DetectAndEncode(ctx context.Context, img image.Image) ([]Face, error) {
	return f(ctx, img)
}

// Embeddings extracts the embedding of every face, preserving order.
func Embeddings(faces []Face) [][]float32 {
	out := make([][]float32, len(faces))
	for i, f := range faces {
		out[i] = f.Embedding
	}
	return out
}
