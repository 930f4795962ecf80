//go:build !dlib

package detector

import (
	"context"
	"image"
)

// DlibAvailable reports whether the binary was built with the dlib backend.
const DlibAvailable = false

// DlibDetector is a placeholder so callers compile without cgo.
type DlibDetector struct{}

func NewDlibDetector(modelsDir string, cnn bool) (*DlibDetector, error) {
	return nil, ErrDlibUnavailable
}

func (d *DlibDetector) DetectAndEncode(ctx context.Context, img image.Image) ([]Face, error) {
	return nil, ErrDlibUnavailable
}

func (d *DlibDetector) Close() error {
	return nil
}
