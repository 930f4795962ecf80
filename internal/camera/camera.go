// Package camera provides frame sources for the recognition loop.
package camera

import (
	"context"
	"errors"
	"image"
)

// ErrExhausted is returned by finite sources once every frame has been delivered.
var ErrExhausted = errors.New("camera: no more frames")

// Camera delivers one full-resolution frame per Capture call.
type Camera interface {
	Capture(ctx context.Context) (image.Image, error)
	Close() error
}
