package camera

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/kozaktomas/face-greeter/internal/detector"
)

// DirCamera replays the images of a directory in lexical order.
type DirCamera struct {
	mu    sync.Mutex
	files []string
	next  int
	loop  bool
}

// NewDirCamera lists the images in dir. With loop set the sequence restarts after the last file,
// otherwise Capture returns ErrExhausted.
func NewDirCamera(dir string, loop bool) (*DirCamera, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read camera directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !detector.IsImageFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images in %s", dir)
	}
	slices.Sort(files)

	return &DirCamera{files: files, loop: loop}, nil
}

func (c *DirCamera) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.next >= len(c.files) {
		if !c.loop {
			c.mu.Unlock()
			return nil, ErrExhausted
		}
		c.next = 0
	}
	path := c.files[c.next]
	c.next++
	c.mu.Unlock()

	data, err := os.ReadFile(path) //nolint:gosec // files come from the configured directory
	if err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	img, err := detector.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// Len returns the number of frames in one pass.
func (c *DirCamera) Len() int {
	return len(c.files)
}

func (c *DirCamera) Close() error {
	return nil
}
