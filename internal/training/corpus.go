// Package training rebuilds the reference set from a labeled image corpus.
package training

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kozaktomas/face-greeter/internal/database"
	"github.com/kozaktomas/face-greeter/internal/facematch"
)

// ErrCorpusUnavailable is returned when the corpus cannot be enumerated at all.
var ErrCorpusUnavailable = errors.New("training corpus unavailable")

// Sample is one labeled training image. Either Data or Path is set.
type Sample struct {
	Source   string // human-readable origin, used in logs and reports
	Identity *facematch.Identity
	Data     []byte
	Path     string
}

// Read returns the encoded image bytes.
func (s Sample) Read() ([]byte, error) {
	if s.Data != nil {
		return s.Data, nil
	}
	if s.Path == "" {
		return nil, fmt.Errorf("%s: no image data", s.Source)
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Source, err)
	}
	return data, nil
}

// Corpus enumerates training samples in a stable order.
type Corpus interface {
	Samples(ctx context.Context) ([]Sample, error)
}

// DatabaseCorpus trains from images stored in the database.
type DatabaseCorpus struct {
	images database.ImageReader
}

// NewDatabaseCorpus creates a corpus over every stored image.
func NewDatabaseCorpus(images database.ImageReader) *DatabaseCorpus {
	return &DatabaseCorpus{images: images}
}

// Samples returns one sample per image row. Rows of the same person share one identity.
func (c *DatabaseCorpus) Samples(ctx context.Context) ([]Sample, error) {
	rows, err := c.images.ListAllImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}

	identities := make(map[int64]*facematch.Identity)
	samples := make([]Sample, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		id, ok := identities[row.PersonID]
		if !ok {
			id = row.Identity()
			identities[row.PersonID] = id
		}
		samples = append(samples, Sample{
			Source:   fmt.Sprintf("image %d (%s)", row.ImageID, row.Filename),
			Identity: id,
			Data:     row.Data,
		})
	}
	return samples, nil
}
