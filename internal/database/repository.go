package database

import (
	"context"
	"time"
)

// PersonReader provides read-only access to persons.
type PersonReader interface {
	// GetPerson returns ErrPersonNotFound when id does not exist.
	GetPerson(ctx context.Context, id int64) (*Person, error)
	// FindPersonByName matches on the normalized name (case, diacritics and dashes ignored).
	// Returns ErrPersonNotFound when nobody matches.
	FindPersonByName(ctx context.Context, name string) (*Person, error)
	// ListPersons returns every person ordered by name, with ImageCount populated.
	ListPersons(ctx context.Context) ([]Person, error)
}

// PersonWriter provides write access to persons.
type PersonWriter interface {
	PersonReader

	// GetOrCreatePerson returns the id of the person with this normalized name, inserting a new
	// person when none exists. An existing person is linked as is; occupation and age are not
	// overwritten.
	GetOrCreatePerson(ctx context.Context, name, occupation string, age int) (int64, error)
}

// ImageReader provides read-only access to training images.
type ImageReader interface {
	// ListAllImages returns every image joined with its person, ordered by image id.
	ListAllImages(ctx context.Context) ([]ImageRow, error)
	// CountImages returns the number of stored images.
	CountImages(ctx context.Context) (int, error)
}

// ImageWriter provides write access to training images.
type ImageWriter interface {
	ImageReader

	// AddImage stores one capture for personID and returns the new image id.
	AddImage(ctx context.Context, personID int64, filename string, data []byte, ts time.Time) (int64, error)
}

// SnapshotRepository persists the reference set.
type SnapshotRepository interface {
	// LoadSnapshot returns ErrSnapshotNotFound when nothing has been saved.
	LoadSnapshot(ctx context.Context) (*SnapshotData, error)
	// SaveSnapshot replaces the stored reference set. Data is validated first.
	SaveSnapshot(ctx context.Context, data *SnapshotData) error
}

// Store is a complete persistence backend.
type Store interface {
	PersonWriter
	ImageWriter
	SnapshotRepository

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error
	// ClearAll removes every image, snapshot and person.
	ClearAll(ctx context.Context) error
	Close() error
}
