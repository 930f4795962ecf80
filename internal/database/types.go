package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-greeter/internal/facematch"
)

var (
	// ErrSnapshotNotFound is returned when no reference set has been saved yet.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrInvalidSnapshotData is returned when the parallel arrays of a snapshot disagree.
	ErrInvalidSnapshotData = errors.New("invalid snapshot data")

	// ErrPersonNotFound is returned by lookups of a person that does not exist.
	ErrPersonNotFound = errors.New("person not found")
)

// Person is a known individual. Persons are unique by normalized name.
type Person struct {
	ID         int64
	Name       string
	Occupation string // empty when unknown
	Age        int    // 0 when unknown
	CreatedAt  time.Time
	ImageCount int // populated by ListPersons
}

// Identity converts the record into the identity attached to reference embeddings.
func (p *Person) Identity() *facematch.Identity {
	return &facematch.Identity{PersonID: p.ID, Name: p.Name, Age: p.Age, Occupation: p.Occupation}
}

// ImageRow is one stored training image joined with its person.
type ImageRow struct {
	ImageID    int64
	PersonID   int64
	Filename   string
	Data       []byte
	Timestamp  time.Time
	Name       string
	Occupation string
	Age        int
}

// Identity returns the identity of the person the image belongs to.
func (r *ImageRow) Identity() *facematch.Identity {
	return &facematch.Identity{PersonID: r.PersonID, Name: r.Name, Age: r.Age, Occupation: r.Occupation}
}

// SnapshotData is the serialized reference set. Index i of every array describes the same
// training sample.
type SnapshotData struct {
	Version     int         `json:"version"`
	BuiltAt     time.Time   `json:"built_at"`
	Encodings   [][]float32 `json:"encodings"`
	Names       []string    `json:"names"`
	Ages        []int       `json:"ages"`
	Occupations []string    `json:"occupations"`
	PersonIDs   []int64     `json:"person_ids,omitempty"` // optional, only when trained from the database
}

const currentSnapshotVersion = 1

// Len returns the number of samples.
func (d *SnapshotData) Len() int {
	return len(d.Encodings)
}

// Validate checks that every array is aligned with Encodings and that all encodings share one
// dimension.
func (d *SnapshotData) Validate() error {
	n := len(d.Encodings)
	if len(d.Names) != n || len(d.Ages) != n || len(d.Occupations) != n {
		return fmt.Errorf("%w: %d encodings, %d names, %d ages, %d occupations",
			ErrInvalidSnapshotData, n, len(d.Names), len(d.Ages), len(d.Occupations))
	}
	if d.PersonIDs != nil && len(d.PersonIDs) != n {
		return fmt.Errorf("%w: %d encodings, %d person ids", ErrInvalidSnapshotData, n, len(d.PersonIDs))
	}
	for i, e := range d.Encodings {
		if len(e) == 0 {
			return fmt.Errorf("%w: encoding %d is empty", ErrInvalidSnapshotData, i)
		}
		if len(e) != len(d.Encodings[0]) {
			return fmt.Errorf("%w: encoding %d has %d values, expected %d",
				ErrInvalidSnapshotData, i, len(e), len(d.Encodings[0]))
		}
	}
	return nil
}

// ToSnapshot validates the data and builds an in-memory snapshot. Samples of the same person
// (same person id, or same normalized name when ids are absent) share one Identity.
func (d *SnapshotData) ToSnapshot() (*facematch.Snapshot, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	identities := make(map[string]*facematch.Identity)
	entries := make([]facematch.Entry, len(d.Encodings))
	for i := range d.Encodings {
		id := &facematch.Identity{Name: d.Names[i], Age: d.Ages[i], Occupation: d.Occupations[i]}
		if d.PersonIDs != nil {
			id.PersonID = d.PersonIDs[i]
		}

		key := fmt.Sprintf("%d/%s", id.PersonID, id.Key())
		if shared, ok := identities[key]; ok {
			id = shared
		} else {
			identities[key] = id
		}
		entries[i] = facematch.Entry{Embedding: d.Encodings[i], Identity: id}
	}

	snap, err := facematch.NewSnapshot(entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshotData, err)
	}
	return snap, nil
}

// FromSnapshot flattens a snapshot into parallel arrays.
func FromSnapshot(snap *facematch.Snapshot) *SnapshotData {
	n := snap.Len()
	d := &SnapshotData{
		Version:     currentSnapshotVersion,
		BuiltAt:     snap.BuiltAt(),
		Encodings:   make([][]float32, n),
		Names:       make([]string, n),
		Ages:        make([]int, n),
		Occupations: make([]string, n),
		PersonIDs:   make([]int64, n),
	}

	hasIDs := false
	for i, e := range snap.Entries() {
		d.Encodings[i] = e.Embedding
		if e.Identity == nil {
			continue
		}
		d.Names[i] = e.Identity.Name
		d.Ages[i] = e.Identity.Age
		d.Occupations[i] = e.Identity.Occupation
		d.PersonIDs[i] = e.Identity.PersonID
		if e.Identity.PersonID != 0 {
			hasIDs = true
		}
	}
	if !hasIDs {
		d.PersonIDs = nil
	}
	return d
}
