// Package mock provides in-memory implementations of database interfaces for testing.
package mock

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/face-greeter/internal/database"
	"github.com/kozaktomas/face-greeter/internal/facematch"
)

// MockStore is an in-memory database.Store.
type MockStore struct {
	mu       sync.RWMutex
	persons  []database.Person
	images   []database.ImageRow
	snapshot *database.SnapshotData
	nextID   int64
	migrated bool
	closed   bool

	// Error injection
	GetPersonError         error
	FindPersonError        error
	ListPersonsError       error
	GetOrCreatePersonError error
	ListAllImagesError     error
	CountImagesError       error
	AddImageError          error
	LoadSnapshotError      error
	SaveSnapshotError      error
	MigrateError           error
	ClearAllError          error

	// SaveCount is the number of successful SaveSnapshot calls.
	SaveCount int
}

var _ database.Store = (*MockStore)(nil)

// NewMockStore creates an empty store.
func NewMockStore() *MockStore {
	return &MockStore{}
}

func (m *MockStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MockStore) findByKey(name string) int {
	key := facematch.NormalizePersonName(name)
	return slices.IndexFunc(m.persons, func(p database.Person) bool {
		return facematch.NormalizePersonName(p.Name) == key
	})
}

// GetPerson returns a person by id.
func (m *MockStore) GetPerson(ctx context.Context, id int64) (*database.Person, error) {
	if m.GetPersonError != nil {
		return nil, m.GetPersonError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.persons {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, database.ErrPersonNotFound
}

// FindPersonByName returns a person by normalized name.
func (m *MockStore) FindPersonByName(ctx context.Context, name string) (*database.Person, error) {
	if m.FindPersonError != nil {
		return nil, m.FindPersonError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.findByKey(name); i >= 0 {
		p := m.persons[i]
		return &p, nil
	}
	return nil, database.ErrPersonNotFound
}

// ListPersons returns all persons ordered by name with image counts.
func (m *MockStore) ListPersons(ctx context.Context) ([]database.Person, error) {
	if m.ListPersonsError != nil {
		return nil, m.ListPersonsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := slices.Clone(m.persons)
	for i := range out {
		for _, img := range m.images {
			if img.PersonID == out[i].ID {
				out[i].ImageCount++
			}
		}
	}
	slices.SortFunc(out, func(a, b database.Person) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// GetOrCreatePerson links to an existing person or inserts a new one.
func (m *MockStore) GetOrCreatePerson(ctx context.Context, name, occupation string, age int) (int64, error) {
	if m.GetOrCreatePersonError != nil {
		return 0, m.GetOrCreatePersonError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.findByKey(name); i >= 0 {
		return m.persons[i].ID, nil
	}
	p := database.Person{ID: m.id(), Name: name, Occupation: occupation, Age: age, CreatedAt: time.Now()}
	m.persons = append(m.persons, p)
	return p.ID, nil
}

// AddImage stores an image for an existing person.
func (m *MockStore) AddImage(ctx context.Context, personID int64, filename string, data []byte, ts time.Time) (int64, error) {
	if m.AddImageError != nil {
		return 0, m.AddImageError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	i := slices.IndexFunc(m.persons, func(p database.Person) bool { return p.ID == personID })
	if i < 0 {
		return 0, database.ErrPersonNotFound
	}
	p := m.persons[i]
	row := database.ImageRow{
		ImageID:    m.id(),
		PersonID:   personID,
		Filename:   filename,
		Data:       slices.Clone(data),
		Timestamp:  ts,
		Name:       p.Name,
		Occupation: p.Occupation,
		Age:        p.Age,
	}
	m.images = append(m.images, row)
	return row.ImageID, nil
}

// ListAllImages returns all images in insertion order.
func (m *MockStore) ListAllImages(ctx context.Context) ([]database.ImageRow, error) {
	if m.ListAllImagesError != nil {
		return nil, m.ListAllImagesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.images), nil
}

// CountImages returns the number of images.
func (m *MockStore) CountImages(ctx context.Context) (int, error) {
	if m.CountImagesError != nil {
		return 0, m.CountImagesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.images), nil
}

// LoadSnapshot returns the last saved snapshot.
func (m *MockStore) LoadSnapshot(ctx context.Context) (*database.SnapshotData, error) {
	if m.LoadSnapshotError != nil {
		return nil, m.LoadSnapshotError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snapshot == nil {
		return nil, database.ErrSnapshotNotFound
	}
	d := *m.snapshot
	return &d, nil
}

// SaveSnapshot validates and stores data.
func (m *MockStore) SaveSnapshot(ctx context.Context, data *database.SnapshotData) error {
	if m.SaveSnapshotError != nil {
		return m.SaveSnapshotError
	}
	if err := data.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d := *data
	m.snapshot = &d
	m.SaveCount++
	return nil
}

// Migrate marks the store as migrated.
func (m *MockStore) Migrate(ctx context.Context) error {
	if m.MigrateError != nil {
		return m.MigrateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.migrated = true
	return nil
}

// Migrated reports whether Migrate was called successfully.
func (m *MockStore) Migrated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.migrated
}

// ClearAll removes everything.
func (m *MockStore) ClearAll(ctx context.Context) error {
	if m.ClearAllError != nil {
		return m.ClearAllError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persons = nil
	m.images = nil
	m.snapshot = nil
	return nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockStore) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
