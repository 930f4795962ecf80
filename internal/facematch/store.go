package facematch

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDimensionMismatch is returned when a snapshot would mix embeddings of different lengths.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ErrEmptyEmbedding is returned when a snapshot entry has no embedding values.
var ErrEmptyEmbedding = errors.New("empty embedding")

// Entry pairs one reference embedding with the identity it belongs to.
type Entry struct {
	Embedding []float32
	Identity  *Identity
}

// Snapshot is one immutable, fully formed version of the reference set.
// Entries keep insertion order; the matcher relies on it for tie-breaking.
type Snapshot struct {
	entries []Entry
	dim     int
	version uint64
	builtAt time.Time
}

var emptySnapshot = &Snapshot{}

// EmptySnapshot returns the snapshot with no entries.
func EmptySnapshot() *Snapshot {
	return emptySnapshot
}

// NewSnapshot validates entries and builds a snapshot from a private copy of them.
// All embeddings must share one dimension.
func NewSnapshot(entries []Entry) (*Snapshot, error) {
	snap := &Snapshot{
		entries: make([]Entry, len(entries)),
		builtAt: time.Now(),
	}

	for i, e := range entries {
		if len(e.Embedding) == 0 {
			return nil, fmt.Errorf("entry %d: %w", i, ErrEmptyEmbedding)
		}
		if snap.dim == 0 {
			snap.dim = len(e.Embedding)
		} else if len(e.Embedding) != snap.dim {
			return nil, fmt.Errorf("entry %d has %d values, snapshot has %d: %w",
				i, len(e.Embedding), snap.dim, ErrDimensionMismatch)
		}

		emb := make([]float32, len(e.Embedding))
		copy(emb, e.Embedding)
		snap.entries[i] = Entry{Embedding: emb, Identity: e.Identity}
	}

	return snap, nil
}

// Len returns the number of reference embeddings.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// Dim returns the embedding dimension (0 for an empty snapshot).
func (s *Snapshot) Dim() int {
	return s.dim
}

// Version returns the store version this snapshot was published as (0 if never published).
func (s *Snapshot) Version() uint64 {
	return s.version
}

// BuiltAt returns when the snapshot was constructed.
func (s *Snapshot) BuiltAt() time.Time {
	return s.builtAt
}

// Entry returns the i-th entry. The embedding must not be modified.
func (s *Snapshot) Entry(i int) Entry {
	return s.entries[i]
}

// Entries returns the entries in insertion order. The returned slice must not be modified.
func (s *Snapshot) Entries() []Entry {
	return s.entries
}

// Identities returns the distinct identities in first-seen order.
func (s *Snapshot) Identities() []*Identity {
	seen := make(map[string]struct{})
	var out []*Identity
	for _, e := range s.entries {
		key := e.Identity.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e.Identity)
	}
	return out
}

// Store holds the current snapshot. Load never blocks and always sees a complete snapshot;
// Publish swaps the reference, so a reader keeps whichever snapshot it loaded for as long as
// it needs it.
type Store struct {
	current atomic.Pointer[Snapshot]
	writeMu sync.Mutex // serializes publishers so versions stay monotonic
	version uint64
}

// NewStore creates a store holding the empty snapshot.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(emptySnapshot)
	return s
}

// Load returns the current snapshot. Never nil.
func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

// Publish atomically replaces the current snapshot and returns the version assigned to it.
// A nil snapshot publishes the empty set.
func (s *Store) Publish(snap *Snapshot) uint64 {
	if snap == nil {
		snap = emptySnapshot
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.version++
	published := *snap
	published.version = s.version
	s.current.Store(&published)

	return s.version
}

// Version returns the version of the current snapshot.
func (s *Store) Version() uint64 {
	return s.Load().version
}
