package database

import (
	"errors"
	"testing"

	"github.com/kozaktomas/face-greeter/internal/facematch"
)

func TestReferenceIndex_Search(t *testing.T) {
	ids := []*facematch.Identity{
		{Name: "Alice"}, {Name: "Bob"}, {Name: "Carol"}, {Name: "Dave"},
	}
	snap, err := facematch.NewSnapshot([]facematch.Entry{
		{Embedding: []float32{0, 0}, Identity: ids[0]},
		{Embedding: []float32{10, 0}, Identity: ids[1]},
		{Embedding: []float32{0, 10}, Identity: ids[2]},
		{Embedding: []float32{10, 10}, Identity: ids[3]},
	})
	if err != nil {
		t.Fatal(err)
	}

	idx := NewReferenceIndex()
	idx.Build(snap)
	if idx.Len() != 4 {
		t.Fatalf("expected 4 indexed, got %d", idx.Len())
	}

	got, err := idx.Search([]float32{9, 9.5}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 neighbours, got %d", len(got))
	}
	if got[0].Identity.Name != "Dave" || got[0].Index != 3 {
		t.Errorf("expected Dave first, got %+v", got[0])
	}
	if got[0].Distance > got[1].Distance {
		t.Error("neighbours should be ordered by distance")
	}
}

func TestReferenceIndex_Errors(t *testing.T) {
	idx := NewReferenceIndex()
	if _, err := idx.Search([]float32{1}, 1); err == nil {
		t.Error("expected error for unbuilt index")
	}

	idx.Build(facematch.EmptySnapshot())
	if idx.Len() != 0 {
		t.Error("empty snapshot should produce an empty index")
	}

	snap, err := facematch.NewSnapshot([]facematch.Entry{{Embedding: []float32{1, 2}, Identity: &facematch.Identity{Name: "A"}}})
	if err != nil {
		t.Fatal(err)
	}
	idx.Build(snap)
	if _, err := idx.Search([]float32{1, 2, 3}, 1); !errors.Is(err, facematch.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}
