package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kozaktomas/face-greeter/internal/database"
)

func TestMockStore_GetOrCreatePerson(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	id1, err := m.GetOrCreatePerson(ctx, "Jan Novák", "Baker", 40)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := m.GetOrCreatePerson(ctx, "jan-novak", "Pilot", 12)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("normalized duplicate should link to the same person: %d vs %d", id1, id2)
	}

	p, err := m.GetPerson(ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if p.Occupation != "Baker" || p.Age != 40 {
		t.Errorf("existing person must not be overwritten: %+v", p)
	}
}

func TestMockStore_ImagesAndSnapshot(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	if _, err := m.AddImage(ctx, 99, "x.jpg", nil, time.Now()); !errors.Is(err, database.ErrPersonNotFound) {
		t.Errorf("expected ErrPersonNotFound, got %v", err)
	}

	id, _ := m.GetOrCreatePerson(ctx, "Alice", "", 0)
	if _, err := m.AddImage(ctx, id, "a.jpg", []byte{1, 2}, time.Now()); err != nil {
		t.Fatal(err)
	}
	rows, err := m.ListAllImages(ctx)
	if err != nil || len(rows) != 1 || rows[0].Name != "Alice" {
		t.Fatalf("unexpected rows %v (%v)", rows, err)
	}
	persons, _ := m.ListPersons(ctx)
	if persons[0].ImageCount != 1 {
		t.Errorf("expected image count 1, got %d", persons[0].ImageCount)
	}

	if _, err := m.LoadSnapshot(ctx); !errors.Is(err, database.ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}
	data := &database.SnapshotData{Encodings: [][]float32{{1}}, Names: []string{"Alice"}, Ages: []int{0}, Occupations: []string{""}}
	if err := m.SaveSnapshot(ctx, data); err != nil {
		t.Fatal(err)
	}
	if m.SaveCount != 1 {
		t.Errorf("expected 1 save, got %d", m.SaveCount)
	}

	if err := m.ClearAll(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := m.CountImages(ctx); n != 0 {
		t.Errorf("expected no images after clear, got %d", n)
	}
}

func TestMockStore_ErrorInjection(t *testing.T) {
	m := NewMockStore()
	boom := errors.New("connection refused")
	m.ListAllImagesError = boom

	if _, err := m.ListAllImages(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected injected error, got %v", err)
	}
}
