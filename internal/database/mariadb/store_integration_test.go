//go:build integration

package mariadb

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/face-greeter/internal/config"
	"github.com/kozaktomas/face-greeter/internal/database"
)

func setupTestContainer(t *testing.T) (*Store, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "mariadb:11",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MARIADB_ROOT_PASSWORD": "test",
			"MARIADB_DATABASE":      "face_recognition_db",
		},
		WaitingFor: wait.ForListeningPort("3306/tcp").WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "3306")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := config.DatabaseConfig{
		MariaDBDSN:   fmt.Sprintf("root:test@tcp(%s:%s)/face_recognition_db", host, port.Port()),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	// The port opens before the server accepts logins.
	var store *Store
	for range 30 {
		store, err = Open(ctx, cfg, nil)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to open store: %v", err)
	}

	return store, func() {
		store.Close()
		container.Terminate(ctx)
	}
}

func TestStore(t *testing.T) {
	store, cleanup := setupTestContainer(t)
	if store == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	id, err := store.GetOrCreatePerson(ctx, "Alice", "Engineer", 30)
	if err != nil {
		t.Fatalf("Failed to create person: %v", err)
	}
	again, err := store.GetOrCreatePerson(ctx, "ALICE", "", 0)
	if err != nil || again != id {
		t.Fatalf("Expected existing person %d, got %d (%v)", id, again, err)
	}

	if _, err := store.AddImage(ctx, id, "Alice_1.jpg", []byte{1, 2, 3}, time.Now()); err != nil {
		t.Fatalf("Failed to add image: %v", err)
	}
	if _, err := store.AddImage(ctx, 9999, "ghost.jpg", []byte{1}, time.Now()); !errors.Is(err, database.ErrPersonNotFound) {
		t.Errorf("Expected ErrPersonNotFound, got %v", err)
	}

	images, err := store.ListAllImages(ctx)
	if err != nil || len(images) != 1 || images[0].Occupation != "Engineer" {
		t.Fatalf("Unexpected images %+v (%v)", images, err)
	}

	persons, err := store.ListPersons(ctx)
	if err != nil || len(persons) != 1 || persons[0].ImageCount != 1 {
		t.Fatalf("Unexpected persons %+v (%v)", persons, err)
	}

	if _, err := store.LoadSnapshot(ctx); !errors.Is(err, database.ErrSnapshotNotFound) {
		t.Errorf("Expected ErrSnapshotNotFound, got %v", err)
	}
	snap := &database.SnapshotData{
		Encodings:   [][]float32{{0.1, 0.2}},
		Names:       []string{"Alice"},
		Ages:        []int{30},
		Occupations: []string{"Engineer"},
		PersonIDs:   []int64{id},
	}
	for range 2 {
		if err := store.SaveSnapshot(ctx, snap); err != nil {
			t.Fatalf("Failed to save snapshot: %v", err)
		}
	}
	got, err := store.LoadSnapshot(ctx)
	if err != nil || got.Len() != 1 || got.PersonIDs[0] != id {
		t.Fatalf("Unexpected snapshot %+v (%v)", got, err)
	}

	if err := store.ClearAll(ctx); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}
	if n, _ := store.CountImages(ctx); n != 0 {
		t.Errorf("Expected no images after clear, got %d", n)
	}
	if _, err := store.LoadSnapshot(ctx); !errors.Is(err, database.ErrSnapshotNotFound) {
		t.Errorf("Expected snapshot cleared, got %v", err)
	}
}
