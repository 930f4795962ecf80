package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileSnapshotStore_RoundTrip(t *testing.T) {
	for _, format := range []string{"gob", "json"} {
		t.Run(format, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "encodings."+format)
			store, err := NewFileSnapshotStore(path, format)
			if err != nil {
				t.Fatal(err)
			}
			ctx := context.Background()

			if err := store.SaveSnapshot(ctx, sampleData()); err != nil {
				t.Fatalf("SaveSnapshot: %v", err)
			}
			loaded, err := store.LoadSnapshot(ctx)
			if err != nil {
				t.Fatalf("LoadSnapshot: %v", err)
			}

			want := sampleData()
			if loaded.Len() != want.Len() {
				t.Fatalf("expected %d samples, got %d", want.Len(), loaded.Len())
			}
			for i := range want.Encodings {
				if loaded.Names[i] != want.Names[i] || loaded.Ages[i] != want.Ages[i] ||
					loaded.Occupations[i] != want.Occupations[i] {
					t.Errorf("sample %d differs: %s/%d/%s", i, loaded.Names[i], loaded.Ages[i], loaded.Occupations[i])
				}
				for j := range want.Encodings[i] {
					if loaded.Encodings[i][j] != want.Encodings[i][j] {
						t.Errorf("encoding %d differs", i)
					}
				}
			}
			if loaded.Version != currentSnapshotVersion {
				t.Errorf("expected version %d, got %d", currentSnapshotVersion, loaded.Version)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatal(err)
			}
			if info.Mode().Perm() != snapshotFileMode {
				t.Errorf("unexpected file mode %v", info.Mode().Perm())
			}
		})
	}
}

func TestFileSnapshotStore_Missing(t *testing.T) {
	store, err := NewFileSnapshotStore(filepath.Join(t.TempDir(), "none.gob"), "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.LoadSnapshot(context.Background()); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestFileSnapshotStore_RejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileSnapshotStore(filepath.Join(dir, "encodings.json"), "")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	bad := sampleData()
	bad.Ages = bad.Ages[:1]
	if err := store.SaveSnapshot(ctx, bad); !errors.Is(err, ErrInvalidSnapshotData) {
		t.Errorf("expected ErrInvalidSnapshotData on save, got %v", err)
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Error("invalid data must not create a file")
	}

	// A misaligned file written by something else is rejected on load.
	misaligned := `{"encodings":[[1,2]],"names":["a","b"],"ages":[1],"occupations":["x"]}`
	if err := os.WriteFile(store.Path(), []byte(misaligned), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := store.LoadSnapshot(ctx); !errors.Is(err, ErrInvalidSnapshotData) {
		t.Errorf("expected ErrInvalidSnapshotData on load, got %v", err)
	}

	if err := os.WriteFile(store.Path(), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := store.LoadSnapshot(ctx); err == nil {
		t.Error("expected decode error")
	}
}

func TestFileSnapshotStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileSnapshotStore(filepath.Join(dir, "encodings.gob"), "gob")
	if err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if err := store.SaveSnapshot(context.Background(), sampleData()); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("expected only the snapshot file, found %v", names)
	}
}

func TestNewFileSnapshotStore(t *testing.T) {
	tests := []struct {
		path, format, want string
		wantErr            bool
	}{
		{"a.gob", "", "gob", false},
		{"a.JSON", "", "json", false},
		{"a.pickle", "", "gob", false},
		{"a.bin", "json", "json", false},
		{"a.bin", "yaml", "", true},
		{"", "gob", "", true},
	}

	for _, tt := range tests {
		store, err := NewFileSnapshotStore(tt.path, tt.format)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s/%s: expected error", tt.path, tt.format)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s/%s: unexpected error %v", tt.path, tt.format, err)
			continue
		}
		if store.format != tt.want {
			t.Errorf("%s/%s: format %s, want %s", tt.path, tt.format, store.format, tt.want)
		}
	}
}
