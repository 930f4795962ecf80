package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileSnapshotStore keeps the reference set in a single gob or JSON file.
type FileSnapshotStore struct {
	path   string
	format string
}

// NewFileSnapshotStore creates a file store. Format is "gob" or "json"; empty picks it from the
// file extension (".json" is JSON, anything else gob).
func NewFileSnapshotStore(path, format string) (*FileSnapshotStore, error) {
	if path == "" {
		return nil, errors.New("snapshot path is required")
	}
	if format == "" {
		format = FormatGob
		if strings.EqualFold(filepath.Ext(path), ".json") {
			format = FormatJSON
		}
	}
	if format != FormatGob && format != FormatJSON {
		return nil, fmt.Errorf("unknown snapshot format %q", format)
	}
	return &FileSnapshotStore{path: path, format: format}, nil
}

// Path returns the snapshot file location.
func (s *FileSnapshotStore) Path() string {
	return s.path
}

func (s *FileSnapshotStore) LoadSnapshot(_ context.Context) (*SnapshotData, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	data, err := UnmarshalSnapshot(raw, s.format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return data, nil
}

// SaveSnapshot writes to a temporary file in the same directory and renames it over the old
// one, so a concurrent reader (or file watcher) never sees a half-written snapshot.
func (s *FileSnapshotStore) SaveSnapshot(_ context.Context, data *SnapshotData) error {
	raw, err := MarshalSnapshot(data, s.format)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Chmod(snapshotFileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set snapshot permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}
