package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-greeter/internal/database"
	"github.com/kozaktomas/face-greeter/internal/facematch"
	"github.com/kozaktomas/face-greeter/internal/logging"
)

// SnapshotReloader publishes the persisted reference set into a live store.
type SnapshotReloader struct {
	repo   database.SnapshotRepository
	store  *facematch.Store
	logger *zap.Logger
}

// NewSnapshotReloader creates a reloader. A nil logger disables logging.
func NewSnapshotReloader(repo database.SnapshotRepository, store *facematch.Store, logger *zap.Logger) *SnapshotReloader {
	return &SnapshotReloader{repo: repo, store: store, logger: logging.OrNop(logger)}
}

// Reload loads and publishes the saved snapshot. A missing snapshot publishes nothing and
// returns database.ErrSnapshotNotFound; an invalid one keeps the current set.
func (r *SnapshotReloader) Reload(ctx context.Context) (uint64, error) {
	data, err := r.repo.LoadSnapshot(ctx)
	if err != nil {
		return 0, err
	}
	snap, err := data.ToSnapshot()
	if err != nil {
		return 0, fmt.Errorf("invalid snapshot: %w", err)
	}

	version := r.store.Publish(snap)
	r.logger.Info("reference set loaded",
		zap.Uint64("version", version),
		zap.Int("entries", snap.Len()),
		zap.Int("persons", len(snap.Identities())),
	)
	return version, nil
}

// OnChange adapts Reload to a watcher callback, logging failures.
func (r *SnapshotReloader) OnChange(ctx context.Context) {
	if _, err := r.Reload(ctx); err != nil && ctx.Err() == nil {
		if errors.Is(err, database.ErrSnapshotNotFound) {
			r.logger.Warn("snapshot file removed, keeping current reference set")
			return
		}
		r.logger.Error("failed to reload snapshot, keeping current reference set", zap.Error(err))
	}
}

// ForFile returns a watcher that reloads when the snapshot file at path is replaced.
func (r *SnapshotReloader) ForFile(path string, opts ...Option) *Watcher {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	name := filepath.Base(abs)
	match := func(p string) bool { return filepath.Base(p) == name }
	return New([]string{filepath.Dir(abs)}, match, r.OnChange, opts...)
}
