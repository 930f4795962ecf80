package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-greeter/internal/announce"
	"github.com/kozaktomas/face-greeter/internal/camera"
	"github.com/kozaktomas/face-greeter/internal/config"
	"github.com/kozaktomas/face-greeter/internal/database"
	"github.com/kozaktomas/face-greeter/internal/database/mariadb"
	"github.com/kozaktomas/face-greeter/internal/database/postgres"
	"github.com/kozaktomas/face-greeter/internal/detector"
	"github.com/kozaktomas/face-greeter/internal/logging"
	"github.com/kozaktomas/face-greeter/internal/training"
)

const cameraTimeout = 10 * time.Second

var errNoDatabase = errors.New("no database configured (set DATABASE_BACKEND to mariadb or postgres)")

// nopClose is returned by constructors whose result needs no cleanup.
func nopClose() error { return nil }

// loadConfig reads the config file and environment, applies --debug and validates the result.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, nil, err
	}
	if debugFlag {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

// newDetector creates the configured face detector and encoder.
func newDetector(cfg config.DetectorConfig) (detector.Detector, func() error, error) {
	switch cfg.Backend {
	case "", "http":
		return detector.NewHTTPDetector(cfg.URL, cfg.Timeout), nopClose, nil
	case "dlib":
		d, err := detector.NewDlibDetector(cfg.ModelsDir, cfg.CNN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load dlib models: %w", err)
		}
		return d, d.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown detector backend %q", cfg.Backend)
	}
}

// newCamera creates the configured frame source.
func newCamera(cfg config.CameraConfig) (camera.Camera, error) {
	switch cfg.Source {
	case "", "http":
		return camera.NewHTTPCamera(cfg.URL, cameraTimeout), nil
	case "dir":
		return camera.NewDirCamera(cfg.Dir, cfg.Loop)
	default:
		return nil, fmt.Errorf("unknown camera source %q", cfg.Source)
	}
}

// newSpeaker creates the configured announcement output.
func newSpeaker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (announce.Speaker, func() error, error) {
	switch cfg.Announce.Speaker {
	case "espeak":
		return announce.NewEspeakSpeaker(cfg.Announce.EspeakBinary, cfg.Announce.Voice, cfg.Announce.Rate), nopClose, nil
	case "mqtt":
		s := announce.NewMQTTSpeaker(cfg.MQTT, logger)
		if err := s.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "log":
		return announce.NewLogSpeaker(logger), nopClose, nil
	case "none", "":
		return announce.Silent, nopClose, nil
	default:
		return nil, nil, fmt.Errorf("unknown speaker %q", cfg.Announce.Speaker)
	}
}

// openStore connects to the configured database and runs migrations. It returns errNoDatabase
// when no backend is configured.
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (database.Store, error) {
	switch cfg.Backend {
	case "":
		return nil, errNoDatabase
	case "mariadb":
		if cfg.MariaDBDSN == "" {
			return nil, errors.New("MARIADB_DSN environment variable is required")
		}
		store, err := mariadb.Open(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open MariaDB: %w", err)
		}
		return store, nil
	case "postgres":
		if cfg.URL == "" {
			return nil, errors.New("DATABASE_URL environment variable is required")
		}
		store, err := postgres.Open(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open PostgreSQL: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.Backend)
	}
}

// openOptionalStore is openStore that treats a missing backend as "no database".
func openOptionalStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (database.Store, error) {
	store, err := openStore(ctx, cfg, logger)
	if errors.Is(err, errNoDatabase) {
		return nil, nil
	}
	return store, err
}

// snapshotRepository returns where the reference set is persisted.
func snapshotRepository(cfg config.SnapshotConfig, store database.Store) (database.SnapshotRepository, error) {
	switch cfg.Backend {
	case "", "file":
		return database.NewFileSnapshotStore(cfg.Path, cfg.Format)
	case "database":
		if store == nil {
			return nil, errNoDatabase
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}

// newCorpus returns the labeled images training reads from.
func newCorpus(source string, cfg config.TrainingConfig, store database.Store) (training.Corpus, error) {
	switch source {
	case "", "dataset":
		return training.NewDataset(cfg.DatasetDir), nil
	case "database":
		if store == nil {
			return nil, errNoDatabase
		}
		return training.NewDatabaseCorpus(store), nil
	default:
		return nil, fmt.Errorf("unknown training source %q", source)
	}
}

// closeAll runs every close function and logs failures.
func closeAll(logger *zap.Logger, closers ...func() error) {
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}
}
