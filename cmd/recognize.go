package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-greeter/internal/announce"
	"github.com/kozaktomas/face-greeter/internal/config"
	"github.com/kozaktomas/face-greeter/internal/constants"
	"github.com/kozaktomas/face-greeter/internal/database"
	"github.com/kozaktomas/face-greeter/internal/detector"
	"github.com/kozaktomas/face-greeter/internal/facematch"
	"github.com/kozaktomas/face-greeter/internal/recognition"
	"github.com/kozaktomas/face-greeter/internal/training"
	"github.com/kozaktomas/face-greeter/internal/watcher"
	"github.com/kozaktomas/face-greeter/internal/web"
	"github.com/kozaktomas/face-greeter/internal/web/handlers"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize",
	Short: "Run live recognition and greet known people",
	Long: `Capture frames from the camera, recognize every face against the saved
reference set, and announce each newly seen known person.

The reference set is loaded from the snapshot backend at startup. With
SNAPSHOT_WATCH it is reloaded whenever the snapshot file is replaced, and with
WATCH_DATASET the reference set is rebuilt whenever the dataset folder changes.
The status API listens on WEB_PORT unless --no-web is given.

Examples:
  face-greeter recognize
  face-greeter recognize --camera-dir ./samples --speaker log --no-web`,
	Args: cobra.NoArgs,
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().Float64("threshold", 0, "Override the match distance threshold")
	recognizeCmd.Flags().String("camera-dir", "", "Replay images from a directory instead of the camera")
	recognizeCmd.Flags().String("speaker", "", "Override the speaker (espeak, mqtt, log, none)")
	recognizeCmd.Flags().Bool("no-web", false, "Do not start the status API")
}

// applyRecognizeFlags overrides config values with explicitly set flags.
func applyRecognizeFlags(cmd *cobra.Command, cfg *config.Config) {
	if threshold := mustGetFloat64(cmd, "threshold"); threshold > 0 {
		cfg.Recognition.Threshold = threshold
	}
	if dir := mustGetString(cmd, "camera-dir"); dir != "" {
		cfg.Camera.Source = "dir"
		cfg.Camera.Dir = dir
	}
	if speaker := mustGetString(cmd, "speaker"); speaker != "" {
		cfg.Announce.Speaker = speaker
	}
	if mustGetBool(cmd, "no-web") {
		cfg.Web.Port = 0
	}
}

// loadReferences publishes the saved reference set into refs. A missing snapshot leaves refs empty.
func loadReferences(ctx context.Context, reloader *watcher.SnapshotReloader, logger *zap.Logger) error {
	if _, err := reloader.Reload(ctx); err != nil {
		if errors.Is(err, database.ErrSnapshotNotFound) {
			logger.Warn("no saved reference set, every face is unknown until training runs")
			return nil
		}
		return fmt.Errorf("failed to load reference set: %w", err)
	}
	return nil
}

// datasetWatcher rebuilds the reference set whenever an image or metadata file under the dataset
// directory changes.
func datasetWatcher(cfg *config.Config, builder *training.Builder, logger *zap.Logger) *watcher.Watcher {
	match := func(path string) bool {
		return detector.IsImageFile(path) || filepath.Base(path) == constants.MetadataFileName
	}
	rebuild := func(ctx context.Context) {
		_, report, err := builder.Build(ctx)
		switch {
		case errors.Is(err, training.ErrBuildRunning):
			logger.Info("dataset changed during a running build, skipping")
		case err != nil && ctx.Err() == nil:
			logger.Error("dataset rebuild failed", zap.Error(err))
		case err == nil:
			logger.Info("dataset rebuilt", zap.Int("entries", report.Entries), zap.Uint64("version", report.Version))
		}
	}
	return watcher.New([]string{cfg.Training.DatasetDir}, match, rebuild,
		watcher.WithRecursive(), watcher.WithLogger(logger.Named("dataset")))
}

func runRecognize(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	applyRecognizeFlags(cmd, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openOptionalStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer closeAll(logger, store.Close)
	}

	repo, err := snapshotRepository(cfg.Snapshot, store)
	if err != nil {
		return err
	}
	refs := facematch.NewStore()
	reloader := watcher.NewSnapshotReloader(repo, refs, logger.Named("snapshot"))
	if err := loadReferences(ctx, reloader, logger); err != nil {
		return err
	}

	det, closeDetector, err := newDetector(cfg.Detector)
	if err != nil {
		return err
	}
	defer closeAll(logger, closeDetector)

	cam, err := newCamera(cfg.Camera)
	if err != nil {
		return err
	}
	defer closeAll(logger, cam.Close)

	speaker, closeSpeaker, err := newSpeaker(ctx, cfg, logger.Named("speaker"))
	if err != nil {
		return err
	}
	defer closeAll(logger, closeSpeaker)

	debouncer := announce.NewDebouncer(speaker,
		announce.WithLogger(logger.Named("announce")),
		announce.WithTemplate(cfg.Announce.Template),
	)
	processor := recognition.NewProcessor(det, refs, facematch.NewMatcher(cfg.Recognition.Threshold),
		recognition.WithLogger(logger.Named("recognition")),
		recognition.WithNotifier(recognition.NotifierFunc(func(id *facematch.Identity) { debouncer.Notify(id) })),
		recognition.WithScale(cfg.Recognition.Scale),
		recognition.WithFrameTimeout(cfg.Recognition.FrameTimeout),
		recognition.WithMaxFPS(cfg.Recognition.MaxFPS),
	)

	corpus, corpusErr := newCorpus(cfg.Training.Source, cfg.Training, store)
	newBuilder := func(opts ...training.Option) *training.Builder {
		opts = append([]training.Option{
			training.WithLogger(logger.Named("training")),
			training.WithWorkers(cfg.Training.Workers),
			training.WithRepository(repo),
		}, opts...)
		return training.NewBuilder(corpus, det, refs, opts...)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return debouncer.Run(gctx) })
	g.Go(func() error {
		// A finite camera ends the whole run.
		defer cancel()
		return processor.Run(gctx, cam)
	})

	if cfg.Snapshot.Watch {
		if fileRepo, ok := repo.(*database.FileSnapshotStore); ok {
			w := reloader.ForFile(fileRepo.Path(), watcher.WithLogger(logger.Named("snapshot")))
			g.Go(func() error { return w.Run(gctx) })
		} else {
			logger.Warn("snapshot watching only applies to the file backend")
		}
	}

	if cfg.Training.WatchDataset && cfg.Training.Source == "dataset" && corpusErr == nil {
		w := datasetWatcher(cfg, newBuilder(), logger)
		g.Go(func() error { return w.Run(gctx) })
	}

	if cfg.Web.Port > 0 {
		deps := web.Deps{
			Store:       refs,
			Processor:   processor,
			Announcer:   debouncer,
			TrainSource: cfg.Training.Source,
		}
		if store != nil {
			deps.Persons = store
			deps.Images = store
		}
		if corpusErr == nil {
			deps.Trainer = func(progress func(training.Progress)) handlers.Trainer {
				return newBuilder(training.WithProgress(progress))
			}
		}
		server := web.NewServer(cfg.Web, deps, logger)
		g.Go(func() error { return server.Run(gctx) })
	}

	logger.Info("recognition started",
		zap.String("camera", cfg.Camera.Source),
		zap.String("detector", cfg.Detector.Backend),
		zap.String("speaker", cfg.Announce.Speaker),
		zap.Int("references", refs.Load().Len()),
		zap.Float64("threshold", cfg.Recognition.Threshold),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	stats := processor.Stats()
	logger.Info("recognition stopped",
		zap.Uint64("frames", stats.Frames),
		zap.Uint64("dropped", stats.Dropped),
		zap.Uint64("recognized", stats.Recognized),
		zap.Uint64("announced", debouncer.Spoken()),
	)
	return nil
}
