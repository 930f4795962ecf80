package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-greeter/internal/database"
	"github.com/kozaktomas/face-greeter/internal/facematch"
	"github.com/kozaktomas/face-greeter/internal/training"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Build the reference set from labeled images",
	Long: `Detect and encode every face in the training corpus and save the resulting
reference set to the snapshot backend.

The corpus is either a dataset folder (dataset/<name>/*.jpg with an optional
metadata.json per person) or the images stored in the database. Images that
cannot be read or contain no face are skipped and reported.

Examples:
  face-greeter train
  face-greeter train --source database --workers 8
  face-greeter train --dataset ./dataset --json`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().String("source", "", "Corpus source: dataset or database (default from TRAINING_SOURCE)")
	trainCmd.Flags().String("dataset", "", "Dataset directory (default from DATASET_DIR)")
	trainCmd.Flags().Int("workers", 0, "Parallel encoder calls (default from TRAINING_WORKERS)")
	trainCmd.Flags().Bool("no-save", false, "Build without saving the snapshot")
	trainCmd.Flags().Bool("json", false, "Output the report as JSON")
}

// newTrainProgressBar creates a progress bar for the training run, or nil if JSON output.
func newTrainProgressBar(count int, jsonOutput bool) *progressbar.ProgressBar {
	if jsonOutput {
		return nil
	}
	return progressbar.NewOptions(count,
		progressbar.OptionSetDescription("Encoding faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}

// trainProgress lazily creates the bar once the corpus size is known.
type trainProgress struct {
	mu         sync.Mutex
	bar        *progressbar.ProgressBar
	jsonOutput bool
}

func (p *trainProgress) update(progress training.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.jsonOutput {
		return
	}
	if p.bar == nil {
		p.bar = newTrainProgressBar(progress.Total, false)
	}
	_ = p.bar.Set(progress.Done)
}

func (p *trainProgress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
		fmt.Println()
	}
}

func printTrainReport(report training.Report, snap *facematch.Snapshot) {
	fmt.Printf("Samples:    %d\n", report.Samples)
	fmt.Printf("Processed:  %d\n", report.Processed)
	fmt.Printf("No faces:   %d\n", report.NoFaces)
	fmt.Printf("Failed:     %d\n", report.Failed)
	fmt.Printf("Embeddings: %d\n", report.Entries)
	fmt.Printf("Persons:    %d\n", report.Persons)
	fmt.Printf("Duration:   %s\n", report.Duration.Round(time.Millisecond))
	if snap != nil {
		for _, id := range snap.Identities() {
			fmt.Printf("  - %s (age: %s, occupation: %s)\n", id.Name, id.AgeString(), id.OccupationString())
		}
	}
	for _, f := range report.Failures {
		fmt.Printf("  skipped %s: %s\n", f.Source, f.Error)
	}
	if report.Saved {
		fmt.Println("Reference set saved")
	}
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	source := cfg.Training.Source
	if s := mustGetString(cmd, "source"); s != "" {
		source = s
	}
	if dir := mustGetString(cmd, "dataset"); dir != "" {
		cfg.Training.DatasetDir = dir
	}
	if workers := mustGetInt(cmd, "workers"); workers > 0 {
		cfg.Training.Workers = workers
	}
	noSave := mustGetBool(cmd, "no-save")
	jsonOutput := mustGetBool(cmd, "json")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	needDB := source == "database" || (!noSave && cfg.Snapshot.Backend == "database")
	var store database.Store
	if needDB {
		store, err = openStore(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer closeAll(logger, store.Close)
	}

	corpus, err := newCorpus(source, cfg.Training, store)
	if err != nil {
		return err
	}
	det, closeDetector, err := newDetector(cfg.Detector)
	if err != nil {
		return err
	}
	defer closeAll(logger, closeDetector)

	progress := &trainProgress{jsonOutput: jsonOutput}
	opts := []training.Option{
		training.WithLogger(logger.Named("training")),
		training.WithWorkers(cfg.Training.Workers),
		training.WithProgress(progress.update),
	}
	if !noSave {
		repo, err := snapshotRepository(cfg.Snapshot, store)
		if err != nil {
			return err
		}
		opts = append(opts, training.WithRepository(repo))
	}

	if !jsonOutput {
		fmt.Printf("Training from %s...\n", source)
	}
	snap, report, err := training.NewBuilder(corpus, det, facematch.NewStore(), opts...).Build(ctx)
	progress.finish()

	if err != nil && snap == nil {
		if errors.Is(err, context.Canceled) {
			return errors.New("training cancelled, nothing was saved")
		}
		return fmt.Errorf("training failed: %w", err)
	}

	if jsonOutput {
		if outErr := outputJSON(report); outErr != nil {
			return outErr
		}
	} else {
		printTrainReport(report, snap)
	}
	if err != nil {
		logger.Error("reference set built but not saved", zap.Error(err))
		return fmt.Errorf("failed to save reference set: %w", err)
	}
	return nil
}
