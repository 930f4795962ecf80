package cmd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-greeter/internal/camera"
	"github.com/kozaktomas/face-greeter/internal/config"
	"github.com/kozaktomas/face-greeter/internal/database"
	"github.com/kozaktomas/face-greeter/internal/detector"
	"github.com/kozaktomas/face-greeter/internal/training"
)

const captureJPEGQuality = 90

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Register a person and capture training images",
	Long: `Capture images of a person from the camera (or import image files) and store
them as training data.

Images are written to the dataset folder as <name>_<YYYYmmdd_HHMMSS>.jpg with
an entry in the person's metadata.json, and, when a database is configured,
stored as images of the person (created on first use, matched by name
ignoring case and accents).

Examples:
  face-greeter capture --name "Alice" --occupation Engineer --age 30 --count 5
  face-greeter capture --name "Bob" --to database photo1.jpg photo2.jpg`,
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().String("name", "", "Person name (required)")
	captureCmd.Flags().String("occupation", "", "Occupation")
	captureCmd.Flags().Int("age", 0, "Age")
	captureCmd.Flags().Int("count", 1, "Number of camera frames to capture")
	captureCmd.Flags().Duration("interval", time.Second, "Pause between camera captures")
	captureCmd.Flags().String("to", "all", "Where to store captures: dataset, database or all")
	captureCmd.Flags().Bool("require-face", false, "Skip frames in which the detector finds no face")
}

// captureTarget stores one capture in the dataset and/or the database.
type captureTarget struct {
	dataset  *training.Dataset
	store    database.Store
	personID int64
	name     string
	occ      string
	age      int
}

func (t *captureTarget) save(ctx context.Context, data []byte, now time.Time) (string, error) {
	var saved string
	if t.dataset != nil {
		path, err := t.dataset.SaveCapture(t.name, t.occ, t.age, data, now)
		if err != nil {
			return "", err
		}
		saved = path
	}
	if t.store != nil {
		filename := fmt.Sprintf("%s_%s.jpg", t.name, now.Format("20060102_150405"))
		id, err := t.store.AddImage(ctx, t.personID, filename, data, now)
		if err != nil {
			return "", fmt.Errorf("failed to store image: %w", err)
		}
		if saved == "" {
			saved = fmt.Sprintf("image #%d", id)
		}
	}
	return saved, nil
}

// captureFrames grabs count frames from the camera.
func captureFrames(ctx context.Context, cam camera.Camera, count int, interval time.Duration) ([]image.Image, error) {
	frames := make([]image.Image, 0, count)
	for i := range count {
		if i > 0 {
			select {
			case <-ctx.Done():
				return frames, ctx.Err()
			case <-time.After(interval):
			}
		}
		frame, err := cam.Capture(ctx)
		if err != nil {
			return frames, fmt.Errorf("capture %d/%d: %w", i+1, count, err)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// loadImageFiles reads and decodes image files given on the command line.
func loadImageFiles(paths []string) ([]image.Image, error) {
	frames := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p) //nolint:gosec // path is from trusted CLI argument
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		img, err := detector.DecodeImage(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		frames = append(frames, img)
	}
	return frames, nil
}

func newCaptureTarget(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger *zap.Logger) (*captureTarget, error) {
	t := &captureTarget{
		name: mustGetString(cmd, "name"),
		occ:  mustGetString(cmd, "occupation"),
		age:  mustGetInt(cmd, "age"),
	}
	if t.name == "" {
		return nil, errors.New("--name is required")
	}

	to := mustGetString(cmd, "to")
	switch to {
	case "dataset", "database", "all":
	default:
		return nil, fmt.Errorf("unknown capture target %q", to)
	}

	if to != "database" {
		t.dataset = training.NewDataset(cfg.Training.DatasetDir)
	}
	if to != "dataset" {
		store, err := openStore(ctx, cfg.Database, logger)
		if errors.Is(err, errNoDatabase) && to == "all" {
			return t, nil
		}
		if err != nil {
			return nil, err
		}
		id, err := store.GetOrCreatePerson(ctx, t.name, t.occ, t.age)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to register person: %w", err)
		}
		t.store = store
		t.personID = id
	}
	return t, nil
}

func runCapture(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	target, err := newCaptureTarget(ctx, cmd, cfg, logger)
	if err != nil {
		return err
	}
	if target.store != nil {
		defer closeAll(logger, target.store.Close)
		fmt.Printf("Person %q has id %d\n", target.name, target.personID)
	}

	var frames []image.Image
	if len(args) > 0 {
		frames, err = loadImageFiles(args)
	} else {
		var cam camera.Camera
		cam, err = newCamera(cfg.Camera)
		if err != nil {
			return err
		}
		defer closeAll(logger, cam.Close)
		frames, err = captureFrames(ctx, cam, max(mustGetInt(cmd, "count"), 1), mustGetDuration(cmd, "interval"))
	}
	if err != nil && len(frames) == 0 {
		return err
	}
	if err != nil {
		fmt.Printf("Warning: %v\n", err)
	}

	var det detector.Detector
	if mustGetBool(cmd, "require-face") {
		d, closeDetector, dErr := newDetector(cfg.Detector)
		if dErr != nil {
			return dErr
		}
		defer closeAll(logger, closeDetector)
		det = d
	}

	saved := 0
	var last time.Time
	for i, frame := range frames {
		if det != nil {
			faces, err := det.DetectAndEncode(ctx, frame)
			if err != nil {
				fmt.Printf("Frame %d: detection failed: %v\n", i+1, err)
				continue
			}
			if len(faces) == 0 {
				fmt.Printf("Frame %d: no face found, skipping\n", i+1)
				continue
			}
		}

		data, err := detector.EncodeJPEG(frame, captureJPEGQuality)
		if err != nil {
			return err
		}
		// Captures are named by second, so two in the same second would collide.
		now := time.Now().Truncate(time.Second)
		if !now.After(last) {
			now = last.Add(time.Second)
		}
		last = now
		where, err := target.save(ctx, data, now)
		if err != nil {
			return err
		}
		saved++
		fmt.Printf("Saved %s\n", where)
	}

	fmt.Printf("Captured %d of %d images for %s\n", saved, len(frames), target.name)
	return nil
}
