package training

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-greeter/internal/constants"
	"github.com/kozaktomas/face-greeter/internal/database"
	"github.com/kozaktomas/face-greeter/internal/detector"
	"github.com/kozaktomas/face-greeter/internal/facematch"
	"github.com/kozaktomas/face-greeter/internal/logging"
)

// ErrBuildRunning is returned when Build is called while another build is in progress.
var ErrBuildRunning = errors.New("training already running")

// Failure records a sample that was skipped because it could not be processed.
type Failure struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// Report summarizes one build.
type Report struct {
	Samples   int           `json:"samples"`
	Processed int           `json:"processed"` // samples the detector ran on successfully
	NoFaces   int           `json:"no_faces"`  // processed samples without any face
	Failed    int           `json:"failed"`
	Entries   int           `json:"entries"`
	Persons   int           `json:"persons"`
	Version   uint64        `json:"version"` // store version assigned at publish, 0 if not published
	Saved     bool          `json:"saved"`
	Duration  time.Duration `json:"duration"`
	Failures  []Failure     `json:"failures,omitempty"`
}

// Progress is delivered after every sample.
type Progress struct {
	Done   int
	Total  int
	Source string
	Faces  int
	Err    error
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger. Nil means no logging.
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) { b.logger = logging.OrNop(l) }
}

// WithWorkers sets how many samples are encoded concurrently.
func WithWorkers(n int) Option {
	return func(b *Builder) {
		if n >= 1 {
			b.workers = n
		}
	}
}

// WithRepository persists every published snapshot.
func WithRepository(repo database.SnapshotRepository) Option {
	return func(b *Builder) { b.repo = repo }
}

// WithProgress registers a callback invoked after each sample. Calls are serialized.
func WithProgress(fn func(Progress)) Option {
	return func(b *Builder) { b.onProgress = fn }
}

// Builder encodes a corpus and publishes the result into a store.
type Builder struct {
	corpus     Corpus
	detector   detector.Detector
	store      *facematch.Store
	repo       database.SnapshotRepository
	workers    int
	logger     *zap.Logger
	onProgress func(Progress)

	running sync.Mutex
}

// NewBuilder creates a builder publishing into store.
func NewBuilder(corpus Corpus, det detector.Detector, store *facematch.Store, opts ...Option) *Builder {
	b := &Builder{
		corpus:   corpus,
		detector: det,
		store:    store,
		workers:  constants.DefaultTrainingWorkers,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type sampleResult struct {
	faces []detector.Face
	err   error
}

// Build encodes every sample and publishes the new reference set only after the whole corpus
// has been processed. Samples that fail to read, decode or encode are skipped and reported.
// Cancelling ctx aborts the build and nothing is published.
//
// When a repository is configured the published snapshot is saved afterwards; a save error is
// returned together with the already published snapshot.
func (b *Builder) Build(ctx context.Context) (*facematch.Snapshot, Report, error) {
	if !b.running.TryLock() {
		return nil, Report{}, ErrBuildRunning
	}
	defer b.running.Unlock()

	start := time.Now()
	var report Report

	samples, err := b.corpus.Samples(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, report, ctx.Err()
		}
		return nil, report, fmt.Errorf("%w: %w", ErrCorpusUnavailable, err)
	}
	report.Samples = len(samples)
	b.logger.Info("training started", zap.Int("samples", len(samples)), zap.Int("workers", b.workers))

	results := b.encodeAll(ctx, samples)
	if err := ctx.Err(); err != nil {
		b.logger.Warn("training cancelled, keeping current reference set", zap.Error(err))
		return nil, report, err
	}

	var entries []facematch.Entry
	dim := 0 // embedding length of the first accepted face
	persons := make(map[string]struct{})
	for i, res := range results {
		if res.err != nil {
			report.Failed++
			report.Failures = append(report.Failures, Failure{Source: samples[i].Source, Error: res.err.Error()})
			continue
		}
		want := dim
		if want == 0 && len(res.faces) > 0 {
			want = len(res.faces[0].Embedding)
		}
		if err := checkDimensions(res.faces, want); err != nil {
			b.logger.Warn("skipping training sample", zap.String("source", samples[i].Source), zap.Error(err))
			report.Failed++
			report.Failures = append(report.Failures, Failure{Source: samples[i].Source, Error: err.Error()})
			continue
		}
		report.Processed++
		if len(res.faces) == 0 {
			report.NoFaces++
			continue
		}
		dim = want
		for _, face := range res.faces {
			entries = append(entries, facematch.Entry{Embedding: face.Embedding, Identity: samples[i].Identity})
		}
		persons[samples[i].Identity.Key()] = struct{}{}
	}

	snap, err := facematch.NewSnapshot(entries)
	if err != nil {
		return nil, report, fmt.Errorf("build snapshot: %w", err)
	}
	report.Entries = snap.Len()
	report.Persons = len(persons)
	if snap.Len() == 0 {
		b.logger.Warn("training produced no reference embeddings, every face will be unknown")
	}

	report.Version = b.store.Publish(snap)
	published := b.store.Load()
	report.Duration = time.Since(start)
	b.logger.Info("training complete",
		zap.Uint64("version", report.Version),
		zap.Int("entries", report.Entries),
		zap.Int("persons", report.Persons),
		zap.Int("failed", report.Failed),
		zap.Int("no_faces", report.NoFaces),
		zap.Duration("duration", report.Duration),
	)

	if b.repo != nil {
		if err := b.repo.SaveSnapshot(ctx, database.FromSnapshot(published)); err != nil {
			return published, report, fmt.Errorf("save snapshot: %w", err)
		}
		report.Saved = true
	}
	return published, report, nil
}

// encodeAll runs the detector over samples on a bounded pool. results[i] belongs to samples[i].
func (b *Builder) encodeAll(ctx context.Context, samples []Sample) []sampleResult {
	results := make([]sampleResult, len(samples))

	var progressMu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i := range samples {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			faces, err := b.encode(gctx, samples[i])
			results[i] = sampleResult{faces: faces, err: err}
			if err != nil && gctx.Err() == nil {
				b.logger.Warn("skipping training sample", zap.String("source", samples[i].Source), zap.Error(err))
			}

			progressMu.Lock()
			done++
			if b.onProgress != nil {
				b.onProgress(Progress{Done: done, Total: len(samples), Source: samples[i].Source, Faces: len(faces), Err: err})
			}
			progressMu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers never fail the group; cancellation is checked by the caller

	return results
}

// checkDimensions rejects a sample with any face whose embedding is empty or not dim long.
func checkDimensions(faces []detector.Face, dim int) error {
	for _, face := range faces {
		if len(face.Embedding) == 0 || len(face.Embedding) != dim {
			return fmt.Errorf("%w: face has %d values, reference set has %d",
				facematch.ErrDimensionMismatch, len(face.Embedding), dim)
		}
	}
	return nil
}

func (b *Builder) encode(ctx context.Context, s Sample) ([]detector.Face, error) {
	data, err := s.Read()
	if err != nil {
		return nil, err
	}
	img, err := detector.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	faces, err := b.detector.DetectAndEncode(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	return faces, nil
}
