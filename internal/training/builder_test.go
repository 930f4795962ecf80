package training

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"

	"github.com/kozaktomas/face-greeter/internal/database"
	"github.com/kozaktomas/face-greeter/internal/database/mock"
	"github.com/kozaktomas/face-greeter/internal/detector"
	"github.com/kozaktomas/face-greeter/internal/facematch"
)

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	data, err := detector.EncodeJPEG(image.NewRGBA(image.Rect(0, 0, w, h)), 80)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// widthDetector yields one face per image whose embedding is the image width.
var widthDetector = detector.Func(func(ctx context.Context, img image.Image) ([]detector.Face, error) {
	return []detector.Face{{Embedding: []float32{float32(img.Bounds().Dx()), 0}}}, nil
})

type staticCorpus struct {
	samples []Sample
	err     error
}

func (c staticCorpus) Samples(ctx context.Context) ([]Sample, error) {
	return c.samples, c.err
}

func samplesOfWidths(t *testing.T, widths ...int) []Sample {
	t.Helper()
	person := &facematch.Identity{Name: "Alice"}
	out := make([]Sample, len(widths))
	for i, w := range widths {
		out[i] = Sample{Source: "sample", Identity: person, Data: jpegBytes(t, w, 8)}
	}
	return out
}

func TestBuild_PreservesCorpusOrder(t *testing.T) {
	widths := []int{10, 20, 30, 40, 50, 60, 70, 80}
	store := facematch.NewStore()
	b := NewBuilder(staticCorpus{samples: samplesOfWidths(t, widths...)}, widthDetector, store, WithWorkers(4))

	snap, report, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if snap.Len() != len(widths) {
		t.Fatalf("expected %d entries, got %d", len(widths), snap.Len())
	}
	for i, w := range widths {
		if got := snap.Entry(i).Embedding[0]; got != float32(w) {
			t.Errorf("entry %d embedding %v, want %d", i, got, w)
		}
	}
	if store.Load().Len() != len(widths) || report.Version != store.Version() {
		t.Errorf("snapshot not published: version %d, report %+v", store.Version(), report)
	}
	if report.Persons != 1 || report.Processed != len(widths) {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestBuild_SkipsUndecodableSample(t *testing.T) {
	samples := samplesOfWidths(t, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100)
	samples[2].Data = []byte("not an image")
	samples[2].Source = "broken.jpg"

	store := facematch.NewStore()
	snap, report, err := NewBuilder(staticCorpus{samples: samples}, widthDetector, store).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if snap.Len() != 9 {
		t.Errorf("expected 9 entries, got %d", snap.Len())
	}
	if report.Failed != 1 || len(report.Failures) != 1 || report.Failures[0].Source != "broken.jpg" {
		t.Errorf("unexpected failures %+v", report)
	}
	if snap.Entry(2).Embedding[0] != 40 {
		t.Errorf("expected the sample after the broken one to follow, got %v", snap.Entry(2).Embedding)
	}
}

func TestBuild_SkipsSampleWithMismatchedDimension(t *testing.T) {
	det := detector.Func(func(ctx context.Context, img image.Image) ([]detector.Face, error) {
		w := float32(img.Bounds().Dx())
		if w == 30 {
			return []detector.Face{{Embedding: []float32{w, 0, 0}}}, nil
		}
		return []detector.Face{{Embedding: []float32{w, 0}}}, nil
	})
	samples := samplesOfWidths(t, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100)
	samples[2].Source = "odd.jpg"

	store := facematch.NewStore()
	snap, report, err := NewBuilder(staticCorpus{samples: samples}, det, store, WithWorkers(3)).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if snap.Len() != 9 || store.Load().Len() != 9 {
		t.Fatalf("expected 9 published entries, got %d (store %d)", snap.Len(), store.Load().Len())
	}
	if snap.Dim() != 2 {
		t.Errorf("expected dimension 2, got %d", snap.Dim())
	}
	if report.Failed != 1 || report.Processed != 9 || len(report.Failures) != 1 || report.Failures[0].Source != "odd.jpg" {
		t.Errorf("unexpected report %+v", report)
	}
	if snap.Entry(2).Embedding[0] != 40 {
		t.Errorf("expected the sample after the odd one to follow, got %v", snap.Entry(2).Embedding)
	}
}

func TestBuild_DetectorErrorsAndZeroFaces(t *testing.T) {
	det := detector.Func(func(ctx context.Context, img image.Image) ([]detector.Face, error) {
		switch img.Bounds().Dx() {
		case 20:
			return nil, errors.New("encoder crashed")
		case 30:
			return nil, nil
		case 40:
			return []detector.Face{{Embedding: []float32{1, 1}}, {Embedding: []float32{2, 2}}}, nil
		}
		return []detector.Face{{Embedding: []float32{0, 0}}}, nil
	})

	snap, report, err := NewBuilder(staticCorpus{samples: samplesOfWidths(t, 10, 20, 30, 40)}, det, facematch.NewStore()).
		Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// 10 -> 1 entry, 20 -> failed, 30 -> none, 40 -> 2 entries
	if snap.Len() != 3 {
		t.Errorf("expected 3 entries, got %d", snap.Len())
	}
	if report.Failed != 1 || report.NoFaces != 1 || report.Processed != 3 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestBuild_CorpusUnavailable(t *testing.T) {
	store := facematch.NewStore()
	before := store.Version()

	_, _, err := NewBuilder(staticCorpus{err: errors.New("connection refused")}, widthDetector, store).
		Build(context.Background())
	if !errors.Is(err, ErrCorpusUnavailable) {
		t.Fatalf("expected ErrCorpusUnavailable, got %v", err)
	}
	if store.Version() != before {
		t.Error("nothing must be published when the corpus is unavailable")
	}
}

func TestBuild_CancelDoesNotPublish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	var mu sync.Mutex
	det := detector.Func(func(c context.Context, img image.Image) ([]detector.Face, error) {
		mu.Lock()
		calls++
		if calls == 2 {
			cancel()
		}
		mu.Unlock()
		return []detector.Face{{Embedding: []float32{1}}}, nil
	})

	store := facematch.NewStore()
	old, _ := facematch.NewSnapshot([]facematch.Entry{{Embedding: []float32{9}, Identity: &facematch.Identity{Name: "Old"}}})
	store.Publish(old)

	_, _, err := NewBuilder(staticCorpus{samples: samplesOfWidths(t, 1, 2, 3, 4, 5)}, det, store, WithWorkers(1)).Build(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if store.Version() != 1 || store.Load().Entry(0).Identity.Name != "Old" {
		t.Error("previous snapshot must stay published after cancel")
	}
}

func TestBuild_EmptyCorpusPublishesEmptySet(t *testing.T) {
	store := facematch.NewStore()
	snap, report, err := NewBuilder(staticCorpus{}, widthDetector, store).Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.Len() != 0 || report.Version != 1 {
		t.Errorf("expected empty snapshot published as version 1, got len %d version %d", snap.Len(), report.Version)
	}
}

func TestBuild_SavesToRepository(t *testing.T) {
	repo := mock.NewMockStore()
	store := facematch.NewStore()

	_, report, err := NewBuilder(staticCorpus{samples: samplesOfWidths(t, 10, 20)}, widthDetector, store,
		WithRepository(repo)).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !report.Saved || repo.SaveCount != 1 {
		t.Errorf("expected snapshot saved once, report %+v count %d", report, repo.SaveCount)
	}
	saved, err := repo.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if saved.Len() != 2 || saved.Names[0] != "Alice" {
		t.Errorf("unexpected saved snapshot %+v", saved)
	}
}

func TestBuild_SaveErrorStillPublishes(t *testing.T) {
	repo := mock.NewMockStore()
	repo.SaveSnapshotError = errors.New("disk full")
	store := facematch.NewStore()

	snap, report, err := NewBuilder(staticCorpus{samples: samplesOfWidths(t, 10)}, widthDetector, store,
		WithRepository(repo)).Build(context.Background())
	if err == nil {
		t.Fatal("expected save error")
	}
	if snap == nil || store.Version() != 1 || report.Saved {
		t.Errorf("expected published but unsaved snapshot, got %+v", report)
	}
}

func TestBuild_ProgressCallback(t *testing.T) {
	var events []Progress
	b := NewBuilder(staticCorpus{samples: samplesOfWidths(t, 10, 20, 30)}, widthDetector, facematch.NewStore(),
		WithWorkers(3),
		WithProgress(func(p Progress) { events = append(events, p) }),
	)
	if _, _, err := b.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 progress events, got %d", len(events))
	}
	for i, e := range events {
		if e.Done != i+1 || e.Total != 3 {
			t.Errorf("event %d = %+v", i, e)
		}
	}
}

func TestBuild_Concurrent(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	det := detector.Func(func(ctx context.Context, img image.Image) ([]detector.Face, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil, nil
	})
	b := NewBuilder(staticCorpus{samples: samplesOfWidths(t, 10)}, det, facematch.NewStore())

	done := make(chan error, 1)
	go func() {
		_, _, err := b.Build(context.Background())
		done <- err
	}()
	<-entered

	if _, _, err := b.Build(context.Background()); !errors.Is(err, ErrBuildRunning) {
		t.Errorf("expected ErrBuildRunning, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Errorf("first build failed: %v", err)
	}
}

func TestDatabaseCorpus(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	alice, _ := store.GetOrCreatePerson(ctx, "Alice", "Engineer", 30)
	bob, _ := store.GetOrCreatePerson(ctx, "Bob", "", 0)
	for _, id := range []int64{alice, bob, alice} {
		if _, err := store.AddImage(ctx, id, "img.jpg", []byte{1}, timeZero); err != nil {
			t.Fatal(err)
		}
	}

	samples, err := NewDatabaseCorpus(store).Samples(ctx)
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	if samples[0].Identity != samples[2].Identity {
		t.Error("images of one person should share an identity")
	}
	if samples[0].Identity.PersonID != alice || samples[0].Identity.Occupation != "Engineer" {
		t.Errorf("unexpected identity %+v", samples[0].Identity)
	}

	store.ListAllImagesError = errors.New("db down")
	if _, err := NewDatabaseCorpus(store).Samples(ctx); err == nil {
		t.Error("expected error")
	}
}

var _ database.ImageReader = (*mock.MockStore)(nil)
