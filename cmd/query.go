package cmd

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-greeter/internal/database"
	"github.com/kozaktomas/face-greeter/internal/detector"
	"github.com/kozaktomas/face-greeter/internal/facematch"
)

var queryCmd = &cobra.Command{
	Use:   "query <image>",
	Short: "Show who the faces in an image resemble",
	Long: `Detect every face in an image and print the match decision together with the
closest reference embeddings.

The neighbours come from an in-memory HNSW index over the saved reference set,
or from pgvector when the snapshot is stored in PostgreSQL (--index postgres).
Use --index exact for a full scan.

Examples:
  face-greeter query visitor.jpg
  face-greeter query visitor.jpg --k 10 --index postgres`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().Int("k", 5, "Number of neighbours per face")
	queryCmd.Flags().String("index", "hnsw", "Neighbour search: hnsw, exact or postgres")
	queryCmd.Flags().Bool("json", false, "Output as JSON")
}

// nearestSearcher is implemented by database backends that can search the stored snapshot.
type nearestSearcher interface {
	NearestReferences(ctx context.Context, query []float32, k int) ([]database.Neighbor, error)
}

type neighborOutput struct {
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
	Index    int     `json:"index"`
}

type faceOutput struct {
	Box        facematch.Box    `json:"box"`
	Match      string           `json:"match"`
	Distance   float64          `json:"distance"`
	Neighbours []neighborOutput `json:"neighbours"`
}

// exactNeighbors scans the whole snapshot, closest first.
func exactNeighbors(snap *facematch.Snapshot, query []float32, k int) []database.Neighbor {
	distances := facematch.Distances(query, snap)
	out := make([]database.Neighbor, 0, len(distances))
	for i, d := range distances {
		out = append(out, database.Neighbor{Index: i, Identity: snap.Entry(i).Identity, Distance: d})
	}
	slices.SortStableFunc(out, func(a, b database.Neighbor) int { return cmp.Compare(a.Distance, b.Distance) })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func runQuery(cmd *cobra.Command, args []string) error {
	k := mustGetInt(cmd, "k")
	mode := mustGetString(cmd, "index")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	ctx := context.Background()

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
	data, err := repo.LoadSnapshot(ctx)
	if errors.Is(err, database.ErrSnapshotNotFound) {
		return errors.New("no reference set saved yet, run train first")
	}
	if err != nil {
		return fmt.Errorf("failed to load reference set: %w", err)
	}
	snap, err := data.ToSnapshot()
	if err != nil {
		return err
	}

	var search func(query []float32) ([]database.Neighbor, error)
	switch mode {
	case "hnsw":
		index := database.NewReferenceIndex()
		index.Build(snap)
		search = func(q []float32) ([]database.Neighbor, error) { return index.Search(q, k) }
	case "exact":
		search = func(q []float32) ([]database.Neighbor, error) { return exactNeighbors(snap, q, k), nil }
	case "postgres":
		searcher, ok := store.(nearestSearcher)
		if !ok || cfg.Snapshot.Backend != "database" {
			return errors.New("--index postgres requires DATABASE_BACKEND=postgres and SNAPSHOT_BACKEND=database")
		}
		search = func(q []float32) ([]database.Neighbor, error) { return searcher.NearestReferences(ctx, q, k) }
	default:
		return fmt.Errorf("unknown index %q", mode)
	}

	raw, err := os.ReadFile(args[0]) //nolint:gosec // path is from trusted CLI argument
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	img, err := detector.DecodeImage(raw)
	if err != nil {
		return err
	}

	det, closeDetector, err := newDetector(cfg.Detector)
	if err != nil {
		return err
	}
	defer closeAll(logger, closeDetector)

	faces, err := det.DetectAndEncode(ctx, img)
	if err != nil {
		return fmt.Errorf("face detection failed: %w", err)
	}

	matcher := facematch.NewMatcher(cfg.Recognition.Threshold)
	out := make([]faceOutput, 0, len(faces))
	for _, f := range faces {
		m := matcher.Match(f.Embedding, snap)
		neighbors, err := search(f.Embedding)
		if err != nil {
			return fmt.Errorf("neighbour search failed: %w", err)
		}
		fo := faceOutput{Box: f.Box, Match: m.Identity.DisplayName(), Distance: m.Distance}
		for _, n := range neighbors {
			fo.Neighbours = append(fo.Neighbours, neighborOutput{Name: n.Identity.DisplayName(), Distance: n.Distance, Index: n.Index})
		}
		out = append(out, fo)
	}

	if jsonOutput {
		return outputJSON(out)
	}

	fmt.Printf("Reference set: %d embeddings of %d persons\n", snap.Len(), len(snap.Identities()))
	if len(out) == 0 {
		fmt.Println("No faces found")
		return nil
	}
	for i, fo := range out {
		fmt.Printf("\nFace %d at (%.0f,%.0f)-(%.0f,%.0f): %s (distance %.4f)\n",
			i+1, fo.Box.X1, fo.Box.Y1, fo.Box.X2, fo.Box.Y2, fo.Match, fo.Distance)
		for _, n := range fo.Neighbours {
			fmt.Printf("  %-30s %.4f  #%d\n", n.Name, n.Distance, n.Index)
		}
	}
	return nil
}
