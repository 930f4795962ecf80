package training

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/face-greeter/internal/constants"
	"github.com/kozaktomas/face-greeter/internal/detector"
	"github.com/kozaktomas/face-greeter/internal/facematch"
)

// metadataTimeLayout is the timestamp format stored in metadata.json.
const metadataTimeLayout = "2006-01-02 15:04:05"

// Age accepts both JSON numbers and numeric strings; anything else decodes as unknown (0).
type Age int

func (a *Age) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || n < 0 {
			*a = 0
			return nil
		}
		*a = Age(n)
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid age %s", data)
	}
	*a = Age(max(int(n), 0))
	return nil
}

// MetadataEntry describes one captured image in a person folder.
type MetadataEntry struct {
	Name       string `json:"name"`
	Filename   string `json:"filename"`
	Occupation string `json:"occupation"`
	Age        Age    `json:"age"`
	Timestamp  string `json:"timestamp"`
}

// Dataset is a directory with one sub-folder per person, each holding images and a
// metadata.json list.
type Dataset struct {
	dir string
}

// NewDataset wraps dir. The directory is created lazily by SaveCapture.
func NewDataset(dir string) *Dataset {
	return &Dataset{dir: dir}
}

// Dir returns the dataset root.
func (d *Dataset) Dir() string {
	return d.dir
}

func (d *Dataset) personDir(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid person name %q", name)
	}
	return filepath.Join(d.dir, name), nil
}

// ReadMetadata returns the metadata list of a person folder. A missing file is an empty list.
func ReadMetadata(folder string) ([]MetadataEntry, error) {
	raw, err := os.ReadFile(filepath.Join(folder, constants.MetadataFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var entries []MetadataEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Join(folder, constants.MetadataFileName), err)
	}
	return entries, nil
}

// SaveCapture writes a JPEG capture into the person's folder as "<name>_<YYYYmmdd_HHMMSS>.jpg"
// and appends its metadata. Returns the image path.
func (d *Dataset) SaveCapture(name, occupation string, age int, jpegData []byte, now time.Time) (string, error) {
	folder, err := d.personDir(name)
	if err != nil {
		return "", err
	}
	name = filepath.Base(folder)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", fmt.Errorf("create person folder: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.jpg", name, now.Format("20060102_150405"))
	path := filepath.Join(folder, filename)
	if err := os.WriteFile(path, jpegData, 0o644); err != nil { //nolint:gosec // dataset images are not secret
		return "", fmt.Errorf("write capture: %w", err)
	}

	entries, err := ReadMetadata(folder)
	if err != nil {
		return "", err
	}
	entries = append(entries, MetadataEntry{
		Name:       name,
		Filename:   filename,
		Occupation: occupation,
		Age:        Age(age),
		Timestamp:  now.Format(metadataTimeLayout),
	})

	raw, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(folder, constants.MetadataFileName), raw, 0o644); err != nil { //nolint:gosec // metadata is not secret
		return "", fmt.Errorf("write metadata: %w", err)
	}
	return path, nil
}

// Samples enumerates every image of every person folder, folders and files in lexical order.
// The folder name is the person's name; occupation and age come from the metadata entry for
// the file, or stay unknown when there is none.
func (d *Dataset) Samples(ctx context.Context) ([]Sample, error) {
	folders, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}

	var samples []Sample
	for _, folder := range folders {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !folder.IsDir() || strings.HasPrefix(folder.Name(), ".") {
			continue
		}

		folderPath := filepath.Join(d.dir, folder.Name())
		metadata, err := ReadMetadata(folderPath)
		if err != nil {
			return nil, err
		}

		files, err := os.ReadDir(folderPath)
		if err != nil {
			return nil, fmt.Errorf("read person folder: %w", err)
		}
		names := make([]string, 0, len(files))
		for _, f := range files {
			if !f.IsDir() && detector.IsImageFile(f.Name()) {
				names = append(names, f.Name())
			}
		}
		slices.Sort(names)

		identities := make(map[string]*facematch.Identity)
		for _, name := range names {
			id := identityFor(folder.Name(), name, metadata)
			// Samples of one person with the same attributes share an identity.
			key := fmt.Sprintf("%s/%d", id.Occupation, id.Age)
			if shared, ok := identities[key]; ok {
				id = shared
			} else {
				identities[key] = id
			}
			samples = append(samples, Sample{
				Source:   filepath.Join(folder.Name(), name),
				Identity: id,
				Path:     filepath.Join(folderPath, name),
			})
		}
	}
	return samples, nil
}

func identityFor(person, filename string, metadata []MetadataEntry) *facematch.Identity {
	id := &facematch.Identity{Name: person}
	i := slices.IndexFunc(metadata, func(e MetadataEntry) bool { return e.Filename == filename })
	if i >= 0 {
		id.Occupation = strings.TrimSpace(metadata[i].Occupation)
		id.Age = int(metadata[i].Age)
	}
	return id
}
