package database

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

// Snapshot serialization formats.
const (
	FormatGob  = "gob"
	FormatJSON = "json"
)

// MarshalSnapshot validates data and encodes it.
func MarshalSnapshot(data *SnapshotData, format string) ([]byte, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrInvalidSnapshotData)
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	if data.Version == 0 {
		data.Version = currentSnapshotVersion
	}

	var buf bytes.Buffer
	var err error
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		err = enc.Encode(data)
	case FormatGob:
		err = gob.NewEncoder(&buf).Encode(data)
	default:
		return nil, fmt.Errorf("unknown snapshot format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalSnapshot decodes and validates raw.
func UnmarshalSnapshot(raw []byte, format string) (*SnapshotData, error) {
	var data SnapshotData
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(raw, &data)
	case FormatGob:
		err = gob.NewDecoder(bytes.NewReader(raw)).Decode(&data)
	default:
		return nil, fmt.Errorf("unknown snapshot format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	return &data, nil
}
