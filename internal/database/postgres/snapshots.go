package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-greeter/internal/database"
	"github.com/kozaktomas/face-greeter/internal/facematch"
)

// SaveSnapshot inserts data as a new snapshot and removes older ones in one transaction.
func (s *Store) SaveSnapshot(ctx context.Context, data *database.SnapshotData) error {
	if data == nil {
		return fmt.Errorf("%w: nil snapshot", database.ErrInvalidSnapshotData)
	}
	if err := data.Validate(); err != nil {
		return err
	}
	builtAt := data.BuiltAt
	if builtAt.IsZero() {
		builtAt = time.Now()
	}
	version := data.Version
	if version == 0 {
		version = 1
	}

	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var snapshotID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO snapshots (version, built_at, size) VALUES ($1, $2, $3) RETURNING id
	`, version, builtAt, data.Len()).Scan(&snapshotID)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reference_embeddings (snapshot_id, position, embedding, person_id, name, occupation, age)
		VALUES ($1, $2, $3::vector, $4, $5, $6, $7)
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := range data.Encodings {
		var personID sql.NullInt64
		if data.PersonIDs != nil && data.PersonIDs[i] != 0 {
			personID = sql.NullInt64{Int64: data.PersonIDs[i], Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, snapshotID, i, pgvector.NewVector(data.Encodings[i]),
			personID, data.Names[i], data.Occupations[i], data.Ages[i]); err != nil {
			return fmt.Errorf("insert reference embedding %d: %w", i, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM snapshots WHERE id <> $1", snapshotID); err != nil {
		return fmt.Errorf("delete old snapshots: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) latestSnapshot(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}) (id int64, version int, builtAt time.Time, err error) {
	err = q.QueryRowContext(ctx, `
		SELECT id, version, built_at FROM snapshots ORDER BY id DESC LIMIT 1
	`).Scan(&id, &version, &builtAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, time.Time{}, database.ErrSnapshotNotFound
	}
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("query latest snapshot: %w", err)
	}
	return id, version, builtAt, nil
}

func (s *Store) LoadSnapshot(ctx context.Context) (*database.SnapshotData, error) {
	tx, err := s.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	id, version, builtAt, err := s.latestSnapshot(ctx, tx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT embedding, person_id, name, occupation, age
		FROM reference_embeddings
		WHERE snapshot_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query reference embeddings: %w", err)
	}
	defer rows.Close()

	data := &database.SnapshotData{Version: version, BuiltAt: builtAt}
	var personIDs []int64
	hasIDs := false
	for rows.Next() {
		var vec pgvector.Vector
		var personID sql.NullInt64
		var name, occupation string
		var age int
		if err := rows.Scan(&vec, &personID, &name, &occupation, &age); err != nil {
			return nil, fmt.Errorf("scan reference embedding: %w", err)
		}
		data.Encodings = append(data.Encodings, vec.Slice())
		data.Names = append(data.Names, name)
		data.Occupations = append(data.Occupations, occupation)
		data.Ages = append(data.Ages, age)
		personIDs = append(personIDs, personID.Int64)
		hasIDs = hasIDs || personID.Valid
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reference embeddings: %w", err)
	}
	if hasIDs {
		data.PersonIDs = personIDs
	}

	if err := data.Validate(); err != nil {
		return nil, err
	}
	return data, nil
}

// NearestReferences returns the k reference embeddings of the current snapshot closest to
// query by Euclidean distance, nearest first. Index is the position in the snapshot.
func (s *Store) NearestReferences(ctx context.Context, query []float32, k int) ([]database.Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}

	tx, err := s.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	id, _, _, err := s.latestSnapshot(ctx, tx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT position, person_id, name, occupation, age, embedding <-> $2::vector AS distance
		FROM reference_embeddings
		WHERE snapshot_id = $1
		ORDER BY distance, position
		LIMIT $3
	`, id, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("query nearest references: %w", err)
	}
	defer rows.Close()

	var out []database.Neighbor
	for rows.Next() {
		var n database.Neighbor
		var personID sql.NullInt64
		var name, occupation string
		var age int
		if err := rows.Scan(&n.Index, &personID, &name, &occupation, &age, &n.Distance); err != nil {
			return nil, fmt.Errorf("scan nearest reference: %w", err)
		}
		n.Identity = identity(personID.Int64, name, occupation, age)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nearest references: %w", err)
	}
	return out, nil
}

func identity(personID int64, name, occupation string, age int) *facematch.Identity {
	return &facematch.Identity{PersonID: personID, Name: name, Occupation: occupation, Age: age}
}
