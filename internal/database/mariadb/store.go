package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-greeter/internal/database"
	"github.com/kozaktomas/face-greeter/internal/facematch"
)

// Store is the MariaDB database.Store. The reference set lives in the encodings table as a
// single gob blob; only the newest row is kept.
type Store struct {
	pool *Pool
}

var _ database.Store = (*Store)(nil)

// NewStore wraps an open pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.pool.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.pool.Close()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v > 0}
}

const personColumns = `p.id, p.name, p.occupation, p.age, p.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPerson(row rowScanner, extra ...any) (*database.Person, error) {
	var p database.Person
	var occupation sql.NullString
	var age sql.NullInt64

	dest := append([]any{&p.ID, &p.Name, &occupation, &age, &p.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	p.Occupation = occupation.String
	p.Age = int(age.Int64)
	return &p, nil
}

func (s *Store) GetPerson(ctx context.Context, id int64) (*database.Person, error) {
	row := s.pool.db.QueryRowContext(ctx, `SELECT `+personColumns+` FROM persons p WHERE p.id = ?`, id)
	p, err := scanPerson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrPersonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get person %d: %w", id, err)
	}
	return p, nil
}

func (s *Store) FindPersonByName(ctx context.Context, name string) (*database.Person, error) {
	key := facematch.NormalizePersonName(name)
	row := s.pool.db.QueryRowContext(ctx, `SELECT `+personColumns+` FROM persons p WHERE p.name_key = ?`, key)
	p, err := scanPerson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrPersonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find person %q: %w", name, err)
	}
	return p, nil
}

func (s *Store) ListPersons(ctx context.Context) ([]database.Person, error) {
	rows, err := s.pool.db.QueryContext(ctx, `
		SELECT `+personColumns+`, COUNT(i.id)
		FROM persons p
		LEFT JOIN images i ON i.person_id = p.id
		GROUP BY p.id, p.name, p.occupation, p.age, p.created_at
		ORDER BY p.name, p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var persons []database.Person
	for rows.Next() {
		var count int
		p, err := scanPerson(rows, &count)
		if err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		p.ImageCount = count
		persons = append(persons, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons: %w", err)
	}
	return persons, nil
}

// GetOrCreatePerson uses LAST_INSERT_ID(id) so a duplicate name_key reports the id of the
// existing row without touching its attributes.
func (s *Store) GetOrCreatePerson(ctx context.Context, name, occupation string, age int) (int64, error) {
	key := facematch.NormalizePersonName(name)
	if key == "" {
		return 0, errors.New("person name is required")
	}

	res, err := s.pool.db.ExecContext(ctx, `
		INSERT INTO persons (name, name_key, occupation, age)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)
	`, name, key, nullString(occupation), nullInt(age))
	if err != nil {
		return 0, fmt.Errorf("get or create person %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get or create person %q: %w", name, err)
	}
	return id, nil
}

func (s *Store) AddImage(ctx context.Context, personID int64, filename string, data []byte, ts time.Time) (int64, error) {
	if ts.IsZero() {
		ts = time.Now()
	}

	res, err := s.pool.db.ExecContext(ctx, `
		INSERT INTO images (person_id, filename, image, timestamp) VALUES (?, ?, ?, ?)
	`, personID, filename, data, ts.UTC())
	if isMySQLError(err, errNoReferencedRow) {
		return 0, database.ErrPersonNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("add image for person %d: %w", personID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add image for person %d: %w", personID, err)
	}
	return id, nil
}

func (s *Store) ListAllImages(ctx context.Context) ([]database.ImageRow, error) {
	rows, err := s.pool.db.QueryContext(ctx, `
		SELECT i.id, i.person_id, i.filename, i.image, i.timestamp, p.name, p.occupation, p.age
		FROM images i
		JOIN persons p ON p.id = i.person_id
		ORDER BY i.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var images []database.ImageRow
	for rows.Next() {
		var img database.ImageRow
		var occupation sql.NullString
		var age sql.NullInt64
		if err := rows.Scan(&img.ImageID, &img.PersonID, &img.Filename, &img.Data, &img.Timestamp,
			&img.Name, &occupation, &age); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		img.Occupation = occupation.String
		img.Age = int(age.Int64)
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate images: %w", err)
	}
	return images, nil
}

func (s *Store) CountImages(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM images").Scan(&count); err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return count, nil
}

func (s *Store) LoadSnapshot(ctx context.Context) (*database.SnapshotData, error) {
	var raw []byte
	err := s.pool.db.QueryRowContext(ctx, "SELECT data FROM encodings ORDER BY id DESC LIMIT 1").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return database.UnmarshalSnapshot(raw, database.FormatGob)
}

func (s *Store) SaveSnapshot(ctx context.Context, data *database.SnapshotData) error {
	raw, err := database.MarshalSnapshot(data, database.FormatGob)
	if err != nil {
		return err
	}

	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "INSERT INTO encodings (data) VALUES (?)", raw)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM encodings WHERE id <> ?", id); err != nil {
		return fmt.Errorf("delete old snapshots: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ClearAll truncates every table with foreign key checks disabled on a single connection.
func (s *Store) ClearAll(ctx context.Context) error {
	conn, err := s.pool.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("clear database: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
		return fmt.Errorf("disable foreign key checks: %w", err)
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), "SET FOREIGN_KEY_CHECKS = 1")

	for _, table := range []string{"images", "encodings", "persons"} {
		if _, err := conn.ExecContext(ctx, "TRUNCATE TABLE "+table); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}
