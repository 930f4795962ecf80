package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-greeter/internal/database"
	"github.com/kozaktomas/face-greeter/internal/facematch"
)

// Store is the PostgreSQL database.Store. Reference embeddings are kept as pgvector rows, so
// the current snapshot can also be queried for nearest neighbours in SQL.
type Store struct {
	pool *Pool
}

var _ database.Store = (*Store)(nil)

// NewStore wraps an open pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *Pool {
	return s.pool
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

type personScanner interface {
	Scan(dest ...any) error
}

func scanPerson(row personScanner, extra ...any) (*database.Person, error) {
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
	row := s.pool.QueryRow(ctx, `SELECT `+personColumns+` FROM persons p WHERE p.id = $1`, id)
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
	row := s.pool.QueryRow(ctx, `SELECT `+personColumns+` FROM persons p WHERE p.name_key = $1`, key)
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
	rows, err := s.pool.Query(ctx, `
		SELECT `+personColumns+`, COUNT(i.id)
		FROM persons p
		LEFT JOIN images i ON i.person_id = p.id
		GROUP BY p.id
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

// GetOrCreatePerson relies on the unique name_key so concurrent captures of the same new
// person cannot create two rows.
func (s *Store) GetOrCreatePerson(ctx context.Context, name, occupation string, age int) (int64, error) {
	key := facematch.NormalizePersonName(name)
	if key == "" {
		return 0, errors.New("person name is required")
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO persons (name, name_key, occupation, age)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name_key) DO UPDATE SET name_key = EXCLUDED.name_key
		RETURNING id
	`, name, key, nullString(occupation), nullInt(age)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("get or create person %q: %w", name, err)
	}
	return id, nil
}

func (s *Store) AddImage(ctx context.Context, personID int64, filename string, data []byte, ts time.Time) (int64, error) {
	if ts.IsZero() {
		ts = time.Now()
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO images (person_id, filename, image, taken_at)
		SELECT id, $2, $3, $4 FROM persons WHERE id = $1
		RETURNING id
	`, personID, filename, data, ts).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, database.ErrPersonNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("add image for person %d: %w", personID, err)
	}
	return id, nil
}

func (s *Store) ListAllImages(ctx context.Context) ([]database.ImageRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.id, i.person_id, i.filename, i.image, i.taken_at, p.name, p.occupation, p.age
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
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM images").Scan(&count); err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return count, nil
}

// ClearAll truncates every table, including old snapshots.
func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE reference_embeddings, snapshots, images, persons RESTART IDENTITY CASCADE`); err != nil {
		return fmt.Errorf("clear database: %w", err)
	}
	return nil
}
