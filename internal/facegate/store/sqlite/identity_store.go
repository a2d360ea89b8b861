package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/facegate/internal/codec"
	dbpkg "github.com/BrandonDHaskell/facegate/internal/db"
	"github.com/BrandonDHaskell/facegate/internal/facegate/store"
)

type IdentityStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewIdentityStore(db *sql.DB, writer *dbpkg.Worker) *IdentityStore {
	return &IdentityStore{db: db, writer: writer}
}

func (s *IdentityStore) List(ctx context.Context) ([]store.IdentityRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT name, embedding, profile, enrolled_at_ms
FROM identities
ORDER BY id;
`)
	if err != nil {
		return nil, fmt.Errorf("List query: %w", err)
	}
	defer rows.Close()

	var out []store.IdentityRecord
	for rows.Next() {
		rec, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List rows: %w", err)
	}
	return out, nil
}

func (s *IdentityStore) Get(ctx context.Context, name string) (store.IdentityRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT name, embedding, profile, enrolled_at_ms
FROM identities
WHERE name = ?;
`, name)

	rec, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.IdentityRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.IdentityRecord{}, fmt.Errorf("Get: %w", err)
	}
	return rec, nil
}

func (s *IdentityStore) Insert(ctx context.Context, rec store.IdentityRecord) error {
	emb, err := codec.EncodeEmbedding(rec.Embedding)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	profile, err := codec.EncodeProfile(rec.Profile)
	if err != nil {
		return fmt.Errorf("Insert: encode profile: %w", err)
	}
	if rec.EnrolledAt.IsZero() {
		rec.EnrolledAt = time.Now().UTC()
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM identities WHERE name = ?;`, rec.Name).Scan(&one)
		if err == nil {
			return store.ErrNameExists
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("Insert check name: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO identities(name, embedding, embedding_dim, profile, enrolled_at_ms)
VALUES (?, ?, ?, ?, ?);
`, rec.Name, emb, len(rec.Embedding), profile, rec.EnrolledAt.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("Insert: %w", err)
		}
		return nil
	})
}

func (s *IdentityStore) Delete(ctx context.Context, name string) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM identities WHERE name = ?;`, name)
		if err != nil {
			return fmt.Errorf("Delete: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("Delete rows affected: %w", err)
		}
		if n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

func (s *IdentityStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIdentity(sc scanner) (store.IdentityRecord, error) {
	var (
		name       string
		embBlob    []byte
		profBlob   []byte
		enrolledMs int64
	)
	if err := sc.Scan(&name, &embBlob, &profBlob, &enrolledMs); err != nil {
		return store.IdentityRecord{}, err
	}

	emb, err := codec.DecodeEmbedding(embBlob)
	if err != nil {
		return store.IdentityRecord{}, fmt.Errorf("%s: %w", name, err)
	}
	profile, err := codec.DecodeProfile(profBlob)
	if err != nil {
		return store.IdentityRecord{}, fmt.Errorf("%s: %w", name, err)
	}

	return store.IdentityRecord{
		Name:       name,
		Embedding:  emb,
		Profile:    profile,
		EnrolledAt: time.UnixMilli(enrolledMs).UTC(),
	}, nil
}
