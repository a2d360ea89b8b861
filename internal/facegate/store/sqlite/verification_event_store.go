package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/facegate/internal/db"
	"github.com/BrandonDHaskell/facegate/internal/facegate/store"
)

type VerificationEventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewVerificationEventStore(db *sql.DB, writer *dbpkg.Worker) *VerificationEventStore {
	return &VerificationEventStore{db: db, writer: writer}
}

func (s *VerificationEventStore) RecordEvent(ctx context.Context, rec store.VerificationEventRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}

	var subject, evidenceID, distance any
	if rec.Subject != "" {
		subject = rec.Subject
	}
	if rec.EvidenceID != "" {
		evidenceID = rec.EvidenceID
	}
	if rec.Distance != nil {
		distance = *rec.Distance
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO verification_events(kind, subject, outcome, distance, evidence_id, at_ms)
VALUES (?, ?, ?, ?, ?, ?);
`,
			rec.Kind, subject, rec.Outcome, distance, evidenceID, rec.At.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("RecordEvent insert: %w", err)
		}
		return nil
	})
}

func (s *VerificationEventStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM verification_events WHERE at_ms < ?;`, cutoff.UTC().UnixMilli())
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

// Recent returns up to limit events for subject, newest first. An empty
// subject matches all events.
func (s *VerificationEventStore) Recent(ctx context.Context, subject string, limit int) ([]store.VerificationEventRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT kind, subject, outcome, distance, evidence_id, at_ms
FROM verification_events
WHERE (? = '' OR subject = ?)
ORDER BY at_ms DESC, id DESC
LIMIT ?;
`, subject, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("Recent query: %w", err)
	}
	defer rows.Close()

	var out []store.VerificationEventRecord
	for rows.Next() {
		var (
			rec        store.VerificationEventRecord
			subj, evID sql.NullString
			dist       sql.NullFloat64
			atMs       int64
		)
		if err := rows.Scan(&rec.Kind, &subj, &rec.Outcome, &dist, &evID, &atMs); err != nil {
			return nil, fmt.Errorf("Recent scan: %w", err)
		}
		rec.Subject = subj.String
		rec.EvidenceID = evID.String
		if dist.Valid {
			d := dist.Float64
			rec.Distance = &d
		}
		rec.At = time.UnixMilli(atMs).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
