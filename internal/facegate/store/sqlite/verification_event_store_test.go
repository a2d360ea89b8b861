package sqlite_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/BrandonDHaskell/facegate/internal/facegate/store"
	sqlitestore "github.com/BrandonDHaskell/facegate/internal/facegate/store/sqlite"
)

// ═══════════════════════════════════════════════════════════════════════════
// RecordEvent — column values
// ═══════════════════════════════════════════════════════════════════════════

func TestVerificationEventStore_RecordEvent_ColumnsCorrect(t *testing.T) {
	conn := openTestDB(t)
	es := sqlitestore.NewVerificationEventStore(conn, newTestWriter(t, conn))

	now := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	dist := 0.1

	err := es.RecordEvent(context.Background(), store.VerificationEventRecord{
		Kind:     store.EventKindLogin,
		Subject:  "Ada Byron King",
		Outcome:  "success",
		Distance: &dist,
		At:       now,
	})
	if err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	var (
		kind, outcome string
		subject       sql.NullString
		distance      sql.NullFloat64
		evidenceID    sql.NullString
		atMs          int64
	)
	err = conn.QueryRowContext(context.Background(), `
SELECT kind, subject, outcome, distance, evidence_id, at_ms FROM verification_events;
`).Scan(&kind, &subject, &outcome, &distance, &evidenceID, &atMs)
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	if kind != "login" || outcome != "success" {
		t.Errorf("unexpected kind/outcome: %s/%s", kind, outcome)
	}
	if subject.String != "Ada Byron King" {
		t.Errorf("expected subject, got %v", subject)
	}
	if !distance.Valid || distance.Float64 != 0.1 {
		t.Errorf("expected distance 0.1, got %v", distance)
	}
	if evidenceID.Valid {
		t.Errorf("expected NULL evidence_id, got %v", evidenceID)
	}
	if atMs != now.UnixMilli() {
		t.Errorf("expected at_ms=%d, got %d", now.UnixMilli(), atMs)
	}
}

func TestVerificationEventStore_NullableColumns(t *testing.T) {
	conn := openTestDB(t)
	es := sqlitestore.NewVerificationEventStore(conn, newTestWriter(t, conn))

	if err := es.RecordEvent(context.Background(), store.VerificationEventRecord{
		Kind:    store.EventKindLogin,
		Outcome: "no_face",
	}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	var nulls int
	if err := conn.QueryRow(`
SELECT COUNT(*) FROM verification_events
WHERE subject IS NULL AND distance IS NULL AND evidence_id IS NULL;
`).Scan(&nulls); err != nil {
		t.Fatalf("count: %v", err)
	}
	if nulls != 1 {
		t.Errorf("expected 1 row with NULL optionals, got %d", nulls)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Prune / Recent
// ═══════════════════════════════════════════════════════════════════════════

func TestVerificationEventStore_PruneAndRecent(t *testing.T) {
	conn := openTestDB(t)
	es := sqlitestore.NewVerificationEventStore(conn, newTestWriter(t, conn))
	ctx := context.Background()
	now := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)

	for i, ev := range []store.VerificationEventRecord{
		{Kind: store.EventKindLogin, Subject: "Ada Byron King", Outcome: "success", At: now.AddDate(0, 0, -40)},
		{Kind: store.EventKindLiveness, Subject: "Ada Byron King", Outcome: "verified", EvidenceID: "01J000", At: now.AddDate(0, 0, -2)},
		{Kind: store.EventKindLogin, Subject: "Mia Lee Park", Outcome: "success", At: now.AddDate(0, 0, -1)},
	} {
		if err := es.RecordEvent(ctx, ev); err != nil {
			t.Fatalf("RecordEvent %d: %v", i, err)
		}
	}

	deleted, err := es.PruneOlderThan(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 pruned, got %d", deleted)
	}

	all, err := es.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 2 || all[0].Subject != "Mia Lee Park" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	ada, err := es.Recent(ctx, "Ada Byron King", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(ada) != 1 || ada[0].EvidenceID != "01J000" || ada[0].Kind != store.EventKindLiveness {
		t.Fatalf("unexpected events for subject: %+v", ada)
	}
}
