package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BrandonDHaskell/facegate/internal/facegate/store"
	sqlitestore "github.com/BrandonDHaskell/facegate/internal/facegate/store/sqlite"
)

// ═══════════════════════════════════════════════════════════════════════════
// Insert / Get
// ═══════════════════════════════════════════════════════════════════════════

func TestIdentityStore_InsertGet_RoundTrip(t *testing.T) {
	conn := openTestDB(t)
	s := sqlitestore.NewIdentityStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	enrolled := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	rec := store.IdentityRecord{
		Name:       "Ada Byron King",
		Embedding:  []float64{0.1, -0.2, 0.30000000000000004},
		Profile:    map[string]string{"card_number": "4111111111111111"},
		EnrolledAt: enrolled,
	}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Get(ctx, "Ada Byron King")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for i := range rec.Embedding {
		if got.Embedding[i] != rec.Embedding[i] {
			t.Errorf("embedding[%d]: expected %v, got %v", i, rec.Embedding[i], got.Embedding[i])
		}
	}
	if got.Profile["card_number"] != "4111111111111111" {
		t.Errorf("expected profile preserved verbatim, got %v", got.Profile)
	}
	if !got.EnrolledAt.Equal(enrolled) {
		t.Errorf("expected enrolled_at=%s, got %s", enrolled, got.EnrolledAt)
	}
}

func TestIdentityStore_InsertDuplicateName(t *testing.T) {
	conn := openTestDB(t)
	s := sqlitestore.NewIdentityStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	rec := store.IdentityRecord{Name: "Ada Byron King", Embedding: []float64{1}}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, rec); !errors.Is(err, store.ErrNameExists) {
		t.Fatalf("expected ErrNameExists, got %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row, got %d", n)
	}
}

func TestIdentityStore_GetMissing(t *testing.T) {
	conn := openTestDB(t)
	s := sqlitestore.NewIdentityStore(conn, newTestWriter(t, conn))

	if _, err := s.Get(context.Background(), "Nobody At All"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// List / Delete
// ═══════════════════════════════════════════════════════════════════════════

func TestIdentityStore_ListInsertionOrder(t *testing.T) {
	conn := openTestDB(t)
	s := sqlitestore.NewIdentityStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	for _, n := range []string{"Zed Quincy Adams", "Ada Byron King", "Mia Lee Park"} {
		if err := s.Insert(ctx, store.IdentityRecord{Name: n, Embedding: []float64{0}}); err != nil {
			t.Fatalf("Insert %s: %v", n, err)
		}
	}

	recs, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 3 || recs[0].Name != "Zed Quincy Adams" || recs[2].Name != "Mia Lee Park" {
		t.Fatalf("unexpected order: %+v", recs)
	}
	if recs[0].Profile != nil {
		t.Errorf("expected nil profile, got %v", recs[0].Profile)
	}
}

func TestIdentityStore_Delete(t *testing.T) {
	conn := openTestDB(t)
	s := sqlitestore.NewIdentityStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	if err := s.Insert(ctx, store.IdentityRecord{Name: "Ada Byron King", Embedding: []float64{0}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Delete(ctx, "Ada Byron King"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "Ada Byron King"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestIdentityStore_RejectsNonFiniteEmbedding(t *testing.T) {
	conn := openTestDB(t)
	s := sqlitestore.NewIdentityStore(conn, newTestWriter(t, conn))

	var zero float64
	err := s.Insert(context.Background(), store.IdentityRecord{Name: "Ada Byron King", Embedding: []float64{zero / zero}})
	if err == nil {
		t.Fatal("expected error for NaN embedding")
	}
}
