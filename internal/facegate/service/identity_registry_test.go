package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/facegate/internal/facegate/service"
	"github.com/BrandonDHaskell/facegate/internal/facegate/store"
	"github.com/BrandonDHaskell/facegate/internal/facegate/store/memory"
)

// ── Matching ─────────────────────────────────────────────────────────────────

func TestFindBestMatch_Reflexive(t *testing.T) {
	reg, _ := newTestRegistry(service.RegistryOptions{})
	ctx := context.Background()

	embeddings := [][]float64{vec(0), vecAt(5, 3.5), vecAt(127, -2)}
	names := []string{"Alice Marie Doe", "Bob James Roe", "Carol Ann Poe"}
	for i := range names {
		if err := reg.Enroll(ctx, names[i], embeddings[i], nil); err != nil {
			t.Fatalf("Enroll %s: %v", names[i], err)
		}
	}

	for i, e := range embeddings {
		m, ok, err := reg.FindBestMatch(ctx, e)
		if err != nil {
			t.Fatalf("FindBestMatch: %v", err)
		}
		if !ok || m.Name != names[i] || m.Distance != 0 {
			t.Errorf("expected %s at distance 0, got %+v ok=%v", names[i], m, ok)
		}
	}
}

func TestFindBestMatch_Threshold(t *testing.T) {
	reg, _ := newTestRegistry(service.RegistryOptions{})
	ctx := context.Background()

	if err := reg.Enroll(ctx, "Alice Marie Doe", vec(0), nil); err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	if m, ok, _ := reg.FindBestMatch(ctx, vec(0.1)); !ok || m.Name != "Alice Marie Doe" {
		t.Errorf("expected match at 0.1, got %+v ok=%v", m, ok)
	}
	if _, ok, _ := reg.FindBestMatch(ctx, vec(0.6)); ok {
		t.Error("expected no match at exactly the threshold")
	}
	if _, ok, _ := reg.FindBestMatch(ctx, vec(0.9)); ok {
		t.Error("expected no match at 0.9")
	}
}

func TestFindBestMatch_OverriddenThreshold(t *testing.T) {
	reg, _ := newTestRegistry(service.RegistryOptions{Match: service.MatchConfig{AcceptThreshold: 1.0}})
	ctx := context.Background()

	if err := reg.Enroll(ctx, "Alice Marie Doe", vec(0), nil); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if _, ok, _ := reg.FindBestMatch(ctx, vec(0.9)); !ok {
		t.Error("expected match at 0.9 with threshold 1.0")
	}
}

func TestFindBestMatch_TieGoesToFirstEnrolled(t *testing.T) {
	reg, _ := newTestRegistry(service.RegistryOptions{Match: service.MatchConfig{AcceptThreshold: 0.5}})
	ctx := context.Background()

	// Both are 0.4 from the origin and 0.8 apart, so neither is a duplicate.
	if err := reg.Enroll(ctx, "Alice Marie Doe", vec(0.4), nil); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if err := reg.Enroll(ctx, "Bob James Roe", vec(-0.4), nil); err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	m, ok, err := reg.FindBestMatch(ctx, vec(0))
	if err != nil || !ok {
		t.Fatalf("expected a match, got ok=%v err=%v", ok, err)
	}
	if m.Name != "Alice Marie Doe" {
		t.Errorf("expected tie to go to the first enrolled identity, got %s", m.Name)
	}
}

func TestFindBestMatch_EmptyStore(t *testing.T) {
	reg, _ := newTestRegistry(service.RegistryOptions{})
	if _, ok, err := reg.FindBestMatch(context.Background(), vec(0)); ok || err != nil {
		t.Errorf("expected no match and no error, got ok=%v err=%v", ok, err)
	}
}

// ── Enrollment ───────────────────────────────────────────────────────────────

func TestEnroll_DuplicateFaceKeepsFirst(t *testing.T) {
	reg, st := newTestRegistry(service.RegistryOptions{})
	ctx := context.Background()

	if err := reg.Enroll(ctx, "Alice Marie Doe", vec(0), map[string]string{"k": "first"}); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	err := reg.Enroll(ctx, "Mallory Eve Smith", vec(0.05), map[string]string{"k": "second"})
	if !errors.Is(err, service.ErrDuplicateFace) {
		t.Fatalf("expected ErrDuplicateFace, got %v", err)
	}

	recs, _ := st.List(ctx)
	if len(recs) != 1 || recs[0].Name != "Alice Marie Doe" || recs[0].Profile["k"] != "first" {
		t.Fatalf("expected only the first record, got %+v", recs)
	}
}

func TestEnroll_NameTaken(t *testing.T) {
	reg, _ := newTestRegistry(service.RegistryOptions{})
	ctx := context.Background()

	if err := reg.Enroll(ctx, "Alice Marie Doe", vec(0), nil); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if err := reg.Enroll(ctx, "Alice Marie Doe", vec(5), nil); !errors.Is(err, service.ErrNameTaken) {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}
	// Names are case- and spacing-sensitive.
	if err := reg.Enroll(ctx, "alice marie doe", vec(10), nil); err != nil {
		t.Fatalf("expected distinct name to enroll, got %v", err)
	}
}

func TestEnroll_InvalidName(t *testing.T) {
	reg, st := newTestRegistry(service.RegistryOptions{})
	ctx := context.Background()

	for _, name := range []string{"", "   ", "Alice", "Alice Doe"} {
		if err := reg.Enroll(ctx, name, vec(0), nil); !errors.Is(err, service.ErrInvalidName) {
			t.Errorf("name %q: expected ErrInvalidName, got %v", name, err)
		}
	}
	if n, _ := st.Count(ctx); n != 0 {
		t.Errorf("expected nothing stored, got %d", n)
	}
}

func TestEnroll_PluggableNamingPolicy(t *testing.T) {
	reg, _ := newTestRegistry(service.RegistryOptions{Naming: service.TokenNamingPolicy{MinTokens: 1}})
	if err := reg.Enroll(context.Background(), "Cher", vec(0), nil); err != nil {
		t.Fatalf("expected single-token name to pass, got %v", err)
	}
}

func TestEnroll_InvalidEmbedding(t *testing.T) {
	reg, _ := newTestRegistry(service.RegistryOptions{})
	ctx := context.Background()

	var zero float64
	nan := vec(0)
	nan[3] = zero / zero

	for _, e := range [][]float64{nil, {0.1, 0.2}, nan} {
		if err := reg.Enroll(ctx, "Alice Marie Doe", e, nil); !errors.Is(err, service.ErrInvalidEmbedding) {
			t.Errorf("expected ErrInvalidEmbedding, got %v", err)
		}
	}
}

func TestEnroll_InvalidProfile(t *testing.T) {
	reg, _ := newTestRegistry(service.RegistryOptions{Profile: service.PaymentProfilePolicy{}})
	ctx := context.Background()

	err := reg.Enroll(ctx, "Alice Marie Doe", vec(0), map[string]string{"card_number": "123"})
	if !errors.Is(err, service.ErrInvalidProfile) {
		t.Fatalf("expected ErrInvalidProfile, got %v", err)
	}

	err = reg.Enroll(ctx, "Alice Marie Doe", vec(0), map[string]string{
		"card_number": "4111111111111111",
		"exp_month":   "04",
		"exp_year":    "29",
		"cvv":         "123",
	})
	if err != nil {
		t.Fatalf("expected valid profile to enroll, got %v", err)
	}
}

func TestEnroll_ConcurrentDuplicatesOnlyOneWins(t *testing.T) {
	reg, st := newTestRegistry(service.RegistryOptions{})
	ctx := context.Background()

	names := []string{"Ann Bea Cole", "Dan Eve Ford", "Gus Hal Ives", "Jan Kim Lowe", "Max Ned Orr"}
	var wg sync.WaitGroup
	errs := make([]error, len(names))
	for i, n := range names {
		wg.Add(1)
		go func(i int, n string) {
			defer wg.Done()
			errs[i] = reg.Enroll(ctx, n, vec(0.01*float64(i)), nil)
		}(i, n)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, service.ErrDuplicateFace):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != len(names)-1 {
		t.Errorf("expected 1 success and %d duplicates, got %d and %d", len(names)-1, ok, dup)
	}
	if n, _ := st.Count(ctx); n != 1 {
		t.Errorf("expected 1 stored identity, got %d", n)
	}
}

// sharedStore is one identity database seen by several registries, as
// when instances share Redis. List is slowed to widen the window between
// the duplicate scan and the insert.
type sharedStore struct {
	*memory.IdentityStore
	lock  sync.Mutex
	delay time.Duration
}

func (s *sharedStore) List(ctx context.Context) ([]store.IdentityRecord, error) {
	time.Sleep(s.delay)
	return s.IdentityStore.List(ctx)
}

func (s *sharedStore) LockEnroll(context.Context) (func(), error) {
	s.lock.Lock()
	return s.lock.Unlock, nil
}

func TestEnroll_RegistriesSharingAStoreEnrollOneFace(t *testing.T) {
	shared := &sharedStore{IdentityStore: memory.NewIdentityStore(), delay: 20 * time.Millisecond}
	regs := []*service.Registry{
		service.NewRegistry(shared, service.RegistryOptions{}),
		service.NewRegistry(shared, service.RegistryOptions{}),
	}
	ctx := context.Background()

	names := []string{"Ann Bea Cole", "Dan Eve Ford"}
	errs := make([]error, len(regs))
	var wg sync.WaitGroup
	for i := range regs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = regs[i].Enroll(ctx, names[i], vec(0.01*float64(i)), nil)
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, service.ErrDuplicateFace):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != 1 {
		t.Errorf("expected 1 success and 1 duplicate, got %d and %d (errs=%v)", ok, dup, errs)
	}
	if n, _ := shared.Count(ctx); n != 1 {
		t.Errorf("expected 1 stored identity, got %d", n)
	}
}

// ── Delete ───────────────────────────────────────────────────────────────────

func TestDelete_PurgesEvidence(t *testing.T) {
	purger := &fakePurger{}
	reg, _ := newTestRegistry(service.RegistryOptions{Purger: purger})
	ctx := context.Background()

	if err := reg.Enroll(ctx, "Alice Marie Doe", vec(0), nil); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if err := reg.Delete(ctx, "Alice Marie Doe"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(purger.subjects) != 1 || purger.subjects[0] != "Alice Marie Doe" {
		t.Errorf("expected evidence purge for the subject, got %v", purger.subjects)
	}

	if err := reg.Delete(ctx, "Alice Marie Doe"); !errors.Is(err, service.ErrUnknownIdentity) {
		t.Errorf("expected ErrUnknownIdentity, got %v", err)
	}

	// The face can be enrolled again once deleted.
	if err := reg.Enroll(ctx, "Alice Marie Doe", vec(0), nil); err != nil {
		t.Errorf("expected re-enrollment after delete, got %v", err)
	}
}
