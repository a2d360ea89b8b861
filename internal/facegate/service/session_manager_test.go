package service_test

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/BrandonDHaskell/facegate/internal/facegate/liveness"
	"github.com/BrandonDHaskell/facegate/internal/facegate/notify"
	"github.com/BrandonDHaskell/facegate/internal/facegate/service"
	"github.com/BrandonDHaskell/facegate/internal/facegate/store"
	"github.com/BrandonDHaskell/facegate/internal/facegate/store/memory"
)

type fakeEvidence struct {
	subjects []string
}

func (e *fakeEvidence) Capture(_ context.Context, subject string, _ time.Time, _ image.Image) (string, error) {
	e.subjects = append(e.subjects, subject)
	return "01HZEVIDENCE", nil
}

type sessionFixture struct {
	mgr      *service.SessionManager
	clock    *clockwork.FakeClock
	events   *memory.VerificationEventStore
	notifier *notify.Recorder
	evidence *fakeEvidence
}

func newSessionFixture(t *testing.T, maxSessions int) sessionFixture {
	t.Helper()

	reg, _ := newTestRegistry(service.RegistryOptions{})
	if err := reg.Enroll(context.Background(), "Alice Marie Doe", vec(0), nil); err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	f := sessionFixture{
		clock:    clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		events:   memory.NewVerificationEventStore(),
		notifier: notify.NewRecorder(),
		evidence: &fakeEvidence{},
	}
	f.mgr = service.NewSessionManager(service.SessionDependencies{
		Config:      liveness.DefaultConfig(),
		Registry:    reg,
		Events:      f.events,
		Notifier:    f.notifier,
		Evidence:    f.evidence,
		MaxSessions: maxSessions,
		Clock:       f.clock,
	})
	return f
}

func p(x, y float64) *liveness.Point { return &liveness.Point{X: x, Y: y} }

// openFacts satisfies all four gate conditions under the default zones.
func openFacts() liveness.FrameFacts {
	return liveness.FrameFacts{
		FaceCount:   1,
		FaceCenter:  p(200, 200),
		Spoof:       &liveness.SpoofVerdict{Label: "real", Confidence: 0.9},
		HandPresent: true,
		HandCenter:  p(400, 200),
		ThumbTip:    p(400, 200),
		IndexTip:    p(410, 200),
	}
}

// ── Create ───────────────────────────────────────────────────────────────────

func TestSessionCreate_RequiresEnrolledSubject(t *testing.T) {
	f := newSessionFixture(t, 0)

	if _, err := f.mgr.Create(context.Background(), "Nobody At All"); !errors.Is(err, service.ErrUnknownIdentity) {
		t.Fatalf("expected ErrUnknownIdentity, got %v", err)
	}
	if f.mgr.Active() != 0 {
		t.Errorf("expected no sessions, got %d", f.mgr.Active())
	}
}

func TestSessionCreate_Cap(t *testing.T) {
	f := newSessionFixture(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := f.mgr.Create(ctx, "Alice Marie Doe"); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := f.mgr.Create(ctx, "Alice Marie Doe"); !errors.Is(err, service.ErrTooManySessions) {
		t.Fatalf("expected ErrTooManySessions, got %v", err)
	}
}

// ── Step ─────────────────────────────────────────────────────────────────────

func TestSessionStep_VerifiesAfterHold(t *testing.T) {
	f := newSessionFixture(t, 0)
	ctx := context.Background()
	snap := image.NewRGBA(image.Rect(0, 0, 8, 8))

	id, err := f.mgr.Create(ctx, "Alice Marie Doe")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	out, err := f.mgr.Step(ctx, id, openFacts(), snap)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if out.State != liveness.Holding || out.Remaining != 5 {
		t.Fatalf("expected Holding with 5s remaining, got %s %d", out.State, out.Remaining)
	}
	if len(out.Messages) != 1 || out.Messages[0] != liveness.GreetingMessage("Alice Marie Doe") {
		t.Errorf("expected greeting on first step, got %v", out.Messages)
	}

	f.clock.Advance(5 * time.Second)
	out, err = f.mgr.Step(ctx, id, openFacts(), snap)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if out.State != liveness.Verified || !out.JustVerified {
		t.Fatalf("expected Verified, got %s", out.State)
	}
	if out.EvidenceID != "01HZEVIDENCE" {
		t.Errorf("expected evidence id, got %q", out.EvidenceID)
	}
	if len(out.Messages) != 1 || out.Messages[0] != liveness.ConfirmationMessage {
		t.Errorf("expected confirmation message, got %v", out.Messages)
	}

	evs := f.events.Events()
	if len(evs) != 1 || evs[0].Kind != store.EventKindLiveness || evs[0].EvidenceID != "01HZEVIDENCE" {
		t.Errorf("expected one liveness event with evidence, got %+v", evs)
	}

	// Further frames stay Verified without repeating effects.
	out, _ = f.mgr.Step(ctx, id, liveness.FrameFacts{}, snap)
	if out.State != liveness.Verified || out.JustVerified || out.EvidenceID != "" {
		t.Errorf("expected sticky Verified without effects, got %+v", out)
	}
	if len(f.evidence.subjects) != 1 {
		t.Errorf("expected exactly one capture, got %d", len(f.evidence.subjects))
	}
	if got := f.notifier.Messages(); len(got) != 2 {
		t.Errorf("expected greeting and confirmation only, got %v", got)
	}
}

func TestSessionStep_ClosedGateResets(t *testing.T) {
	f := newSessionFixture(t, 0)
	ctx := context.Background()

	id, _ := f.mgr.Create(ctx, "Alice Marie Doe")
	f.mgr.Step(ctx, id, openFacts(), nil)

	f.clock.Advance(4 * time.Second)
	facts := openFacts()
	facts.IndexTip = p(440, 200)
	out, _ := f.mgr.Step(ctx, id, facts, nil)
	if out.State != liveness.Idle || out.Gate.GestureOK {
		t.Fatalf("expected Idle with gesture failing, got %s %+v", out.State, out.Gate)
	}

	f.clock.Advance(4 * time.Second)
	out, _ = f.mgr.Step(ctx, id, openFacts(), nil)
	if out.State != liveness.Holding {
		t.Fatalf("expected Holding restarted from zero, got %s", out.State)
	}
}

func TestSessionStep_UnknownSession(t *testing.T) {
	f := newSessionFixture(t, 0)
	if _, err := f.mgr.Step(context.Background(), "missing", openFacts(), nil); !errors.Is(err, service.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

// ── Reset / End ──────────────────────────────────────────────────────────────

func TestSessionReset_RearmsEffects(t *testing.T) {
	f := newSessionFixture(t, 0)
	ctx := context.Background()
	snap := image.NewRGBA(image.Rect(0, 0, 8, 8))

	id, _ := f.mgr.Create(ctx, "Alice Marie Doe")
	f.mgr.Step(ctx, id, openFacts(), snap)
	f.clock.Advance(5 * time.Second)
	f.mgr.Step(ctx, id, openFacts(), snap)

	out, err := f.mgr.Reset(ctx, id)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if out.State != liveness.Idle {
		t.Fatalf("expected Idle after reset, got %s", out.State)
	}
	if len(out.Messages) != 1 || out.Messages[0] != liveness.ResetMessage {
		t.Errorf("expected reset notice, got %v", out.Messages)
	}

	f.mgr.Step(ctx, id, openFacts(), snap)
	f.clock.Advance(5 * time.Second)
	out, _ = f.mgr.Step(ctx, id, openFacts(), snap)
	if !out.JustVerified {
		t.Fatal("expected a second verification after reset")
	}
	if len(f.evidence.subjects) != 2 {
		t.Errorf("expected a second capture after reset, got %d", len(f.evidence.subjects))
	}
	if n := len(f.events.Events()); n != 2 {
		t.Errorf("expected 2 liveness events, got %d", n)
	}
}

func TestSessionEnd(t *testing.T) {
	f := newSessionFixture(t, 0)
	ctx := context.Background()

	id, _ := f.mgr.Create(ctx, "Alice Marie Doe")
	if err := f.mgr.End(id); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := f.mgr.End(id); !errors.Is(err, service.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound on second End, got %v", err)
	}
	if _, err := f.mgr.Reset(ctx, id); !errors.Is(err, service.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound on Reset, got %v", err)
	}
	if f.mgr.Active() != 0 {
		t.Errorf("expected no sessions, got %d", f.mgr.Active())
	}
}
