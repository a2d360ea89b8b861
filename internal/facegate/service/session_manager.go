package service

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/facegate/internal/facegate/liveness"
	"github.com/BrandonDHaskell/facegate/internal/facegate/notify"
	"github.com/BrandonDHaskell/facegate/internal/facegate/store"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTooManySessions = errors.New("too many active sessions")
)

const defaultMaxSessions = 256

type SessionDependencies struct {
	Config   liveness.Config
	Registry *Registry
	Events   store.VerificationEventStore // optional
	Notifier notify.Notifier              // optional
	Evidence liveness.EvidenceSink        // optional

	MaxSessions int // 0 = 256
	Clock       clockwork.Clock
	Logger      *zap.Logger
}

// SessionManager hosts liveness sessions for clients that run their own
// detectors and post per-frame observations. Each session is stepped
// under its own lock; sessions share nothing but the registry.
type SessionManager struct {
	cfg      liveness.Config
	registry *Registry
	events   store.VerificationEventStore
	exec     liveness.Executor
	max      int
	clock    clockwork.Clock
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*hostedSession
}

type hostedSession struct {
	mu   sync.Mutex
	sess *liveness.Session
}

// StepOutcome is a step result plus what the server did about it.
type StepOutcome struct {
	liveness.StepResult
	EvidenceID string
	Messages   []string
}

func NewSessionManager(d SessionDependencies) *SessionManager {
	d.Config.ApplyDefaults()
	if d.MaxSessions <= 0 {
		d.MaxSessions = defaultMaxSessions
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &SessionManager{
		cfg:      d.Config,
		registry: d.Registry,
		events:   d.Events,
		exec:     liveness.Executor{Notifier: d.Notifier, Evidence: d.Evidence, Logger: d.Logger},
		max:      d.MaxSessions,
		clock:    d.Clock,
		logger:   d.Logger,
		sessions: make(map[string]*hostedSession),
	}
}

// Create opens a session for an enrolled subject.
func (m *SessionManager) Create(ctx context.Context, subject string) (string, error) {
	if _, err := m.registry.Get(ctx, subject); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.max {
		return "", ErrTooManySessions
	}

	id := uuid.NewString()
	m.sessions[id] = &hostedSession{sess: liveness.NewSession(m.cfg, subject)}
	m.logger.Info("liveness session created", zap.String("session_id", id), zap.String("subject", subject))
	return id, nil
}

// Step feeds one frame of observations. snapshot, when non-nil, is stored
// as evidence if this frame completes verification.
func (m *SessionManager) Step(ctx context.Context, id string, facts liveness.FrameFacts, snapshot image.Image) (StepOutcome, error) {
	hs, err := m.get(id)
	if err != nil {
		return StepOutcome{}, err
	}

	hs.mu.Lock()
	defer hs.mu.Unlock()

	now := m.clock.Now()
	res := hs.sess.Step(now, facts)
	subject := hs.sess.Subject()

	out := StepOutcome{StepResult: res, Messages: messagesFor(subject, res.Effects)}
	out.EvidenceID = m.exec.Apply(ctx, subject, res.Effects, now, snapshot)

	if res.JustVerified {
		m.logger.Info("liveness verified", zap.String("session_id", id), zap.String("subject", subject))
		m.recordEvent(ctx, subject, out.EvidenceID)
	}
	return out, nil
}

// Reset returns the session to Idle and re-arms its effects.
func (m *SessionManager) Reset(ctx context.Context, id string) (StepOutcome, error) {
	hs, err := m.get(id)
	if err != nil {
		return StepOutcome{}, err
	}

	hs.mu.Lock()
	defer hs.mu.Unlock()

	eff := hs.sess.Reset()
	subject := hs.sess.Subject()
	m.exec.Apply(ctx, subject, eff, m.clock.Now(), nil)

	return StepOutcome{
		StepResult: liveness.StepResult{State: hs.sess.State(), Effects: eff},
		Messages:   messagesFor(subject, eff),
	}, nil
}

// End discards a session.
func (m *SessionManager) End(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

// Active returns the number of open sessions.
func (m *SessionManager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *SessionManager) get(id string) (*hostedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hs, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return hs, nil
}

func (m *SessionManager) recordEvent(ctx context.Context, subject, evidenceID string) {
	if m.events == nil {
		return
	}
	err := m.events.RecordEvent(ctx, store.VerificationEventRecord{
		Kind:       store.EventKindLiveness,
		Subject:    subject,
		Outcome:    liveness.Verified.String(),
		EvidenceID: evidenceID,
		At:         m.clock.Now().UTC(),
	})
	if err != nil {
		m.logger.Warn("audit write failed", zap.String("kind", store.EventKindLiveness), zap.Error(err))
	}
}

// messagesFor lists the notifications eff produces, so remote clients can
// show them too.
func messagesFor(subject string, eff liveness.Effects) []string {
	var out []string
	if eff.Greeting {
		out = append(out, liveness.GreetingMessage(subject))
	}
	if eff.PlayTone {
		out = append(out, liveness.ConfirmationMessage)
	}
	if eff.ResetNotice {
		out = append(out, liveness.ResetMessage)
	}
	return out
}
