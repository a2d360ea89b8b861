package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/facegate/internal/facegate/detect"
	"github.com/BrandonDHaskell/facegate/internal/facegate/notify"
	"github.com/BrandonDHaskell/facegate/internal/facegate/store"
	"github.com/BrandonDHaskell/facegate/internal/facegate/types"
)

type LoginDependencies struct {
	Faces    detect.FaceDetector
	Spoof    detect.SpoofClassifier
	Embedder detect.Embedder
	Registry *Registry
	Events   store.VerificationEventStore
	Notifier notify.Notifier // optional

	SpoofThreshold float64 // 0 = 0.6
	Clock          clockwork.Clock
	Logger         *zap.Logger
}

// LoginService runs single-shot login attempts: presence, then spoof,
// then identity. Each stage short-circuits, so a spoofed image of an
// enrolled face never reaches the matcher.
type LoginService struct {
	faces     detect.FaceDetector
	spoof     detect.SpoofClassifier
	embedder  detect.Embedder
	registry  *Registry
	events    store.VerificationEventStore
	notifier  notify.Notifier
	threshold float64
	clock     clockwork.Clock
	logger    *zap.Logger
}

func NewLoginService(d LoginDependencies) *LoginService {
	if d.SpoofThreshold <= 0 {
		d.SpoofThreshold = 0.6
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &LoginService{
		faces:     d.Faces,
		spoof:     d.Spoof,
		embedder:  d.Embedder,
		registry:  d.Registry,
		events:    d.Events,
		notifier:  d.Notifier,
		threshold: d.SpoofThreshold,
		clock:     d.Clock,
		logger:    d.Logger,
	}
}

// Attempt takes one frame from src and decides the login. Rejections are
// outcomes, not errors; an error means a detector or the store failed and
// no decision was made.
func (s *LoginService) Attempt(ctx context.Context, src detect.FrameSource) (types.LoginOutcome, error) {
	out, err := s.decide(ctx, src)
	if err != nil {
		s.logger.Error("login attempt failed", zap.Error(err))
		return types.LoginOutcome{}, err
	}

	s.recordEvent(ctx, out)

	if out.OK() && s.notifier != nil {
		if err := s.notifier.Say(ctx, out.Message()); err != nil {
			s.logger.Warn("welcome notification failed", zap.Error(err))
		}
	}

	s.logger.Info("login attempt", zap.String("outcome", string(out.Kind)), zap.String("name", out.Name))
	return out, nil
}

func (s *LoginService) decide(ctx context.Context, src detect.FrameSource) (types.LoginOutcome, error) {
	frame, err := src.Next(ctx)
	switch {
	case errors.Is(err, detect.ErrCameraUnavailable):
		return types.Rejected(types.OutcomeCameraUnavailable), nil
	case errors.Is(err, detect.ErrReadFailed):
		return types.Rejected(types.OutcomeCaptureFailed), nil
	case err != nil:
		return types.LoginOutcome{}, err
	}

	faces, err := s.faces.DetectFaces(ctx, frame)
	if err != nil {
		return types.LoginOutcome{}, fmt.Errorf("detect faces: %w", err)
	}
	if len(faces) != 1 {
		return types.Rejected(types.OutcomeNoFaceDetected), nil
	}

	regions, err := s.spoof.Classify(ctx, frame)
	if err != nil {
		return types.LoginOutcome{}, fmt.Errorf("classify spoof: %w", err)
	}
	if v := detect.PickVerdict(regions, s.threshold); v == nil || !v.Real(s.threshold) {
		return types.Rejected(types.OutcomeSpoofDetected), nil
	}

	emb, err := s.embedder.Embed(ctx, frame, faces[0])
	if err != nil {
		return types.LoginOutcome{}, fmt.Errorf("embed face: %w", err)
	}

	m, ok, err := s.registry.FindBestMatch(ctx, emb)
	if err != nil {
		return types.LoginOutcome{}, fmt.Errorf("match: %w", err)
	}
	if !ok {
		return types.Rejected(types.OutcomeNotRegistered), nil
	}
	return types.Success(m.Name, m.Distance), nil
}

// recordEvent appends the outcome to the audit log. Errors are logged and
// not returned; a failed audit write does not change the decision.
func (s *LoginService) recordEvent(ctx context.Context, out types.LoginOutcome) {
	if s.events == nil {
		return
	}
	rec := store.VerificationEventRecord{
		Kind:     store.EventKindLogin,
		Subject:  out.Name,
		Outcome:  string(out.Kind),
		Distance: out.Distance,
		At:       s.clock.Now().UTC(),
	}
	if err := s.events.RecordEvent(ctx, rec); err != nil {
		s.logger.Warn("audit write failed", zap.String("kind", rec.Kind), zap.Error(err))
	}
}
