package liveness

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/facegate/internal/facegate/detect"
	"github.com/BrandonDHaskell/facegate/internal/facegate/notify"
)

type Command int

const (
	CommandNone Command = iota
	CommandReset
	CommandQuit
)

// CommandSource is sampled once per frame and must not block.
type CommandSource interface {
	Poll() Command
}

// CommandChan adapts a channel to CommandSource.
type CommandChan <-chan Command

func (c CommandChan) Poll() Command {
	select {
	case cmd, ok := <-c:
		if !ok {
			return CommandNone
		}
		return cmd
	default:
		return CommandNone
	}
}

// Runner drives a Session from a live frame source and the detectors.
// It is the only place that touches I/O; the Session stays pure.
type Runner struct {
	Config Config

	Source detect.FrameSource
	Faces  detect.FaceDetector
	Spoof  detect.SpoofClassifier
	Hands  detect.HandDetector

	Commands CommandSource // optional
	Notifier notify.Notifier
	Evidence EvidenceSink
	Clock    clockwork.Clock
	Logger   *zap.Logger

	// Observer, when set, sees every step result. Use it for on-screen
	// status or progress output.
	Observer func(StepResult)
}

// Run verifies subject until the caller quits or ctx is cancelled. Frame
// and detector failures end the run with that error. The returned Session
// reflects the final state either way.
func (r *Runner) Run(ctx context.Context, subject string) (*Session, error) {
	clock := r.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	exec := Executor{Notifier: r.Notifier, Evidence: r.Evidence, Logger: logger}

	sess := NewSession(r.Config, subject)
	logger.Info("liveness run started", zap.String("subject", subject))

	for {
		if ctx.Err() != nil {
			return sess, nil
		}

		frame, err := r.Source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return sess, nil
			}
			return sess, err
		}

		facts, err := r.observe(ctx, sess.Config(), frame)
		if err != nil {
			if ctx.Err() != nil {
				return sess, nil
			}
			return sess, err
		}

		now := clock.Now()
		res := sess.Step(now, facts)
		exec.Apply(ctx, subject, res.Effects, now, frame.Image)

		if res.JustVerified {
			logger.Info("liveness verified", zap.String("subject", subject))
		}
		if r.Observer != nil {
			r.Observer(res)
		}

		if r.Commands == nil {
			continue
		}
		switch r.Commands.Poll() {
		case CommandReset:
			logger.Info("liveness reset", zap.String("subject", subject))
			exec.Apply(ctx, subject, sess.Reset(), clock.Now(), nil)
		case CommandQuit:
			return sess, nil
		}
	}
}

// observe runs the detectors over one frame and reduces their output to
// FrameFacts.
func (r *Runner) observe(ctx context.Context, cfg Config, frame detect.Frame) (FrameFacts, error) {
	faces, err := r.Faces.DetectFaces(ctx, frame)
	if err != nil {
		return FrameFacts{}, fmt.Errorf("detect faces: %w", err)
	}

	facts := FrameFacts{FaceCount: len(faces)}
	if len(faces) == 1 {
		c := faces[0].Center
		facts.FaceCenter = &c

		// The classifier only matters once the face is in position.
		if cfg.FaceZone.ContainsStrict(c) {
			regions, err := r.Spoof.Classify(ctx, frame)
			if err != nil {
				return FrameFacts{}, fmt.Errorf("classify spoof: %w", err)
			}
			facts.Spoof = detect.PickVerdict(regions, cfg.SpoofThreshold)
		}
	}

	hand, err := r.Hands.DetectHand(ctx, frame)
	if err != nil {
		return FrameFacts{}, fmt.Errorf("detect hand: %w", err)
	}
	if hand != nil {
		facts.HandPresent = true
		c := hand.Center
		facts.HandCenter = &c
		if p, ok := hand.ThumbTip(); ok {
			facts.ThumbTip = &p
		}
		if p, ok := hand.IndexTip(); ok {
			facts.IndexTip = &p
		}
	}

	return facts, nil
}
