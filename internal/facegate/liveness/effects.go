package liveness

import (
	"context"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/facegate/internal/facegate/notify"
)

// EvidenceSink persists the snapshot taken when a subject is verified.
type EvidenceSink interface {
	Capture(ctx context.Context, subject string, at time.Time, img image.Image) (string, error)
}

// Executor performs the effects requested by a Session. Failures are
// logged and never fed back into the state machine.
type Executor struct {
	Notifier notify.Notifier
	Evidence EvidenceSink
	Logger   *zap.Logger
}

// Apply performs eff for subject. snapshot may be nil, in which case
// evidence capture is skipped. It returns the evidence id when one was
// written.
func (x Executor) Apply(ctx context.Context, subject string, eff Effects, at time.Time, snapshot image.Image) string {
	if !eff.Any() {
		return ""
	}
	logger := x.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if eff.Greeting {
		x.say(ctx, logger, GreetingMessage(subject))
	}

	var evidenceID string
	if eff.CaptureEvidence {
		switch {
		case x.Evidence == nil:
		case snapshot == nil:
			logger.Warn("verified without a snapshot, evidence skipped", zap.String("subject", subject))
		default:
			id, err := x.Evidence.Capture(ctx, subject, at, snapshot)
			if err != nil {
				logger.Error("evidence capture failed", zap.String("subject", subject), zap.Error(err))
			} else {
				evidenceID = id
			}
		}
	}

	if eff.PlayTone {
		x.say(ctx, logger, ConfirmationMessage)
	}
	if eff.ResetNotice {
		x.say(ctx, logger, ResetMessage)
	}

	return evidenceID
}

func (x Executor) say(ctx context.Context, logger *zap.Logger, text string) {
	if x.Notifier == nil {
		return
	}
	if err := x.Notifier.Say(ctx, text); err != nil {
		logger.Warn("notify failed", zap.String("message", text), zap.Error(err))
	}
}
