// Package notify delivers user-facing messages (greetings, confirmations,
// reset notices). Delivery is best effort: callers log failures and move
// on.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type Notifier interface {
	Say(ctx context.Context, text string) error
}

// LogNotifier writes messages to the structured log. It is the default
// when no audio or push channel is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Say(_ context.Context, text string) error {
	n.logger.Info("notify", zap.String("message", text))
	return nil
}

// Async delivers each message on its own goroutine so a slow channel
// never stalls the caller. Errors are logged.
type Async struct {
	next   Notifier
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewAsync(next Notifier, logger *zap.Logger) *Async {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Async{next: next, logger: logger}
}

// Say always returns nil; delivery happens in the background and outlives
// ctx cancellation.
func (a *Async) Say(ctx context.Context, text string) error {
	ctx = context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.next.Say(ctx, text); err != nil {
			a.logger.Warn("notify failed", zap.String("message", text), zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until all in-flight messages are delivered.
func (a *Async) Wait() {
	a.wg.Wait()
}

// Recorder keeps every message in order. Test helper.
type Recorder struct {
	mu   sync.Mutex
	msgs []string
	Err  error // returned from Say when set
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Say(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
	return r.Err
}

// Messages returns a copy of all recorded messages.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	copy(out, r.msgs)
	return out
}
