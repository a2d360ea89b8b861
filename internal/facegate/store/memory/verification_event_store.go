package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/facegate/internal/facegate/store"
)

// VerificationEventStore is an in-memory append-only log of verification
// events. It is intended for use in tests and dev environments.
type VerificationEventStore struct {
	mu     sync.Mutex
	events []store.VerificationEventRecord
}

func NewVerificationEventStore() *VerificationEventStore {
	return &VerificationEventStore{}
}

func (s *VerificationEventStore) RecordEvent(_ context.Context, rec store.VerificationEventRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, rec)
	return nil
}

func (s *VerificationEventStore) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var deleted int64
	for _, ev := range s.events {
		if ev.At.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	return deleted, nil
}

func (s *VerificationEventStore) Recent(_ context.Context, subject string, limit int) ([]store.VerificationEventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.VerificationEventRecord
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if subject == "" || s.events[i].Subject == subject {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

// Events returns a copy of all recorded events.  Test-only helper.
func (s *VerificationEventStore) Events() []store.VerificationEventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.VerificationEventRecord, len(s.events))
	copy(out, s.events)
	return out
}
