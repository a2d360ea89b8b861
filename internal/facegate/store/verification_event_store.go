package store

import (
	"context"
	"time"
)

const (
	EventKindLogin    = "login"
	EventKindLiveness = "liveness"
)

// VerificationEventRecord captures one login attempt or liveness result
// for the audit log.
type VerificationEventRecord struct {
	Kind       string
	Subject    string   // empty when no identity was resolved
	Outcome    string
	Distance   *float64 // login matches only
	EvidenceID string
	At         time.Time
}

// VerificationEventStore persists verification events as an append-only
// audit log.
type VerificationEventStore interface {
	RecordEvent(ctx context.Context, rec VerificationEventRecord) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Recent returns up to limit events for subject, newest first. An
	// empty subject matches all events.
	Recent(ctx context.Context, subject string, limit int) ([]VerificationEventRecord, error)
}
