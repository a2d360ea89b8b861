package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound   = errors.New("identity not found")
	ErrNameExists = errors.New("identity name already exists")
)

// IdentityRecord is one enrolled person. Records are never updated in
// place; re-enrollment means delete then insert.
type IdentityRecord struct {
	Name       string
	Embedding  []float64
	Profile    map[string]string
	EnrolledAt time.Time
}

// Clone returns a deep copy so callers never share slices or maps with
// the store.
func (r IdentityRecord) Clone() IdentityRecord {
	out := r
	if r.Embedding != nil {
		out.Embedding = append([]float64(nil), r.Embedding...)
	}
	if r.Profile != nil {
		out.Profile = make(map[string]string, len(r.Profile))
		for k, v := range r.Profile {
			out.Profile[k] = v
		}
	}
	return out
}

// IdentityStore persists enrolled identities. List returns records in
// insertion order; the matcher's tie-break depends on it.
type IdentityStore interface {
	List(ctx context.Context) ([]IdentityRecord, error)
	Get(ctx context.Context, name string) (IdentityRecord, error)
	Insert(ctx context.Context, rec IdentityRecord) error
	Delete(ctx context.Context, name string) error
	Count(ctx context.Context) (int, error)
}

// EnrollLocker is implemented by stores shared between processes. The
// registry holds the lock across its duplicate-face scan and the insert
// that follows, so two instances cannot enroll the same face.
type EnrollLocker interface {
	LockEnroll(ctx context.Context) (unlock func(), err error)
}
