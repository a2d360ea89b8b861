package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/facegate/internal/facegate/store"
)

var (
	ErrInvalidName      = errors.New("invalid name")
	ErrInvalidEmbedding = errors.New("invalid embedding")
	ErrInvalidProfile   = errors.New("invalid profile")
	ErrDuplicateFace    = errors.New("face already enrolled")
	ErrNameTaken        = errors.New("name already enrolled")
	ErrUnknownIdentity  = errors.New("unknown identity")
)

// ArtifactPurger removes everything captured for a subject. The evidence
// sink implements it.
type ArtifactPurger interface {
	PurgeSubject(ctx context.Context, subject string) (int, error)
}

type RegistryOptions struct {
	Match   MatchConfig
	Naming  NamingPolicy  // nil = TokenNamingPolicy{MinTokens: 3}
	Profile ProfilePolicy // nil = AnyProfile
	Purger  ArtifactPurger
	Clock   clockwork.Clock
	Logger  *zap.Logger
}

// Registry owns enrollment and identification. Matching takes the shared
// lock; enrollment and deletion take the exclusive lock, so a duplicate
// scan and the insert that follows it are atomic. Stores shared between
// processes also provide a store.EnrollLocker, which Enroll holds across
// the same span.
type Registry struct {
	mu      sync.RWMutex
	store   store.IdentityStore
	match   MatchConfig
	naming  NamingPolicy
	profile ProfilePolicy
	purger  ArtifactPurger
	clock   clockwork.Clock
	logger  *zap.Logger
}

func NewRegistry(st store.IdentityStore, opt RegistryOptions) *Registry {
	opt.Match.ApplyDefaults()
	if opt.Naming == nil {
		opt.Naming = TokenNamingPolicy{MinTokens: 3}
	}
	if opt.Profile == nil {
		opt.Profile = AnyProfile{}
	}
	if opt.Clock == nil {
		opt.Clock = clockwork.NewRealClock()
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	return &Registry{
		store:   st,
		match:   opt.Match,
		naming:  opt.Naming,
		profile: opt.Profile,
		purger:  opt.Purger,
		clock:   opt.Clock,
		logger:  opt.Logger,
	}
}

func (r *Registry) MatchConfig() MatchConfig { return r.match }

// Enroll adds a new identity. Checks run in a fixed order: name,
// embedding, profile, duplicate face, then name collision. Nothing is
// written unless every check passes.
func (r *Registry) Enroll(ctx context.Context, name string, embedding []float64, profile map[string]string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if err := r.naming.ValidateName(name); err != nil {
		if errors.Is(err, ErrInvalidName) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInvalidName, err)
	}
	if err := validEmbedding(embedding, r.match.EmbeddingDim); err != nil {
		return err
	}
	if err := r.profile.ValidateProfile(profile); err != nil {
		if errors.Is(err, ErrInvalidProfile) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.store.(store.EnrollLocker); ok {
		unlock, err := l.LockEnroll(ctx)
		if err != nil {
			return fmt.Errorf("enroll lock: %w", err)
		}
		defer unlock()
	}

	recs, err := r.store.List(ctx)
	if err != nil {
		return err
	}
	if m, ok := bestMatch(recs, embedding, r.match.AcceptThreshold); ok {
		r.logger.Info("enrollment rejected: duplicate face",
			zap.String("name", name), zap.String("existing", m.Name), zap.Float64("distance", m.Distance))
		return ErrDuplicateFace
	}

	err = r.store.Insert(ctx, store.IdentityRecord{
		Name:       name,
		Embedding:  embedding,
		Profile:    profile,
		EnrolledAt: r.clock.Now().UTC(),
	})
	if errors.Is(err, store.ErrNameExists) {
		return ErrNameTaken
	}
	if err != nil {
		return err
	}

	r.logger.Info("identity enrolled", zap.String("name", name))
	return nil
}

// FindBestMatch returns the closest enrolled identity whose distance is
// strictly below the accept threshold. Ties go to the earliest enrollment.
func (r *Registry) FindBestMatch(ctx context.Context, embedding []float64) (Match, bool, error) {
	if err := validEmbedding(embedding, r.match.EmbeddingDim); err != nil {
		return Match{}, false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	recs, err := r.store.List(ctx)
	if err != nil {
		return Match{}, false, err
	}
	m, ok := bestMatch(recs, embedding, r.match.AcceptThreshold)
	return m, ok, nil
}

// Get returns one identity.
func (r *Registry) Get(ctx context.Context, name string) (store.IdentityRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, err := r.store.Get(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return store.IdentityRecord{}, ErrUnknownIdentity
	}
	return rec, err
}

// List returns all identities in enrollment order.
func (r *Registry) List(ctx context.Context) ([]store.IdentityRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.List(ctx)
}

func (r *Registry) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.Count(ctx)
}

// Delete removes an identity and purges its captured evidence. A purge
// failure is logged; the identity is already gone at that point.
func (r *Registry) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.store.Delete(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUnknownIdentity
	}
	if err != nil {
		return err
	}

	if r.purger != nil {
		n, err := r.purger.PurgeSubject(ctx, name)
		if err != nil {
			r.logger.Error("evidence purge failed", zap.String("name", name), zap.Error(err))
		} else if n > 0 {
			r.logger.Info("evidence purged", zap.String("name", name), zap.Int("count", n))
		}
	}

	r.logger.Info("identity deleted", zap.String("name", name))
	return nil
}
