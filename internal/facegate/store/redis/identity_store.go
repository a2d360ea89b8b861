// Package redis stores identities in Redis so several facegate instances
// can share one enrollment database.
//
// Keys, under a configurable namespace:
//
//	<ns>:identity:<name>   hash {embedding, profile, enrolled_at_ms}
//	<ns>:identities        sorted set of names scored by insertion sequence
//	<ns>:identity_seq      insertion sequence counter
//	<ns>:enroll_lock       enrollment lock token, set NX with a TTL
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/BrandonDHaskell/facegate/internal/codec"
	"github.com/BrandonDHaskell/facegate/internal/facegate/store"
)

const (
	maxTxRetries = 5

	enrollLockTTL   = 10 * time.Second
	enrollLockWait  = 5 * time.Second
	enrollLockRetry = 20 * time.Millisecond
)

// releaseLock deletes the lock only while it still holds our token.
var releaseLock = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ store.EnrollLocker = (*IdentityStore)(nil)

type IdentityStore struct {
	client goredis.UniversalClient
	ns     string
}

func NewIdentityStore(client goredis.UniversalClient, namespace string) *IdentityStore {
	if namespace == "" {
		namespace = "facegate"
	}
	return &IdentityStore{client: client, ns: namespace}
}

func (s *IdentityStore) identityKey(name string) string { return s.ns + ":identity:" + name }
func (s *IdentityStore) indexKey() string              { return s.ns + ":identities" }
func (s *IdentityStore) seqKey() string                { return s.ns + ":identity_seq" }
func (s *IdentityStore) lockKey() string               { return s.ns + ":enroll_lock" }

// LockEnroll takes the namespace-wide enrollment lock, polling until it
// is free, ctx ends or enrollLockWait passes. A holder that dies releases
// the lock when its TTL runs out.
func (s *IdentityStore) LockEnroll(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, enrollLockWait)
	defer cancel()

	token := uuid.NewString()
	for {
		ok, err := s.client.SetNX(ctx, s.lockKey(), token, enrollLockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("LockEnroll: %w", err)
		}
		if ok {
			break
		}

		t := time.NewTimer(enrollLockRetry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("LockEnroll: %w", ctx.Err())
		case <-t.C:
		}
	}

	return func() {
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// On failure the TTL frees the lock.
		_ = releaseLock.Run(rctx, s.client, []string{s.lockKey()}, token).Err()
	}, nil
}

func (s *IdentityStore) List(ctx context.Context) ([]store.IdentityRecord, error) {
	names, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("List index: %w", err)
	}
	if len(names) == 0 {
		return nil, nil
	}

	cmds := make([]*goredis.MapStringStringCmd, len(names))
	_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, n := range names {
			cmds[i] = pipe.HGetAll(ctx, s.identityKey(n))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("List fetch: %w", err)
	}

	out := make([]store.IdentityRecord, 0, len(names))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// Deleted between the index read and the fetch.
			continue
		}
		rec, err := decodeIdentity(names[i], fields)
		if err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *IdentityStore) Get(ctx context.Context, name string) (store.IdentityRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.identityKey(name)).Result()
	if err != nil {
		return store.IdentityRecord{}, fmt.Errorf("Get: %w", err)
	}
	if len(fields) == 0 {
		return store.IdentityRecord{}, store.ErrNotFound
	}
	return decodeIdentity(name, fields)
}

func (s *IdentityStore) Insert(ctx context.Context, rec store.IdentityRecord) error {
	emb, err := codec.EncodeEmbedding(rec.Embedding)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	profile, err := codec.EncodeProfile(rec.Profile)
	if err != nil {
		return fmt.Errorf("Insert: encode profile: %w", err)
	}
	if rec.EnrolledAt.IsZero() {
		rec.EnrolledAt = time.Now().UTC()
	}

	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("Insert sequence: %w", err)
	}

	key := s.identityKey(rec.Name)
	txf := func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return store.ErrNameExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"embedding", emb,
				"profile", profile,
				"enrolled_at_ms", rec.EnrolledAt.UTC().UnixMilli(),
			)
			pipe.ZAdd(ctx, s.indexKey(), goredis.Z{Score: float64(seq), Member: rec.Name})
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, goredis.TxFailedErr) {
			break
		}
	}
	if err != nil && !errors.Is(err, store.ErrNameExists) {
		return fmt.Errorf("Insert: %w", err)
	}
	return err
}

func (s *IdentityStore) Delete(ctx context.Context, name string) error {
	var del *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		del = pipe.Del(ctx, s.identityKey(name))
		pipe.ZRem(ctx, s.indexKey(), name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if del.Val() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *IdentityStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	return int(n), nil
}

func decodeIdentity(name string, fields map[string]string) (store.IdentityRecord, error) {
	emb, err := codec.DecodeEmbedding([]byte(fields["embedding"]))
	if err != nil {
		return store.IdentityRecord{}, fmt.Errorf("%s: %w", name, err)
	}
	profile, err := codec.DecodeProfile([]byte(fields["profile"]))
	if err != nil {
		return store.IdentityRecord{}, fmt.Errorf("%s: %w", name, err)
	}
	ms, err := strconv.ParseInt(fields["enrolled_at_ms"], 10, 64)
	if err != nil {
		return store.IdentityRecord{}, fmt.Errorf("%s: enrolled_at_ms: %w", name, err)
	}
	return store.IdentityRecord{
		Name:       name,
		Embedding:  emb,
		Profile:    profile,
		EnrolledAt: time.UnixMilli(ms).UTC(),
	}, nil
}
