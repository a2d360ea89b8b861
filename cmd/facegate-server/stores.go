package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/facegate/internal/config"
	"github.com/BrandonDHaskell/facegate/internal/db"
	"github.com/BrandonDHaskell/facegate/internal/facegate/store"
	"github.com/BrandonDHaskell/facegate/internal/facegate/store/memory"
	redisstore "github.com/BrandonDHaskell/facegate/internal/facegate/store/redis"
	sqlitestore "github.com/BrandonDHaskell/facegate/internal/facegate/store/sqlite"
)

// stores bundles the selected backends and how to release them.
type stores struct {
	identities store.IdentityStore
	events     store.VerificationEventStore
	closers    []func() error
}

func (s *stores) Close(logger *zap.Logger) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Warn("close store", zap.Error(err))
		}
	}
}

// openStores picks the identity backend from cfg.Store. Audit events live
// in SQLite unless everything runs in memory.
func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (*stores, error) {
	s := &stores{}

	if cfg.Store == config.StoreMemory {
		s.identities = memory.NewIdentityStore()
		s.events = memory.NewVerificationEventStore()
		logger.Info("using in-memory stores")
		return s, nil
	}

	sqlDB, writer, err := openSQLite(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, sqlDB.Close, func() error { writer.Close(); return nil })
	s.events = sqlitestore.NewVerificationEventStore(sqlDB, writer)

	switch cfg.Store {
	case config.StoreRedis:
		client := goredis.NewUniversalClient(&goredis.UniversalOptions{Addrs: cfg.RedisAddrs})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			s.Close(logger)
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		s.closers = append(s.closers, client.Close)
		s.identities = redisstore.NewIdentityStore(client, cfg.RedisNamespace)
		logger.Info("using redis identity store",
			zap.Strings("addrs", cfg.RedisAddrs), zap.String("namespace", cfg.RedisNamespace))
	default:
		s.identities = sqlitestore.NewIdentityStore(sqlDB, writer)
		logger.Info("using sqlite identity store", zap.String("path", cfg.DBPath))
	}

	return s, nil
}

func openSQLite(ctx context.Context, cfg config.Config) (*sql.DB, *db.Worker, error) {
	sqlDB, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return nil, nil, err
	}
	return sqlDB, db.NewWorker(sqlDB), nil
}
