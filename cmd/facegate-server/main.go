package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/facegate/internal/config"
	"github.com/BrandonDHaskell/facegate/internal/facegate/detect"
	"github.com/BrandonDHaskell/facegate/internal/facegate/evidence"
	"github.com/BrandonDHaskell/facegate/internal/facegate/liveness"
	"github.com/BrandonDHaskell/facegate/internal/facegate/notify"
	"github.com/BrandonDHaskell/facegate/internal/facegate/service"
	"github.com/BrandonDHaskell/facegate/internal/grpcapi"
	"github.com/BrandonDHaskell/facegate/internal/httpapi"
	"github.com/BrandonDHaskell/facegate/internal/logging"
)

func main() {
	configPath := pflag.String("config", "", "YAML or TOML file with liveness and match tuning")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	pflag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, closeLog, err := logging.New(logging.Config{
		Name:       "facegate-server",
		Env:        cfg.Env,
		Level:      cfg.LogLevel,
		Dir:        cfg.LogDir,
		MaxAgeDays: cfg.LogDays,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = closeLog() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		_ = closeLog()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close(logger)

	var sink *evidence.FileSink
	if cfg.EvidenceDir != "" {
		sink, err = evidence.NewFileSink(evidence.Config{Dir: cfg.EvidenceDir, MaxWidth: cfg.EvidenceMaxWidth}, logger)
		if err != nil {
			return err
		}
	}

	// Services
	profilePolicy, err := service.ProfilePolicyByName(cfg.ProfilePolicy)
	if err != nil {
		return err
	}
	regOpt := service.RegistryOptions{
		Match:   cfg.Match,
		Naming:  service.TokenNamingPolicy{MinTokens: cfg.MinNameTokens},
		Profile: profilePolicy,
		Logger:  logger,
	}
	if sink != nil {
		regOpt.Purger = sink
	}
	registry := service.NewRegistry(st.identities, regOpt)

	notifier := notify.NewAsync(notify.NewLogNotifier(logger), logger)
	defer notifier.Wait()

	sessDeps := service.SessionDependencies{
		Config:      cfg.Liveness,
		Registry:    registry,
		Events:      st.events,
		Notifier:    notifier,
		MaxSessions: cfg.MaxSessions,
		Logger:      logger,
	}
	if sink != nil {
		sessDeps.Evidence = sink
	}
	sessions := service.NewSessionManager(sessDeps)

	var login *service.LoginService
	if cfg.DetectorURL != "" {
		remote := detect.NewRemoteClient(cfg.DetectorURL, cfg.DetectorTimeout, logger)
		if err := remote.HealthCheck(ctx); err != nil {
			logger.Warn("detector not reachable yet", zap.String("url", cfg.DetectorURL), zap.Error(err))
		}
		login = service.NewLoginService(service.LoginDependencies{
			Faces:          remote,
			Spoof:          remote,
			Embedder:       remote,
			Registry:       registry,
			Events:         st.events,
			Notifier:       notifier,
			SpoofThreshold: cfg.Liveness.SpoofThreshold,
			Logger:         logger,
		})
	} else {
		logger.Warn("FACEGATE_DETECTOR_URL not set, image login disabled")
	}

	var tokens *service.TokenIssuer
	if cfg.TokenSecret != "" {
		tokens = service.NewTokenIssuer([]byte(cfg.TokenSecret), cfg.TokenTTL, nil)
	}

	// Retention
	targets := map[string]service.Prunable{"events": st.events}
	if sink != nil {
		targets["evidence"] = sink
	}
	pruner := service.NewPruner(targets, service.PrunerConfig{
		RetentionDays: cfg.EventRetentionDays,
		IntervalHours: cfg.PruneIntervalHours,
	}, logger)
	pruner.Start(ctx)
	defer pruner.Stop()

	// HTTP
	deps := httpapi.Dependencies{
		Logger:   logger,
		Addr:     cfg.HTTPAddr,
		Registry: registry,
		Login:    login,
		Sessions: sessions,
		Tokens:   tokens,
		Events:   st.events,
	}
	if sink != nil {
		deps.Evidence = sink
	}
	srv := httpapi.NewServer(deps)

	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	// gRPC health
	var health *grpcapi.Server
	if cfg.GRPCAddr != "" {
		health = grpcapi.NewServer(grpcapi.Dependencies{Logger: logger, Addr: cfg.GRPCAddr})
		health.SetServing(true)
		go func() {
			if err := health.Start(); err != nil {
				logger.Error("grpc server error", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if health != nil {
		_ = health.Shutdown(shutdownCtx)
	}
	_ = srv.Shutdown(shutdownCtx)
	return nil
}

// Compile-time checks that the file sink satisfies every role it plays.
var (
	_ liveness.EvidenceSink   = (*evidence.FileSink)(nil)
	_ service.ArtifactPurger  = (*evidence.FileSink)(nil)
	_ service.Prunable        = (*evidence.FileSink)(nil)
	_ httpapi.EvidenceCounter = (*evidence.FileSink)(nil)
)
