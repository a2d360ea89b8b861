package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/facegate/internal/config"
	"github.com/BrandonDHaskell/facegate/internal/facegate/detect"
	"github.com/BrandonDHaskell/facegate/internal/facegate/evidence"
	"github.com/BrandonDHaskell/facegate/internal/facegate/liveness"
	"github.com/BrandonDHaskell/facegate/internal/facegate/notify"
	"github.com/BrandonDHaskell/facegate/internal/logging"
)

func main() {
	subject := pflag.StringP("subject", "s", "", "full name of the person being verified")
	frames := pflag.String("frames", "", "directory of frames to replay as the camera")
	detectorURL := pflag.String("detector", "", "inference service URL (default FACEGATE_DETECTOR_URL)")
	interval := pflag.Duration("interval", 100*time.Millisecond, "delay between frames")
	loop := pflag.Bool("loop", false, "replay the frames until quit")
	evidenceDir := pflag.String("evidence-dir", "", "where to store the verification snapshot (default FACEGATE_EVIDENCE_DIR)")
	configPath := pflag.String("config", "", "YAML or TOML file with liveness tuning")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	pflag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if *detectorURL != "" {
		cfg.DetectorURL = *detectorURL
	}
	if *evidenceDir != "" {
		cfg.EvidenceDir = *evidenceDir
	}
	if strings.TrimSpace(*subject) == "" || *frames == "" || cfg.DetectorURL == "" {
		pflag.Usage()
		os.Exit(2)
	}

	logger, closeLog, err := logging.New(logging.Config{
		Name:  "facegate-verify",
		Env:   cfg.Env,
		Level: cfg.LogLevel,
		Dir:   cfg.LogDir,
	})
	if err != nil {
		fatal(err)
	}

	verified, err := run(cfg, *subject, *frames, *interval, *loop, logger)
	if err != nil {
		logger.Error("verification aborted", zap.Error(err))
	}
	_ = closeLog()

	if !verified {
		os.Exit(1)
	}
}

func run(cfg config.Config, subject, frames string, interval time.Duration, loop bool, logger *zap.Logger) (bool, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := detect.NewDirSource(frames, detect.DirSourceOptions{Interval: interval, Loop: loop})
	if err != nil {
		return false, err
	}
	remote := detect.NewRemoteClient(cfg.DetectorURL, cfg.DetectorTimeout, logger)

	notifier := notify.NewAsync(notify.NewLogNotifier(logger), logger)
	defer notifier.Wait()

	runner := &liveness.Runner{
		Config:   cfg.Liveness,
		Source:   src,
		Faces:    remote,
		Spoof:    remote,
		Hands:    remote,
		Commands: liveness.CommandChan(readCommands(ctx, os.Stdin)),
		Notifier: notifier,
		Logger:   logger,
		Observer: progress(logger),
	}
	if cfg.EvidenceDir != "" {
		sink, err := evidence.NewFileSink(evidence.Config{Dir: cfg.EvidenceDir, MaxWidth: cfg.EvidenceMaxWidth}, logger)
		if err != nil {
			return false, err
		}
		runner.Evidence = sink
	}

	logger.Info("replaying frames", zap.String("dir", frames), zap.Int("count", src.Len()))
	fmt.Println("r + Enter resets, q + Enter quits")

	sess, err := runner.Run(ctx, subject)
	verified := sess != nil && sess.State() == liveness.Verified
	if errors.Is(err, detect.ErrReadFailed) && verified {
		// Running out of recorded frames after verifying is a normal end.
		err = nil
	}
	return verified, err
}

// readCommands turns stdin lines into commands. The channel is buffered
// so the runner's non-blocking poll never misses a keypress.
func readCommands(ctx context.Context, in io.Reader) <-chan liveness.Command {
	out := make(chan liveness.Command, 8)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			var cmd liveness.Command
			switch strings.ToLower(strings.TrimSpace(sc.Text())) {
			case "r":
				cmd = liveness.CommandReset
			case "q":
				cmd = liveness.CommandQuit
			default:
				continue
			}
			select {
			case out <- cmd:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// progress logs state transitions and the hold countdown.
func progress(logger *zap.Logger) func(liveness.StepResult) {
	last := liveness.Idle
	lastRemaining := -1
	return func(res liveness.StepResult) {
		if res.State != last {
			logger.Info("state", zap.Stringer("state", res.State), zap.Any("gate", res.Gate))
			last = res.State
		}
		if res.State == liveness.Holding && res.Remaining != lastRemaining {
			fmt.Printf("hold still: %ds\n", res.Remaining)
			lastRemaining = res.Remaining
		}
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
