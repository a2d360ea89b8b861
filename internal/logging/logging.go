// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Name       string // file prefix, e.g. "facegate-server"
	Env        string // "dev" | "prod"
	Level      string // debug | info | warn | error
	Dir        string // empty = stdout only
	MaxAgeDays int    // rotated file retention, 0 = 7
}

// New returns a logger writing to stdout and, when cfg.Dir is set, to a
// daily rotated file under cfg.Dir. The returned close func flushes the
// logger and closes the rotation handle.
func New(cfg Config) (*zap.Logger, func() error, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || strings.TrimSpace(cfg.Level) == "" {
		level = zapcore.InfoLevel
	}

	var enc zapcore.Encoder
	if cfg.Env == "prod" {
		ec := zap.NewProductionEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(ec)
	} else {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(ec)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level),
	}

	closeFn := func() error { return nil }

	if cfg.Dir != "" {
		rl, err := newRotator(cfg)
		if err != nil {
			return nil, nil, err
		}
		// Files are always JSON so they stay machine readable.
		fileEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(fileEnc, zapcore.AddSync(rl), level))
		closeFn = rl.Close
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	if cfg.Name != "" {
		logger = logger.Named(cfg.Name)
	}

	return logger, func() error {
		_ = logger.Sync()
		return closeFn()
	}, nil
}

func newRotator(cfg Config) (*rotatelogs.RotateLogs, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir log dir: %w", err)
	}

	name := cfg.Name
	if name == "" {
		name = "facegate"
	}
	maxAge := cfg.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 7
	}

	rl, err := rotatelogs.New(
		filepath.Join(cfg.Dir, name+".%Y%m%d.log"),
		rotatelogs.WithLinkName(filepath.Join(cfg.Dir, name+".log")),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(time.Duration(maxAge)*24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("rotatelogs: %w", err)
	}
	return rl, nil
}
