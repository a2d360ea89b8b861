package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/facegate/internal/config"
	"github.com/BrandonDHaskell/facegate/internal/facegate/liveness"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// ── FromEnv ──────────────────────────────────────────────────────────────────

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("FACEGATE_ENV", "")
	t.Setenv("FACEGATE_STORE", "")
	t.Setenv("FACEGATE_ACCEPT_THRESHOLD", "")
	t.Setenv("FACEGATE_REDIS_ADDR", "")

	cfg := config.FromEnv()

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, config.StoreSQLite, cfg.Store)
	assert.Equal(t, []string{"localhost:6379"}, cfg.RedisAddrs)
	assert.Equal(t, 0.6, cfg.Match.AcceptThreshold)
	assert.Equal(t, 128, cfg.Match.EmbeddingDim)
	assert.Equal(t, 3, cfg.MinNameTokens)
	assert.Equal(t, 30, cfg.EventRetentionDays)
	assert.Equal(t, 15*time.Minute, cfg.TokenTTL)
	assert.Equal(t, liveness.DefaultConfig(), cfg.Liveness)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("FACEGATE_ENV", "PROD")
	t.Setenv("FACEGATE_STORE", "redis")
	t.Setenv("FACEGATE_REDIS_ADDR", " r1:6379, ,r2:6379 ")
	t.Setenv("FACEGATE_ACCEPT_THRESHOLD", "0.45")
	t.Setenv("FACEGATE_MIN_NAME_TOKENS", "2")
	t.Setenv("FACEGATE_DETECTOR_URL", "http://detector:9000/")

	cfg := config.FromEnv()

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, config.StoreRedis, cfg.Store)
	assert.Equal(t, []string{"r1:6379", "r2:6379"}, cfg.RedisAddrs)
	assert.Equal(t, 0.45, cfg.Match.AcceptThreshold)
	assert.Equal(t, 2, cfg.MinNameTokens)
	assert.Equal(t, "http://detector:9000", cfg.DetectorURL)
}

func TestFromEnv_FailSoft(t *testing.T) {
	t.Setenv("FACEGATE_ENV", "staging")
	t.Setenv("FACEGATE_STORE", "cassandra")
	t.Setenv("FACEGATE_ACCEPT_THRESHOLD", "-1")
	t.Setenv("FACEGATE_EVENT_RETENTION_DAYS", "abc")

	cfg := config.FromEnv()

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, config.StoreSQLite, cfg.Store)
	assert.Equal(t, 0.6, cfg.Match.AcceptThreshold)
	assert.Equal(t, 30, cfg.EventRetentionDays)
}

// ── Config file ──────────────────────────────────────────────────────────────

func TestLoad_YAML(t *testing.T) {
	t.Setenv("FACEGATE_ACCEPT_THRESHOLD", "")
	path := writeFile(t, "facegate.yaml", `
liveness:
  face_zone: {x: 50, y: 60, w: 100, h: 120}
  gesture_max_distance: 25
  hold: 3s
match:
  accept_threshold: 0.5
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, liveness.Rect{X: 50, Y: 60, W: 100, H: 120}, cfg.Liveness.FaceZone)
	assert.Equal(t, liveness.DefaultHandZone, cfg.Liveness.HandZone)
	assert.Equal(t, 25.0, cfg.Liveness.GestureMaxDistance)
	assert.Equal(t, 3*time.Second, cfg.Liveness.Hold)
	assert.Equal(t, 0.6, cfg.Liveness.SpoofThreshold)
	assert.Equal(t, 0.5, cfg.Match.AcceptThreshold)
	assert.Equal(t, 128, cfg.Match.EmbeddingDim)
}

func TestLoad_TOML(t *testing.T) {
	t.Setenv("FACEGATE_ACCEPT_THRESHOLD", "")
	path := writeFile(t, "facegate.toml", `
[liveness]
spoof_threshold = 0.7
hold = "10s"

[liveness.hand_zone]
x = 320
y = 120
w = 160
h = 160

[match]
embedding_dim = 512
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.7, cfg.Liveness.SpoofThreshold)
	assert.Equal(t, 10*time.Second, cfg.Liveness.Hold)
	assert.Equal(t, liveness.Rect{X: 320, Y: 120, W: 160, H: 160}, cfg.Liveness.HandZone)
	assert.Equal(t, liveness.DefaultFaceZone, cfg.Liveness.FaceZone)
	assert.Equal(t, 512, cfg.Match.EmbeddingDim)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	t.Setenv("FACEGATE_ACCEPT_THRESHOLD", "0.4")
	path := writeFile(t, "facegate.yml", "match:\n  accept_threshold: 0.5\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.4, cfg.Match.AcceptThreshold)
}

func TestLoad_FromEnvVar(t *testing.T) {
	path := writeFile(t, "facegate.yaml", "liveness:\n  frame_width: 1280\n")
	t.Setenv("FACEGATE_CONFIG", path)

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 1280, cfg.Liveness.FrameWidth)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("FACEGATE_CONFIG", "")

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = config.Load(writeFile(t, "facegate.json", "{}"))
	assert.ErrorContains(t, err, "unsupported format")

	_, err = config.Load(writeFile(t, "bad.yaml", "liveness: [1, 2"))
	assert.Error(t, err)
}

// ── .env ─────────────────────────────────────────────────────────────────────

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("FACEGATE_HTTP_ADDR", ":7000")
	t.Setenv("FACEGATE_GRPC_ADDR", "")
	os.Unsetenv("FACEGATE_GRPC_ADDR")

	path := writeFile(t, ".env", "FACEGATE_HTTP_ADDR=:9999\nFACEGATE_GRPC_ADDR=:9191\n")
	require.NoError(t, config.LoadDotEnv(path))
	t.Cleanup(func() { os.Unsetenv("FACEGATE_GRPC_ADDR") })

	cfg := config.FromEnv()
	assert.Equal(t, ":7000", cfg.HTTPAddr, "existing variables win")
	assert.Equal(t, ":9191", cfg.GRPCAddr)

	assert.NoError(t, config.LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}
