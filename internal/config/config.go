package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/BrandonDHaskell/facegate/internal/facegate/liveness"
	"github.com/BrandonDHaskell/facegate/internal/facegate/service"
)

// Identity store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string // empty = no gRPC health server

	Env      string // "dev" | "prod"
	LogLevel string
	LogDir   string // empty = stdout only
	LogDays  int

	// Storage
	Store          string   // "memory" | "sqlite" | "redis"
	DBPath         string   // e.g. "./data/facegate.db"
	RedisAddrs     []string // one address, or several for cluster/sentinel
	RedisNamespace string

	// Enrollment
	MinNameTokens int
	ProfilePolicy string // "none" | "payment"
	Match         service.MatchConfig

	// Liveness
	Liveness    liveness.Config
	MaxSessions int

	// Evidence
	EvidenceDir      string // empty = evidence capture off
	EvidenceMaxWidth int    // 0 = keep original size

	// Retention
	EventRetentionDays int // 0 = keep forever
	PruneIntervalHours int // how often the pruner runs (default 6)

	// Remote detector
	DetectorURL     string // empty = login and frame upload disabled
	DetectorTimeout time.Duration

	// Login tokens
	TokenSecret string // empty = no tokens issued
	TokenTTL    time.Duration
}

func FromEnv() Config {
	env := strings.ToLower(getenvDefault("FACEGATE_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	st := strings.ToLower(getenvDefault("FACEGATE_STORE", StoreSQLite))
	if st != StoreMemory && st != StoreSQLite && st != StoreRedis {
		st = StoreSQLite
	}

	match := service.MatchConfig{
		AcceptThreshold: getenvFloat("FACEGATE_ACCEPT_THRESHOLD", service.DefaultAcceptThreshold),
		EmbeddingDim:    getenvInt("FACEGATE_EMBEDDING_DIM", service.DefaultEmbeddingDim),
	}
	match.ApplyDefaults()

	return Config{
		HTTPAddr: getenvDefault("FACEGATE_HTTP_ADDR", ":8080"),
		GRPCAddr: os.Getenv("FACEGATE_GRPC_ADDR"),

		Env:      env,
		LogLevel: getenvDefault("FACEGATE_LOG_LEVEL", "info"),
		LogDir:   strings.TrimSpace(os.Getenv("FACEGATE_LOG_DIR")),
		LogDays:  getenvInt("FACEGATE_LOG_MAX_AGE_DAYS", 7),

		Store:          st,
		DBPath:         getenvDefault("FACEGATE_DB_PATH", "./data/facegate.db"),
		RedisAddrs:     splitCSV(getenvDefault("FACEGATE_REDIS_ADDR", "localhost:6379")),
		RedisNamespace: getenvDefault("FACEGATE_REDIS_NAMESPACE", "facegate"),

		MinNameTokens: getenvInt("FACEGATE_MIN_NAME_TOKENS", 3),
		ProfilePolicy: strings.ToLower(getenvDefault("FACEGATE_PROFILE_POLICY", "none")),
		Match:         match,

		Liveness:    liveness.DefaultConfig(),
		MaxSessions: getenvInt("FACEGATE_MAX_SESSIONS", 256),

		EvidenceDir:      strings.TrimSpace(os.Getenv("FACEGATE_EVIDENCE_DIR")),
		EvidenceMaxWidth: getenvInt("FACEGATE_EVIDENCE_MAX_WIDTH", 0),

		EventRetentionDays: getenvInt("FACEGATE_EVENT_RETENTION_DAYS", 30),
		PruneIntervalHours: getenvInt("FACEGATE_PRUNE_INTERVAL_HOURS", 6),

		DetectorURL:     strings.TrimRight(strings.TrimSpace(os.Getenv("FACEGATE_DETECTOR_URL")), "/"),
		DetectorTimeout: time.Duration(getenvInt("FACEGATE_DETECTOR_TIMEOUT_SECONDS", 10)) * time.Second,

		TokenSecret: os.Getenv("FACEGATE_TOKEN_SECRET"),
		TokenTTL:    time.Duration(getenvInt("FACEGATE_TOKEN_TTL_MINUTES", 15)) * time.Minute,
	}
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process
// environment. Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// fileConfig is the layout of the optional config file. Only the tuning
// sections live there; deployment settings stay in the environment.
type fileConfig struct {
	Liveness liveness.Config     `yaml:"liveness" toml:"liveness"`
	Match    service.MatchConfig `yaml:"match" toml:"match"`
}

// Load reads the environment and then overlays the config file at path,
// falling back to FACEGATE_CONFIG when path is empty. The accept
// threshold and embedding size from the environment take precedence
// over the file.
func Load(path string) (Config, error) {
	cfg := FromEnv()

	if path == "" {
		path = strings.TrimSpace(os.Getenv("FACEGATE_CONFIG"))
	}
	if path == "" {
		return cfg, nil
	}

	fc := fileConfig{Liveness: cfg.Liveness, Match: cfg.Match}
	if err := decodeFile(path, &fc); err != nil {
		return Config{}, err
	}

	cfg.Liveness = fc.Liveness
	cfg.Liveness.ApplyDefaults()

	if !envSet("FACEGATE_ACCEPT_THRESHOLD") && fc.Match.AcceptThreshold > 0 {
		cfg.Match.AcceptThreshold = fc.Match.AcceptThreshold
	}
	if !envSet("FACEGATE_EMBEDDING_DIM") && fc.Match.EmbeddingDim > 0 {
		cfg.Match.EmbeddingDim = fc.Match.EmbeddingDim
	}
	return cfg, nil
}

func decodeFile(path string, out *fileConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, out)
	case ".toml":
		_, err = toml.Decode(string(data), out)
	default:
		return fmt.Errorf("config %s: unsupported format (want .yaml, .yml or .toml)", path)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func envSet(key string) bool {
	return strings.TrimSpace(os.Getenv(key)) != ""
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
