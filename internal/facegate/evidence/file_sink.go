// Package evidence persists the snapshot captured when a subject passes
// liveness verification.
//
// Layout on disk:
//
//	<root>/<base64url(subject)>/<ulid>.png
//
// The ULID timestamp is the capture time, so listing and pruning never
// need to open the image.
package evidence

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

var (
	ErrNoImage        = errors.New("no image to capture")
	ErrInvalidSubject = errors.New("subject is required")
)

// Item describes one stored snapshot.
type Item struct {
	ID      string
	Subject string
	At      time.Time
	Path    string
}

type Config struct {
	Dir      string
	MaxWidth int // downscale wider images, 0 = keep size
}

// FileSink stores snapshots as PNG files under a root directory.
type FileSink struct {
	dir      string
	maxWidth int
	logger   *zap.Logger

	mu sync.Mutex
}

func NewFileSink(cfg Config, logger *zap.Logger) (*FileSink, error) {
	if cfg.Dir == "" {
		cfg.Dir = "./data/evidence"
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir evidence dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSink{dir: cfg.Dir, maxWidth: cfg.MaxWidth, logger: logger}, nil
}

// Capture writes img for subject and returns its id.
func (s *FileSink) Capture(ctx context.Context, subject string, at time.Time, img image.Image) (string, error) {
	if subject == "" {
		return "", ErrInvalidSubject
	}
	if img == nil {
		return "", ErrNoImage
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	img = s.scale(img)
	id := ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.subjectDir(subject)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir subject dir: %w", err)
	}

	// Write to a temp name first so a crash never leaves a partial PNG.
	final := filepath.Join(dir, id+".png")
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("create evidence file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("encode evidence: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close evidence file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("commit evidence file: %w", err)
	}

	s.logger.Debug("evidence captured", zap.String("subject", subject), zap.String("id", id))
	return id, nil
}

// List returns the snapshots for subject ordered by capture time.
func (s *FileSink) List(subject string) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.listDir(subject, s.subjectDir(subject))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return items, err
}

// Count returns the number of stored snapshots across all subjects.
func (s *FileSink) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	err := s.walk(func(Item) error {
		n++
		return nil
	})
	return n, err
}

// PurgeSubject removes every snapshot of subject and returns how many
// were removed.
func (s *FileSink) PurgeSubject(_ context.Context, subject string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.subjectDir(subject)
	items, err := s.listDir(subject, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return 0, fmt.Errorf("purge evidence: %w", err)
	}
	return len(items), nil
}

// PruneOlderThan removes snapshots captured before cutoff.
func (s *FileSink) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	err := s.walk(func(it Item) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !it.At.Before(cutoff) {
			return nil
		}
		if err := os.Remove(it.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("prune evidence %s: %w", it.ID, err)
		}
		deleted++
		return nil
	})
	return deleted, err
}

func (s *FileSink) subjectDir(subject string) string {
	return filepath.Join(s.dir, base64.RawURLEncoding.EncodeToString([]byte(subject)))
}

func (s *FileSink) scale(img image.Image) image.Image {
	b := img.Bounds()
	if s.maxWidth <= 0 || b.Dx() <= s.maxWidth {
		return img
	}
	h := b.Dy() * s.maxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, s.maxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func (s *FileSink) walk(fn func(Item) error) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read evidence dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(e.Name())
		if err != nil {
			s.logger.Warn("skipping foreign directory in evidence root", zap.String("dir", e.Name()))
			continue
		}
		items, err := s.listDir(string(raw), filepath.Join(s.dir, e.Name()))
		if err != nil {
			return err
		}
		for _, it := range items {
			if err := fn(it); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *FileSink) listDir(subject, dir string) ([]Item, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []Item
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".png") {
			continue
		}
		id, err := ulid.ParseStrict(strings.TrimSuffix(name, ".png"))
		if err != nil {
			continue
		}
		out = append(out, Item{
			ID:      id.String(),
			Subject: subject,
			At:      ulid.Time(id.Time()).UTC(),
			Path:    filepath.Join(dir, name),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
