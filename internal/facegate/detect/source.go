package detect

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// StaticSource serves the same uploaded image for every Next call. The
// image is decoded lazily so a malformed upload surfaces as
// ErrReadFailed from Next, like a failed camera read.
type StaticSource struct {
	data  []byte
	clock clockwork.Clock

	once  sync.Once
	frame Frame
	err   error
}

func NewStaticSource(data []byte, clock clockwork.Clock) *StaticSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &StaticSource{data: data, clock: clock}
}

func (s *StaticSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if len(s.data) == 0 {
		return Frame{}, fmt.Errorf("%w: no image supplied", ErrCameraUnavailable)
	}
	s.once.Do(func() {
		s.frame, s.err = DecodeFrame(s.data)
	})
	if s.err != nil {
		return Frame{}, s.err
	}
	f := s.frame
	f.CapturedAt = s.clock.Now()
	return f, nil
}

var frameExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".webp": true,
}

// DirSource replays the image files of a directory in lexical order, one
// per Next call, optionally pacing them at a fixed interval. It stands in
// for a camera when running the verifier against recorded frames.
type DirSource struct {
	files    []string
	interval time.Duration
	loop     bool
	clock    clockwork.Clock

	mu   sync.Mutex
	next int
}

type DirSourceOptions struct {
	Interval time.Duration // 0 = as fast as possible
	Loop     bool          // restart from the first file when exhausted
	Clock    clockwork.Clock
}

func NewDirSource(dir string, opt DirSourceOptions) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if frameExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no frames in %s", ErrCameraUnavailable, dir)
	}
	sort.Strings(files)

	if opt.Clock == nil {
		opt.Clock = clockwork.NewRealClock()
	}

	return &DirSource{
		files:    files,
		interval: opt.Interval,
		loop:     opt.Loop,
		clock:    opt.Clock,
	}, nil
}

// Len returns the number of frames in one pass.
func (s *DirSource) Len() int { return len(s.files) }

func (s *DirSource) Next(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	if s.next >= len(s.files) {
		if !s.loop {
			s.mu.Unlock()
			return Frame{}, fmt.Errorf("%w: replay exhausted", ErrReadFailed)
		}
		s.next = 0
	}
	path := s.files[s.next]
	s.next++
	s.mu.Unlock()

	if s.interval > 0 {
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-s.clock.After(s.interval):
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Frame{}, fmt.Errorf("%w: %s vanished", ErrReadFailed, filepath.Base(path))
		}
		return Frame{}, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}

	f, err := DecodeFrame(data)
	if err != nil {
		return Frame{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	f.CapturedAt = s.clock.Now()
	return f, nil
}
