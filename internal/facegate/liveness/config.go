package liveness

import (
	"time"

	"github.com/mcuadros/go-defaults"

	"github.com/BrandonDHaskell/facegate/internal/facegate/geom"
)

type (
	Point = geom.Point
	Rect  = geom.Rect
)

var (
	DefaultFaceZone = Rect{X: 100, Y: 100, W: 200, H: 200}
	DefaultHandZone = Rect{X: 300, Y: 100, W: 200, H: 200}
)

// Config holds the gate geometry and thresholds. Zero fields take the
// values in the default tags.
type Config struct {
	FaceZone Rect `yaml:"face_zone" toml:"face_zone" json:"face_zone"`
	HandZone Rect `yaml:"hand_zone" toml:"hand_zone" json:"hand_zone"`

	FrameWidth  int `yaml:"frame_width" toml:"frame_width" json:"frame_width" default:"640"`
	FrameHeight int `yaml:"frame_height" toml:"frame_height" json:"frame_height" default:"480"`

	// SpoofThreshold is the strict lower bound on a "real" verdict's
	// confidence.
	SpoofThreshold float64 `yaml:"spoof_threshold" toml:"spoof_threshold" json:"spoof_threshold" default:"0.6"`

	// GestureMaxDistance is the strict upper bound, in pixels, on the
	// thumb-tip to index-tip distance of an OK sign.
	GestureMaxDistance float64 `yaml:"gesture_max_distance" toml:"gesture_max_distance" json:"gesture_max_distance" default:"40"`

	// Hold is how long the gate must stay open without interruption.
	Hold time.Duration `yaml:"hold" toml:"hold" json:"hold" default:"5s"`
}

// DefaultConfig returns the stock geometry for a 640x480 frame.
func DefaultConfig() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero fields in place.
func (c *Config) ApplyDefaults() {
	defaults.SetDefaults(c)
	if c.FaceZone.Empty() {
		c.FaceZone = DefaultFaceZone
	}
	if c.HandZone.Empty() {
		c.HandZone = DefaultHandZone
	}
}
