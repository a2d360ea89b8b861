// Package detect defines the perception collaborators facegate depends on
// (camera, face detector, spoof classifier, hand detector, embedder) and
// ships implementations backed by image files and a remote inference
// service.
package detect

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/BrandonDHaskell/facegate/internal/facegate/geom"
)

var (
	// ErrCameraUnavailable means the frame source could not be opened.
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrReadFailed means an open frame source failed to produce a frame.
	ErrReadFailed = errors.New("frame read failed")
)

// LabelReal is the spoof classifier label for a live face.
const LabelReal = "real"

// Hand landmark indices in the 21-point hand model.
const (
	ThumbTipLandmark = 4
	IndexTipLandmark = 8
)

// Frame is one captured image. Encoded holds the source bytes when the
// frame came from a file or upload, so it can be forwarded without
// re-encoding.
type Frame struct {
	Image      image.Image
	Encoded    []byte
	Format     string
	CapturedAt time.Time
}

// Face is one detected face.
type Face struct {
	Box        geom.Rect  `json:"box"`
	Center     geom.Point `json:"center"`
	Confidence float64    `json:"confidence,omitempty"`
}

// SpoofVerdict is the classifier's answer for one face region.
type SpoofVerdict struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Box        geom.Rect `json:"box,omitempty"`
}

// Real reports whether v is a live face with confidence strictly above
// threshold.
func (v SpoofVerdict) Real(threshold float64) bool {
	return v.Label == LabelReal && v.Confidence > threshold
}

// Hand is one detected hand. Landmarks follow the 21-point hand model.
type Hand struct {
	Box       geom.Rect    `json:"box"`
	Center    geom.Point   `json:"center"`
	Landmarks []geom.Point `json:"landmarks"`
}

// ThumbTip returns landmark 4, or false when the detector returned fewer
// landmarks.
func (h Hand) ThumbTip() (geom.Point, bool) { return h.landmark(ThumbTipLandmark) }

// IndexTip returns landmark 8, or false when the detector returned fewer
// landmarks.
func (h Hand) IndexTip() (geom.Point, bool) { return h.landmark(IndexTipLandmark) }

func (h Hand) landmark(i int) (geom.Point, bool) {
	if i < 0 || i >= len(h.Landmarks) {
		return geom.Point{}, false
	}
	return h.Landmarks[i], true
}

type FrameSource interface {
	// Next returns the next frame. Errors wrap ErrCameraUnavailable or
	// ErrReadFailed.
	Next(ctx context.Context) (Frame, error)
}

type FaceDetector interface {
	DetectFaces(ctx context.Context, f Frame) ([]Face, error)
}

type SpoofClassifier interface {
	Classify(ctx context.Context, f Frame) ([]SpoofVerdict, error)
}

type HandDetector interface {
	// DetectHand returns nil when no hand is visible.
	DetectHand(ctx context.Context, f Frame) (*Hand, error)
}

type Embedder interface {
	Embed(ctx context.Context, f Frame, face Face) ([]float64, error)
}

// PickVerdict reduces per-region verdicts to one: the first region that
// passes the threshold, otherwise the most confident region. Returns nil
// for no regions.
func PickVerdict(regions []SpoofVerdict, threshold float64) *SpoofVerdict {
	if len(regions) == 0 {
		return nil
	}
	best := 0
	for i, v := range regions {
		if v.Real(threshold) {
			out := v
			return &out
		}
		if v.Confidence > regions[best].Confidence {
			best = i
		}
	}
	out := regions[best]
	return &out
}
