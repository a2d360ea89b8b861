package liveness

import (
	"github.com/BrandonDHaskell/facegate/internal/facegate/detect"
)

type SpoofVerdict = detect.SpoofVerdict

// FrameFacts is everything the gate needs to know about one frame. Absent
// observations are nil.
type FrameFacts struct {
	FaceCount  int           `json:"face_count"`
	FaceCenter *Point        `json:"face_center,omitempty"`
	Spoof      *SpoofVerdict `json:"spoof,omitempty"`

	HandPresent bool   `json:"hand_present"`
	HandCenter  *Point `json:"hand_center,omitempty"`
	ThumbTip    *Point `json:"thumb_tip,omitempty"`
	IndexTip    *Point `json:"index_tip,omitempty"`
}

// Gate is the per-frame evaluation of the four liveness conditions.
type Gate struct {
	FaceInside bool `json:"face_inside"`
	FaceReal   bool `json:"face_real"`
	HandInside bool `json:"hand_inside"`
	GestureOK  bool `json:"gesture_ok"`
}

// Open reports whether all four conditions hold.
func (g Gate) Open() bool {
	return g.FaceInside && g.FaceReal && g.HandInside && g.GestureOK
}

// Evaluate computes the gate for one frame. It has no side effects.
//
// A face only counts when exactly one is visible. The spoof verdict is
// considered only when that face is inside the face zone.
func Evaluate(cfg Config, f FrameFacts) Gate {
	var g Gate

	if f.FaceCount == 1 && f.FaceCenter != nil {
		g.FaceInside = cfg.FaceZone.ContainsStrict(*f.FaceCenter)
	}
	if g.FaceInside && f.Spoof != nil {
		g.FaceReal = f.Spoof.Real(cfg.SpoofThreshold)
	}

	if f.HandPresent {
		if f.HandCenter != nil {
			g.HandInside = cfg.HandZone.ContainsStrict(*f.HandCenter)
		}
		if f.ThumbTip != nil && f.IndexTip != nil {
			g.GestureOK = f.ThumbTip.Dist(*f.IndexTip) < cfg.GestureMaxDistance
		}
	}

	return g
}
