package types

type CreateSessionRequest struct {
	Subject string `json:"subject"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	Subject   string `json:"subject"`
	Greeting  string `json:"greeting"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type SpoofVerdict struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// FrameRequest carries the per-frame observations of a client that runs
// its own detectors. Snapshot is an optional base64 image kept as
// evidence if this frame completes verification.
type FrameRequest struct {
	FaceCount   int           `json:"face_count"`
	FaceCenter  *Point        `json:"face_center,omitempty"`
	Spoof       *SpoofVerdict `json:"spoof,omitempty"`
	HandPresent bool          `json:"hand_present"`
	HandCenter  *Point        `json:"hand_center,omitempty"`
	ThumbTip    *Point        `json:"thumb_tip,omitempty"`
	IndexTip    *Point        `json:"index_tip,omitempty"`
	Snapshot    string        `json:"snapshot,omitempty"`
}

type Gate struct {
	FaceInside bool `json:"face_inside"`
	FaceReal   bool `json:"face_real"`
	HandInside bool `json:"hand_inside"`
	GestureOK  bool `json:"gesture_ok"`
}

type StepResponse struct {
	SessionID  string   `json:"session_id"`
	State      string   `json:"state"`
	Gate       Gate     `json:"gate"`
	Remaining  int      `json:"remaining"`
	Verified   bool     `json:"verified"`
	EvidenceID string   `json:"evidence_id,omitempty"`
	Messages   []string `json:"messages,omitempty"`
}

type ResetResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Message   string `json:"message"`
}
