package types

import "strings"

// OutcomeKind tags a login attempt. Exactly one applies per attempt.
type OutcomeKind string

const (
	OutcomeSuccess           OutcomeKind = "success"
	OutcomeNoFaceDetected    OutcomeKind = "no_face_detected"
	OutcomeSpoofDetected     OutcomeKind = "spoof_detected"
	OutcomeNotRegistered     OutcomeKind = "not_registered"
	OutcomeCameraUnavailable OutcomeKind = "camera_unavailable"
	OutcomeCaptureFailed     OutcomeKind = "capture_failed"
)

type LoginOutcome struct {
	Kind     OutcomeKind `json:"outcome"`
	Name     string      `json:"name,omitempty"`     // success only
	Distance *float64    `json:"distance,omitempty"` // success only
}

func Success(name string, distance float64) LoginOutcome {
	return LoginOutcome{Kind: OutcomeSuccess, Name: name, Distance: &distance}
}

func Rejected(kind OutcomeKind) LoginOutcome {
	return LoginOutcome{Kind: kind}
}

func (o LoginOutcome) OK() bool { return o.Kind == OutcomeSuccess }

// Message is the user-facing text for the outcome.
func (o LoginOutcome) Message() string {
	switch o.Kind {
	case OutcomeSuccess:
		return "Welcome back, " + firstName(o.Name) + "!"
	case OutcomeNoFaceDetected:
		return "No face detected. Please look at the camera."
	case OutcomeSpoofDetected:
		return "Spoof detected. Please use a live face."
	case OutcomeNotRegistered:
		return "Face not registered. Please sign up first."
	case OutcomeCameraUnavailable:
		return "Camera unavailable."
	case OutcomeCaptureFailed:
		return "Failed to capture image. Please try again."
	default:
		return ""
	}
}

type LoginRequest struct {
	Image string `json:"image"` // base64-encoded PNG or JPEG
}

type LoginResponse struct {
	LoginOutcome
	Message        string `json:"message"`
	Token          string `json:"token,omitempty"`
	TokenExpiresAt string `json:"token_expires_at,omitempty"`
	ServerTime     string `json:"server_time"`
}

func firstName(name string) string {
	if f := strings.Fields(name); len(f) > 0 {
		return f[0]
	}
	return name
}
