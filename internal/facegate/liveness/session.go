package liveness

import (
	"fmt"
	"strings"
	"time"
)

type State int

const (
	Idle State = iota
	Holding
	Verified
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Holding:
		return "holding"
	case Verified:
		return "verified"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Effects are the side effects a step asks the driver to perform. Each is
// requested at most once per Verified episode, the greeting at most once
// per session.
type Effects struct {
	Greeting        bool
	CaptureEvidence bool
	PlayTone        bool
	ResetNotice     bool
}

func (e Effects) Any() bool {
	return e.Greeting || e.CaptureEvidence || e.PlayTone || e.ResetNotice
}

// StepResult is the outcome of feeding one frame to a Session.
type StepResult struct {
	State State `json:"state"`
	Gate  Gate  `json:"gate"`

	// Remaining is the whole seconds left in the hold, floored. Zero
	// outside Holding.
	Remaining int `json:"remaining"`

	// JustVerified is true only on the frame that entered Verified.
	JustVerified bool `json:"just_verified"`

	Effects Effects `json:"-"`
}

// Session is the liveness state machine for one subject. It is not safe
// for concurrent use; one goroutine drives it.
type Session struct {
	cfg     Config
	subject string

	state     State
	holdStart time.Time

	evidenceCaptured bool
	tonePlayed       bool
	greetingPlayed   bool
}

func NewSession(cfg Config, subject string) *Session {
	cfg.ApplyDefaults()
	return &Session{cfg: cfg, subject: subject, state: Idle}
}

func (s *Session) Subject() string { return s.subject }
func (s *Session) State() State    { return s.state }
func (s *Session) Config() Config  { return s.cfg }

// HoldStart returns the start of the current hold. ok is false outside
// Holding.
func (s *Session) HoldStart() (t time.Time, ok bool) {
	if s.state != Holding {
		return time.Time{}, false
	}
	return s.holdStart, true
}

// Step advances the machine by one frame observed at now.
//
//	Idle     --gate open-->                 Holding (hold starts at now)
//	Holding  --gate closed-->               Idle (no partial credit)
//	Holding  --open, elapsed >= Hold-->     Verified
//	Verified --any frame-->                 Verified (until Reset)
func (s *Session) Step(now time.Time, facts FrameFacts) StepResult {
	gate := Evaluate(s.cfg, facts)
	res := StepResult{Gate: gate}

	if !s.greetingPlayed {
		s.greetingPlayed = true
		res.Effects.Greeting = true
	}

	switch {
	case s.state == Verified:
		// Sticky until Reset.

	case gate.Open():
		if s.state == Idle {
			s.state = Holding
			s.holdStart = now
		}

		elapsed := now.Sub(s.holdStart)
		if elapsed < 0 {
			elapsed = 0
		}

		if elapsed >= s.cfg.Hold {
			s.state = Verified
			s.holdStart = time.Time{}
			res.JustVerified = true

			if !s.evidenceCaptured {
				s.evidenceCaptured = true
				res.Effects.CaptureEvidence = true
			}
			if !s.tonePlayed {
				s.tonePlayed = true
				res.Effects.PlayTone = true
			}
		} else {
			res.Remaining = remainingSeconds(s.cfg.Hold - elapsed)
		}

	default:
		s.state = Idle
		s.holdStart = time.Time{}
	}

	res.State = s.state
	return res
}

// Reset returns the session to Idle and re-arms the evidence and tone
// effects. The greeting stays spent.
func (s *Session) Reset() Effects {
	s.state = Idle
	s.holdStart = time.Time{}
	s.evidenceCaptured = false
	s.tonePlayed = false
	return Effects{ResetNotice: true}
}

func remainingSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}

// FirstName returns the first whitespace-separated token of a subject
// name, used to address the user.
func FirstName(subject string) string {
	fields := strings.Fields(subject)
	if len(fields) == 0 {
		return subject
	}
	return fields[0]
}

// GreetingMessage is spoken once when a session starts.
func GreetingMessage(subject string) string {
	return fmt.Sprintf("Hello %s, please place your face in the box and show an OK hand sign", FirstName(subject))
}

const (
	ConfirmationMessage = "Thank you for verifying your identity"
	ResetMessage        = "Resetting verification. Please start again."
)
