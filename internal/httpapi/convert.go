package httpapi

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/facegate/internal/facegate/liveness"
	"github.com/BrandonDHaskell/facegate/internal/facegate/service"
	"github.com/BrandonDHaskell/facegate/internal/facegate/store"
	"github.com/BrandonDHaskell/facegate/internal/facegate/types"
)

// ── Identities ───────────────────────────────────────────────────────────────

func identityFromRecord(rec store.IdentityRecord) types.Identity {
	return types.Identity{
		Name:       rec.Name,
		Profile:    rec.Profile,
		EnrolledAt: rec.EnrolledAt.UTC().Format(time.RFC3339),
	}
}

func eventFromRecord(rec store.VerificationEventRecord) types.Event {
	return types.Event{
		Kind:       rec.Kind,
		Subject:    rec.Subject,
		Outcome:    rec.Outcome,
		Distance:   rec.Distance,
		EvidenceID: rec.EvidenceID,
		At:         rec.At.UTC().Format(time.RFC3339),
	}
}

// ── Sessions ─────────────────────────────────────────────────────────────────

func pointPtr(p *types.Point) *liveness.Point {
	if p == nil {
		return nil
	}
	return &liveness.Point{X: p.X, Y: p.Y}
}

func factsFromRequest(req types.FrameRequest) liveness.FrameFacts {
	f := liveness.FrameFacts{
		FaceCount:   req.FaceCount,
		FaceCenter:  pointPtr(req.FaceCenter),
		HandPresent: req.HandPresent,
		HandCenter:  pointPtr(req.HandCenter),
		ThumbTip:    pointPtr(req.ThumbTip),
		IndexTip:    pointPtr(req.IndexTip),
	}
	if req.Spoof != nil {
		f.Spoof = &liveness.SpoofVerdict{Label: req.Spoof.Label, Confidence: req.Spoof.Confidence}
	}
	return f
}

func stepResponse(id string, out service.StepOutcome) types.StepResponse {
	return types.StepResponse{
		SessionID: id,
		State:     out.State.String(),
		Gate: types.Gate{
			FaceInside: out.Gate.FaceInside,
			FaceReal:   out.Gate.FaceReal,
			HandInside: out.Gate.HandInside,
			GestureOK:  out.Gate.GestureOK,
		},
		Remaining:  out.Remaining,
		Verified:   out.State == liveness.Verified,
		EvidenceID: out.EvidenceID,
		Messages:   out.Messages,
	}
}

// ── Images ───────────────────────────────────────────────────────────────────

// decodeImageField decodes a base64 image field. Data URLs
// ("data:image/png;base64,...") are accepted.
func decodeImageField(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 {
			return nil, fmt.Errorf("malformed data URL")
		}
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	return data, nil
}
