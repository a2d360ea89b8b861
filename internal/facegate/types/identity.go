package types

type EnrollRequest struct {
	Name      string            `json:"name"`
	Embedding []float64         `json:"embedding"`
	Profile   map[string]string `json:"profile,omitempty"`
}

type EnrollResponse struct {
	OK   bool   `json:"ok"`
	Name string `json:"name"`
}

// Identity is the admin view of an enrolled identity. The embedding is
// never returned.
type Identity struct {
	Name       string            `json:"name"`
	Profile    map[string]string `json:"profile,omitempty"`
	EnrolledAt string            `json:"enrolled_at"`
}

type ListIdentitiesResponse struct {
	Identities []Identity `json:"identities"`
	Count      int        `json:"count"`
}

type MatchRequest struct {
	Embedding []float64 `json:"embedding"`
}

type MatchResponse struct {
	Matched  bool    `json:"matched"`
	Name     string  `json:"name,omitempty"`
	Distance float64 `json:"distance,omitempty"`
}

type StatsResponse struct {
	Identities int    `json:"identities"`
	Evidence   int    `json:"evidence"`
	Sessions   int    `json:"sessions"`
	ServerTime string `json:"server_time"`
}

type Event struct {
	Kind       string   `json:"kind"`
	Subject    string   `json:"subject,omitempty"`
	Outcome    string   `json:"outcome"`
	Distance   *float64 `json:"distance,omitempty"`
	EvidenceID string   `json:"evidence_id,omitempty"`
	At         string   `json:"at"`
}

type EventsResponse struct {
	Events []Event `json:"events"`
}
