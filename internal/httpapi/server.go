package httpapi

import (
	"context"
	"errors"
	"image"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/facegate/internal/facegate/detect"
	"github.com/BrandonDHaskell/facegate/internal/facegate/liveness"
	"github.com/BrandonDHaskell/facegate/internal/facegate/service"
	"github.com/BrandonDHaskell/facegate/internal/facegate/store"
	"github.com/BrandonDHaskell/facegate/internal/facegate/types"
)

// EvidenceCounter reports how many evidence snapshots are stored.
type EvidenceCounter interface {
	Count() (int, error)
}

type Dependencies struct {
	Logger *zap.Logger
	Addr   string

	Registry *service.Registry
	Login    *service.LoginService        // nil = login disabled (503)
	Sessions *service.SessionManager      // nil = sessions disabled (503)
	Tokens   *service.TokenIssuer         // nil = no tokens issued
	Events   store.VerificationEventStore // optional
	Evidence EvidenceCounter              // optional
	Clock    clockwork.Clock
}

type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	mux        *http.ServeMux
	registry   *service.Registry
	login      *service.LoginService
	sessions   *service.SessionManager
	tokens     *service.TokenIssuer
	events     store.VerificationEventStore
	evidence   EvidenceCounter
	clock      clockwork.Clock
}

func NewServer(d Dependencies) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}

	mux := http.NewServeMux()

	s := &Server{
		logger:   d.Logger,
		mux:      mux,
		registry: d.Registry,
		login:    d.Login,
		sessions: d.Sessions,
		tokens:   d.Tokens,
		events:   d.Events,
		evidence: d.Evidence,
		clock:    d.Clock,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /v1/identities", s.handleEnroll)
	mux.HandleFunc("GET /v1/identities", s.handleListIdentities)
	mux.HandleFunc("DELETE /v1/identities/{name}", s.handleDeleteIdentity)
	mux.HandleFunc("POST /v1/match", s.handleMatch)
	mux.HandleFunc("POST /v1/login", s.handleLogin)

	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("POST /v1/sessions/{id}/frames", s.handleFrame)
	mux.HandleFunc("POST /v1/sessions/{id}/reset", s.handleResetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleEndSession)

	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) now() string {
	return s.clock.Now().UTC().Format(time.RFC3339)
}

func (s *Server) internalError(w http.ResponseWriter, what string, err error) {
	s.logger.Error(what, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
}

func badBody(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "server_time": s.now()})
}

// ── Identities ───────────────────────────────────────────────────────────────

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req types.EnrollRequest
	if err := decodeBody(r, &req); err != nil {
		badBody(w, err)
		return
	}

	err := s.registry.Enroll(r.Context(), req.Name, req.Embedding, req.Profile)
	switch {
	case err == nil:
		respond(w, r, http.StatusCreated, types.EnrollResponse{OK: true, Name: req.Name})
	case errors.Is(err, service.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "invalid_name", err.Error())
	case errors.Is(err, service.ErrInvalidEmbedding):
		writeError(w, http.StatusBadRequest, "invalid_embedding", err.Error())
	case errors.Is(err, service.ErrInvalidProfile):
		writeError(w, http.StatusBadRequest, "invalid_profile", err.Error())
	case errors.Is(err, service.ErrDuplicateFace):
		writeError(w, http.StatusConflict, "duplicate_face", err.Error())
	case errors.Is(err, service.ErrNameTaken):
		writeError(w, http.StatusConflict, "name_taken", err.Error())
	default:
		s.internalError(w, "enroll error", err)
	}
}

func (s *Server) handleListIdentities(w http.ResponseWriter, r *http.Request) {
	recs, err := s.registry.List(r.Context())
	if err != nil {
		s.internalError(w, "list identities error", err)
		return
	}

	resp := types.ListIdentitiesResponse{Identities: make([]types.Identity, 0, len(recs)), Count: len(recs)}
	for _, rec := range recs {
		resp.Identities = append(resp.Identities, identityFromRecord(rec))
	}
	respond(w, r, http.StatusOK, resp)
}

func (s *Server) handleDeleteIdentity(w http.ResponseWriter, r *http.Request) {
	err := s.registry.Delete(r.Context(), r.PathValue("name"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, service.ErrUnknownIdentity):
		writeError(w, http.StatusNotFound, "unknown_identity", err.Error())
	default:
		s.internalError(w, "delete identity error", err)
	}
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req types.MatchRequest
	if err := decodeBody(r, &req); err != nil {
		badBody(w, err)
		return
	}

	m, ok, err := s.registry.FindBestMatch(r.Context(), req.Embedding)
	if err != nil {
		if errors.Is(err, service.ErrInvalidEmbedding) {
			writeError(w, http.StatusBadRequest, "invalid_embedding", err.Error())
			return
		}
		s.internalError(w, "match error", err)
		return
	}

	resp := types.MatchResponse{Matched: ok}
	if ok {
		resp.Name = m.Name
		resp.Distance = m.Distance
	}
	respond(w, r, http.StatusOK, resp)
}

// ── Login ────────────────────────────────────────────────────────────────────

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.login == nil {
		writeError(w, http.StatusServiceUnavailable, "login_unavailable", "no face detector configured")
		return
	}

	var req types.LoginRequest
	if err := decodeBody(r, &req); err != nil {
		badBody(w, err)
		return
	}
	data, err := decodeImageField(req.Image)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_image", err.Error())
		return
	}

	// An empty upload behaves like a camera that could not be opened.
	out, err := s.login.Attempt(r.Context(), detect.NewStaticSource(data, s.clock))
	if err != nil {
		s.logger.Error("login error", zap.Error(err))
		writeError(w, http.StatusBadGateway, "detector_error", "face analysis failed")
		return
	}

	resp := types.LoginResponse{LoginOutcome: out, Message: out.Message(), ServerTime: s.now()}
	if out.OK() && s.tokens != nil {
		tok, exp, err := s.tokens.Issue(out.Name)
		if err != nil {
			s.internalError(w, "token error", err)
			return
		}
		resp.Token = tok
		resp.TokenExpiresAt = exp.UTC().Format(time.RFC3339)
	}
	respond(w, r, http.StatusOK, resp)
}

// ── Sessions ─────────────────────────────────────────────────────────────────

func (s *Server) sessionsEnabled(w http.ResponseWriter) bool {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions_unavailable", "liveness sessions are disabled")
		return false
	}
	return true
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessionsEnabled(w) {
		return
	}

	var req types.CreateSessionRequest
	if err := decodeBody(r, &req); err != nil {
		badBody(w, err)
		return
	}

	// A login token, when presented, binds the session to its subject.
	subject, ok, err := s.bearerSubject(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", err.Error())
		return
	}
	if ok {
		if req.Subject != "" && req.Subject != subject {
			writeError(w, http.StatusForbidden, "subject_mismatch", "token was issued to a different identity")
			return
		}
		req.Subject = subject
	}

	id, err := s.sessions.Create(r.Context(), req.Subject)
	switch {
	case err == nil:
		respond(w, r, http.StatusCreated, types.CreateSessionResponse{
			SessionID: id,
			Subject:   req.Subject,
			Greeting:  liveness.GreetingMessage(req.Subject),
		})
	case errors.Is(err, service.ErrUnknownIdentity):
		writeError(w, http.StatusNotFound, "unknown_identity", err.Error())
	case errors.Is(err, service.ErrTooManySessions):
		writeError(w, http.StatusTooManyRequests, "too_many_sessions", err.Error())
	default:
		s.internalError(w, "create session error", err)
	}
}

// bearerSubject returns the subject of the Authorization bearer token.
// ok is false when no token was sent or tokens are disabled.
func (s *Server) bearerSubject(r *http.Request) (subject string, ok bool, err error) {
	if s.tokens == nil {
		return "", false, nil
	}
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return "", false, nil
	}
	raw, found := strings.CutPrefix(h, "Bearer ")
	if !found || strings.TrimSpace(raw) == "" {
		return "", false, service.ErrInvalidToken
	}
	subject, err = s.tokens.Verify(strings.TrimSpace(raw))
	if err != nil {
		return "", false, err
	}
	return subject, true, nil
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	if !s.sessionsEnabled(w) {
		return
	}

	var req types.FrameRequest
	if err := decodeBody(r, &req); err != nil {
		badBody(w, err)
		return
	}

	var snapshot image.Image
	if req.Snapshot != "" {
		data, err := decodeImageField(req.Snapshot)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_snapshot", err.Error())
			return
		}
		frame, err := detect.DecodeFrame(data)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_snapshot", err.Error())
			return
		}
		snapshot = frame.Image
	}

	id := r.PathValue("id")
	out, err := s.sessions.Step(r.Context(), id, factsFromRequest(req), snapshot)
	switch {
	case err == nil:
		respond(w, r, http.StatusOK, stepResponse(id, out))
	case errors.Is(err, service.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", err.Error())
	default:
		s.internalError(w, "session step error", err)
	}
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessionsEnabled(w) {
		return
	}

	id := r.PathValue("id")
	out, err := s.sessions.Reset(r.Context(), id)
	switch {
	case err == nil:
		respond(w, r, http.StatusOK, types.ResetResponse{
			SessionID: id,
			State:     out.State.String(),
			Message:   liveness.ResetMessage,
		})
	case errors.Is(err, service.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", err.Error())
	default:
		s.internalError(w, "session reset error", err)
	}
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessionsEnabled(w) {
		return
	}

	if err := s.sessions.End(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Dashboard ────────────────────────────────────────────────────────────────

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	n, err := s.registry.Count(r.Context())
	if err != nil {
		s.internalError(w, "stats error", err)
		return
	}

	resp := types.StatsResponse{Identities: n, ServerTime: s.now()}
	if s.evidence != nil {
		if resp.Evidence, err = s.evidence.Count(); err != nil {
			s.internalError(w, "evidence count error", err)
			return
		}
	}
	if s.sessions != nil {
		resp.Sessions = s.sessions.Active()
	}
	respond(w, r, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	resp := types.EventsResponse{Events: []types.Event{}}
	if s.events == nil {
		respond(w, r, http.StatusOK, resp)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	recs, err := s.events.Recent(r.Context(), r.URL.Query().Get("subject"), limit)
	if err != nil {
		s.internalError(w, "events error", err)
		return
	}
	for _, rec := range recs {
		resp.Events = append(resp.Events, eventFromRecord(rec))
	}
	respond(w, r, http.StatusOK, resp)
}
