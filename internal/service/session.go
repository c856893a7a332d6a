package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/JulianFP/project-W-runner/internal/backend"
	"github.com/JulianFP/project-W-runner/internal/model"
)

// Backend is the part of backend.Client the runner loops depend on.
type Backend interface {
	Register(ctx context.Context, req model.RegisterRequest) (model.RegisterResponse, error)
	Unregister(ctx context.Context) error
	Heartbeat(ctx context.Context, req model.HeartbeatRequest) (model.HeartbeatResponse, error)
	JobInfo(ctx context.Context) (model.JobInfo, error)
	JobAudio(ctx context.Context) (backend.Payload, error)
	SubmitResult(ctx context.Context, req model.SubmitResultRequest) error
}

type SessionState int

const (
	Unregistered SessionState = iota
	Registering
	Registered
	Unregistering
)

func (s SessionState) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Registering:
		return "registering"
	case Registered:
		return "registered"
	case Unregistering:
		return "unregistering"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Identity is what the backend hands out on a successful registration.
type Identity struct {
	ID           int64
	SessionToken string
}

// Session owns the registration with the backend. Only Session writes the
// identity, everybody else reads copies.
type Session struct {
	backend Backend
	request model.RegisterRequest
	logger  *slog.Logger

	mx       sync.RWMutex
	state    SessionState
	identity *Identity
}

func NewSession(b Backend, attrs model.RunnerAttributes, build model.BuildInfo, logger *slog.Logger) *Session {
	return &Session{
		backend: b,
		request: model.RegisterRequest{
			Name:          attrs.Name,
			Version:       build.Version,
			GitHash:       build.GitHash(),
			SourceCodeURL: model.SourceCodeURL,
			Priority:      attrs.Priority,
		},
		logger: logger,
	}
}

// Register announces the runner as online. A 403 means a stale session of
// this runner is still known to the backend: it is unregistered and the
// registration retried exactly once. Any other failure is fatal.
func (s *Session) Register(ctx context.Context) (Identity, error) {
	s.startRegistering()
	resp, err := s.backend.Register(ctx, s.request)
	if backend.IsConflict(err) {
		s.logger.WarnContext(ctx, "runner is already online, unregistering the stale session", "error", err)
		s.Unregister(ctx)
		s.startRegistering()
		resp, err = s.backend.Register(ctx, s.request)
	}
	if err != nil {
		s.setState(Unregistered)
		return Identity{}, shutdown("failed to register runner", err)
	}

	id := Identity{ID: resp.ID, SessionToken: resp.SessionToken}
	s.mx.Lock()
	s.identity = &id
	s.state = Registered
	s.mx.Unlock()
	s.logger.InfoContext(ctx, "runner registered", "runner_id", id.ID)
	return id, nil
}

// Unregister is best effort: failures are logged and the identity is
// dropped anyway.
func (s *Session) Unregister(ctx context.Context) {
	s.setState(Unregistering)
	if err := s.backend.Unregister(ctx); err != nil {
		s.logger.WarnContext(ctx, "unregistering runner failed", "error", err)
	} else {
		s.logger.InfoContext(ctx, "runner unregistered")
	}
	s.mx.Lock()
	s.identity = nil
	s.state = Unregistered
	s.mx.Unlock()
}

func (s *Session) State() SessionState {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.state
}

// Identity returns a copy of the current identity.
func (s *Session) Identity() (Identity, bool) {
	s.mx.RLock()
	defer s.mx.RUnlock()
	if s.identity == nil {
		return Identity{}, false
	}
	return *s.identity, true
}

// Token implements backend.TokenSource.
func (s *Session) Token() string {
	id, _ := s.Identity()
	return id.SessionToken
}

func (s *Session) setState(state SessionState) {
	s.mx.Lock()
	s.state = state
	s.mx.Unlock()
}

// startRegistering drops a previous identity, registration is authenticated
// with the runner token only.
func (s *Session) startRegistering() {
	s.mx.Lock()
	s.identity = nil
	s.state = Registering
	s.mx.Unlock()
}
