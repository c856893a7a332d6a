package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JulianFP/project-W-runner/internal/log"
)

const DefaultUnregisterTimeout = 10 * time.Second

// Supervisor registers the runner and runs the heartbeat and the job
// handler side by side. When one of them fails the other one is cancelled.
type Supervisor struct {
	session   *Session
	slot      *JobSlot
	heartbeat *Heartbeat
	handler   *JobHandler
	logger    *slog.Logger

	unregisterTimeout time.Duration
}

func NewSupervisor(session *Session, slot *JobSlot, heartbeat *Heartbeat, handler *JobHandler, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		session:           session,
		slot:              slot,
		heartbeat:         heartbeat,
		handler:           handler,
		logger:            logger,
		unregisterTimeout: DefaultUnregisterTimeout,
	}
}

// Do runs the runner until ctx is cancelled or a fatal error happens. A
// lost session is registered again. On every exit path the job in flight
// is aborted, both loops are waited for and the runner unregisters.
//
// Returns nil on cancellation, otherwise a *ShutdownSignal.
func (s *Supervisor) Do(ctx context.Context) error {
	s.logger.DebugContext(ctx, "starting a supervisor")
	defer s.unregister(ctx)

	for {
		id, err := s.session.Register(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return asShutdown(err)
		}

		sessionCtx := log.ContextAttrs(ctx,
			slog.Int64("runner_id", id.ID),
			slog.String("session", uuid.NewString()))
		err = s.serve(sessionCtx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrSessionLost):
			s.logger.WarnContext(sessionCtx, "backend dropped the runner session, registering again", "error", err)
		case err == nil:
			return nil
		default:
			return asShutdown(err)
		}
	}
}

func (s *Supervisor) serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.heartbeat.Run(ctx)
	})
	g.Go(func() error {
		return s.handler.Run(ctx)
	})
	return g.Wait()
}

func (s *Supervisor) unregister(ctx context.Context) {
	if s.slot.Abort() {
		s.logger.InfoContext(ctx, "aborted job in flight")
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.unregisterTimeout)
	defer cancel()
	s.session.Unregister(ctx)
}

func asShutdown(err error) error {
	var sig *ShutdownSignal
	if errors.As(err, &sig) {
		return sig
	}
	return shutdown("runner stopped unexpectedly", err)
}
