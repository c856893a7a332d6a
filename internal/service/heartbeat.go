package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/JulianFP/project-W-runner/internal/backend"
	"github.com/JulianFP/project-W-runner/internal/model"
)

// Heartbeat proves liveness to the backend and learns about job
// assignments and abort requests.
type Heartbeat struct {
	backend  Backend
	slot     *JobSlot
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger

	// owned by the loop goroutine
	lastSuccess time.Time
}

func NewHeartbeat(b Backend, slot *JobSlot, interval, timeout time.Duration, logger *slog.Logger) (*Heartbeat, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("heartbeat interval: %w", model.ErrNonPositive)
	}
	if timeout <= interval {
		return nil, fmt.Errorf("heartbeat timeout %s must be greater than interval %s: %w", timeout, interval, model.ErrHeartbeatTiming)
	}
	h := &Heartbeat{
		backend:  b,
		slot:     slot,
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
		logger:   logger,
	}
	h.lastSuccess = h.now()
	return h, nil
}

// WithClock replaces time.Now. This method exists for a unit testing only.
func (h *Heartbeat) WithClock(now func() time.Time) *Heartbeat {
	h.now = now
	h.lastSuccess = now()
	return h
}

// Run sends a heartbeat every interval until ctx is cancelled or a beat
// fails with ErrSessionLost or a *ShutdownSignal.
func (h *Heartbeat) Run(ctx context.Context) error {
	ticks := make(chan struct{}, 1)
	scheduler, err := newTicker(h.interval, ticks)
	if err != nil {
		return shutdown("failed to start heartbeat", err)
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			h.logger.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
		}
	}()

	h.lastSuccess = h.now()
	h.logger.DebugContext(ctx, "starting heartbeat", "interval", h.interval, "timeout", h.timeout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticks:
			if err := h.Beat(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// Beat sends a single heartbeat. Failures are tolerated until no heartbeat
// succeeded for longer than the timeout.
func (h *Heartbeat) Beat(ctx context.Context) error {
	var req model.HeartbeatRequest
	if progress, ok := h.slot.Progress(); ok {
		req.Progress = progress
	}

	// a hanging request must not outlive the retry window
	reqCtx, cancel := context.WithTimeout(ctx, h.timeout-h.now().Sub(h.lastSuccess))
	resp, err := h.backend.Heartbeat(reqCtx, req)
	cancel()
	now := h.now()
	if err != nil {
		if backend.IsNotRegistered(err) {
			return fmt.Errorf("%w: %w", ErrSessionLost, err)
		}
		elapsed := now.Sub(h.lastSuccess)
		if elapsed > h.timeout {
			return shutdown(fmt.Sprintf("no successful heartbeat for %s", elapsed.Round(time.Millisecond)), err)
		}
		h.logger.WarnContext(ctx, "heartbeat failed, retrying",
			"error", err,
			"kind", KindOf(err).String(),
			"since_last_success", elapsed)
		return nil
	}
	h.lastSuccess = now
	h.logger.DebugContext(ctx, "heartbeat", "progress", req.Progress, "job_assigned", resp.JobAssigned, "abort", resp.Abort)

	switch {
	case resp.JobAssigned && h.slot.Claim():
		h.logger.InfoContext(ctx, "job assigned")
	case resp.Abort && h.slot.Abort():
		h.logger.InfoContext(ctx, "job abort requested")
	}
	return nil
}

// newTicker schedules a gocron job which signals ticks every interval.
// Ticks are dropped while the previous one is still being handled.
func newTicker(interval time.Duration, ticks chan<- struct{}) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			select {
			case ticks <- struct{}{}:
			default:
			}
		}),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return s, nil
}
