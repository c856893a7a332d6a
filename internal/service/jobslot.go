package service

import (
	"context"
	"math"
	"sync"

	"github.com/JulianFP/project-W-runner/internal/model"
)

// JobState is the single job in flight. It only exists inside a JobSlot.
type JobState struct {
	ID         *int64
	Settings   model.JobSettings
	Progress   *float64
	Transcript *model.Transcript
	ErrorMsg   *string
	Aborted    bool
}

// JobSlot holds at most one JobState and hands it from the heartbeat loop to
// the job handler. Every access happens under mx.
//
// The lifecycle of a job is none -> placeholder -> populated -> cleared. The
// placeholder is set before the handler is notified, so a second heartbeat
// can not claim another job while the first one is still being fetched.
type JobSlot struct {
	mx     sync.Mutex
	job    *JobState
	notify chan struct{}
}

func NewJobSlot() *JobSlot {
	return &JobSlot{notify: make(chan struct{}, 1)}
}

// Claim creates the placeholder and notifies the handler. It returns false
// when a job is already in flight.
func (s *JobSlot) Claim() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.job != nil {
		return false
	}
	s.job = &JobState{}
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

// Wait blocks until a job was claimed.
func (s *JobSlot) Wait(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.notify:
		}
		if s.Busy() {
			return nil
		}
	}
}

func (s *JobSlot) Busy() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.job != nil
}

func (s *JobSlot) Populate(id int64, settings model.JobSettings) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.job == nil {
		return ErrNoJob
	}
	s.job.ID = &id
	s.job.Settings = settings
	return nil
}

// SetProgress records progress clamped to [0, 100]. NaN and infinite values
// are dropped, the previous progress stays. It returns ErrJobAborted once the
// job was aborted, which makes it usable as the engine callback.
func (s *JobSlot) SetProgress(percent float64) error {
	finite := !math.IsNaN(percent) && !math.IsInf(percent, 0)
	percent = min(max(percent, 0), 100)
	s.mx.Lock()
	defer s.mx.Unlock()
	switch {
	case s.job == nil:
		return ErrNoJob
	case s.job.Aborted:
		return ErrJobAborted
	case !finite:
		return nil
	}
	s.job.Progress = &percent
	return nil
}

// Progress returns the last progress, ok is false when no job is in flight.
func (s *JobSlot) Progress() (percent float64, ok bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.job == nil {
		return 0, false
	}
	if s.job.Progress != nil {
		percent = *s.job.Progress
	}
	return percent, true
}

// Abort sets the abort flag. It reports true only for the first call on a
// job in flight.
func (s *JobSlot) Abort() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.job == nil || s.job.Aborted {
		return false
	}
	s.job.Aborted = true
	return true
}

func (s *JobSlot) Aborted() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.job != nil && s.job.Aborted
}

func (s *JobSlot) Complete(t *model.Transcript) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.job == nil {
		return ErrNoJob
	}
	s.job.Transcript = t
	s.job.ErrorMsg = nil
	return nil
}

func (s *JobSlot) Fail(msg string) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.job == nil {
		return ErrNoJob
	}
	if msg == "" {
		msg = unknownError
	}
	s.job.ErrorMsg = &msg
	s.job.Transcript = nil
	return nil
}

// Result builds the submission. An aborted job always reports
// ErrJobAborted and drops any transcript.
func (s *JobSlot) Result() (model.SubmitResultRequest, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.job == nil {
		return model.SubmitResultRequest{}, ErrNoJob
	}
	var req model.SubmitResultRequest
	switch {
	case s.job.Aborted:
		msg := ErrJobAborted.Error()
		req.ErrorMsg = &msg
	case s.job.ErrorMsg != nil:
		msg := *s.job.ErrorMsg
		req.ErrorMsg = &msg
	case s.job.Transcript != nil:
		req.Transcript = s.job.Transcript
	}
	return req, req.Validate()
}

// Snapshot returns a copy of the job in flight.
func (s *JobSlot) Snapshot() (JobState, bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.job == nil {
		return JobState{}, false
	}
	return *s.job, true
}

// Clear drops the job, the slot accepts a new claim afterwards.
func (s *JobSlot) Clear() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.job = nil
}
