package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JulianFP/project-W-runner/internal/backend"
	"github.com/JulianFP/project-W-runner/internal/engine"
)

const unknownError = "unknown error"

var (
	// ErrJobAborted is returned by the progress callback once the backend
	// asked to abort the job. Its text is what gets submitted.
	ErrJobAborted = errors.New("job was aborted")
	// ErrSessionLost ends the heartbeat loop when the backend no longer
	// knows this runner. The supervisor registers again.
	ErrSessionLost = errors.New("runner session lost")
	ErrNoJob       = errors.New("no job in flight")
	ErrNotAudio    = errors.New("job payload is not audio or video")
)

// Kind classifies errors by how far they propagate.
type Kind int

const (
	// KindTransient errors are retried, e.g. heartbeats within the timeout.
	KindTransient Kind = iota
	// KindFatal errors stop the runner.
	KindFatal
	// KindJobLocal errors fail a single job and are submitted as error_msg.
	KindJobLocal
	// KindProtocol marks unexpected response formats.
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	case KindJobLocal:
		return "job-local"
	case KindProtocol:
		return "protocol"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func KindOf(err error) Kind {
	var (
		sig *ShutdownSignal
		ee  *engine.Error
	)
	switch {
	case errors.As(err, &sig):
		return KindFatal
	case errors.Is(err, ErrJobAborted), errors.As(err, &ee):
		return KindJobLocal
	case backend.IsProtocol(err):
		return KindProtocol
	default:
		return KindTransient
	}
}

// ShutdownSignal terminates the runner. The supervisor unregisters and
// returns it, the process exits non-zero so it gets restarted.
type ShutdownSignal struct {
	Reason string
	Cause  error
}

func shutdown(reason string, cause error) *ShutdownSignal {
	return &ShutdownSignal{Reason: reason, Cause: cause}
}

func (s *ShutdownSignal) Error() string {
	if s.Cause == nil {
		return s.Reason
	}
	return s.Reason + ": " + describe(s.Cause)
}

func (s *ShutdownSignal) Unwrap() error {
	return s.Cause
}

// describe renders err as "<Kind>: '<message>'".
func describe(err error) string {
	msg := err.Error()
	if msg == "" {
		msg = unknownError
	}
	return fmt.Sprintf("%s: '%s'", errorKind(err), msg)
}

func errorKind(err error) string {
	var named interface{ Kind() string }
	if errors.As(err, &named) {
		return named.Kind()
	}
	var be *backend.Error
	if errors.As(err, &be) {
		return "BackendError"
	}
	name := strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
	if strings.HasPrefix(name, "fmt.") || strings.HasPrefix(name, "errors.") {
		return "Error"
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}
