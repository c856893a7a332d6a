package model

import (
	"errors"
)

var (
	ErrEmptySecret     = errors.New("secret is empty")
	ErrNonPositive     = errors.New("must be positive")
	ErrHeartbeatTiming = errors.New("invalid heartbeat timing")

	ErrNoResult             = errors.New("neither transcript nor error_msg set")
	ErrAmbiguousResult      = errors.New("both transcript and error_msg set")
	ErrIncompleteTranscript = errors.New("transcript is missing a format")
	ErrInvalidJobSettings   = errors.New("invalid job settings")
)
