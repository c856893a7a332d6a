package model

import "context"

// ProgressFunc receives job progress in percent. A non-nil return means the
// job was aborted: the engine must stop and return that error.
type ProgressFunc func(percent float64) error

// Engine turns an audio file into a transcript.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string, settings JobSettings, progress ProgressFunc) (*Transcript, error)
}
