package model

import (
	"encoding/json"
	"fmt"
)

// RegisterRequest is the HTTP POST /api/runners/register request body.
type RegisterRequest struct {
	// Name is displayed to users so they know where their data goes.
	Name string `json:"name"`
	// Version is the runner build version.
	Version string `json:"version"`
	// GitHash is the vcs revision the runner was built from.
	GitHash string `json:"git_hash"`
	// SourceCodeURL points to the source of this build.
	SourceCodeURL string `json:"source_code_url"`
	// Priority in the job assignment process, relative measure of capacity.
	Priority int `json:"priority"`
}

// RegisterResponse is the HTTP POST /api/runners/register response body.
type RegisterResponse struct {
	// ID is the backend-assigned runner id.
	ID int64 `json:"id"`
	// SessionToken authenticates all following requests of this session.
	SessionToken string `json:"session_token,omitempty"`
}

// HeartbeatRequest is the HTTP POST /api/runners/heartbeat request body.
type HeartbeatRequest struct {
	// Progress of the current job in percent, 0.0 to 100.0.
	Progress float64 `json:"progress"`
}

// HeartbeatResponse is the HTTP POST /api/runners/heartbeat response body.
type HeartbeatResponse struct {
	Abort       bool `json:"abort"`
	JobAssigned bool `json:"job_assigned"`
}

// JobInfo is the HTTP GET /api/runners/retrieve_job_info response body.
type JobInfo struct {
	ID       int64       `json:"id"`
	Settings JobSettings `json:"settings"`
}

// JobSettings is passed from the backend to the engine unmodified.
type JobSettings = json.RawMessage

// Transcript holds every output format of a finished job.
type Transcript struct {
	AsTXT  string         `json:"as_txt"`
	AsSRT  string         `json:"as_srt"`
	AsTSV  string         `json:"as_tsv"`
	AsVTT  string         `json:"as_vtt"`
	AsJSON map[string]any `json:"as_json"`
}

// Validate ensures the structured output is present. Text formats may be
// empty, silent audio yields no segments.
func (t Transcript) Validate() error {
	if t.AsJSON == nil {
		return fmt.Errorf("%w: json", ErrIncompleteTranscript)
	}
	return nil
}

// SubmitResultRequest is the HTTP POST /api/runners/submit_job_result request
// body. Exactly one of the fields is set.
type SubmitResultRequest struct {
	ErrorMsg   *string     `json:"error_msg,omitempty"`
	Transcript *Transcript `json:"transcript,omitempty"`
}

func (r SubmitResultRequest) Validate() error {
	switch {
	case r.ErrorMsg == nil && r.Transcript == nil:
		return ErrNoResult
	case r.ErrorMsg != nil && r.Transcript != nil:
		return ErrAmbiguousResult
	case r.Transcript != nil:
		return r.Transcript.Validate()
	}
	return nil
}

// ErrorResponse is the body the backend sends along with error status codes.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
