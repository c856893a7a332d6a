package backend

import (
	"context"
	"fmt"

	"github.com/JulianFP/project-W-runner/internal/model"
)

const (
	RouteRegister     = "register"
	RouteUnregister   = "unregister"
	RouteHeartbeat    = "heartbeat"
	RouteJobInfo      = "retrieve_job_info"
	RouteJobAudio     = "retrieve_job_audio"
	RouteSubmitResult = "submit_job_result"
)

func (c *Client) Register(ctx context.Context, req model.RegisterRequest) (model.RegisterResponse, error) {
	var resp model.RegisterResponse
	err := c.Post(ctx, RouteRegister, req, nil, &resp)
	return resp, err
}

func (c *Client) Unregister(ctx context.Context) error {
	return c.Post(ctx, RouteUnregister, nil, nil, nil)
}

func (c *Client) Heartbeat(ctx context.Context, req model.HeartbeatRequest) (model.HeartbeatResponse, error) {
	var resp model.HeartbeatResponse
	err := c.Post(ctx, RouteHeartbeat, req, nil, &resp)
	return resp, err
}

func (c *Client) JobInfo(ctx context.Context) (model.JobInfo, error) {
	var info model.JobInfo
	if err := c.Get(ctx, RouteJobInfo, nil, &info); err != nil {
		return info, err
	}
	if len(info.Settings) == 0 {
		return info, fmt.Errorf("%w: job info without settings", ErrMalformed)
	}
	return info, nil
}

func (c *Client) JobAudio(ctx context.Context) (Payload, error) {
	return c.GetBinary(ctx, RouteJobAudio, nil)
}

// SubmitResult refuses requests which do not carry exactly one of transcript
// and error_msg.
func (c *Client) SubmitResult(ctx context.Context, req model.SubmitResultRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid job result: %w", err)
	}
	return c.Post(ctx, RouteSubmitResult, req, nil, nil)
}
