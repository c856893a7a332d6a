package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/JulianFP/project-W-runner/internal/backend"
	"github.com/JulianFP/project-W-runner/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// idle keep-alive connections of the http client used in supervisor tests
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

var errBoom = errors.New("boom")

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fullTranscript() *model.Transcript {
	return &model.Transcript{
		AsTXT:  "hello",
		AsSRT:  "1\n00:00:00,000 --> 00:00:01,000\nhello",
		AsTSV:  "start\tend\ttext\n0\t1000\thello",
		AsVTT:  "WEBVTT\n\n00:00.000 --> 00:01.000\nhello",
		AsJSON: map[string]any{"segments": []any{}},
	}
}

// fakeBackend records calls and answers from its fields. Scripted errors
// are consumed front to back, a nil entry means success.
type fakeBackend struct {
	mx sync.Mutex

	registerErrs []error
	registers    int
	unregisters  int

	heartbeatFn   func(n int, req model.HeartbeatRequest) (model.HeartbeatResponse, error)
	heartbeatHang bool // block until the request context is done
	heartbeats    []model.HeartbeatRequest

	info     model.JobInfo
	infoErr  error
	audio    backend.Payload
	audioErr error

	submitErr error
	submitted []model.SubmitResultRequest
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		info:  model.JobInfo{ID: 42, Settings: model.JobSettings(`{"model":"turbo"}`)},
		audio: backend.Payload{ContentType: "audio/mpeg", Data: []byte{0xff, 0xfb, 0x90}},
	}
}

func (f *fakeBackend) Register(_ context.Context, _ model.RegisterRequest) (model.RegisterResponse, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.registers++
	if len(f.registerErrs) > 0 {
		err := f.registerErrs[0]
		f.registerErrs = f.registerErrs[1:]
		if err != nil {
			return model.RegisterResponse{}, err
		}
	}
	return model.RegisterResponse{ID: int64(f.registers), SessionToken: "session"}, nil
}

func (f *fakeBackend) Unregister(context.Context) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.unregisters++
	return nil
}

func (f *fakeBackend) Heartbeat(ctx context.Context, req model.HeartbeatRequest) (model.HeartbeatResponse, error) {
	f.mx.Lock()
	f.heartbeats = append(f.heartbeats, req)
	n, fn, hang := len(f.heartbeats), f.heartbeatFn, f.heartbeatHang
	f.mx.Unlock()
	if hang {
		<-ctx.Done()
		return model.HeartbeatResponse{}, ctx.Err()
	}
	if fn == nil {
		return model.HeartbeatResponse{}, nil
	}
	return fn(n, req)
}

func (f *fakeBackend) JobInfo(context.Context) (model.JobInfo, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.info, f.infoErr
}

func (f *fakeBackend) JobAudio(context.Context) (backend.Payload, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.audio, f.audioErr
}

func (f *fakeBackend) SubmitResult(_ context.Context, req model.SubmitResultRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	f.mx.Lock()
	defer f.mx.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, req)
	return nil
}

func (f *fakeBackend) counts() (registers, unregisters int) {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.registers, f.unregisters
}

func (f *fakeBackend) results() []model.SubmitResultRequest {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]model.SubmitResultRequest(nil), f.submitted...)
}

func (f *fakeBackend) sentHeartbeats() []model.HeartbeatRequest {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]model.HeartbeatRequest(nil), f.heartbeats...)
}

// engineFunc adapts a function to model.Engine.
type engineFunc func(ctx context.Context, audioPath string, settings model.JobSettings, progress model.ProgressFunc) (*model.Transcript, error)

func (f engineFunc) Transcribe(ctx context.Context, audioPath string, settings model.JobSettings, progress model.ProgressFunc) (*model.Transcript, error) {
	return f(ctx, audioPath, settings, progress)
}
