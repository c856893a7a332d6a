package service

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/JulianFP/project-W-runner/internal/log"
	"github.com/JulianFP/project-W-runner/internal/model"
)

// JobHandler processes the jobs claimed by the heartbeat, one at a time.
type JobHandler struct {
	backend Backend
	slot    *JobSlot
	engine  model.Engine
	tmpDir  string
	logger  *slog.Logger
}

func NewJobHandler(b Backend, slot *JobSlot, engine model.Engine, tmpDir string, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		backend: b,
		slot:    slot,
		engine:  engine,
		tmpDir:  tmpDir,
		logger:  logger,
	}
}

// Run handles jobs until ctx is cancelled or a job fails fatally.
func (h *JobHandler) Run(ctx context.Context) error {
	for {
		if err := h.slot.Wait(ctx); err != nil {
			return nil
		}
		if err := h.Handle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Handle fetches, processes and submits the claimed job. The slot is
// cleared on return. Returned errors are always *ShutdownSignal.
func (h *JobHandler) Handle(ctx context.Context) error {
	defer h.slot.Clear()

	info, err := h.backend.JobInfo(ctx)
	if err != nil {
		return shutdown("failed to retrieve job info", err)
	}
	ctx = log.ContextAttrs(ctx, slog.Int64("job_id", info.ID))
	if err := h.slot.Populate(info.ID, info.Settings); err != nil {
		return shutdown("job disappeared while fetching", err)
	}

	payload, err := h.backend.JobAudio(ctx)
	if err != nil {
		return shutdown("failed to retrieve job audio", err)
	}
	ext, err := audioExtension(payload.ContentType)
	if err != nil {
		return shutdown("failed to retrieve job audio", err)
	}

	dir, err := os.MkdirTemp(h.tmpDir, "project-W-job-*")
	if err != nil {
		return shutdown("failed to store job audio", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			h.logger.WarnContext(ctx, "removing job directory", "path", dir, "error", err)
		}
	}()
	audioPath := filepath.Join(dir, "audio"+ext)
	if err := os.WriteFile(audioPath, payload.Data, 0o600); err != nil {
		return shutdown("failed to store job audio", err)
	}
	h.logger.InfoContext(ctx, "job downloaded, processing",
		"content_type", payload.ContentType,
		"size", len(payload.Data))

	h.process(ctx, audioPath, info.Settings)

	if ctx.Err() != nil {
		h.logger.WarnContext(ctx, "discarding job, runner session ended")
		return nil
	}

	result, err := h.slot.Result()
	if err != nil {
		return shutdown("failed to build job result", err)
	}
	if err := h.backend.SubmitResult(ctx, result); err != nil {
		return shutdown("failed to submit job result", err)
	}
	if result.ErrorMsg != nil {
		h.logger.InfoContext(ctx, "job failed, error submitted", "error_msg", *result.ErrorMsg)
	} else {
		h.logger.InfoContext(ctx, "job finished, transcript submitted")
	}
	return nil
}

type outcome struct {
	transcript *model.Transcript
	err        error
}

// process runs the engine on its own goroutine and records the outcome in
// the slot. Cancelling ctx aborts the job, the engine is still waited for.
func (h *JobHandler) process(ctx context.Context, audioPath string, settings model.JobSettings) {
	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("engine panicked: %v", r)}
			}
		}()
		// the engine stops through the progress callback only
		t, err := h.engine.Transcribe(context.WithoutCancel(ctx), audioPath, settings, h.slot.SetProgress)
		done <- outcome{transcript: t, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-ctx.Done():
		if h.slot.Abort() {
			h.logger.InfoContext(ctx, "stopping engine")
		}
		res = <-done
	}

	switch {
	case h.slot.Aborted():
		h.logger.InfoContext(ctx, "job aborted", "took", time.Since(start))
	case res.err != nil:
		h.logger.WarnContext(ctx, "engine failed",
			"error", res.err,
			"kind", KindOf(res.err).String(),
			"took", time.Since(start))
		_ = h.slot.Fail(describe(res.err))
	case res.transcript == nil:
		_ = h.slot.Fail(unknownError)
	default:
		if err := res.transcript.Validate(); err != nil {
			_ = h.slot.Fail(describe(err))
			return
		}
		h.logger.InfoContext(ctx, "transcription done", "took", time.Since(start))
		_ = h.slot.Complete(res.transcript)
	}
}

// audioExtension accepts audio and video payloads and returns the file
// extension for the content type, if there is a well known one.
func audioExtension(contentType string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: content type %q", ErrNotAudio, contentType)
	}
	if !strings.HasPrefix(mediaType, "audio/") && !strings.HasPrefix(mediaType, "video/") {
		return "", fmt.Errorf("%w: content type %q", ErrNotAudio, contentType)
	}
	if m := mimetype.Lookup(mediaType); m != nil {
		return m.Extension(), nil
	}
	return "", nil
}
