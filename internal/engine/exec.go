package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JulianFP/project-W-runner/internal/model"
)

const (
	stderrTail   = 20
	interruptTTL = 10 * time.Second
)

var progressLine = regexp.MustCompile(`^Progress: ([0-9]+(?:\.[0-9]+)?)%`)

// Command describes the external transcription program.
type Command struct {
	Path    string
	Args    []string
	Env     []string
	Timeout time.Duration
}

// Exec runs one external process per job. The process gets a JSON request on
// stdin, reports progress on stderr as lines of the form "Progress: 42.5%"
// and writes <name>.{txt,srt,tsv,vtt,json} into the output directory, where
// name is the audio file name without its extension.
type Exec struct {
	cmd     Command
	runtime Runtime
	logger  *slog.Logger
}

func NewExec(cmd Command, rt Runtime, logger *slog.Logger) *Exec {
	return &Exec{cmd: cmd, runtime: rt, logger: logger}
}

type execRequest struct {
	AudioPath   string            `json:"audio_path"`
	OutputDir   string            `json:"output_dir"`
	JobSettings model.JobSettings `json:"job_settings"`
	Runtime     Runtime           `json:"runtime"`
}

func (e *Exec) Transcribe(ctx context.Context, audioPath string, settings model.JobSettings, progress model.ProgressFunc) (*model.Transcript, error) {
	if _, err := model.ParseJobSettings(settings); err != nil {
		return nil, &Error{Stage: "settings", Err: err}
	}
	if err := progress(0); err != nil {
		return nil, err
	}

	outDir, err := os.MkdirTemp(filepath.Dir(audioPath), "output-*")
	if err != nil {
		return nil, &Error{Stage: "prepare", Err: err}
	}
	defer func() {
		if err := os.RemoveAll(outDir); err != nil {
			e.logger.WarnContext(ctx, "removing engine output", "path", outDir, "error", err)
		}
	}()

	stdin, err := json.Marshal(execRequest{
		AudioPath:   audioPath,
		OutputDir:   outDir,
		JobSettings: settings,
		Runtime:     e.runtime,
	})
	if err != nil {
		return nil, &Error{Stage: "prepare", Err: err}
	}

	if e.cmd.Timeout == 0 {
		e.logger.WarnContext(ctx, "engine command has no timeout", "path", e.cmd.Path)
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cmd.Timeout)
		defer cancel()
	}
	ctx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	cmd := exec.CommandContext(ctx, e.cmd.Path, e.cmd.Args...)
	cmd.Env = append(os.Environ(), e.cmd.Env...)
	cmd.Env = append(cmd.Env,
		"RUNNER_AUDIO_PATH="+audioPath,
		"RUNNER_OUTPUT_DIR="+outDir,
	)
	if e.runtime.HFToken != "" {
		cmd.Env = append(cmd.Env, "HF_TOKEN="+e.runtime.HFToken)
	}
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	// give the engine a chance to clean up before it gets killed
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = interruptTTL

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &Error{Stage: "prepare", Err: err}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &Error{Stage: "start", Err: err}
	}
	e.logger.DebugContext(ctx, "engine started", "path", e.cmd.Path, "pid", cmd.Process.Pid)

	var (
		tail     []string
		abortErr error
		done     = make(chan struct{})
	)
	go func() {
		defer close(done)
		tail, abortErr = e.processStderr(ctx, stderr, progress, abort)
	}()
	<-done
	waitErr := cmd.Wait()

	e.logger.DebugContext(ctx, "engine stopped",
		"path", e.cmd.Path,
		"took", time.Since(start),
		"stdout_bytes", stdout.Len())

	switch {
	case abortErr != nil:
		return nil, abortErr
	case waitErr != nil && errors.Is(context.Cause(ctx), context.DeadlineExceeded):
		return nil, &Error{Stage: "run", Err: fmt.Errorf("timed out after %s", e.cmd.Timeout)}
	case waitErr != nil && ctx.Err() != nil:
		return nil, ctx.Err()
	case waitErr != nil:
		if len(tail) > 0 {
			waitErr = fmt.Errorf("%w: %s", waitErr, strings.Join(tail, "\n"))
		}
		return nil, &Error{Stage: "run", Err: waitErr}
	}

	transcript, err := readOutputs(outDir, audioPath)
	if err != nil {
		return nil, &Error{Stage: "output", Err: err}
	}
	if err := progress(100); err != nil {
		return nil, err
	}
	return transcript, nil
}

// processStderr forwards progress lines to progress and keeps the last lines
// of other output for error messages. The first progress error cancels the
// process and is returned.
func (e *Exec) processStderr(ctx context.Context, r io.Reader, progress model.ProgressFunc, abort context.CancelCauseFunc) ([]string, error) {
	var (
		tail     []string
		abortErr error
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if m := progressLine.FindStringSubmatch(line); m != nil {
			if abortErr != nil {
				continue
			}
			p, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			e.logger.DebugContext(ctx, "engine progress", "percent", formatPercent(p))
			if err := progress(p); err != nil {
				abortErr = err
				abort(err)
			}
			continue
		}
		e.logger.DebugContext(ctx, "engine stderr", "line", line)
		tail = append(tail, line)
		if len(tail) > stderrTail {
			tail = tail[1:]
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		e.logger.ErrorContext(ctx, "processing engine stderr", "error", err)
	}
	return tail, abortErr
}

func readOutputs(dir, audioPath string) (*model.Transcript, error) {
	base := filepath.Base(audioPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	read := func(ext string) (string, error) {
		b, err := os.ReadFile(filepath.Join(dir, base+"."+ext))
		if err != nil {
			return "", fmt.Errorf("engine produced no %s output: %w", ext, err)
		}
		return string(b), nil
	}

	var (
		t   model.Transcript
		err error
	)
	if t.AsTXT, err = read("txt"); err != nil {
		return nil, err
	}
	if t.AsSRT, err = read("srt"); err != nil {
		return nil, err
	}
	if t.AsTSV, err = read("tsv"); err != nil {
		return nil, err
	}
	if t.AsVTT, err = read("vtt"); err != nil {
		return nil, err
	}
	raw, err := read("json")
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &t.AsJSON); err != nil {
		return nil, fmt.Errorf("decoding json output: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}
