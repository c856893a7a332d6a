// Package engine contains the processing engines a runner can hand jobs to.
//
// Engines are external collaborators: the runner only relies on the
// model.Engine contract. Progress is reported in percent and the progress
// callback doubles as the cancellation token. Once it returns an error the
// engine stops and returns that error.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/JulianFP/project-W-runner/internal/model"
)

// Error is a stage-aware engine failure.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Kind names the failing stage, it ends up in the job error message.
func (e *Error) Kind() string {
	if e.Stage == "" {
		return "EngineError"
	}
	return "Engine" + strings.ToUpper(e.Stage[:1]) + e.Stage[1:] + "Error"
}

// Runtime settings are the runner side settings handed to the engine with
// every job.
type Runtime struct {
	ModelCacheDir string `json:"model_cache_dir,omitempty"`
	TorchDevice   string `json:"torch_device"`
	ComputeType   string `json:"compute_type"`
	BatchSize     int    `json:"batch_size"`
	HFToken       string `json:"-"`
}

func runtimeFromConfig(cfg model.EngineSettings) Runtime {
	rt := Runtime{
		TorchDevice: cfg.TorchDevice,
		ComputeType: cfg.ComputeType,
		BatchSize:   cfg.BatchSize,
	}
	if cfg.ModelCacheDir != nil {
		rt.ModelCacheDir = *cfg.ModelCacheDir
	}
	if cfg.HFToken != nil {
		rt.HFToken = *cfg.HFToken
	}
	return rt
}

// FromConfig builds the engine selected by engine.kind.
func FromConfig(cfg model.EngineSettings, logger *slog.Logger) (model.Engine, error) {
	switch cfg.Kind {
	case model.EngineKindDummy:
		delay, err := model.ParseOptionalDuration(cfg.StepDelay, DefaultStepDelay)
		if err != nil {
			return nil, fmt.Errorf("parsing engine.step_delay: %w", err)
		}
		return Dummy{StepDelay: delay}, nil
	case model.EngineKindCommand, "":
		if cfg.Command == nil {
			return nil, errors.New("engine.command must be set for kind command")
		}
		timeout, err := model.ParseOptionalDuration(cfg.Command.Timeout, 0)
		if err != nil {
			return nil, fmt.Errorf("parsing engine.command.timeout: %w", err)
		}
		cmd := Command{
			Path:    cfg.Command.Path,
			Args:    cfg.Command.Args,
			Env:     environ(cfg.Command.Env),
			Timeout: timeout,
		}
		return NewExec(cmd, runtimeFromConfig(cfg), logger), nil
	default:
		return nil, fmt.Errorf("unsupported engine kind %q", cfg.Kind)
	}
}

func environ(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for k, v := range m {
		if strings.HasPrefix(v, "$") {
			v = os.ExpandEnv(v)
		}
		env = append(env, strings.ToUpper(k)+"="+v)
	}
	return env
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}
