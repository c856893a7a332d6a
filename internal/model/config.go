package model

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	EngineKindCommand = "command"
	EngineKindDummy   = "dummy"

	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"

	DefaultHeartbeatInterval = 10 * time.Second
	DefaultHeartbeatTimeout  = time.Minute
	DefaultPriority          = 100
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version          int              `json:"version" yaml:"version"` // fixed 0 for now
	RunnerAttributes RunnerAttributes `json:"runner_attributes" yaml:"runner_attributes"`
	BackendSettings  BackendSettings  `json:"backend_settings" yaml:"backend_settings"`
	Heartbeat        *Heartbeat       `json:"heartbeat,omitempty" yaml:"heartbeat,omitempty"`
	Engine           EngineSettings   `json:"engine" yaml:"engine"`
	JobTmpDir        *string          `json:"job_tmp_dir,omitempty" yaml:"job_tmp_dir,omitempty"` // nil => os.TempDir
	Service          *Service         `json:"service,omitempty" yaml:"service,omitempty"`
}

// RunnerAttributes are sent to the backend on registration.
type RunnerAttributes struct {
	Name     string `json:"name" yaml:"name"`
	Priority int    `json:"priority" yaml:"priority"`
}

type BackendSettings struct {
	URL           string  `json:"url" yaml:"url"`
	CAPEMFilePath *string `json:"ca_pem_file_path,omitempty" yaml:"ca_pem_file_path,omitempty"`
	AuthToken     string  `json:"auth_token" yaml:"auth_token"`
}

type Heartbeat struct {
	Interval *string `json:"interval,omitempty" yaml:"interval,omitempty"`
	Timeout  *string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// EngineSettings selects the processing engine and carries the runtime
// settings handed to it with every job.
type EngineSettings struct {
	Kind          string         `json:"kind" yaml:"kind"` // "command" | "dummy"
	Command       *EngineCommand `json:"command,omitempty" yaml:"command,omitempty"`
	StepDelay     *string        `json:"step_delay,omitempty" yaml:"step_delay,omitempty"`
	ModelCacheDir *string        `json:"model_cache_dir,omitempty" yaml:"model_cache_dir,omitempty"`
	TorchDevice   string         `json:"torch_device" yaml:"torch_device"`
	ComputeType   string         `json:"compute_type" yaml:"compute_type"`
	BatchSize     int            `json:"batch_size" yaml:"batch_size"`
	HFToken       *string        `json:"hf_token,omitempty" yaml:"hf_token,omitempty"`
}

type EngineCommand struct {
	Path    string            `json:"path" yaml:"path"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Timeout *string           `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

type Service struct {
	Verbose *bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	Log     *string `json:"log,omitempty" yaml:"log,omitempty"` // "stderr"|"stdout"|"discard"|path
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
// Secrets starting with $ are expanded from the environment.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}

	out.BackendSettings.AuthToken = expand(out.BackendSettings.AuthToken)
	if out.Engine.HFToken != nil {
		v := expand(*out.Engine.HFToken)
		out.Engine.HFToken = &v
	}
	if out.BackendSettings.AuthToken == "" {
		return nil, fmt.Errorf("backend_settings.auth_token: %w", ErrEmptySecret)
	}

	if _, _, err := out.HeartbeatTiming(); err != nil {
		return nil, err
	}
	return &out, nil
}

// HeartbeatTiming returns the heartbeat interval and the timeout after which
// failed heartbeats become fatal. The timeout must exceed the interval so at
// least one retry is possible.
func (c Config) HeartbeatTiming() (interval, timeout time.Duration, err error) {
	interval, timeout = DefaultHeartbeatInterval, DefaultHeartbeatTimeout
	if c.Heartbeat != nil {
		if c.Heartbeat.Interval != nil {
			interval, err = ParseCueDuration(*c.Heartbeat.Interval)
			if err != nil {
				return 0, 0, fmt.Errorf("parsing heartbeat.interval: %w", err)
			}
		}
		if c.Heartbeat.Timeout != nil {
			timeout, err = ParseCueDuration(*c.Heartbeat.Timeout)
			if err != nil {
				return 0, 0, fmt.Errorf("parsing heartbeat.timeout: %w", err)
			}
		}
	}
	if interval <= 0 {
		return 0, 0, fmt.Errorf("heartbeat.interval: %w", ErrNonPositive)
	}
	if timeout <= interval {
		return 0, 0, fmt.Errorf("heartbeat.timeout %s must be greater than interval %s: %w", timeout, interval, ErrHeartbeatTiming)
	}
	return interval, timeout, nil
}

// TmpDir returns the directory job payloads are written to.
func (c Config) TmpDir() string {
	if c.JobTmpDir == nil {
		return os.TempDir()
	}
	return *c.JobTmpDir
}

// Verbose reports whether debug logging was requested.
func (c Config) Verbose() bool {
	return c.Service != nil && c.Service.Verbose != nil && *c.Service.Verbose
}

// LogTarget is stderr unless service.log says otherwise.
func (c Config) LogTarget() string {
	if c.Service == nil || c.Service.Log == nil {
		return LogStderr
	}
	return *c.Service.Log
}

// Redacted returns a copy safe to print or log.
func (c Config) Redacted() Config {
	const mask = "********"
	c.BackendSettings.AuthToken = mask
	if c.Engine.HFToken != nil {
		v := mask
		c.Engine.HFToken = &v
	}
	return c
}

func expand(v string) string {
	if strings.HasPrefix(v, "$") {
		return os.ExpandEnv(v)
	}
	return v
}
