package log_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/JulianFP/project-W-runner/internal/log"
	"github.com/JulianFP/project-W-runner/internal/model"
	"github.com/stretchr/testify/require"
)

func TestContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, false)

	ctx := log.ContextAttrs(t.Context(), slog.Int64("runner_id", 7))
	jobCtx := log.ContextAttrs(ctx, slog.Int64("job_id", 42))
	otherCtx := log.ContextAttrs(ctx, slog.String("loop", "heartbeat"))

	logger.With("component", "test").InfoContext(jobCtx, "job started")
	logger.DebugContext(otherCtx, "not visible")
	logger.InfoContext(otherCtx, "tick")

	dec := json.NewDecoder(&buf)
	var first, second map[string]any
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	require.False(t, dec.More())

	require.Equal(t, "job started", first["msg"])
	require.EqualValues(t, 7, first["runner_id"])
	require.EqualValues(t, 42, first["job_id"])
	require.Equal(t, "test", first["component"])

	require.Equal(t, "tick", second["msg"])
	require.Equal(t, "heartbeat", second["loop"])
	require.NotContains(t, second, "job_id")
}

func TestOpen(t *testing.T) {
	for _, target := range []string{model.LogStderr, model.LogStdout, model.LogDiscard} {
		w, c, err := log.Open(target)
		require.NoError(t, err)
		require.NotNil(t, w)
		require.NoError(t, c.Close())
	}

	path := filepath.Join(t.TempDir(), "runner.log")
	w, c, err := log.Open(path)
	require.NoError(t, err)
	log.New(w, true).Debug("hello")
	require.NoError(t, c.Close())
	require.FileExists(t, path)
}
