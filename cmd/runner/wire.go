package main

import (
	"fmt"
	"log/slog"

	"github.com/JulianFP/project-W-runner/internal/backend"
	"github.com/JulianFP/project-W-runner/internal/engine"
	"github.com/JulianFP/project-W-runner/internal/model"
	"github.com/JulianFP/project-W-runner/internal/service"
)

// newSupervisor wires the runner components for cfg.
func newSupervisor(cfg model.Config, logger *slog.Logger) (*service.Supervisor, error) {
	interval, timeout, err := cfg.HeartbeatTiming()
	if err != nil {
		return nil, err
	}

	backendCfg := backend.Config{
		URL:       cfg.BackendSettings.URL,
		AuthToken: cfg.BackendSettings.AuthToken,
	}
	if cfg.BackendSettings.CAPEMFilePath != nil {
		backendCfg.CAFile = *cfg.BackendSettings.CAPEMFilePath
	}
	client, err := backend.New(backendCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing backend client: %w", err)
	}

	eng, err := engine.FromConfig(cfg.Engine, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing engine: %w", err)
	}

	session := service.NewSession(client, cfg.RunnerAttributes, model.ReadBuildInfo(), logger)
	client.UseSession(session)

	slot := service.NewJobSlot()
	heartbeat, err := service.NewHeartbeat(client, slot, interval, timeout, logger)
	if err != nil {
		return nil, err
	}
	handler := service.NewJobHandler(client, slot, eng, cfg.TmpDir(), logger)
	return service.NewSupervisor(session, slot, heartbeat, handler, logger), nil
}
