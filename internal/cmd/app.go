package cmd

import (
	"fmt"

	"chatbycard/internal/api"
	"chatbycard/internal/config"
	"chatbycard/internal/event"
	"chatbycard/internal/logging"
	"chatbycard/internal/orchestrator"
)

// app bundles the wired components a subcommand needs.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	bus    *event.Bus
	client *api.Client
	orch   *orchestrator.Orchestrator
}

// buildApp loads the configuration and wires the client, event bus, and
// orchestrator. The caller owns closing the logger.
func buildApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logDir := ""
	if cfg.Logging.Enabled {
		logDir = cfg.Logging.Dir
	}
	logger, err := logging.NewLogger(logDir, logging.ParseLevel(cfg.Logging.Level))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	if !cfg.Logging.Enabled {
		logger = logging.NopLogger()
	}

	bus := event.NewBus()
	client := api.NewClient(cfg.Service.BaseURL, cfg.Service.Timeout(), logger)
	orch := orchestrator.New(client, bus, logger, orchestrator.Options{
		Streaming:     cfg.Chat.Streaming,
		DisableDelays: cfg.Chat.DisableDelays,
	})

	return &app{
		cfg:    cfg,
		logger: logger,
		bus:    bus,
		client: client,
		orch:   orch,
	}, nil
}

func (a *app) close() {
	if err := a.logger.Close(); err != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "Warning: failed to close log file: %v\n", err)
	}
}
