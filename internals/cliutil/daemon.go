package cliutil

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Oudwins/somedaex/internals/backendproc"
	"github.com/Oudwins/somedaex/internals/conf"
	"github.com/Oudwins/somedaex/sdk"
)

// EnsureBackendRunning probes the configured backend and spawns it through
// registry when nothing answers. A nil process means an already running
// backend is reused and nothing needs stopping later.
func EnsureBackendRunning(ctx context.Context, client *sdk.Client, registry *backendproc.Registry, cfg conf.BackendConfig) (*backendproc.Process, error) {
	proc, err := backendproc.EnsureRunning(ctx, registry, client, backendproc.SpecFromConfig(cfg), cfg.Timeout())
	if err != nil {
		return nil, fmt.Errorf("failed to start backend %q: %w", cfg.Command, err)
	}
	if proc == nil {
		slog.Debug("backend already running", "url", client.BaseURL())
		return nil, nil
	}
	slog.Info("backend ready", "url", client.BaseURL(), "pid", proc.PID())
	return proc, nil
}

// BackendURLForPort is the address a launched backend listens on.
func BackendURLForPort(port int) string {
	return fmt.Sprintf("http://localhost:%d/", port)
}
