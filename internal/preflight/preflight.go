package preflight

import (
	"context"

	"dmagent/internal/agentapi"
	"dmagent/internal/config"
	"dmagent/internal/ipc"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// RunAll executes every check applicable to cfg. api may be nil to skip the
// agent API probe.
func RunAll(ctx context.Context, cfg *config.Config, api *agentapi.Client) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Update manifests", cfg.Updates.ManifestsDir),
		CheckDirectoryAccess("Update artifacts", cfg.Updates.ArtifactsDir),
	}
	if cfg.Platform.TransferRoot != "" {
		results = append(results, CheckDirectoryAccess("Transfer root", cfg.Platform.TransferRoot))
	}
	if cfg.Paths.DesiredFile != "" {
		results = append(results, CheckDesiredFile(cfg.Paths.DesiredFile))
	}

	for _, status := range CheckCommands(cfg.Platform.Commands) {
		results = append(results, status.Result())
	}

	channel := ipc.NewClient(
		ipc.Endpoint{Network: cfg.Worker.Network, Address: cfg.Worker.Address},
		ipc.ClientOptions{DialTimeout: cfg.DialTimeout(), ExchangeTimeout: cfg.ExchangeTimeout()},
	)
	results = append(results, CheckWorker(ctx, channel))
	if api != nil {
		results = append(results, CheckAgentAPI(ctx, api))
	}
	return results
}
