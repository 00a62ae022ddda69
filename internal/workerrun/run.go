// Package workerrun wires the privileged worker process: lock, logging, the
// platform provider, the command dispatcher and the command channel listener.
package workerrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"dmagent/internal/config"
	"dmagent/internal/dispatch"
	"dmagent/internal/ipc"
	"dmagent/internal/logging"
	"dmagent/internal/platform"
	"dmagent/internal/preflight"
)

// ErrAlreadyRunning is returned when another worker holds the instance lock.
var ErrAlreadyRunning = errors.New("another dmagent worker instance is already running")

// Options configures worker process runtime behavior.
type Options struct {
	// Fake serves an in-memory platform instead of running commands.
	Fake bool
	// Ready is called with the bound endpoint once the listener is serving.
	Ready func(ipc.Endpoint)
}

// Run serves the command channel until cmdCtx ends or SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	lock := flock.New(cfg.WorkerLockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	defer lock.Unlock()

	logger, _, err := logging.NewRunLogger(cfg, "worker", uuid.NewString())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	var provider platform.Provider
	if opts.Fake {
		provider = platform.NewFake().Provider()
		logging.WarnWithContext(logger, "serving fake platform", "fake_platform",
			logging.String(logging.FieldImpact, "commands change in-memory state only"),
			logging.String(logging.FieldErrorHint, "drop --fake to run platform commands"))
	} else {
		provider = platform.NewCommandProvider(cfg.Platform.Commands, platform.ExecRunner{Timeout: cfg.CommandTimeout()})
		logCommandSnapshot(logger, cfg)
	}

	mode, err := cfg.SocketFileMode()
	if err != nil {
		return err
	}
	d := dispatch.NewWorker(provider, logger, dispatch.Options{TransferRoot: cfg.Platform.TransferRoot})
	ep := ipc.Endpoint{Network: cfg.Worker.Network, Address: cfg.Worker.Address}
	server, err := ipc.NewServer(signalCtx, ep, d, logger, ipc.ServerOptions{
		SocketMode:      os.FileMode(mode),
		AllowedUIDs:     cfg.Worker.AllowedUIDs,
		ExchangeTimeout: cfg.ExchangeTimeout(),
	})
	if err != nil {
		return fmt.Errorf("start command channel: %w", err)
	}
	defer server.Close()
	server.Serve()

	logger.Info("dmagent worker serving",
		logging.String(logging.FieldEventType, "worker_serving"),
		logging.String("endpoint", server.Endpoint().String()),
		logging.Int("tags", len(d.Tags())),
		logging.Bool("fake", opts.Fake))
	if opts.Ready != nil {
		opts.Ready(server.Endpoint())
	}

	<-signalCtx.Done()
	logger.Info("dmagent worker shutting down", logging.String(logging.FieldEventType, "worker_stopping"))
	return nil
}

func logCommandSnapshot(logger *slog.Logger, cfg *config.Config) {
	statuses := preflight.CheckCommands(cfg.Platform.Commands)
	missing := 0
	for _, status := range statuses {
		if status.Available {
			continue
		}
		missing++
		logging.WarnWithContext(logger, "platform command unavailable", "platform_command_missing",
			logging.String("operation", status.Operation),
			logging.String("detail", status.Detail),
			logging.String(logging.FieldImpact, "commands using this operation will fail"),
			logging.String(logging.FieldErrorHint, "install the binary or fix [platform.commands]"))
	}
	logger.Info("platform command snapshot",
		logging.String(logging.FieldEventType, "platform_command_snapshot"),
		logging.Int("configured", len(statuses)),
		logging.Int("missing", missing))
}
