// Package agentrun wires the unprivileged agent process: lock, logging,
// journal, command channel client, blob fetcher, agent, local API and the
// desired-file watcher.
package agentrun

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dmagent/internal/agent"
	"dmagent/internal/agentapi"
	"dmagent/internal/blobstore"
	"dmagent/internal/config"
	"dmagent/internal/ipc"
	"dmagent/internal/journal"
	"dmagent/internal/logging"
	"dmagent/internal/watch"
)

// ErrAlreadyRunning is returned when another agent holds the instance lock.
var ErrAlreadyRunning = errors.New("another dmagent agent instance is already running")

// Options configures agent process runtime behavior.
type Options struct {
	// DisableWatch skips the desired-file watcher.
	DisableWatch bool
	// Ready is called with the API listen address once everything is serving.
	Ready func(apiAddr string)
}

// Run starts the agent and blocks until cmdCtx ends or SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	lock := flock.New(cfg.AgentLockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	defer lock.Unlock()

	sessionID := uuid.NewString()
	logger, logPath, err := logging.NewRunLogger(cfg, "agent", sessionID)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := journal.Open(cfg)
	if err != nil {
		logger.Error("open task journal", logging.Error(err))
		return err
	}
	defer store.Close()
	if cfg.Logging.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.Logging.RetentionDays)
		if n, err := store.Prune(signalCtx, cutoff); err != nil {
			logging.WarnWithContext(logger, "journal prune failed", "journal_prune_failed", logging.Error(err))
		} else if n > 0 {
			logger.Info("journal pruned", logging.String(logging.FieldEventType, "journal_pruned"), logging.Int64("removed", n))
		}
	}

	channel := ipc.NewClient(
		ipc.Endpoint{Network: cfg.Worker.Network, Address: cfg.Worker.Address},
		ipc.ClientOptions{DialTimeout: cfg.DialTimeout(), ExchangeTimeout: cfg.ExchangeTimeout()},
	)
	fetcher := blobstore.NewFetcher(blobstore.Options{
		Timeout: cfg.DownloadTimeout(),
		Region:  cfg.Updates.S3Region,
	}, logger)

	a, err := agent.New(agent.Options{
		Config:    cfg,
		Channel:   channel,
		Fetcher:   fetcher,
		Journal:   store,
		Logger:    logger,
		SessionID: sessionID,
	})
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}

	logger.Info("dmagent agent starting",
		logging.String(logging.FieldEventType, "agent_starting"),
		logging.String("worker", channel.Endpoint().String()),
		logging.String("journal", store.Path()),
		logging.String("log_path", logPath))

	recovered, err := a.Start(signalCtx)
	if err != nil {
		return fmt.Errorf("start agent: %w", err)
	}
	defer a.Stop()
	go func() {
		if _, err := recovered.Wait(signalCtx); err != nil && signalCtx.Err() == nil {
			logging.WarnWithContext(logger, "local update state not loaded", "local_state_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that the worker is running and reachable"),
				logging.String(logging.FieldImpact, "update units report as not installed until the next sync"))
		}
	}()

	api := agentapi.NewServer(cfg.Paths.APIBind, cfg.Paths.APIToken, a, store, logger)
	if err := api.Start(signalCtx); err != nil {
		return err
	}
	defer api.Stop()

	group, groupCtx := errgroup.WithContext(signalCtx)
	if !opts.DisableWatch && cfg.Paths.DesiredFile != "" {
		watcher := watch.New(cfg.Paths.DesiredFile, a, logger, 0)
		group.Go(func() error { return watcher.Run(groupCtx) })
	}
	if opts.Ready != nil {
		opts.Ready(api.Addr())
	}
	group.Go(func() error {
		<-groupCtx.Done()
		return nil
	})

	err = group.Wait()
	logger.Info("dmagent agent shutting down", logging.String(logging.FieldEventType, "agent_stopping"))
	return err
}
