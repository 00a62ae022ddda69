package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"dmagent/internal/agentrun"
	"dmagent/internal/config"
	"dmagent/internal/ipc"
	"dmagent/internal/testsupport"
	"dmagent/internal/workerrun"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	apiAddr    string
}

// setupCLITestEnv writes a config file and, when withAgent is set, starts a
// fake worker and an agent behind it.
func setupCLITestEnv(t *testing.T, withAgent bool) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cfg.Logging.Level = "error"
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	env := &cliTestEnv{cfg: cfg, configPath: configPath}

	ctx, cancel := context.WithCancel(context.Background())
	workerReady := make(chan ipc.Endpoint, 1)
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- workerrun.Run(ctx, cfg, workerrun.Options{Fake: true, Ready: func(ep ipc.Endpoint) { workerReady <- ep }})
	}()
	waitReady(t, workerReady, workerDone)

	agentDone := make(chan error, 1)
	if withAgent {
		apiReady := make(chan string, 1)
		go func() {
			agentDone <- agentrun.Run(ctx, cfg, agentrun.Options{DisableWatch: true, Ready: func(addr string) { apiReady <- addr }})
		}()
		env.apiAddr = waitReady(t, apiReady, agentDone)
	} else {
		agentDone <- nil
	}

	t.Cleanup(func() {
		cancel()
		<-agentDone
		<-workerDone
	})
	return env
}

func waitReady[T any](t *testing.T, ready <-chan T, done <-chan error) T {
	t.Helper()
	var zero T
	select {
	case v := <-ready:
		return v
	case err := <-done:
		t.Fatalf("process exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatalf("process not ready")
	}
	return zero
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	flags := []string{"--config", e.configPath}
	if e.apiAddr != "" {
		flags = append(flags, "--api", e.apiAddr)
	}
	return runCLI(t, append(flags, args...))
}

func runCLI(t *testing.T, args []string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
