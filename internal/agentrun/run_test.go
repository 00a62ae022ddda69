package agentrun_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"dmagent/internal/agentapi"
	"dmagent/internal/agentrun"
	"dmagent/internal/config"
	"dmagent/internal/ipc"
	"dmagent/internal/journal"
	"dmagent/internal/testsupport"
	"dmagent/internal/workerrun"
)

type running struct {
	done chan error
	stop context.CancelFunc
}

func (r running) shutdown(t *testing.T) {
	t.Helper()
	r.stop()
	select {
	case err := <-r.done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for shutdown")
	}
}

func startWorker(t *testing.T, cfg *config.Config) running {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan ipc.Endpoint, 1)
	done := make(chan error, 1)
	go func() {
		done <- workerrun.Run(ctx, cfg, workerrun.Options{Fake: true, Ready: func(ep ipc.Endpoint) { ready <- ep }})
	}()
	select {
	case <-ready:
	case err := <-done:
		cancel()
		t.Fatalf("worker exited early: %v", err)
	case <-time.After(10 * time.Second):
		cancel()
		t.Fatalf("worker not ready")
	}
	return running{done: done, stop: cancel}
}

func startAgent(t *testing.T, cfg *config.Config) (running, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- agentrun.Run(ctx, cfg, agentrun.Options{Ready: func(addr string) { ready <- addr }})
	}()
	select {
	case addr := <-ready:
		return running{done: done, stop: cancel}, addr
	case err := <-done:
		cancel()
		t.Fatalf("agent exited early: %v", err)
	case <-time.After(10 * time.Second):
		cancel()
		t.Fatalf("agent not ready")
	}
	return running{}, ""
}

func quietConfig(t *testing.T, opts ...testsupport.ConfigOption) *config.Config {
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Logging.Level = "error"
	return cfg
}

func TestAgentAndWorkerEndToEnd(t *testing.T) {
	cfg := quietConfig(t, testsupport.WithAPIToken("tok"))
	worker := startWorker(t, cfg)
	defer worker.shutdown(t)
	agentProc, addr := startAgent(t, cfg)

	client := agentapi.NewClient(addr, "tok", 10*time.Second)
	ctx := context.Background()
	resp, err := client.Apply(ctx, []byte(`{"timeInfo":{"timeZone":"UTC","ntpServer":"time.example.net"}}`), true)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !resp.Completed || resp.Error != "" {
		t.Fatalf("unexpected submit response %+v", resp)
	}

	rep, err := client.Reported(ctx)
	if err != nil {
		t.Fatalf("Reported: %v", err)
	}
	if rep.TimeInfo == nil || rep.TimeInfo.TimeZone != "UTC" {
		t.Fatalf("timeInfo not reported: %+v", rep.TimeInfo)
	}
	if rep.Agent.LastSync == nil {
		t.Fatalf("expected lastSync after a completed submission")
	}

	if _, err := client.Invoke(ctx, "immediateReboot"); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	tasks, err := client.Tasks(ctx, journal.ListOptions{Name: "timeInfo"})
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Status != "succeeded" {
		t.Fatalf("unexpected timeInfo history %+v", tasks)
	}

	agentProc.shutdown(t)
}

func TestDesiredFileIsApplied(t *testing.T) {
	cfg := quietConfig(t)
	if err := os.WriteFile(cfg.Paths.DesiredFile, []byte(`{"rebootInfo":{"dailyRebootTime":"03:30"}}`), 0o644); err != nil {
		t.Fatalf("write desired: %v", err)
	}

	worker := startWorker(t, cfg)
	defer worker.shutdown(t)
	agentProc, addr := startAgent(t, cfg)
	defer agentProc.shutdown(t)

	client := agentapi.NewClient(addr, "", 10*time.Second)
	deadline := time.Now().Add(10 * time.Second)
	for {
		rep, err := client.Reported(context.Background())
		if err != nil {
			t.Fatalf("Reported: %v", err)
		}
		if rep.RebootInfo != nil && rep.RebootInfo.DailyRebootTime == "03:30" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("desired file never applied; reported %+v", rep.RebootInfo)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestSecondAgentIsRejected(t *testing.T) {
	cfg := quietConfig(t)
	worker := startWorker(t, cfg)
	defer worker.shutdown(t)
	agentProc, _ := startAgent(t, cfg)
	defer agentProc.shutdown(t)

	err := agentrun.Run(context.Background(), cfg, agentrun.Options{DisableWatch: true})
	if !errors.Is(err, agentrun.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestSecondWorkerIsRejected(t *testing.T) {
	cfg := quietConfig(t)
	worker := startWorker(t, cfg)
	defer worker.shutdown(t)

	err := workerrun.Run(context.Background(), cfg, workerrun.Options{Fake: true})
	if !errors.Is(err, workerrun.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}
