package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"dmagent/internal/desired"
)

func TestConfigInitAndValidate(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err := runCLI(t, []string{"config", "init", "--path", target})
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}); err == nil {
		t.Fatalf("expected second init without --overwrite to fail")
	}

	out, _, err = runCLI(t, []string{"--config", target, "config", "validate"})
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, target)
}

func TestSendTalksToWorker(t *testing.T) {
	env := setupCLITestEnv(t, false)

	out, _, err := env.run(t, "send", "--list")
	if err != nil {
		t.Fatalf("send --list: %v", err)
	}
	requireContains(t, out, "GetTimeInfo")

	if _, _, err := env.run(t, "send", "SetTimeInfo", `{"timeZone":"UTC"}`); err != nil {
		t.Fatalf("send SetTimeInfo: %v", err)
	}
	out, _, err = env.run(t, "send", "GetTimeInfo")
	if err != nil {
		t.Fatalf("send GetTimeInfo: %v", err)
	}
	requireContains(t, out, `"timeZone": "UTC"`)

	if _, _, err := env.run(t, "send", "NoSuchCommand"); err == nil {
		t.Fatalf("expected unknown tag error")
	}
	if _, _, err := env.run(t, "send", "GetTimeInfo", "--frame-version", "9"); err == nil {
		t.Fatalf("expected version mismatch to fail")
	}
}

func TestApplyReportAndTasks(t *testing.T) {
	env := setupCLITestEnv(t, true)

	doc := filepath.Join(t.TempDir(), "desired.json")
	if err := os.WriteFile(doc, []byte(`{"timeInfo":{"timeZone":"UTC"},"bogus":1}`), 0o644); err != nil {
		t.Fatalf("write desired: %v", err)
	}
	out, _, err := env.run(t, "apply", "--wait", doc)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	requireContains(t, out, "Submitted timeInfo")
	requireContains(t, out, "Ignored unknown sections: bogus")
	requireContains(t, out, "All sections applied")

	out, _, err = env.run(t, "report")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	var rep desired.Reported
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.TimeInfo == nil || rep.TimeInfo.TimeZone != "UTC" {
		t.Fatalf("unexpected reported timeInfo %+v", rep.TimeInfo)
	}

	out, _, err = env.run(t, "tasks", "--name", "timeInfo")
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	requireContains(t, out, "timeInfo")
	requireContains(t, out, "succeeded")

	out, _, err = env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "running yes")

	out, _, err = env.run(t, "invoke", "checkUpdates")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	requireContains(t, out, `"method": "checkUpdates"`)

	if _, _, err := env.run(t, "invoke", "selfDestruct"); err == nil {
		t.Fatalf("expected unknown method to fail")
	}
}

func TestDoctorReportsHealthyStack(t *testing.T) {
	env := setupCLITestEnv(t, true)
	out, _, err := env.run(t, "doctor")
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	requireContains(t, out, "Worker:")
	requireContains(t, out, "Agent API:")
}
