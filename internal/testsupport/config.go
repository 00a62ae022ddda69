package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"dmagent/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The worker socket lives under /tmp so its path stays within sun_path limits.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	sockDir, err := os.MkdirTemp("/tmp", "dmagent")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(sockDir) })

	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.DesiredFile = filepath.Join(base, "desired.json")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Worker.Address = filepath.Join(sockDir, "w.sock")
	cfgVal.Worker.SocketMode = "0600"
	cfgVal.Worker.ExchangeTimeout = 10
	cfgVal.Updates.ManifestsDir = filepath.Join(base, "updates", "manifests")
	cfgVal.Updates.ArtifactsDir = filepath.Join(base, "updates", "artifacts")
	cfgVal.Renewal.Enabled = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithAPIToken sets the bearer token required by the local API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithTCPWorker switches the command channel to an ephemeral loopback port.
func WithTCPWorker() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.Network = "tcp"
		b.cfg.Worker.Address = "127.0.0.1:0"
	}
}

// WithRenewal enables credential renewal at the given interval in minutes.
func WithRenewal(minutes int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Renewal.Enabled = true
		b.cfg.Renewal.Interval = minutes
	}
}

// WithCommands installs platform command templates.
func WithCommands(commands map[string]string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Platform.Commands = commands
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
