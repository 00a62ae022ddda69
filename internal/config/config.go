package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory, file, and bind address configuration.
type Paths struct {
	StateDir    string `toml:"state_dir"`
	LogDir      string `toml:"log_dir"`
	DesiredFile string `toml:"desired_file"`
	APIBind     string `toml:"api_bind"`
	APIToken    string `toml:"api_token"`
}

// Worker describes the command channel between the agent and the privileged worker.
type Worker struct {
	Network         string `toml:"network"`
	Address         string `toml:"address"`
	SocketMode      string `toml:"socket_mode"`
	DialTimeout     int    `toml:"dial_timeout"`
	ExchangeTimeout int    `toml:"exchange_timeout"`
	AllowedUIDs     []int  `toml:"allowed_uids"`
}

// Updates contains configuration for the update reconciliation engine.
type Updates struct {
	ManifestsDir    string `toml:"manifests_dir"`
	ArtifactsDir    string `toml:"artifacts_dir"`
	DownloadTimeout int    `toml:"download_timeout"`
	S3Region        string `toml:"s3_region"`
}

// Renewal controls the periodic credential renewal loop.
type Renewal struct {
	Enabled  bool `toml:"enabled"`
	Interval int  `toml:"interval"`
}

// Platform maps platform operations to command lines run by the worker.
// Keys are operation names such as "reboot_now" or "apps_list"; values are
// command templates with {placeholders}.
type Platform struct {
	CommandTimeout int               `toml:"command_timeout"`
	TransferRoot   string            `toml:"transfer_root"`
	Commands       map[string]string `toml:"commands"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for dmagent.
//
// Configuration sections by subsystem:
//   - Paths: state/log directories, desired document file, local API
//   - Worker: command channel endpoint and timeouts
//   - Updates: manifest registry and artifact directories
//   - Renewal: credential renewal interval
//   - Platform: worker-side command templates
//   - Logging: log format, level, and retention
type Config struct {
	Paths    Paths    `toml:"paths"`
	Worker   Worker   `toml:"worker"`
	Updates  Updates  `toml:"updates"`
	Renewal  Renewal  `toml:"renewal"`
	Platform Platform `toml:"platform"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}

	projectPath, err := filepath.Abs("dmagent.toml")
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the agent and worker write into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Updates.ManifestsDir, c.Updates.ArtifactsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Worker.Network == "unix" {
		if err := os.MkdirAll(filepath.Dir(c.Worker.Address), 0o755); err != nil {
			return fmt.Errorf("create socket directory: %w", err)
		}
	}
	return nil
}

// JournalPath returns the sqlite task journal location.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.StateDir, "journal.db")
}

// AgentLockPath returns the single-instance lock file for the agent process.
func (c *Config) AgentLockPath() string {
	return filepath.Join(c.Paths.StateDir, "agent.lock")
}

// WorkerLockPath returns the single-instance lock file for the worker process.
func (c *Config) WorkerLockPath() string {
	return filepath.Join(c.Paths.StateDir, "worker.lock")
}

// DialTimeout returns the command channel connect timeout.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Worker.DialTimeout) * time.Second
}

// ExchangeTimeout returns the per-exchange deadline on the command channel.
// Zero means no deadline.
func (c *Config) ExchangeTimeout() time.Duration {
	return time.Duration(c.Worker.ExchangeTimeout) * time.Second
}

// RenewalInterval returns the credential renewal period.
func (c *Config) RenewalInterval() time.Duration {
	return time.Duration(c.Renewal.Interval) * time.Minute
}

// CommandTimeout returns the upper bound for a single platform command.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Platform.CommandTimeout) * time.Second
}

// DownloadTimeout returns the upper bound for a single artifact fetch.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Updates.DownloadTimeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
