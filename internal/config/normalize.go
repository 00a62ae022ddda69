package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeWorker(); err != nil {
		return err
	}
	if err := c.normalizeUpdates(); err != nil {
		return err
	}
	if err := c.normalizePlatform(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.DesiredFile, err = expandPath(strings.TrimSpace(c.Paths.DesiredFile)); err != nil {
		return fmt.Errorf("paths.desired_file: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("DMAGENT_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeWorker() error {
	c.Worker.Network = strings.ToLower(strings.TrimSpace(c.Worker.Network))
	if c.Worker.Network == "" {
		c.Worker.Network = defaultWorkerNetwork
	}
	c.Worker.Address = strings.TrimSpace(c.Worker.Address)
	if c.Worker.Address == "" && c.Worker.Network == "unix" {
		c.Worker.Address = defaultWorkerSocket
	}
	if c.Worker.Network == "unix" {
		var err error
		if c.Worker.Address, err = expandPath(c.Worker.Address); err != nil {
			return fmt.Errorf("worker.address: %w", err)
		}
	}
	c.Worker.SocketMode = strings.TrimSpace(c.Worker.SocketMode)
	if c.Worker.SocketMode == "" {
		c.Worker.SocketMode = defaultSocketMode
	}
	return nil
}

func (c *Config) normalizeUpdates() error {
	var err error
	if strings.TrimSpace(c.Updates.ManifestsDir) == "" {
		c.Updates.ManifestsDir = defaultManifestsDir
	}
	if c.Updates.ManifestsDir, err = expandPath(c.Updates.ManifestsDir); err != nil {
		return fmt.Errorf("updates.manifests_dir: %w", err)
	}
	if strings.TrimSpace(c.Updates.ArtifactsDir) == "" {
		c.Updates.ArtifactsDir = defaultArtifactsDir
	}
	if c.Updates.ArtifactsDir, err = expandPath(c.Updates.ArtifactsDir); err != nil {
		return fmt.Errorf("updates.artifacts_dir: %w", err)
	}
	c.Updates.S3Region = strings.TrimSpace(c.Updates.S3Region)
	if c.Updates.S3Region == "" {
		if value, ok := os.LookupEnv("AWS_REGION"); ok {
			c.Updates.S3Region = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizePlatform() error {
	if root := strings.TrimSpace(c.Platform.TransferRoot); root != "" {
		expanded, err := expandPath(root)
		if err != nil {
			return err
		}
		c.Platform.TransferRoot = expanded
	}
	if c.Platform.Commands == nil {
		c.Platform.Commands = map[string]string{}
	}
	for key, value := range c.Platform.Commands {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			delete(c.Platform.Commands, key)
			continue
		}
		c.Platform.Commands[key] = trimmed
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
