package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateUpdates(); err != nil {
		return err
	}
	if err := c.validateRenewal(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorker() error {
	switch c.Worker.Network {
	case "unix", "tcp":
	default:
		return fmt.Errorf("worker.network: unsupported value %q (want unix or tcp)", c.Worker.Network)
	}
	if c.Worker.Address == "" {
		return errors.New("worker.address must be set")
	}
	if _, err := c.SocketFileMode(); err != nil {
		return err
	}
	if c.Worker.DialTimeout <= 0 {
		return errors.New("worker.dial_timeout must be positive")
	}
	if c.Worker.ExchangeTimeout < 0 {
		return errors.New("worker.exchange_timeout must be >= 0")
	}
	for _, uid := range c.Worker.AllowedUIDs {
		if uid < 0 {
			return fmt.Errorf("worker.allowed_uids: invalid uid %d", uid)
		}
	}
	if c.Worker.Network == "tcp" {
		host, _, err := net.SplitHostPort(c.Worker.Address)
		if err != nil {
			return fmt.Errorf("worker.address: %w", err)
		}
		if !loopbackHost(host) {
			return fmt.Errorf("worker.address: tcp host %q is not loopback", host)
		}
		if len(c.Worker.AllowedUIDs) > 0 {
			return errors.New("worker.allowed_uids requires worker.network = \"unix\"")
		}
	}
	return nil
}

func loopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (c *Config) validateUpdates() error {
	if c.Updates.ManifestsDir == c.Updates.ArtifactsDir {
		return errors.New("updates.manifests_dir and updates.artifacts_dir must differ")
	}
	if c.Updates.DownloadTimeout <= 0 {
		return errors.New("updates.download_timeout must be positive")
	}
	return nil
}

func (c *Config) validateRenewal() error {
	if c.Renewal.Enabled && c.Renewal.Interval <= 0 {
		return errors.New("renewal.interval must be positive when renewal.enabled is true")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}

// SocketFileMode parses worker.socket_mode as an octal permission.
func (c *Config) SocketFileMode() (uint32, error) {
	mode, err := strconv.ParseUint(c.Worker.SocketMode, 8, 32)
	if err != nil || mode > 0o777 {
		return 0, fmt.Errorf("worker.socket_mode: invalid octal permission %q", c.Worker.SocketMode)
	}
	return uint32(mode), nil
}
