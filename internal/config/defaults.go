package config

const (
	defaultConfigPath      = "~/.config/dmagent/config.toml"
	defaultStateDir        = "~/.local/share/dmagent"
	defaultLogDir          = "~/.local/share/dmagent/logs"
	defaultManifestsDir    = "~/.local/share/dmagent/updates/manifests"
	defaultArtifactsDir    = "~/.local/share/dmagent/updates/artifacts"
	defaultWorkerNetwork   = "unix"
	defaultWorkerSocket    = "~/.local/share/dmagent/worker.sock"
	defaultSocketMode      = "0660"
	defaultAPIBind         = "127.0.0.1:7591"
	defaultDialTimeout     = 5
	defaultExchangeTimeout = 600
	defaultDownloadTimeout = 900
	defaultCommandTimeout  = 300
	defaultRenewalInterval = 45
	defaultLogFormat       = "console"
	defaultLogLevel        = "info"
	defaultRetentionDays   = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Worker: Worker{
			Network:         defaultWorkerNetwork,
			Address:         defaultWorkerSocket,
			SocketMode:      defaultSocketMode,
			DialTimeout:     defaultDialTimeout,
			ExchangeTimeout: defaultExchangeTimeout,
		},
		Updates: Updates{
			ManifestsDir:    defaultManifestsDir,
			ArtifactsDir:    defaultArtifactsDir,
			DownloadTimeout: defaultDownloadTimeout,
		},
		Renewal: Renewal{
			Enabled:  true,
			Interval: defaultRenewalInterval,
		},
		Platform: Platform{
			CommandTimeout: defaultCommandTimeout,
			Commands:       map[string]string{},
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultRetentionDays,
		},
	}
}
