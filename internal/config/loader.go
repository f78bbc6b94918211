// Package config defines the service configuration and its loader. Storage
// directories are plain configuration handed to the storage manager at
// construction; nothing here creates ambient global state.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading.
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load builds the configuration from defaults, the config file (if one was
// given) and PAGEDOCK_* environment variables, in increasing precedence, and
// validates the result. Nested keys map to env names with underscores, so
// server.port is overridden by PAGEDOCK_SERVER_PORT.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	// Defaults register every key with viper; AutomaticEnv only resolves
	// keys it knows about.
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.max_upload_mb", cfg.Server.MaxUploadMB)
	v.SetDefault("storage.upload_dir", cfg.Storage.UploadDir)
	v.SetDefault("storage.merged_dir", cfg.Storage.MergedDir)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)

	v.SetEnvPrefix("PAGEDOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.configPath != "" {
		if _, err := os.Stat(l.configPath); err != nil {
			return nil, fmt.Errorf("config file %s: %w", l.configPath, err)
		}
		v.SetConfigFile(l.configPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
