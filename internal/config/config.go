package config

// Config is the top-level pagedock configuration.
type Config struct {
	// Server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Storage
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host        string `json:"host" mapstructure:"host"`
	Port        int    `json:"port" mapstructure:"port"`
	MaxUploadMB int    `json:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// StorageConfig holds the backing file directories. Uploaded documents and
// merge results are kept apart so operators can apply different retention.
type StorageConfig struct {
	UploadDir string `json:"upload_dir" mapstructure:"upload_dir"`
	MergedDir string `json:"merged_dir" mapstructure:"merged_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        5000,
			MaxUploadMB: 50,
		},
		Storage: StorageConfig{
			UploadDir: "uploads",
			MergedDir: "merged",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}
