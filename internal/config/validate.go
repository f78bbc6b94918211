package config

import "fmt"

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server.max_upload_mb must be positive, got %d", c.Server.MaxUploadMB)
	}
	if c.Storage.UploadDir == "" {
		return fmt.Errorf("storage.upload_dir cannot be empty")
	}
	if c.Storage.MergedDir == "" {
		return fmt.Errorf("storage.merged_dir cannot be empty")
	}
	if c.Storage.UploadDir == c.Storage.MergedDir {
		return fmt.Errorf("storage.upload_dir and storage.merged_dir must differ")
	}
	return nil
}
