package utils

import (
	"fmt"
	"os"

	"github.com/fjacquet/archer_ops/internal/models"
	"gopkg.in/yaml.v2"
)

// FileExists reports whether path names an existing file or directory.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// ReadFile decodes the YAML file at path into cfg and overlays the ARCHER_*
// environment variables. Unknown keys are rejected so a misspelled setting
// does not silently fall back to its default. An empty file is valid.
func ReadFile(cfg *models.Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return cfg.ApplyEnv()
}

// LoadConfig reads, overlays and validates the configuration at path.
func LoadConfig(path string) (*models.Config, error) {
	if !FileExists(path) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	cfg := &models.Config{}
	if err := ReadFile(cfg, path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}
