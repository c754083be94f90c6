package config

import (
	"fmt"
	"os"

	yaml "go.yaml.in/yaml/v3"

	"lifeflow/internal/push"
)

// Config holds the settings that don't fit on the command line, mainly the
// web-push VAPID credentials.
type Config struct {
	Push push.Config `yaml:"push"`
}

// Load reads a YAML config file. A missing path returns the zero config, so
// running without push credentials just disables delivery.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
