package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FromFile loads a YAML config file on top of the defaults, so omitted
// keys keep their default values.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := Default()
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}
