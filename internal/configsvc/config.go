// Package configsvc reads and writes YAML configuration files.
// Files are converted to JSON before decoding, so target types use json struct tags.
package configsvc

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ghodss/yaml"
)

// Load reads the YAML file at path over def.
// When optional is set a missing file yields def unchanged.
func Load[T any](path string, def T, optional bool) (T, error) {
	config, err := readConfig(path, def)
	switch {
	case optional && errors.Is(err, os.ErrNotExist):
		return def, nil
	case err != nil:
		return def, err
	}
	return config, nil
}

// Write stores config at path as YAML, creating parent directories.
// An existing file is only replaced when overwrite is set.
func Write[T any](path string, config T, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return writeConfig(path, config)
}

func writeConfig[T any](path string, config T) error {
	jsonB, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	yamlB, err := yaml.JSONToYAML(jsonB)
	if err != nil {
		return fmt.Errorf("failed to convert json to yaml: %w", err)
	}

	// The file holds the sink credential.
	err = os.WriteFile(path, yamlB, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func readConfig[T any](path string, def T) (T, error) {
	yamlB, err := os.ReadFile(path)
	if err != nil {
		return def, fmt.Errorf("failed to read config file: %w", err)
	}

	jsonB, err := yaml.YAMLToJSON(yamlB)
	if err != nil {
		return def, fmt.Errorf("failed to convert yaml to json: %w", err)
	}
	err = json.Unmarshal(jsonB, &def)
	if err != nil {
		return def, fmt.Errorf("failed to unmarshal json: %w", err)
	}
	return def, nil
}
