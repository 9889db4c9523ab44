// Package config loads YAML configuration files with environment variable
// expansion. Values like ${RAIDO_TOKEN} are substituted from the process
// environment before parsing.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Validator is implemented by configuration types that can check themselves
// after loading.
type Validator interface {
	Validate() error
}

// Load reads filename, expands environment variables, and unmarshals the
// result into target. If target implements Validator, validation runs as
// part of loading. A missing file is not an error when the target already
// holds usable defaults; callers that require the file should check with
// Exists first.
func Load[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return validate(target)
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", filename, err)
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), target); err != nil {
		return fmt.Errorf("config: parse %s: %w", filename, err)
	}
	return validate(target)
}

// Exists reports whether a config file is present at filename.
func Exists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}

func validate[T any](target *T) error {
	if v, ok := any(target).(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("config: validation failed: %w", err)
		}
	}
	return nil
}
