// Package config loads worker configuration from the environment, with an
// optional YAML overlay for deployments that ship a config file instead of
// (or on top of) environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	// EnvStateBucket names the bucket holding workflow state blobs.
	EnvStateBucket = "STATE_BUCKET"
	// EnvStatePrefix namespaces state blob keys. Optional.
	EnvStatePrefix = "STATE_PREFIX"
	// EnvQueueURL is the fully qualified work queue URL.
	EnvQueueURL = "QUEUE_URL"
)

// DefaultStatePrefix is used when no prefix is configured.
const DefaultStatePrefix = "wf/"

// Config is the worker's external wiring.
type Config struct {
	// StateBucket is the bucket holding workflow state blobs. Required.
	StateBucket string `yaml:"state_bucket"`
	// StatePrefix namespaces blob keys; always ends with exactly one slash.
	StatePrefix string `yaml:"state_prefix"`
	// QueueURL is the work queue URL. Required only when a queue is used.
	QueueURL string `yaml:"queue_url"`
}

// Load reads configuration from the environment. STATE_BUCKET is required;
// the prefix defaults to DefaultStatePrefix and is normalized to end with a
// slash.
func Load() (Config, error) {
	c := Config{
		StateBucket: os.Getenv(EnvStateBucket),
		StatePrefix: os.Getenv(EnvStatePrefix),
		QueueURL:    os.Getenv(EnvQueueURL),
	}
	return c.finish()
}

// LoadFile reads configuration from the environment and overlays values set
// in the YAML file at path. File values win over environment values.
func LoadFile(path string) (Config, error) {
	c := Config{
		StateBucket: os.Getenv(EnvStateBucket),
		StatePrefix: os.Getenv(EnvStatePrefix),
		QueueURL:    os.Getenv(EnvQueueURL),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %q: %w", path, err)
	}
	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return Config{}, fmt.Errorf("parsing config file %q: %w", path, err)
	}
	if overlay.StateBucket != "" {
		c.StateBucket = overlay.StateBucket
	}
	if overlay.StatePrefix != "" {
		c.StatePrefix = overlay.StatePrefix
	}
	if overlay.QueueURL != "" {
		c.QueueURL = overlay.QueueURL
	}
	return c.finish()
}

func (c Config) finish() (Config, error) {
	if c.StateBucket == "" {
		return Config{}, fmt.Errorf("%s is required", EnvStateBucket)
	}
	c.StatePrefix = NormalizePrefix(c.StatePrefix)
	return c, nil
}

// RequireQueue validates that a queue URL is configured.
func (c Config) RequireQueue() error {
	if c.QueueURL == "" {
		return fmt.Errorf("%s is required", EnvQueueURL)
	}
	return nil
}

// NormalizePrefix returns the prefix with exactly one trailing slash, or the
// default when empty.
func NormalizePrefix(p string) string {
	if p == "" {
		return DefaultStatePrefix
	}
	return strings.TrimRight(p, "/") + "/"
}
