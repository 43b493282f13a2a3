// Package engineconfig loads the YAML tuning file that sizes the
// pipeline: dispatcher and worker counts, queue bounds, flow table
// capacity, and idle timeouts.
package engineconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"dpisieve/internal/engine"
)

// Config is the top-level engine tuning file.
type Config struct {
	Dispatchers   int    `yaml:"dispatchers"`
	WorkersPerLB  int    `yaml:"workers_per_lb"`
	QueueSize     int    `yaml:"queue_size"`
	FlowTableSize int    `yaml:"flow_table_size"`
	FlowIdle      string `yaml:"flow_idle"`
}

// LoadFile reads and parses the YAML file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("engineconfig: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("engineconfig: parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// ToEngineConfig converts the YAML representation into engine.Config,
// parsing the human-readable idle duration. A zero or unset FlowIdle
// falls back to the worker tier's own default (see internal/fastpath).
func (c *Config) ToEngineConfig() (engine.Config, error) {
	ec := engine.Config{
		Dispatchers:   c.Dispatchers,
		WorkersPerLB:  c.WorkersPerLB,
		QueueSize:     c.QueueSize,
		FlowTableSize: c.FlowTableSize,
	}
	if c.FlowIdle != "" {
		d, err := time.ParseDuration(c.FlowIdle)
		if err != nil {
			return engine.Config{}, fmt.Errorf("engineconfig: invalid flow_idle %q: %w", c.FlowIdle, err)
		}
		ec.FlowIdle = d
	}
	return ec, nil
}

// Default returns the tuning file's built-in defaults, used when no
// --config flag is given.
func Default() *Config {
	return &Config{
		Dispatchers:   2,
		WorkersPerLB:  2,
		QueueSize:     10_000,
		FlowTableSize: 100_000,
		FlowIdle:      "5m",
	}
}
