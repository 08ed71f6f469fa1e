// Package config loads the YAML configuration shared by the signalgraph
// commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Engine    Engine    `yaml:"engine"`
	Log       Log       `yaml:"log"`
	Metrics   Metrics   `yaml:"metrics"`
	Simulator Simulator `yaml:"simulator"`
}

// Engine configures the connectivity engine.
type Engine struct {
	// Mode is "sampling" or "live".
	Mode string `yaml:"mode"`
	// SamplingRate is in ticks per second and must be within (0, 100).
	SamplingRate float64 `yaml:"sampling_rate"`
	BufferSize   int     `yaml:"buffer_size"`
	// LiveInterval is the live mode drain period.
	LiveInterval time.Duration `yaml:"live_interval"`
	// LivePolicy is "observed" or "symmetric".
	LivePolicy       string `yaml:"live_policy"`
	DefaultRecording bool   `yaml:"default_recording"`
	DefaultVisible   bool   `yaml:"default_visible"`
}

type Log struct {
	// Verbosity follows commonlog: 0 logs errors and warnings, each step
	// adds a level, negative values silence logging.
	Verbosity int    `yaml:"verbosity"`
	File      string `yaml:"file"`
}

type Metrics struct {
	// Listen is the address Prometheus metrics are served on. Empty
	// disables the endpoint.
	Listen string `yaml:"listen"`
}

// Simulator configures the synthetic object graph used when no inspected
// process is attached.
type Simulator struct {
	Seed       int64         `yaml:"seed"`
	Threads    int           `yaml:"threads"`
	Objects    int           `yaml:"objects"`
	MaxObjects int           `yaml:"max_objects"`
	Classes    []string      `yaml:"classes,omitempty"`
	Interval   time.Duration `yaml:"interval"`
}

func Default() Config {
	return Config{
		Engine: Engine{
			Mode:             "sampling",
			SamplingRate:     10,
			BufferSize:       1000,
			LiveInterval:     100 * time.Millisecond,
			LivePolicy:       "observed",
			DefaultRecording: true,
			DefaultVisible:   true,
		},
		Log: Log{
			Verbosity: 0,
		},
		Simulator: Simulator{
			Seed:       1,
			Threads:    3,
			Objects:    24,
			MaxObjects: 64,
			Interval:   50 * time.Millisecond,
		},
	}
}

// Load reads the file at path over the defaults. Keys missing from the
// file keep their default value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path, or returns the defaults when path is empty.
func LoadOrDefault(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

func (c Config) Validate() error {
	e := c.Engine
	switch {
	case e.Mode != "sampling" && e.Mode != "live":
		return fmt.Errorf("%w: engine.mode %q", ErrInvalid, e.Mode)
	case !(e.SamplingRate > 0 && e.SamplingRate < 100):
		return fmt.Errorf("%w: engine.sampling_rate %v outside (0, 100)", ErrInvalid, e.SamplingRate)
	case e.BufferSize < 1:
		return fmt.Errorf("%w: engine.buffer_size %d", ErrInvalid, e.BufferSize)
	case e.LiveInterval <= 0:
		return fmt.Errorf("%w: engine.live_interval %v", ErrInvalid, e.LiveInterval)
	case e.LivePolicy != "observed" && e.LivePolicy != "symmetric":
		return fmt.Errorf("%w: engine.live_policy %q", ErrInvalid, e.LivePolicy)
	}

	s := c.Simulator
	switch {
	case s.Threads < 1:
		return fmt.Errorf("%w: simulator.threads %d", ErrInvalid, s.Threads)
	case s.Objects < 0 || s.MaxObjects < s.Objects:
		return fmt.Errorf("%w: simulator.objects %d with max_objects %d", ErrInvalid, s.Objects, s.MaxObjects)
	case s.Interval <= 0:
		return fmt.Errorf("%w: simulator.interval %v", ErrInvalid, s.Interval)
	}
	return nil
}

// Marshal encodes c as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
