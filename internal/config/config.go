// Package config loads the coupler run configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. COUPLER_RUN_STEPS.
const EnvPrefix = "COUPLER"

type Config struct {
	Run     RunConfig      `yaml:"run"`
	Solvers []SolverConfig `yaml:"solvers" ignored:"true"`
	Comm    CommConfig     `yaml:"comm"`
	Logging LogConfig      `yaml:"logging"`
	Metrics MetricsConfig  `yaml:"metrics"`
}

// RunConfig drives the step loop.
type RunConfig struct {
	Steps           int  `yaml:"steps" envconfig:"STEPS"`
	EchoInterval    int  `yaml:"echo_interval" envconfig:"ECHO_INTERVAL"`
	MemoryInterval  int  `yaml:"memory_interval" envconfig:"MEMORY_INTERVAL"`
	MultiSolverMode bool `yaml:"multi_solver_mode" envconfig:"MULTI_SOLVER_MODE"`
}

// SolverConfig describes one synthetic solver instance.
type SolverConfig struct {
	// Kind is "unstructured", "amr" or "generic".
	Kind            string                   `yaml:"kind"`
	Identifier      string                   `yaml:"identifier,omitempty"`
	OversetInterval int                      `yaml:"overset_interval,omitempty"`
	Work            map[string]time.Duration `yaml:"work,omitempty"`
}

// CommConfig selects the process-group transport.
type CommConfig struct {
	// Mode is "local", "hub" or "member".
	Mode string `yaml:"mode" envconfig:"MODE"`
	// Ranks is the in-process world size for local mode and the expected
	// membership size for hub mode.
	Ranks   int    `yaml:"ranks" envconfig:"RANKS"`
	Address string `yaml:"address" envconfig:"ADDRESS"`
	Rank    int    `yaml:"rank" envconfig:"RANK"`
}

type LogConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Encoding string `yaml:"encoding" envconfig:"ENCODING"`
}

type MetricsConfig struct {
	// Listen is the address for /metrics; empty disables it.
	Listen string `yaml:"listen" envconfig:"LISTEN"`
}

const (
	ModeLocal  = "local"
	ModeHub    = "hub"
	ModeMember = "member"

	KindGeneric      = "generic"
	KindUnstructured = "unstructured"
	KindAMR          = "amr"
)

func Default() *Config {
	return &Config{
		Run: RunConfig{
			Steps:           10,
			EchoInterval:    1,
			MemoryInterval:  10,
			MultiSolverMode: true,
		},
		Solvers: []SolverConfig{
			{Kind: KindUnstructured},
			{Kind: KindAMR},
		},
		Comm: CommConfig{
			Mode:    ModeLocal,
			Ranks:   2,
			Address: "127.0.0.1:7420",
		},
		Logging: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := cfg.decode(f); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadYAML decodes r over the defaults without environment overrides.
func LoadYAML(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(r); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Run.Steps < 0 {
		return fmt.Errorf("run.steps must not be negative, got %d", c.Run.Steps)
	}
	if c.Run.EchoInterval <= 0 {
		return fmt.Errorf("run.echo_interval must be positive, got %d", c.Run.EchoInterval)
	}
	if c.Run.MemoryInterval <= 0 {
		return fmt.Errorf("run.memory_interval must be positive, got %d", c.Run.MemoryInterval)
	}
	if len(c.Solvers) == 0 {
		return errors.New("at least one solver is required")
	}
	for i, s := range c.Solvers {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("solvers[%d]: %w", i, err)
		}
	}
	switch c.Comm.Mode {
	case ModeLocal, ModeHub:
		if c.Comm.Ranks <= 0 {
			return fmt.Errorf("comm.ranks must be positive, got %d", c.Comm.Ranks)
		}
	case ModeMember:
		if c.Comm.Rank < 0 {
			return fmt.Errorf("comm.rank must not be negative, got %d", c.Comm.Rank)
		}
	default:
		return fmt.Errorf("unknown comm.mode %q", c.Comm.Mode)
	}
	if c.Comm.Mode != ModeLocal && c.Comm.Address == "" {
		return errors.New("comm.address is required outside local mode")
	}
	return nil
}

func (s SolverConfig) Validate() error {
	switch s.Kind {
	case KindGeneric, KindUnstructured, KindAMR:
	default:
		return fmt.Errorf("unknown solver kind %q", s.Kind)
	}
	if s.OversetInterval < 0 {
		return fmt.Errorf("overset_interval must not be negative, got %d", s.OversetInterval)
	}
	for name, d := range s.Work {
		if d < 0 {
			return fmt.Errorf("work[%s] must not be negative", name)
		}
	}
	return nil
}
