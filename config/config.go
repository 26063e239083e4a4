// Package config loads the host process's YAML configuration.
package config

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/handika51/dispatchcore/shm"
)

// Config is the top-level host configuration.
type Config struct {
	// Workers is the number of worker processes to supervise.
	Workers int `yaml:"workers"`
	// ExecPath is the path to the binary re-executed with "--worker" for
	// each worker process. Empty means "this binary" (os.Executable()).
	ExecPath string `yaml:"exec_path"`
	// Names overrides the default shared-memory/semaphore object names,
	// letting two hosts coexist on one machine.
	Names NamesConfig `yaml:"names"`
	// WatchdogLogSize sets the crash-detection log ring buffer size. It is
	// an operator-tunable knob, expressed with datasize.ByteSize for
	// human-friendly values like "1MiB" rather than a raw integer field.
	WatchdogLogSize datasize.ByteSize `yaml:"watchdog_log_size"`
	// LogLevel selects the host logger's verbosity.
	LogLevel zapcore.Level `yaml:"log_level"`
}

// NamesConfig is the YAML-facing mirror of shm.Names.
type NamesConfig struct {
	Region  string `yaml:"region"`
	SemReq  string `yaml:"sem_req"`
	SemResp string `yaml:"sem_resp"`
}

// ToShmNames converts to shm.Names, falling back to the defaults for any
// field left empty.
func (n NamesConfig) ToShmNames() shm.Names {
	d := shm.DefaultNames()
	names := shm.Names{Region: d.Region, SemReq: d.SemReq, SemResp: d.SemResp}
	if n.Region != "" {
		names.Region = n.Region
	}
	if n.SemReq != "" {
		names.SemReq = n.SemReq
	}
	if n.SemResp != "" {
		names.SemResp = n.SemResp
	}
	return names
}

// DefaultConfig returns the default configuration: a full worker pool
// re-executing this same binary.
func DefaultConfig() *Config {
	return &Config{
		Workers:         shm.MaxWorkers,
		ExecPath:        "",
		WatchdogLogSize: 1 * datasize.MB,
		LogLevel:        zapcore.InfoLevel,
	}
}

// Load reads and parses a YAML configuration file, starting from
// DefaultConfig and overlaying whatever the file specifies.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}

	if cfg.Workers < 0 || cfg.Workers > shm.MaxWorkers {
		return nil, fmt.Errorf("workers must be in [0, %d], got %d", shm.MaxWorkers, cfg.Workers)
	}

	return cfg, nil
}
