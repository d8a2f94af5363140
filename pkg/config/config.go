// Package config holds the tunables of a circuit and its persistence backend.
package config

import (
	"os"

	"github.com/cockroachdb/errors"
	"sigs.k8s.io/yaml"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendPebble = "pebble"
	BackendBadger = "badger"
)

const (
	DefaultMaxIterations     = 1000
	DefaultSpineGrowthFactor = 2
)

// ErrInvalidConfig marks configuration validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the runtime configuration of a circuit.
type Config struct {
	// MaxIterations bounds the number of fixed-point iterations of a nested circuit in a
	// single outer tick.
	MaxIterations int `json:"maxIterations,omitempty"`
	// Workers is the number of operators of the same scheduling level that may be
	// evaluated concurrently. Zero or one means sequential evaluation.
	Workers int `json:"workers,omitempty"`
	// SpineGrowthFactor is the size ratio between consecutive batch size classes of a trace.
	SpineGrowthFactor int `json:"spineGrowthFactor,omitempty"`
	// TraceRetention is the number of past ticks for which traces keep time-resolved
	// history. Older updates are compacted to the watermark.
	TraceRetention uint64 `json:"traceRetention,omitempty"`
	// PoisonOnError moves the circuit into the poisoned state on any data error, not only
	// on operator panics.
	PoisonOnError bool `json:"poisonOnError,omitempty"`
	// Storage configures the checkpoint backend.
	Storage Storage `json:"storage,omitempty"`
}

// Storage configures a key/value backend.
type Storage struct {
	// Backend is one of memory, pebble or badger.
	Backend string `json:"backend,omitempty"`
	// Path is the database directory. An empty path opens the backend in memory.
	Path string `json:"path,omitempty"`
	// SyncWrites makes every write durable before it returns.
	SyncWrites bool `json:"syncWrites,omitempty"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		MaxIterations:     DefaultMaxIterations,
		Workers:           1,
		SpineGrowthFactor: DefaultSpineGrowthFactor,
		Storage:           Storage{Backend: BackendMemory},
	}
}

// Parse reads a YAML or JSON configuration. Unset fields take their default values.
func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return Config{}, errors.Mark(errors.Wrap(err, "parse config"), ErrInvalidConfig)
	}
	c.fillDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load reads the configuration from a file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(data)
}

func (c *Config) fillDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.Workers == 0 {
		c.Workers = 1
	}
	if c.SpineGrowthFactor == 0 {
		c.SpineGrowthFactor = DefaultSpineGrowthFactor
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMemory
	}
}

// Normalize returns a copy with zero fields replaced by their defaults.
func (c Config) Normalize() Config {
	c.fillDefaults()
	return c
}

// Validate checks the configuration for out-of-range values.
func (c Config) Validate() error {
	switch {
	case c.MaxIterations < 1:
		return errors.Mark(errors.Newf("maxIterations must be positive, got %d", c.MaxIterations),
			ErrInvalidConfig)
	case c.Workers < 1:
		return errors.Mark(errors.Newf("workers must be positive, got %d", c.Workers), ErrInvalidConfig)
	case c.SpineGrowthFactor < 2:
		return errors.Mark(errors.Newf("spineGrowthFactor must be at least 2, got %d", c.SpineGrowthFactor),
			ErrInvalidConfig)
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendPebble, BackendBadger:
	default:
		return errors.Mark(errors.Newf("unknown storage backend %q", c.Storage.Backend), ErrInvalidConfig)
	}
	return nil
}
