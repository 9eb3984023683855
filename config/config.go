// Package config loads the YAML configuration shared by the tracering
// demo binaries, following the agent/*/internal/app.LoadConfig pattern:
// open the file, decode into a typed struct, wrap errors with context.
package config

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/yanet-platform/tracering/internal/logging"
)

// Config is the top-level configuration for either demo binary.
type Config struct {
	Logging logging.Config `yaml:"logging"`

	// ShmName is the shared-memory object name; empty means
	// ring.DefaultName.
	ShmName string `yaml:"shm_name"`

	// RingExponent selects N = 2^RingExponent ring slots; zero means
	// ring.DefaultK.
	RingExponent uint `yaml:"ring_exponent"`

	// AllowOverwrite selects the overwrite publish policy. Both producer
	// and consumer binaries must agree on this value.
	AllowOverwrite bool `yaml:"allow_overwrite"`

	// RingSize is an advisory, human-readable echo of the configured
	// ring's byte footprint. It is decoded but not read by either binary;
	// the effective size is always derived from RingExponent.
	RingSize datasize.ByteSize `yaml:"ring_size_hint"`

	// Workers is the receiver dispatcher's worker-pool size; zero means
	// receiver.DefaultWorkers.
	Workers int `yaml:"workers"`

	// HandlerCapacity bounds how many handlers may register with the
	// receiver dispatcher; zero means receiver.DefaultHandlerCapacity.
	HandlerCapacity int `yaml:"handler_capacity"`

	// LabelFilter is an optional glob pattern (github.com/gobwas/glob
	// syntax); when set, the consumer CLI only prints events/spans whose
	// label matches.
	LabelFilter string `yaml:"label_filter"`
}

// Load opens path and decodes it into a Config.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	cfg := new(Config)
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}
