package wavenet

import (
	"errors"
	"fmt"

	"github.com/goccy/go-yaml"
)

// Options is the loosely typed option map a Net is built from, as it
// appears under a generator section of a model config file.
type Options map[string]any

// Config holds the decoded generator options.
type Config struct {
	// InChannels is the channel width of the target stream.
	InChannels int `yaml:"n_in_channels" json:"n_in_channels"`

	// OutChannels is the channel width of the output stream.
	OutChannels int `yaml:"n_out_channels" json:"n_out_channels"`

	// CondChannels is the channel width of the conditioning stream.
	CondChannels int `yaml:"n_cond_channels" json:"n_cond_channels"`

	ResidualChannels int `yaml:"n_residual_channels" json:"n_residual_channels"`
	SkipChannels     int `yaml:"n_skip_channels" json:"n_skip_channels"`

	// Layers is the number of gated residual layers.
	Layers int `yaml:"n_layers" json:"n_layers"`

	// MaxDilation caps the doubling dilation schedule; after reaching it
	// the schedule restarts at 1.
	MaxDilation int `yaml:"max_dilation" json:"max_dilation"`

	// Seed initializes the parameters.
	Seed uint64 `yaml:"seed" json:"seed"`
}

// DefaultConfig returns a small single-channel generator.
func DefaultConfig() Config {
	return Config{
		InChannels:       1,
		OutChannels:      1,
		CondChannels:     1,
		ResidualChannels: 16,
		SkipChannels:     32,
		Layers:           8,
		MaxDilation:      16,
	}
}

// Decode converts the option map into a Config. Keys that are absent keep
// their DefaultConfig value; unknown keys are rejected.
func (o Options) Decode() (Config, error) {
	cfg := DefaultConfig()
	if len(o) == 0 {
		return cfg, nil
	}
	data, err := yaml.Marshal(map[string]any(o))
	if err != nil {
		return Config{}, fmt.Errorf("wavenet: encode options: %w", err)
	}
	if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.DisallowUnknownField()); err != nil {
		return Config{}, fmt.Errorf("wavenet: decode options: %w", err)
	}
	return cfg, nil
}

// Validate checks that every size is positive.
func (c Config) Validate() error {
	var errs []error
	check := func(name string, v, lo int) {
		if v < lo {
			errs = append(errs, fmt.Errorf("%s must be >= %d, got %d", name, lo, v))
		}
	}
	check("n_in_channels", c.InChannels, 1)
	check("n_out_channels", c.OutChannels, 1)
	check("n_cond_channels", c.CondChannels, 1)
	check("n_residual_channels", c.ResidualChannels, 1)
	check("n_skip_channels", c.SkipChannels, 1)
	check("n_layers", c.Layers, 1)
	check("max_dilation", c.MaxDilation, 1)
	if len(errs) > 0 {
		return fmt.Errorf("wavenet: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Dilations returns the per-layer dilation schedule: 1, 2, 4, ... up to
// MaxDilation, then again from 1.
func (c Config) Dilations() []int {
	out := make([]int, c.Layers)
	d := 1
	for i := range out {
		out[i] = d
		d *= 2
		if d > c.MaxDilation {
			d = 1
		}
	}
	return out
}
