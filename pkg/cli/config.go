package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"

	"github.com/haivivi/condwave/pkg/autoencoder"
	"github.com/haivivi/condwave/pkg/bottleneck"
	"github.com/haivivi/condwave/pkg/wavenet"
)

const (
	// DefaultBaseDir is created under the home directory.
	DefaultBaseDir = ".condwave"

	// DefaultConfigFile is the config file name inside DefaultBaseDir.
	DefaultConfigFile = "config.yaml"

	// DefaultCodes is the code-book size of the default model.
	DefaultCodes = 16

	// DefaultFeatureChannels matches a piano roll over the full keyboard.
	DefaultFeatureChannels = 88
)

// Config is the condwave config file.
type Config struct {
	Model ModelConfig `yaml:"model" json:"model"`

	// Sampling is passed to the sequence model's sampler by infer.
	Sampling map[string]any `yaml:"sampling,omitempty" json:"sampling,omitempty" jsonschema:"sampler options such as temperature and seed"`

	Store StoreConfig `yaml:"store,omitempty" json:"store,omitempty"`

	path string
}

// ModelConfig describes the autoencoder.
type ModelConfig struct {
	// Wavenet holds the sequence model options.
	Wavenet wavenet.Options `yaml:"wavenet" json:"wavenet" jsonschema:"option map of the output sequence model"`

	// CondWavenet holds the conditioning encoder options.
	CondWavenet wavenet.Options `yaml:"cond_wavenet" json:"cond_wavenet" jsonschema:"option map of the conditioning encoder"`

	UseVAE bool `yaml:"use_vae" json:"use_vae" jsonschema:"apply the discrete bottleneck during training-path forwards"`

	Bottleneck bottleneck.Config `yaml:"bottleneck,omitempty" json:"bottleneck,omitempty"`

	EncoderDefaultTraining *bool `yaml:"encoder_default_training,omitempty" json:"encoder_default_training,omitempty" jsonschema:"encoder mode used for inference, default true"`
}

// StoreConfig selects where checkpoints are kept.
type StoreConfig struct {
	// Dir holds checkpoint blobs. Defaults to ~/.condwave/blobs.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`

	// Index holds the checkpoint index. Defaults to ~/.condwave/index.
	Index string `yaml:"index,omitempty" json:"index,omitempty"`

	// S3 stores blobs in a bucket instead of Dir.
	S3 *S3Config `yaml:"s3,omitempty" json:"s3,omitempty"`
}

// S3Config locates a bucket. Credentials come from AWS_ACCESS_KEY_ID,
// AWS_SECRET_ACCESS_KEY and AWS_SESSION_TOKEN.
type S3Config struct {
	Bucket       string `yaml:"bucket" json:"bucket"`
	Prefix       string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Region       string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint     string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" jsonschema:"custom endpoint for S3-compatible stores"`
	UsePathStyle bool   `yaml:"use_path_style,omitempty" json:"use_path_style,omitempty"`
}

// DefaultConfig returns a piano-roll model with DefaultCodes codes.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Wavenet: wavenet.Options{
				"n_in_channels":   1,
				"n_out_channels":  1,
				"n_cond_channels": DefaultCodes,
			},
			CondWavenet: wavenet.Options{
				"n_in_channels":   DefaultFeatureChannels,
				"n_out_channels":  DefaultCodes,
				"n_cond_channels": 1,
				"seed":            1,
			},
			UseVAE: true,
		},
	}
}

// LoadConfig reads the config at path, or ~/.condwave/config.yaml when
// path is empty. A missing file yields DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		p, err := NewPaths()
		if err != nil {
			return nil, fmt.Errorf("cli: locate home directory: %w", err)
		}
		path = p.ConfigFile()
	}

	cfg := DefaultConfig()
	cfg.path = path
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cli: read config: %w", err)
	}
	if err := ParseConfig(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig decodes data over cfg, so fields absent from data keep their
// current values. Unknown keys are rejected.
func ParseConfig(data []byte, cfg *Config) error {
	if err := yaml.UnmarshalWithOptions(data, cfg, yaml.DisallowUnknownField()); err != nil {
		return fmt.Errorf("cli: parse config: %w", err)
	}
	return nil
}

// Save writes the config back to its path.
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("cli: encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("cli: create config directory: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("cli: write config: %w", err)
	}
	return nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string { return c.path }

// Validate decodes both generator option maps and checks that the
// generators fit together: the encoder's output width is the sequence
// model's condition width, and the encoder is conditioned on a single
// placeholder channel.
func (m *ModelConfig) Validate() error {
	dec, err := m.Wavenet.Decode()
	if err != nil {
		return fmt.Errorf("cli: model.wavenet: %w", err)
	}
	enc, err := m.CondWavenet.Decode()
	if err != nil {
		return fmt.Errorf("cli: model.cond_wavenet: %w", err)
	}
	errs := []error{dec.Validate(), enc.Validate()}
	if enc.OutChannels != dec.CondChannels {
		errs = append(errs, fmt.Errorf("cond_wavenet.n_out_channels (%d) must equal wavenet.n_cond_channels (%d)", enc.OutChannels, dec.CondChannels))
	}
	if enc.CondChannels != 1 {
		errs = append(errs, fmt.Errorf("cond_wavenet.n_cond_channels must be 1, got %d", enc.CondChannels))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("cli: invalid model: %w", err)
	}
	return nil
}

// Build validates the model section and constructs the autoencoder.
func (m *ModelConfig) Build(logger *slog.Logger) (*autoencoder.Model, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return autoencoder.NewWavenet(m.Wavenet, m.CondWavenet, autoencoder.Config{
		UseVAE:                 m.UseVAE,
		Bottleneck:             m.Bottleneck,
		EncoderDefaultTraining: m.EncoderDefaultTraining,
		Logger:                 logger,
	})
}

// Options returns both option maps keyed like a model export.
func (m *ModelConfig) Options() map[string]map[string]any {
	return map[string]map[string]any{
		autoencoder.KeyWavenet:     m.Wavenet,
		autoencoder.KeyCondWavenet: m.CondWavenet,
	}
}
