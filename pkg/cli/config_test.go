package cli

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haivivi/condwave/pkg/autoencoder"
)

func TestDefaultConfigBuilds(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Model.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	m, err := cfg.Model.Build(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if !m.UseVAE() {
		t.Error("default model should use the bottleneck")
	}
	opts := cfg.Model.Options()
	if len(opts[autoencoder.KeyWavenet]) == 0 || len(opts[autoencoder.KeyCondWavenet]) == 0 {
		t.Errorf("Options = %v", opts)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yaml")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Path() != path {
		t.Errorf("Path = %q", cfg.Path())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("loading a missing config created a file")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
model:
  use_vae: false
  bottleneck:
    temperature: 0.5
    seed: 7
  wavenet:
    n_cond_channels: 4
    n_layers: 2
  cond_wavenet:
    n_in_channels: 12
    n_out_channels: 4
sampling:
  temperature: 0
store:
  dir: /tmp/blobs
  s3:
    bucket: models
    prefix: condwave
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model.UseVAE {
		t.Error("use_vae not read")
	}
	if cfg.Model.Bottleneck.Temperature != 0.5 || cfg.Model.Bottleneck.Seed != 7 {
		t.Errorf("bottleneck = %+v", cfg.Model.Bottleneck)
	}
	if cfg.Store.Dir != "/tmp/blobs" || cfg.Store.S3 == nil || cfg.Store.S3.Bucket != "models" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if _, ok := cfg.Sampling["temperature"]; !ok {
		t.Errorf("sampling = %v", cfg.Sampling)
	}
	if err := cfg.Model.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParseConfigRejectsUnknownKeys(t *testing.T) {
	err := ParseConfig([]byte("model:\n  use_vea: true\n"), DefaultConfig())
	if err == nil {
		t.Fatal("typo accepted")
	}
}

func TestModelValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ModelConfig)
		want   string
	}{
		{"width mismatch", func(m *ModelConfig) { m.Wavenet["n_cond_channels"] = 3 }, "must equal"},
		{"encoder condition", func(m *ModelConfig) { m.CondWavenet["n_cond_channels"] = 2 }, "must be 1"},
		{"bad size", func(m *ModelConfig) { m.Wavenet["n_layers"] = 0 }, "n_layers"},
		{"unknown option", func(m *ModelConfig) { m.CondWavenet["dropout"] = 0.1 }, "cond_wavenet"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg.Model)
			err := cfg.Model.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
			if _, err := cfg.Model.Build(nil); err == nil {
				t.Error("Build accepted an invalid model")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Store.Index = "/srv/index"
	if err := cfg.Save(); err != nil {
		t.Fatal(err)
	}
	again, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if again.Store.Index != "/srv/index" {
		t.Errorf("index = %q", again.Store.Index)
	}
	if err := again.Model.Validate(); err != nil {
		t.Errorf("saved model invalid: %v", err)
	}
}

func TestPaths(t *testing.T) {
	p := &Paths{HomeDir: "/home/u"}
	tests := map[string]string{
		p.BaseDir():    "/home/u/.condwave",
		p.ConfigFile(): "/home/u/.condwave/config.yaml",
		p.IndexDir():   "/home/u/.condwave/index",
		p.BlobDir():    "/home/u/.condwave/blobs",
	}
	for got, want := range tests {
		if got != filepath.FromSlash(want) {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}
