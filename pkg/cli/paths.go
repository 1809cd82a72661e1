package cli

import (
	"os"
	"path/filepath"
)

// Paths locates the per-user condwave directory.
type Paths struct {
	// HomeDir is the user's home directory.
	HomeDir string
}

// NewPaths resolves the current user's home directory.
func NewPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Paths{HomeDir: home}, nil
}

// BaseDir is ~/.condwave.
func (p *Paths) BaseDir() string {
	return filepath.Join(p.HomeDir, DefaultBaseDir)
}

// ConfigFile is ~/.condwave/config.yaml.
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.BaseDir(), DefaultConfigFile)
}

// IndexDir holds the checkpoint index database.
func (p *Paths) IndexDir() string {
	return filepath.Join(p.BaseDir(), "index")
}

// BlobDir holds checkpoint weights when no other store is configured.
func (p *Paths) BlobDir() string {
	return filepath.Join(p.BaseDir(), "blobs")
}
