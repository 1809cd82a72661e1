package cli

import (
	"path/filepath"
	"testing"
)

func TestNewPaths(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	paths, err := NewPaths()
	if err != nil {
		t.Fatalf("NewPaths error: %v", err)
	}
	if paths.HomeDir == "" {
		t.Error("HomeDir should not be empty")
	}
}

func TestPaths_Layout(t *testing.T) {
	tmpDir := t.TempDir()
	paths := &Paths{HomeDir: tmpDir}
	base := filepath.Join(tmpDir, DefaultBaseDir)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"BaseDir", paths.BaseDir(), base},
		{"ConfigFile", paths.ConfigFile(), filepath.Join(base, DefaultConfigFile)},
		{"IndexDir", paths.IndexDir(), filepath.Join(base, "index")},
		{"BlobDir", paths.BlobDir(), filepath.Join(base, "blobs")},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s() = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}
