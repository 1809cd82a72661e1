package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadRequest decodes the YAML or JSON request file at path into v. The
// path "-" reads standard input.
func LoadRequest(path string, v any) error {
	if path == "-" {
		return LoadRequestFrom(os.Stdin, v)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cli: read request: %w", err)
	}
	return ParseRequest(data, path, v)
}

// LoadRequestFrom decodes a request read from r, trying JSON first.
func LoadRequestFrom(r io.Reader, v any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("cli: read request: %w", err)
	}
	return ParseRequest(data, "", v)
}

// ParseRequest decodes data by the extension of filename. Without a known
// extension JSON and then YAML are tried.
func ParseRequest(data []byte, filename string, v any) error {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("cli: parse YAML request: %w", err)
		}
		return nil
	case ".json":
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("cli: parse JSON request: %w", err)
		}
		return nil
	}
	jerr := json.Unmarshal(data, v)
	if jerr == nil {
		return nil
	}
	if yerr := yaml.Unmarshal(data, v); yerr != nil {
		return fmt.Errorf("cli: request is neither JSON (%v) nor YAML (%v)", jerr, yerr)
	}
	return nil
}
