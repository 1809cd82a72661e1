package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/itchyny/gojq"
)

// OutputFormat selects how Output renders a result.
type OutputFormat string

const (
	FormatYAML OutputFormat = "yaml"
	FormatJSON OutputFormat = "json"

	// FormatRaw writes strings and byte slices verbatim and falls back to
	// YAML for anything else.
	FormatRaw OutputFormat = "raw"
)

// OutputOptions configures Output.
type OutputOptions struct {
	Format OutputFormat

	// File is written instead of standard output when set.
	File string

	// Writer overrides File.
	Writer io.Writer

	// Query is a jq expression applied to the JSON form of the result
	// before rendering. A query yielding several values renders them as
	// a list.
	Query string
}

// Output renders result.
func Output(result any, opts OutputOptions) error {
	if opts.Query != "" {
		v, err := applyQuery(result, opts.Query)
		if err != nil {
			return err
		}
		result = v
	}

	w := opts.Writer
	if w == nil && opts.File != "" {
		f, err := os.Create(opts.File)
		if err != nil {
			return fmt.Errorf("cli: create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	if w == nil {
		w = os.Stdout
	}

	switch opts.Format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatYAML, "":
		return writeYAML(w, result)
	case FormatRaw:
		switch v := result.(type) {
		case []byte:
			_, err := w.Write(v)
			return err
		case string:
			_, err := io.WriteString(w, v)
			return err
		}
		return writeYAML(w, result)
	}
	return fmt.Errorf("cli: unsupported output format %q", opts.Format)
}

func writeYAML(w io.Writer, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("cli: encode output: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// applyQuery runs expr over result. gojq only understands the plain
// values encoding/json produces, so result takes a JSON round trip first.
func applyQuery(result any, expr string) (any, error) {
	q, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cli: invalid query %q: %w", expr, err)
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("cli: encode result for query: %w", err)
	}
	var in any
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("cli: decode result for query: %w", err)
	}

	var out []any
	iter := q.Run(in)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return nil, fmt.Errorf("cli: query %q: %w", expr, err)
		}
		out = append(out, v)
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return out, nil
}

// PrintSuccess prints a confirmation line to standard error.
func PrintSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "✓ "+format+"\n", args...)
}

// PrintInfo prints an informational line to standard error.
func PrintInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ℹ "+format+"\n", args...)
}

// PrintError prints an error line to standard error.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
