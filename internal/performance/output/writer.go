package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/forgy/internal/performance/engine"
)

// Format is a result file format.
type Format string

const (
	// FormatJSON writes indented JSON.
	FormatJSON Format = "json"

	// FormatYAML writes YAML.
	FormatYAML Format = "yaml"
)

// FormatForPath picks the format from the file extension: .yaml and .yml
// select YAML, anything else JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Encode writes result to w in the given format.
func Encode(w io.Writer, format Format, result *engine.Result) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON, "":
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		data = append(data, '\n')
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// WriteFile writes result to path, replacing any existing file.
func WriteFile(path string, result *engine.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create result file: %w", err)
	}

	if err := Encode(f, FormatForPath(path), result); err != nil {
		f.Close()
		return fmt.Errorf("write result file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close result file %s: %w", path, err)
	}
	return nil
}
