// Package loader reads journey definition files authored as YAML or JSON.
package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sendas-app/recorridos/internal/model"
)

// Load reads and decodes the definition file at path. The format follows the
// extension: .yaml and .yml are YAML, anything else JSON.
func Load(path string) (model.JourneyDefinition, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return model.JourneyDefinition{}, fmt.Errorf("loader: read %s: %w", path, err)
	}
	def, err := Parse(data, path)
	if err != nil {
		return model.JourneyDefinition{}, fmt.Errorf("loader: %s: %w", path, err)
	}
	return def, nil
}

// Parse decodes a definition. YAML is converted to JSON first so both formats
// share the JSON field names and the capture shorthand forms. Unknown fields
// are rejected so typos surface at authoring time.
func Parse(data []byte, path string) (model.JourneyDefinition, error) {
	if isYAML(path) {
		converted, err := yamlToJSON(data)
		if err != nil {
			return model.JourneyDefinition{}, err
		}
		data = converted
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var def model.JourneyDefinition
	if err := dec.Decode(&def); err != nil {
		return model.JourneyDefinition{}, fmt.Errorf("parsing definition: %w", err)
	}
	if def.Steps == nil {
		return model.JourneyDefinition{}, fmt.Errorf("parsing definition: no steps")
	}
	return def, nil
}

// isYAML returns true if the file path has a YAML extension.
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// yamlToJSON converts raw bytes from YAML format to JSON bytes.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	out, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("converting YAML to JSON: %w", err)
	}
	return out, nil
}
