package encoder

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// DefaultFeatures is the slot order the stress model was trained with.
var DefaultFeatures = []string{
	"Soil_Moisture",
	"Ambient_Temperature",
	"Soil_Temperature",
	"Humidity",
	"Light_Intensity",
	"Soil_pH",
	"Nitrogen_Level",
	"Phosphorus_Level",
	"Potassium_Level",
	"Chlorophyll_Content",
	"Electrochemical_Signal",
}

// DefaultLabels maps class indices 0..2 to category names.
var DefaultLabels = []string{"Low Stress", "Medium Stress", "High Stress"}

// Schema describes the model contract: ordered feature slots, tensor names
// and the label vocabulary.
type Schema struct {
	Features   []string `yaml:"features"`
	Labels     []string `yaml:"labels"`
	InputName  string   `yaml:"input_name"`
	OutputName string   `yaml:"output_name"`
}

// DefaultSchema returns the built-in schema for stress_model.onnx.
func DefaultSchema() Schema {
	return Schema{
		Features:   append([]string(nil), DefaultFeatures...),
		Labels:     append([]string(nil), DefaultLabels...),
		InputName:  "float_input",
		OutputName: "probabilities",
	}
}

// LoadSchema reads a YAML schema file. Fields left empty fall back to the
// defaults.
func LoadSchema(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("schema: read %s: %w", path, err)
	}
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Schema{}, fmt.Errorf("schema: parse %s: %w", path, err)
	}
	def := DefaultSchema()
	if len(s.Features) == 0 {
		s.Features = def.Features
	}
	if len(s.Labels) == 0 {
		s.Labels = def.Labels
	}
	if s.InputName == "" {
		s.InputName = def.InputName
	}
	if s.OutputName == "" {
		s.OutputName = def.OutputName
	}
	if err := s.Validate(); err != nil {
		return Schema{}, fmt.Errorf("schema: %s: %w", path, err)
	}
	return s, nil
}

// Validate checks that slot names are non-empty and unique after key
// normalization, and that at least two labels exist.
func (s Schema) Validate() error {
	if len(s.Features) == 0 {
		return fmt.Errorf("no features defined")
	}
	seen := make(map[string]string, len(s.Features))
	for _, f := range s.Features {
		k := normalizeKey(f)
		if k == "" {
			return fmt.Errorf("empty feature name")
		}
		if prev, ok := seen[k]; ok {
			return fmt.Errorf("features %q and %q collide", prev, f)
		}
		seen[k] = f
	}
	if len(s.Labels) < 2 {
		return fmt.Errorf("need at least 2 labels, got %d", len(s.Labels))
	}
	return nil
}

var fold = cases.Fold()

// normalizeKey case-folds a feature name and treats spaces and hyphens as
// underscores, so "soil moisture" and "Soil_Moisture" match.
func normalizeKey(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return fold.String(s)
}
