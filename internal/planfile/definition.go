package planfile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"ingest/internal/services"
)

// Definition is the top-level structure of a plan file.
type Definition struct {
	Name        string     `toml:"name" yaml:"name"`
	Description string     `toml:"description,omitempty" yaml:"description,omitempty"`
	Stages      []StageDef `toml:"stage" yaml:"stages"`
}

// StageDef declares one stage and its successors.
type StageDef struct {
	Name        string       `toml:"name" yaml:"name"`
	BatchSize   int          `toml:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	Processor   ProcessorDef `toml:"processor" yaml:"processor"`
	Router      RouterDef    `toml:"router,omitempty" yaml:"router,omitempty"`
	Cloner      string       `toml:"cloner,omitempty" yaml:"cloner,omitempty"`
	Next        []string     `toml:"next,omitempty" yaml:"next,omitempty"`
	OutputSpace string       `toml:"output_space,omitempty" yaml:"output_space,omitempty"`
}

// ProcessorDef selects a processor kind. Only the options the kind reads
// need to be set.
type ProcessorDef struct {
	Kind   string   `toml:"kind" yaml:"kind"`
	Field  string   `toml:"field,omitempty" yaml:"field,omitempty"`
	Values []string `toml:"values,omitempty" yaml:"values,omitempty"`
	Append bool     `toml:"append,omitempty" yaml:"append,omitempty"`
	From   string   `toml:"from,omitempty" yaml:"from,omitempty"`
	To     string   `toml:"to,omitempty" yaml:"to,omitempty"`
	Move   bool     `toml:"move,omitempty" yaml:"move,omitempty"`
	Length int      `toml:"length,omitempty" yaml:"length,omitempty"`
	Suffix string   `toml:"suffix,omitempty" yaml:"suffix,omitempty"`
	Status string   `toml:"status,omitempty" yaml:"status,omitempty"`
	Reason string   `toml:"reason,omitempty" yaml:"reason,omitempty"`
	Bucket string   `toml:"bucket,omitempty" yaml:"bucket,omitempty"`
	Prefix string   `toml:"prefix,omitempty" yaml:"prefix,omitempty"`
	Topic  string   `toml:"topic,omitempty" yaml:"topic,omitempty"`
	Dir    string   `toml:"dir,omitempty" yaml:"dir,omitempty"`

	// Notification settings for the notify kind.
	Title    string `toml:"title,omitempty" yaml:"title,omitempty"`
	Priority string `toml:"priority,omitempty" yaml:"priority,omitempty"`
}

// RouterDef selects a router kind.
type RouterDef struct {
	Kind  string `toml:"kind,omitempty" yaml:"kind,omitempty"`
	Field string `toml:"field,omitempty" yaml:"field,omitempty"`
}

// Format is a plan file encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatForPath picks the encoding from a file extension. Unknown
// extensions are read as TOML.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Load reads and validates the plan file at path. A plan without a name is
// named after the file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, services.Wrap(services.ErrConfiguration, "plan", "load", "plan file not found: "+path, err)
		}
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	def, err := Parse(data, FormatForPath(path))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(def.Name) == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// Parse decodes a plan definition. Unknown keys are rejected so typos in
// option names fail loudly.
func Parse(data []byte, format Format) (*Definition, error) {
	var def Definition
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "plan", "parse yaml", "", err)
		}
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&def); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "plan", "parse toml", "", err)
		}
	default:
		return nil, services.Wrap(services.ErrConfiguration, "plan", "parse", fmt.Sprintf("unknown format %q", format), nil)
	}
	return &def, nil
}

// Validate checks the definition on its own. Graph checks (unknown
// successors, cycles) are left to pipeline.PlanBuilder.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return services.Wrap(services.ErrConfiguration, "plan", "validate", "plan name is required", nil)
	}
	if len(d.Stages) == 0 {
		return services.Wrap(services.ErrConfiguration, d.Name, "validate", "at least one stage is required", nil)
	}
	for i, st := range d.Stages {
		if strings.TrimSpace(st.Name) == "" {
			return services.Wrap(services.ErrConfiguration, d.Name, "validate", fmt.Sprintf("stage %d has no name", i+1), nil)
		}
		if st.BatchSize < 0 {
			return services.Wrap(services.ErrConfiguration, st.Name, "validate", "batch_size must not be negative", nil)
		}
	}
	return nil
}
