// Package manifest reads workload manifests: one document describing the
// pool, the job, per-task settings, the workload and an optional callback.
// Manifests are written in YAML, JSON or HCL.
package manifest

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// Format is a manifest encoding.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatHCL  Format = "hcl"
)

// Manifest is the decoded form of a manifest document.
type Manifest struct {
	Pool     *PoolDTO     `yaml:"pool,omitempty" json:"pool,omitempty" hcl:"pool,block"`
	Job      *JobDTO      `yaml:"job,omitempty" json:"job,omitempty" hcl:"job,block"`
	Task     *TaskDTO     `yaml:"task,omitempty" json:"task,omitempty" hcl:"task,block"`
	Workload WorkloadDTO  `yaml:"workload" json:"workload" hcl:"workload,block"`
	Callback *CallbackDTO `yaml:"callback,omitempty" json:"callback,omitempty" hcl:"callback,block"`

	// baseDir resolves relative local file paths. Empty keeps them as given.
	baseDir string
}

// PoolDTO describes the pool the job runs on.
type PoolDTO struct {
	Name     string            `yaml:"name" json:"name" hcl:"name,optional"`
	Image    string            `yaml:"image,omitempty" json:"image,omitempty" hcl:"image,optional"`
	Nodes    int               `yaml:"nodes,omitempty" json:"nodes,omitempty" hcl:"nodes,optional"`
	CPU      float64           `yaml:"cpu,omitempty" json:"cpu,omitempty" hcl:"cpu,optional"`
	MemoryMB int               `yaml:"memoryMB,omitempty" json:"memoryMB,omitempty" hcl:"memory_mb,optional"`
	Labels   map[string]string `yaml:"labels,omitempty" json:"labels,omitempty" hcl:"labels,optional"`
}

// JobDTO describes the job. Durations use time.ParseDuration syntax.
type JobDTO struct {
	Name           string            `yaml:"name" json:"name" hcl:"name,optional"`
	Priority       *int              `yaml:"priority,omitempty" json:"priority,omitempty" hcl:"priority,optional"`
	MaxWallClock   string            `yaml:"maxWallClock,omitempty" json:"maxWallClock,omitempty" hcl:"max_wall_clock,optional"`
	MaxTaskRetries int               `yaml:"maxTaskRetries,omitempty" json:"maxTaskRetries,omitempty" hcl:"max_task_retries,optional"`
	Metadata       map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty" hcl:"metadata,optional"`
}

// TaskDTO holds settings applied to every task.
type TaskDTO struct {
	MaxRetries   int               `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty" hcl:"max_retries,optional"`
	MaxWallClock string            `yaml:"maxWallClock,omitempty" json:"maxWallClock,omitempty" hcl:"max_wall_clock,optional"`
	Retention    string            `yaml:"retention,omitempty" json:"retention,omitempty" hcl:"retention,optional"`
	Environment  map[string]string `yaml:"environment,omitempty" json:"environment,omitempty" hcl:"environment,optional"`
}

// WorkloadDTO is the workload itself. Arguments are a list so their
// declaration order survives decoding.
type WorkloadDTO struct {
	Units       []UnitDTO       `yaml:"units" json:"units" hcl:"unit,block"`
	SharedFiles []string        `yaml:"sharedFiles,omitempty" json:"sharedFiles,omitempty" hcl:"shared_files,optional"`
	Attach      []AttachmentDTO `yaml:"attach,omitempty" json:"attach,omitempty" hcl:"attach,block"`
	Arguments   []ArgumentDTO   `yaml:"arguments,omitempty" json:"arguments,omitempty" hcl:"argument,block"`
}

// UnitDTO is one unit template. Steps run in order, Always runs afterwards
// regardless of how the steps went.
type UnitDTO struct {
	Steps  []StepDTO    `yaml:"steps" json:"steps" hcl:"step,block"`
	Always []CommandDTO `yaml:"always,omitempty" json:"always,omitempty" hcl:"always,block"`
	Files  []string     `yaml:"files,omitempty" json:"files,omitempty" hcl:"files,optional"`
	Strict bool         `yaml:"strict,omitempty" json:"strict,omitempty" hcl:"strict,optional"`
}

// CommandDTO is a command: literal text in Run, or a Template with %name%
// placeholders and the Params it uses. In YAML and JSON a bare string is
// shorthand for Run.
type CommandDTO struct {
	Run      string   `yaml:"run,omitempty" json:"run,omitempty" hcl:"run,optional"`
	Template string   `yaml:"template,omitempty" json:"template,omitempty" hcl:"template,optional"`
	Params   []string `yaml:"params,omitempty" json:"params,omitempty" hcl:"params,optional"`
}

// StepDTO is a guarded command with an optional fallback.
type StepDTO struct {
	Run      string      `yaml:"run,omitempty" json:"run,omitempty" hcl:"run,optional"`
	Template string      `yaml:"template,omitempty" json:"template,omitempty" hcl:"template,optional"`
	Params   []string    `yaml:"params,omitempty" json:"params,omitempty" hcl:"params,optional"`
	Fallback *CommandDTO `yaml:"fallback,omitempty" json:"fallback,omitempty" hcl:"fallback,block"`
}

// ArgumentDTO declares one parameter and its candidate values.
type ArgumentDTO struct {
	Name   string   `yaml:"name" json:"name" hcl:"name,label"`
	Values []string `yaml:"values" json:"values" hcl:"values"`
}

// AttachmentDTO is a file already in storage.
type AttachmentDTO struct {
	Source string `yaml:"source" json:"source" hcl:"source"`
	Path   string `yaml:"path,omitempty" json:"path,omitempty" hcl:"path,optional"`
}

// CallbackDTO is where submission events are delivered. An empty Events
// list receives every event type.
type CallbackDTO struct {
	URL        string   `yaml:"url" json:"url" hcl:"url"`
	Events     []string `yaml:"events,omitempty" json:"events,omitempty" hcl:"events,optional"`
	SigningKey string   `yaml:"signingKey,omitempty" json:"signingKey,omitempty" hcl:"signing_key,optional"`
}

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".hcl":
		return FormatHCL, nil
	default:
		return "", zerr.With(zerr.New("unsupported manifest extension"), "extension", ext)
	}
}

// LoadFile reads the manifest at path. Relative local file paths in it are
// resolved against the manifest's directory.
func LoadFile(path string) (*Manifest, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, zerr.With(err, "path", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to read manifest"), "path", path)
	}

	m, err := Decode(data, format, path)
	if err != nil {
		return nil, zerr.With(err, "path", path)
	}

	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, zerr.Wrap(err, "failed to resolve manifest directory")
	}
	m.baseDir = abs
	return m, nil
}

// Decode parses data in format. filename only labels HCL diagnostics.
// Unknown fields are rejected.
func Decode(data []byte, format Format, filename string) (*Manifest, error) {
	var m Manifest
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil {
			return nil, zerr.With(zerr.Wrap(err, "failed to parse manifest"), "format", string(format))
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			return nil, zerr.With(zerr.Wrap(err, "failed to parse manifest"), "format", string(format))
		}
	case FormatHCL:
		file, diags := hclparse.NewParser().ParseHCL(data, filename)
		if diags.HasErrors() {
			return nil, zerr.With(zerr.Wrap(diags, "failed to parse manifest"), "format", string(format))
		}
		if diags := gohcl.DecodeBody(file.Body, nil, &m); diags.HasErrors() {
			return nil, zerr.With(zerr.Wrap(diags, "failed to decode manifest"), "format", string(format))
		}
	default:
		return nil, zerr.With(zerr.New("unsupported manifest format"), "format", string(format))
	}
	return &m, nil
}

// UnmarshalYAML accepts a bare string as shorthand for {run: <string>}.
func (c *CommandDTO) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*c = CommandDTO{Run: node.Value}
		return nil
	}
	type plain CommandDTO
	return node.Decode((*plain)(c))
}

// UnmarshalJSON accepts a bare string as shorthand for {"run": <string>}.
func (c *CommandDTO) UnmarshalJSON(data []byte) error {
	var run string
	if err := json.Unmarshal(data, &run); err == nil {
		*c = CommandDTO{Run: run}
		return nil
	}
	type plain CommandDTO
	return strictJSON(data, (*plain)(c))
}

// UnmarshalYAML accepts a bare string as shorthand for {run: <string>}.
func (s *StepDTO) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*s = StepDTO{Run: node.Value}
		return nil
	}
	type plain StepDTO
	return node.Decode((*plain)(s))
}

// UnmarshalJSON accepts a bare string as shorthand for {"run": <string>}.
func (s *StepDTO) UnmarshalJSON(data []byte) error {
	var run string
	if err := json.Unmarshal(data, &run); err == nil {
		*s = StepDTO{Run: run}
		return nil
	}
	type plain StepDTO
	return strictJSON(data, (*plain)(s))
}

// strictJSON decodes data into v rejecting unknown fields. Custom
// unmarshalers do not inherit DisallowUnknownFields from the outer decoder.
func strictJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
