package definition

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jonathan/pipeline-orchestrator/internal/schemas"
	"github.com/jonathan/pipeline-orchestrator/internal/template"
)

// Format is the encoding of a definition document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath infers the document format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported definition extension %q", filepath.Ext(path))
	}
}

var validate = validator.New()

// Parse decodes a YAML or JSON document into generic maps and slices.
func Parse(data []byte, format Format) (map[string]any, error) {
	var doc map[string]any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	if doc == nil {
		return nil, errors.New("document is empty")
	}
	return doc, nil
}

// Decode turns a parsed document into a validated Definition.
//
// The document is checked against the pipeline schema, then placeholders naming
// the given vars (tenant_id, pipeline_id, project_id, environment) are resolved.
// Every other placeholder is left for dispatch-time resolution against the
// execution context. Finally the struct and the dependency graph are validated.
func Decode(doc map[string]any, vars map[string]any) (*Definition, error) {
	pipelineID, _ := doc["pipeline_id"].(string)

	if err := schemas.ValidatePipeline(doc); err != nil {
		var schemaErr *schemas.ValidationError
		if errors.As(err, &schemaErr) {
			return nil, &ValidationError{PipelineID: pipelineID, Issues: schemaErr.Messages()}
		}
		return nil, err
	}

	resolved, ok := template.Resolve(doc, vars).(map[string]any)
	if !ok {
		return nil, &ValidationError{PipelineID: pipelineID, Issues: []string{"document is not a mapping"}}
	}

	raw, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize definition: %w", err)
	}
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, &ValidationError{PipelineID: pipelineID, Issues: []string{err.Error()}}
	}

	if err := Validate(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate runs the struct and graph checks on an already decoded Definition.
func Validate(def *Definition) error {
	var issues []string
	if err := validate.Struct(def); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				issues = append(issues, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
		} else {
			issues = append(issues, err.Error())
		}
	}
	if len(issues) == 0 {
		issues = validateGraph(def)
	}
	if len(issues) > 0 {
		return &ValidationError{PipelineID: def.PipelineID, Issues: issues}
	}
	return nil
}

// LoadFile reads, parses and decodes a single definition file.
func LoadFile(path string, vars map[string]any) (*Definition, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, &LoadError{Path: path, Message: "unknown format", Cause: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, &LoadError{Path: path, Message: "read failed", Cause: err}
	}
	doc, err := Parse(data, format)
	if err != nil {
		return nil, &LoadError{Path: path, Message: "parse failed", Cause: err}
	}
	return Decode(doc, vars)
}
