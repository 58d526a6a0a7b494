package definition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// Source supplies the current definition of a tenant's pipeline.
type Source interface {
	Load(ctx context.Context, tenantID, pipelineID string) (*Definition, error)
}

var identifier = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]*$`)

// ValidIdentifier reports whether s is usable as a tenant or pipeline id.
func ValidIdentifier(s string) bool {
	return identifier.MatchString(s) && s != "." && s != ".."
}

// FileSource reads definitions from a directory tree. A tenant-specific file at
// <Dir>/<tenant>/<pipeline>.{yaml,yml,json} takes precedence over the global
// template <Dir>/<pipeline>.{yaml,yml,json}.
type FileSource struct {
	Dir string
	// Vars holds system naming values (project_id, environment) resolved into
	// every definition at load time.
	Vars map[string]any
}

var extensions = []string{".yaml", ".yml", ".json"}

// Load implements Source.
func (s *FileSource) Load(ctx context.Context, tenantID, pipelineID string) (*Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ValidIdentifier(tenantID) || !ValidIdentifier(pipelineID) {
		return nil, &ValidationError{PipelineID: pipelineID, Issues: []string{"tenant_id and pipeline_id must be simple identifiers"}}
	}

	path, err := s.Locate(tenantID, pipelineID)
	if err != nil {
		return nil, err
	}

	vars := make(map[string]any, len(s.Vars)+2)
	for k, v := range s.Vars {
		vars[k] = v
	}
	vars["tenant_id"] = tenantID
	vars["pipeline_id"] = pipelineID

	def, err := LoadFile(path, vars)
	if err != nil {
		return nil, err
	}
	if def.PipelineID != pipelineID {
		return nil, &ValidationError{
			PipelineID: pipelineID,
			Issues:     []string{fmt.Sprintf("file %s declares pipeline_id %q", path, def.PipelineID)},
		}
	}
	return def, nil
}

// Locate returns the file that Load would read.
func (s *FileSource) Locate(tenantID, pipelineID string) (string, error) {
	for _, dir := range []string{filepath.Join(s.Dir, tenantID), s.Dir} {
		for _, ext := range extensions {
			candidate := filepath.Join(dir, pipelineID+ext)
			info, err := os.Stat(candidate)
			if err == nil && !info.IsDir() {
				return candidate, nil
			}
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return "", &LoadError{Path: candidate, Message: "stat failed", Cause: err}
			}
		}
	}
	return "", fmt.Errorf("%s/%s: %w", tenantID, pipelineID, ErrNotFound)
}
