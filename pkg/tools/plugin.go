package tools

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/odvcencio/warden/pkg/permission"
)

// Family distinguishes a tool's read/write character. It is the input to
// the tool runner's quarantine resolution: a quarantined decision is only
// ever honored for FamilyRead tools. FamilyWrite tools treat quarantine as
// a hard denial.
type Family string

const (
	FamilyRead  Family = "read"
	FamilyWrite Family = "write"
)

// Requirement is one permission a plugin declares it needs before it may
// run. PathScoped requirements are checked against the call's path
// argument; non-path-scoped ones (there are none among the builtins, but
// the shape generalizes) are checked without a path.
type Requirement struct {
	Permission permission.Type
	PathScoped bool
}

// Plugin is a registered, executable tool. Execute runs inside the worker
// subprocess: it has no database handle, no grants, and no knowledge of
// the policy guard that decided whether it was allowed to run at all.
type Plugin struct {
	Definition
	Family       Family
	Requirements []Requirement
	Execute      func(args map[string]any) (any, error)
}

// PluginRegistry tracks executable plugins by name.
type PluginRegistry struct {
	plugins map[string]Plugin
}

// NewPluginRegistry builds a registry seeded with the builtin plugins.
func NewPluginRegistry() *PluginRegistry {
	r := &PluginRegistry{plugins: make(map[string]Plugin)}
	for _, p := range builtinPlugins() {
		r.plugins[p.Name] = p
	}
	return r
}

// Get looks up a plugin by name.
func (r *PluginRegistry) Get(name string) (Plugin, bool) {
	p, ok := r.plugins[name]
	return p, ok
}

// Names lists every registered plugin name.
func (r *PluginRegistry) Names() []string {
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	return names
}

const maxBatchReadBytes = 10 * 1024 * 1024

func builtinPlugins() []Plugin {
	return []Plugin{
		{
			Definition: Definition{
				Name:        "file_read",
				Description: "Read the contents of a single file.",
				Parameters:  ObjectSchema(map[string]Property{"path": StringProperty("absolute path to read")}, "path"),
			},
			Family:       FamilyRead,
			Requirements: []Requirement{{Permission: permission.FilesystemRead, PathScoped: true}},
			Execute:      executeFileRead,
		},
		{
			Definition: Definition{
				Name:        "file_list",
				Description: "List the entries of a directory.",
				Parameters:  ObjectSchema(map[string]Property{"path": StringProperty("absolute directory path to list")}, "path"),
			},
			Family:       FamilyRead,
			Requirements: []Requirement{{Permission: permission.FilesystemRead, PathScoped: true}},
			Execute:      executeFileList,
		},
		{
			Definition: Definition{
				Name:        "file_read_batch",
				Description: "Read the contents of several files.",
				Parameters: ObjectSchema(map[string]Property{
					"paths": ArrayProperty("absolute paths to read", StringProperty("path")),
				}, "paths"),
			},
			Family:       FamilyRead,
			Requirements: []Requirement{{Permission: permission.FilesystemRead, PathScoped: true}},
			Execute:      executeFileReadBatch,
		},
		{
			Definition: Definition{
				Name:        "file_write",
				Description: "Write content to a file, optionally as a preview only.",
				Parameters: ObjectSchema(map[string]Property{
					"path":         StringProperty("absolute path to write"),
					"content":      StringProperty("content to write"),
					"preview_only": BoolProperty("when true, returns a diff preview without touching disk"),
				}, "path", "content"),
			},
			Family:       FamilyWrite,
			Requirements: []Requirement{{Permission: permission.FilesystemWrite, PathScoped: true}},
			Execute:      executeFileWrite,
		},
	}
}

func argString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

func executeFileRead(args map[string]any) (any, error) {
	path, err := argString(args, "path")
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return map[string]any{
		"path":    path,
		"content": string(data),
		"bytes":   len(data),
	}, nil
}

func executeFileList(args map[string]any) (any, error) {
	path, err := argString(args, "path")
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	names := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		info, statErr := e.Info()
		size := int64(0)
		if statErr == nil {
			size = info.Size()
		}
		names = append(names, map[string]any{
			"name":  e.Name(),
			"dir":   e.IsDir(),
			"bytes": size,
		})
	}
	return map[string]any{"path": path, "entries": names}, nil
}

func executeFileReadBatch(args map[string]any) (any, error) {
	raw, ok := args["paths"]
	if !ok {
		return nil, fmt.Errorf("missing required argument %q", "paths")
	}
	rawList, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("argument %q must be an array", "paths")
	}

	results := make([]map[string]any, 0, len(rawList))
	var totalBytes int64
	for _, item := range rawList {
		path, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("paths entries must be strings")
		}
		data, err := os.ReadFile(path)
		if err != nil {
			results = append(results, map[string]any{"path": path, "error": err.Error()})
			continue
		}
		totalBytes += int64(len(data))
		if totalBytes > maxBatchReadBytes {
			return nil, fmt.Errorf("batch read exceeds %d byte ceiling", maxBatchReadBytes)
		}
		results = append(results, map[string]any{"path": path, "content": string(data), "bytes": len(data)})
	}
	return map[string]any{"files": results, "total_bytes": totalBytes}, nil
}

func executeFileWrite(args map[string]any) (any, error) {
	path, err := argString(args, "path")
	if err != nil {
		return nil, err
	}
	content, err := argString(args, "content")
	if err != nil {
		return nil, err
	}
	previewOnly, _ := args["preview_only"].(bool)

	if previewOnly {
		existing, _ := os.ReadFile(path)
		return map[string]any{
			"path":       path,
			"preview":    true,
			"before":     string(existing),
			"after":      content,
			"bytes_diff": len(content) - len(existing),
		}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return map[string]any{"path": path, "bytes_written": len(content)}, nil
}
