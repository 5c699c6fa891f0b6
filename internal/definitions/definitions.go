// Package definitions loads flow, workflow, and agent definitions from YAML
// or JSON files
package definitions

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/kode4food/agentflow/pkg/api"
)

var (
	ErrUnsupportedFile = errors.New("unsupported definition file")
	ErrNoDefinitions   = errors.New("no definitions found")
)

var extensions = []string{".yaml", ".yml", ".json"}

// Load reads definitions from a file, or from every definition file in a
// directory in name order
func Load(path string) (*api.Definitions, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return LoadFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	res := &api.Definitions{}
	var found bool
	for _, e := range entries {
		if e.IsDir() || !isDefinitionFile(e.Name()) {
			continue
		}
		defs, err := LoadFile(filepath.Join(path, e.Name()))
		if err != nil {
			return nil, err
		}
		Merge(res, defs)
		found = true
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNoDefinitions, path)
	}
	return res, nil
}

// LoadFile reads definitions from a single file
func LoadFile(path string) (*api.Definitions, error) {
	if !isDefinitionFile(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// Parse decodes definitions from YAML or JSON
func Parse(data []byte) (*api.Definitions, error) {
	var defs api.Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, err
	}
	return &defs, nil
}

// Merge appends the definitions of src to dst
func Merge(dst, src *api.Definitions) {
	dst.Flows = append(dst.Flows, src.Flows...)
	dst.Workflows = append(dst.Workflows, src.Workflows...)
	dst.Agents = append(dst.Agents, src.Agents...)
}

func isDefinitionFile(name string) bool {
	return slices.Contains(extensions, strings.ToLower(filepath.Ext(name)))
}
