// Package stages provides the catalog of named, ordered content pipeline stages
// and their mapping from external engine node names.
package stages

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Definition describes one pipeline stage.
type Definition struct {
	Name  string `yaml:"name" json:"name"`
	Node  string `yaml:"node" json:"node"`
	Order int    `yaml:"-" json:"order"`
}

// Catalog is an ordered, validated set of stage definitions.
type Catalog struct {
	stages []Definition
	byName map[string]int
	byNode map[string]int
}

type catalogFile struct {
	Stages []Definition `yaml:"stages"`
}

// Default returns the embedded catalog. It panics if the embedded file is invalid,
// which is caught by the package tests.
func Default() *Catalog {
	c, err := Parse(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded stage catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog from a YAML file. An empty path returns the default catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stage catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog. Orders are assigned from list position.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse stage catalog: %w", err)
	}
	if len(f.Stages) == 0 {
		return nil, fmt.Errorf("stage catalog is empty")
	}

	c := &Catalog{
		stages: make([]Definition, 0, len(f.Stages)),
		byName: make(map[string]int, len(f.Stages)),
		byNode: make(map[string]int, len(f.Stages)),
	}
	for i, def := range f.Stages {
		if def.Name == "" {
			return nil, fmt.Errorf("stage %d has no name", i)
		}
		if _, dup := c.byName[def.Name]; dup {
			return nil, fmt.Errorf("duplicate stage name %q", def.Name)
		}
		def.Order = i
		c.byName[def.Name] = i
		if def.Node != "" {
			if _, dup := c.byNode[def.Node]; dup {
				return nil, fmt.Errorf("duplicate node name %q", def.Node)
			}
			c.byNode[def.Node] = i
		}
		c.stages = append(c.stages, def)
	}
	return c, nil
}

// Total returns the number of stages.
func (c *Catalog) Total() int {
	return len(c.stages)
}

// All returns the stages in order.
func (c *Catalog) All() []Definition {
	out := make([]Definition, len(c.stages))
	copy(out, c.stages)
	return out
}

// ByName looks up a stage by its display name.
func (c *Catalog) ByName(name string) (Definition, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Definition{}, false
	}
	return c.stages[i], true
}

// ByNode looks up the stage produced by an external engine node.
func (c *Catalog) ByNode(node string) (Definition, bool) {
	i, ok := c.byNode[node]
	if !ok {
		return Definition{}, false
	}
	return c.stages[i], true
}

// At returns the stage with the given order.
func (c *Catalog) At(order int) (Definition, bool) {
	if order < 0 || order >= len(c.stages) {
		return Definition{}, false
	}
	return c.stages[order], true
}
