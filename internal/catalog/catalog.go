// Package catalog serves the static task template catalog.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"stakeproof/internal/domain"
)

//go:embed templates.yaml
var embedded []byte

type Catalog struct {
	templates []domain.TaskTemplate
	byID      map[string]int
}

type file struct {
	Templates []domain.TaskTemplate `yaml:"templates"`
}

// FromYAML parses and validates a catalog document.
func FromYAML(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid catalog yaml: %w", err)
	}
	c := &Catalog{templates: f.Templates, byID: make(map[string]int, len(f.Templates))}
	for i, t := range f.Templates {
		if t.ID == "" {
			return nil, fmt.Errorf("catalog entry %d has no id", i)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("catalog id %s is duplicated", t.ID)
		}
		if t.Category == "" {
			return nil, fmt.Errorf("template %s has no category", t.ID)
		}
		if !t.Difficulty.Valid() {
			return nil, fmt.Errorf("template %s has unknown difficulty %q", t.ID, t.Difficulty)
		}
		if t.MinLevel < domain.MinLevel || t.MaxLevel < t.MinLevel {
			return nil, fmt.Errorf("template %s has invalid level window [%d,%d]", t.ID, t.MinLevel, t.MaxLevel)
		}
		c.byID[t.ID] = i
	}
	return c, nil
}

// FromFile loads a catalog from disk.
func FromFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
)

// Default returns the embedded catalog.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := FromYAML(embedded)
		if err != nil {
			panic(fmt.Sprintf("embedded catalog: %v", err))
		}
		defaultCat = c
	})
	return defaultCat
}

// Templates returns the templates in catalog order.
func (c *Catalog) Templates() []domain.TaskTemplate {
	return append([]domain.TaskTemplate(nil), c.templates...)
}

func (c *Catalog) Get(id string) (domain.TaskTemplate, error) {
	i, ok := c.byID[id]
	if !ok {
		return domain.TaskTemplate{}, fmt.Errorf("template %s: %w", id, domain.ErrNotFound)
	}
	return c.templates[i], nil
}

// ByCategory returns templates in one category, in catalog order.
func (c *Catalog) ByCategory(category string) []domain.TaskTemplate {
	var out []domain.TaskTemplate
	for _, t := range c.templates {
		if t.Category == category {
			out = append(out, t)
		}
	}
	return out
}
