package website

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"sort"

	extErrors "github.com/pkg/errors"
)

// Template is a starting point offered when creating a website
type Template struct {
	ID          string `json:"id"`          // Stable identifier referenced by Website.TemplateID
	Name        string `json:"name"`        // Shown to the user
	Description string `json:"description"` // Shown to the user
	Content     string `json:"content"`     // Seeds Website.Content on creation
}

// Catalog is the read-only set of templates loaded at startup
type Catalog struct {
	templates map[string]Template
	ordered   []Template
}

// LoadCatalog will read the templates JSON file and build a Catalog from it
func LoadCatalog(filename string) (*Catalog, error) {
	jsonBytes, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot open templates JSON file")
	}
	templates := make([]Template, 0, 1)
	if err := json.Unmarshal(jsonBytes, &templates); err != nil {
		return nil, extErrors.Wrap(err, "Invalid templates JSON file")
	}
	return NewCatalog(templates)
}

// NewCatalog builds a Catalog, rejecting empty or duplicated IDs
func NewCatalog(templates []Template) (*Catalog, error) {
	c := &Catalog{
		templates: make(map[string]Template, len(templates)),
		ordered:   make([]Template, 0, len(templates)),
	}
	for _, t := range templates {
		if t.ID == "" {
			return nil, fmt.Errorf("Template \"%s\" has no id", t.Name)
		}
		if _, ok := c.templates[t.ID]; ok {
			return nil, fmt.Errorf("Template id \"%s\" is duplicated", t.ID)
		}
		c.templates[t.ID] = t
		c.ordered = append(c.ordered, t)
	}
	sort.SliceStable(c.ordered, func(i, j int) bool {
		return c.ordered[i].ID < c.ordered[j].ID
	})
	return c, nil
}

// Get returns the template with the given ID
func (c *Catalog) Get(id string) (Template, bool) {
	t, ok := c.templates[id]
	return t, ok
}

// List returns every template ordered by ID
func (c *Catalog) List() []Template {
	out := make([]Template, len(c.ordered))
	copy(out, c.ordered)
	return out
}
