package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/jacentio/docferry/store"
)

const defaultQuery = "SELECT * FROM c"

// Control lists the collections one run moves.
type Control struct {
	Database    string           `yaml:"database" json:"database"`
	Collections []CollectionSpec `yaml:"collections" json:"collections"`
}

// CollectionSpec is one collection of the control file.
type CollectionSpec struct {
	// Name is the source collection.
	Name string `yaml:"name" json:"name"`

	// Query selects the exported documents. Default: every document.
	Query string `yaml:"query" json:"query"`

	// Model is the kind tag of the collection's documents.
	Model string `yaml:"model" json:"model"`

	// Target is the collection imports write to. Default: Name.
	Target string `yaml:"target" json:"target"`
}

// loadControl reads a YAML control file, or JSON when the extension says so,
// and checks it against reg.
func loadControl(path string, reg *store.Registry) (*Control, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read control file")
	}
	c := &Control{}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(b, c)
	} else {
		err = yaml.Unmarshal(b, c)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parse control file %s", path)
	}
	if err := c.validate(reg); err != nil {
		return nil, err
	}
	return c, nil
}

// validate fills defaults and rejects entries that would share a staging
// directory or a target collection.
func (c *Control) validate(reg *store.Registry) error {
	if len(c.Collections) == 0 {
		return errors.Wrap(store.ErrConfiguration, "control file lists no collections")
	}
	models := map[string]string{}
	targets := map[string]bool{}
	for i := range c.Collections {
		spec := &c.Collections[i]
		if spec.Name == "" {
			return errors.Wrapf(store.ErrConfiguration, "collection %d has no name", i)
		}
		if _, ok := reg.Lookup(spec.Model); !ok {
			return errors.Wrapf(store.ErrConfiguration, "collection %s: unknown model %q (known: %s)",
				spec.Name, spec.Model, strings.Join(reg.Kinds(), ", "))
		}
		if other, ok := models[spec.Model]; ok {
			return errors.Wrapf(store.ErrConfiguration, "collections %s and %s both stage model %s", other, spec.Name, spec.Model)
		}
		models[spec.Model] = spec.Name
		if strings.TrimSpace(spec.Query) == "" {
			spec.Query = defaultQuery
		}
		if spec.Target == "" {
			spec.Target = spec.Name
		}
		if targets[spec.Target] {
			return errors.Wrapf(store.ErrConfiguration, "target collection %s listed twice", spec.Target)
		}
		targets[spec.Target] = true
	}
	return nil
}
