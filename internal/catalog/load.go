package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/abhisek/pathwise/internal/apperr"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// Parse decodes a YAML catalog. Unknown fields are rejected so typos in
// hand-edited catalogs surface at startup.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, apperr.Configuration("catalog is empty")
		}
		return nil, apperr.Configuration("parse catalog: %v", err)
	}
	return &c, nil
}

// Load reads, parses, and validates the catalog at path. An empty path
// loads the built-in sample catalog.
func Load(path string) (*Graph, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Configuration("read catalog %s: %v", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, err
	}
	g, err := New(c)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return g, nil
}

// Default returns the graph for the built-in sample catalog.
func Default() (*Graph, error) {
	c, err := Parse(defaultCatalog)
	if err != nil {
		return nil, err
	}
	return New(c)
}
