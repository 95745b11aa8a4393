// Package graph serves the GraphQL surface of the API: the per-entity SDL
// files merged into one schema, a resolver registry and the executor that
// walks validated operations.
package graph

import (
	"embed"
	"fmt"
	"io/fs"
	"path"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

//go:embed schema/*.graphql
var schemaFiles embed.FS

// LoadSchema parses and validates the embedded SDL files as one schema.
func LoadSchema() (*ast.Schema, error) {
	entries, err := fs.ReadDir(schemaFiles, "schema")
	if err != nil {
		return nil, fmt.Errorf("read schema dir: %w", err)
	}
	sources := make([]*ast.Source, 0, len(entries))
	for _, entry := range entries {
		name := path.Join("schema", entry.Name())
		body, err := schemaFiles.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		sources = append(sources, &ast.Source{Name: name, Input: string(body)})
	}
	schema, err := gqlparser.LoadSchema(sources...)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	return schema, nil
}
