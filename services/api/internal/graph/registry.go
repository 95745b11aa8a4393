package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

// ResolveFunc produces the value of one field. obj is the parent value, nil
// for root fields. args holds the coerced field arguments.
type ResolveFunc func(ctx context.Context, obj any, args map[string]any) (any, error)

// Registry maps type and field names to resolvers.
type Registry struct {
	fields map[string]map[string]ResolveFunc
}

func NewRegistry() *Registry {
	return &Registry{fields: map[string]map[string]ResolveFunc{}}
}

// Field registers fn as the resolver of typeName.fieldName, replacing any
// previous one.
func (r *Registry) Field(typeName, fieldName string, fn ResolveFunc) {
	byField, ok := r.fields[typeName]
	if !ok {
		byField = map[string]ResolveFunc{}
		r.fields[typeName] = byField
	}
	byField[fieldName] = fn
}

func (r *Registry) lookup(typeName, fieldName string) (ResolveFunc, bool) {
	fn, ok := r.fields[typeName][fieldName]
	return fn, ok
}

// Check reports every object field of schema that has no resolver.
func (r *Registry) Check(schema *ast.Schema) error {
	var missing []string
	for name, def := range schema.Types {
		if def.BuiltIn || def.Kind != ast.Object {
			continue
		}
		for _, f := range def.Fields {
			if strings.HasPrefix(f.Name, "__") {
				continue
			}
			if _, ok := r.lookup(name, f.Name); !ok {
				missing = append(missing, name+"."+f.Name)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("fields without resolver: %s", strings.Join(missing, ", "))
	}
	return nil
}
