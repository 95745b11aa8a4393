package graph

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/99designs/gqlgen/graphql"

	"graphdj/pkg/domain"
	"graphdj/services/api/internal/apierr"
)

// Argument values arrive as parsed literals (int64, string, bool, map) or as
// decoded JSON variables (json.Number or float64). The helpers below
// normalise both.

func intValue(name string, v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, apierr.Invalid(fmt.Sprintf("%s must be an integer", name))
		}
		return int64(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, apierr.Invalid(fmt.Sprintf("%s must be an integer", name))
		}
		return i, nil
	}
	return 0, apierr.Invalid(fmt.Sprintf("%s must be an integer", name))
}

// idArg returns a required integer argument.
func idArg(args map[string]any, name string) (int64, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return 0, apierr.Invalid(name + " is required")
	}
	return intValue(name, v)
}

// optionalInt returns nil when the argument is absent or null.
func optionalInt(args map[string]any, name string) (*int, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return nil, nil
	}
	n, err := intValue(name, v)
	if err != nil {
		return nil, err
	}
	if n > math.MaxInt32 || n < math.MinInt32 {
		return nil, apierr.Invalid(fmt.Sprintf("%s is out of range", name))
	}
	out := int(n)
	return &out, nil
}

func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

func optionalString(args map[string]any, name string) *string {
	s, ok := args[name].(string)
	if !ok {
		return nil
	}
	return &s
}

func inputArg(args map[string]any, name string) (map[string]any, error) {
	in, ok := args[name].(map[string]any)
	if !ok {
		return nil, apierr.Invalid(name + " is required")
	}
	return in, nil
}

// uploadArg converts a multipart file to a domain upload. A missing file is
// nil so the resolver layer reports it.
func uploadArg(args map[string]any, name string) *domain.Upload {
	var up *graphql.Upload
	switch v := args[name].(type) {
	case graphql.Upload:
		up = &v
	case *graphql.Upload:
		up = v
	}
	if up == nil || up.File == nil {
		return nil
	}
	return &domain.Upload{
		Filename:    up.Filename,
		ContentType: up.ContentType,
		Size:        up.Size,
		File:        up.File,
	}
}
