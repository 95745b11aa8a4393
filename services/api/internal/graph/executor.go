package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"

	"graphdj/internal/util"
	"graphdj/services/api/internal/apierr"
)

// Error codes of request-level failures. Field failures carry the code of
// their apierr.Kind.
const (
	CodeValidationFailed = "GRAPHQL_VALIDATION_FAILED"
	CodeBadRequest       = "BAD_USER_INPUT"
)

// Request is a decoded GraphQL request.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`

	// ReadOnly rejects mutations. Set for requests that arrive over GET.
	ReadOnly bool `json:"-"`
}

// Executor runs operations against a schema using the resolvers of a
// Registry. It is safe for concurrent use.
type Executor struct {
	schema    *ast.Schema
	resolvers *Registry
}

// NewExecutor fails when a schema field has no resolver.
func NewExecutor(schema *ast.Schema, resolvers *Registry) (*Executor, error) {
	if err := resolvers.Check(schema); err != nil {
		return nil, err
	}
	return &Executor{schema: schema, resolvers: resolvers}, nil
}

func (e *Executor) Schema() *ast.Schema { return e.schema }

// Execute parses, validates and runs req. Field errors are reported in the
// response next to partial data; it never returns nil.
func (e *Executor) Execute(ctx context.Context, req Request) *graphql.Response {
	if req.Query == "" {
		return requestError(CodeBadRequest, "no query string supplied")
	}
	doc, errs := gqlparser.LoadQuery(e.schema, req.Query)
	if len(errs) > 0 {
		for _, err := range errs {
			setCode(err, CodeValidationFailed)
		}
		return &graphql.Response{Errors: errs}
	}
	op := doc.Operations.ForName(req.OperationName)
	if op == nil {
		if req.OperationName == "" {
			return requestError(CodeBadRequest, "operation name is required when the document has several operations")
		}
		return requestError(CodeBadRequest, fmt.Sprintf("operation %q not found", req.OperationName))
	}
	vars, err := validator.VariableValues(e.schema, op, req.Variables)
	if err != nil {
		var gqlErr *gqlerror.Error
		if errors.As(err, &gqlErr) {
			setCode(gqlErr, CodeValidationFailed)
			return &graphql.Response{Errors: gqlerror.List{gqlErr}}
		}
		return requestError(CodeValidationFailed, err.Error())
	}

	var root *ast.Definition
	switch op.Operation {
	case ast.Query:
		root = e.schema.Query
	case ast.Mutation:
		if req.ReadOnly {
			return requestError(CodeBadRequest, "mutations are not allowed over GET")
		}
		root = e.schema.Mutation
	}
	if root == nil {
		return requestError(CodeBadRequest, fmt.Sprintf("%s operations are not supported", op.Operation))
	}

	ex := &execution{
		ctx:       ctx,
		schema:    e.schema,
		resolvers: e.resolvers,
		vars:      vars,
	}
	var data bytes.Buffer
	// Root fields run one after another, which gives mutations their
	// required serial order.
	if !ex.completeObject(&data, root, nil, op.SelectionSet, nil) {
		data.Reset()
		data.WriteString("null")
	}
	return &graphql.Response{Data: json.RawMessage(data.Bytes()), Errors: ex.errs}
}

type execution struct {
	ctx       context.Context
	schema    *ast.Schema
	resolvers *Registry
	vars      map[string]any
	errs      gqlerror.List
}

// completeObject writes obj as a JSON object shaped by sel. It writes
// nothing and returns false when a non-null field came back null, so the
// caller nulls the nearest nullable parent.
func (ex *execution) completeObject(buf *bytes.Buffer, def *ast.Definition, obj any, sel ast.SelectionSet, path ast.Path) bool {
	var out bytes.Buffer
	out.WriteByte('{')
	for i, f := range ex.collectFields(def, sel) {
		if i > 0 {
			out.WriteByte(',')
		}
		writeJSON(&out, f.Alias)
		out.WriteByte(':')
		fieldPath := appendPath(path, ast.PathName(f.Alias))
		if f.Name == "__typename" {
			writeJSON(&out, def.Name)
			continue
		}
		if !ex.resolveField(&out, def, obj, f, fieldPath) {
			return false
		}
	}
	out.WriteByte('}')
	buf.Write(out.Bytes())
	return true
}

func (ex *execution) resolveField(buf *bytes.Buffer, def *ast.Definition, obj any, f *ast.Field, path ast.Path) bool {
	if f.Name == "__schema" || f.Name == "__type" {
		ex.addError(apierr.New(apierr.Forbidden, "introspection is disabled"), f, path)
		return writeNull(buf, f.Definition.Type)
	}
	fn, ok := ex.resolvers.lookup(def.Name, f.Name)
	if !ok {
		ex.addError(apierr.Internal("resolve field", fmt.Errorf("no resolver for %s.%s", def.Name, f.Name)), f, path)
		return writeNull(buf, f.Definition.Type)
	}
	value, err := ex.call(fn, obj, f.ArgumentMap(ex.vars))
	if err != nil {
		ex.addError(err, f, path)
		return writeNull(buf, f.Definition.Type)
	}
	return ex.completeValue(buf, f, f.Definition.Type, value, path)
}

func (ex *execution) call(fn ResolveFunc, obj any, args map[string]any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			util.LoggerFromContext(ex.ctx).Error("resolver panic", "panic", r, "stack", string(debug.Stack()))
			value, err = nil, apierr.Internal("resolver panic", fmt.Errorf("%v", r))
		}
	}()
	return fn(ex.ctx, obj, args)
}

func (ex *execution) completeValue(buf *bytes.Buffer, f *ast.Field, typ *ast.Type, value any, path ast.Path) bool {
	if isNull(value) {
		if typ.NonNull {
			ex.addError(apierr.Internal("complete value", fmt.Errorf("null for non-null field %s", path)), f, path)
			return false
		}
		buf.WriteString("null")
		return true
	}
	if typ.Elem != nil {
		if ex.completeList(buf, f, typ.Elem, value, path) {
			return true
		}
		return writeNull(buf, typ)
	}
	def := ex.schema.Types[typ.NamedType]
	if def == nil {
		ex.addError(apierr.Internal("complete value", fmt.Errorf("unknown type %s", typ.NamedType)), f, path)
		return writeNull(buf, typ)
	}
	switch def.Kind {
	case ast.Object:
		if ex.completeObject(buf, def, value, f.SelectionSet, path) {
			return true
		}
		return writeNull(buf, typ)
	case ast.Scalar, ast.Enum:
		raw, err := serializeScalar(def.Name, value)
		if err != nil {
			ex.addError(apierr.Internal("serialize "+def.Name, err), f, path)
			return writeNull(buf, typ)
		}
		buf.Write(raw)
		return true
	default:
		ex.addError(apierr.Internal("complete value", fmt.Errorf("unsupported kind %s of %s", def.Kind, def.Name)), f, path)
		return writeNull(buf, typ)
	}
}

func (ex *execution) completeList(buf *bytes.Buffer, f *ast.Field, elem *ast.Type, value any, path ast.Path) bool {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		ex.addError(apierr.Internal("complete list", fmt.Errorf("got %T for list", value)), f, path)
		return false
	}
	var out bytes.Buffer
	out.WriteByte('[')
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			out.WriteByte(',')
		}
		if !ex.completeValue(&out, f, elem, rv.Index(i).Interface(), appendPath(path, ast.PathIndex(i))) {
			return false
		}
	}
	out.WriteByte(']')
	buf.Write(out.Bytes())
	return true
}

// collectFields flattens sel for an object of type def, applying @skip and
// @include and merging fields that share a response key.
func (ex *execution) collectFields(def *ast.Definition, sel ast.SelectionSet) []*ast.Field {
	var order []*ast.Field
	byKey := map[string]*ast.Field{}
	visited := map[string]bool{}
	var walk func(ast.SelectionSet)
	walk = func(set ast.SelectionSet) {
		for _, s := range set {
			switch s := s.(type) {
			case *ast.Field:
				if !ex.included(s.Directives) {
					continue
				}
				if prev, ok := byKey[s.Alias]; ok {
					prev.SelectionSet = append(append(ast.SelectionSet{}, prev.SelectionSet...), s.SelectionSet...)
					continue
				}
				copied := *s
				byKey[s.Alias] = &copied
				order = append(order, &copied)
			case *ast.InlineFragment:
				if !ex.included(s.Directives) || !applies(def, s.TypeCondition) {
					continue
				}
				walk(s.SelectionSet)
			case *ast.FragmentSpread:
				if !ex.included(s.Directives) || visited[s.Name] || s.Definition == nil {
					continue
				}
				visited[s.Name] = true
				if !applies(def, s.Definition.TypeCondition) {
					continue
				}
				walk(s.Definition.SelectionSet)
			}
		}
	}
	walk(sel)
	return order
}

func (ex *execution) included(directives ast.DirectiveList) bool {
	if d := directives.ForName("skip"); d != nil {
		if skip, _ := d.ArgumentMap(ex.vars)["if"].(bool); skip {
			return false
		}
	}
	if d := directives.ForName("include"); d != nil {
		if include, _ := d.ArgumentMap(ex.vars)["if"].(bool); !include {
			return false
		}
	}
	return true
}

// applies reports whether a fragment on typeCondition selects from def. The
// schema has no interfaces or unions.
func applies(def *ast.Definition, typeCondition string) bool {
	return typeCondition == "" || typeCondition == def.Name
}

func (ex *execution) addError(err error, f *ast.Field, path ast.Path) {
	kind := apierr.KindOf(err)
	if !kind.Expected() {
		util.LoggerFromContext(ex.ctx).Error("resolver failed",
			"field", f.Name,
			"path", path.String(),
			"error", err,
		)
	}
	gqlErr := &gqlerror.Error{
		Err:        err,
		Message:    apierr.PublicMessage(err),
		Path:       path,
		Extensions: map[string]any{"code": kind.Code()},
	}
	if f.Position != nil {
		gqlErr.Locations = []gqlerror.Location{{Line: f.Position.Line, Column: f.Position.Column}}
	}
	ex.errs = append(ex.errs, gqlErr)
}

func serializeScalar(name string, value any) (json.RawMessage, error) {
	switch name {
	case "ID":
		switch v := value.(type) {
		case string:
			return marshal(v)
		case int64:
			return marshal(fmt.Sprint(v))
		case int:
			return marshal(fmt.Sprint(v))
		}
	case "String":
		if v, ok := value.(string); ok {
			return marshal(v)
		}
	case "Int":
		n, ok := toInt64(value)
		if !ok {
			break
		}
		if n > math.MaxInt32 || n < math.MinInt32 {
			return nil, fmt.Errorf("Int cannot represent %d", n)
		}
		return marshal(n)
	case "Float":
		switch v := value.(type) {
		case float64:
			return marshal(v)
		case float32:
			return marshal(v)
		}
		if n, ok := toInt64(value); ok {
			return marshal(float64(n))
		}
	case "Boolean":
		if v, ok := value.(bool); ok {
			return marshal(v)
		}
	case "DateTime":
		if v, ok := value.(time.Time); ok {
			return marshal(v.UTC().Format(time.RFC3339))
		}
	}
	return nil, fmt.Errorf("cannot serialize %T as %s", value, name)
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

func marshal(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

func writeJSON(buf *bytes.Buffer, s string) {
	raw, _ := json.Marshal(s)
	buf.Write(raw)
}

// writeNull writes null for a nullable type. For a non-null type it writes
// nothing and returns false to propagate the null upwards.
func writeNull(buf *bytes.Buffer, typ *ast.Type) bool {
	if typ.NonNull {
		return false
	}
	buf.WriteString("null")
	return true
}

// isNull treats nil pointers, maps and interfaces as null. Nil slices are
// empty lists.
func isNull(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func appendPath(path ast.Path, el ast.PathElement) ast.Path {
	out := make(ast.Path, 0, len(path)+1)
	out = append(out, path...)
	return append(out, el)
}

func setCode(err *gqlerror.Error, code string) {
	if err.Extensions == nil {
		err.Extensions = map[string]any{}
	}
	if _, ok := err.Extensions["code"]; !ok {
		err.Extensions["code"] = code
	}
}

func requestError(code, message string) *graphql.Response {
	return &graphql.Response{Errors: gqlerror.List{{
		Message:    message,
		Extensions: map[string]any{"code": code},
	}}}
}
