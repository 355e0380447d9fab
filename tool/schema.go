package tool

import (
	"fmt"
	"reflect"
	"strings"
)

// ValidationError reports an argument that failed schema validation.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// SchemaFromStruct derives the argument schema for a struct type. Exported
// fields become properties named by their json tag; non-pointer fields
// without omitempty are required. Only the schema subset the model providers
// consume is produced: type, description and required.
func SchemaFromStruct(v any) map[string]any {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	props := map[string]any{}
	var required []string

	if t != nil && t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name, optional, skip := fieldInfo(f)
			if skip {
				continue
			}
			prop := map[string]any{"type": schemaType(f.Type)}
			if d := f.Tag.Get("description"); d != "" {
				prop["description"] = d
			}
			props[name] = prop
			if !optional {
				required = append(required, name)
			}
		}
	}

	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// fieldInfo resolves a struct field's schema name and whether it is optional
// (pointer type or omitempty) or excluded from the schema entirely.
func fieldInfo(f reflect.StructField) (name string, optional, skip bool) {
	if !f.IsExported() {
		return "", false, true
	}
	tag, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
	if tag == "-" {
		return "", false, true
	}
	name = f.Name
	if tag != "" {
		name = tag
	}
	optional = f.Type.Kind() == reflect.Ptr || hasTagOption(opts, "omitempty")
	return name, optional, false
}

func hasTagOption(opts, want string) bool {
	for opts != "" {
		var o string
		o, opts, _ = strings.Cut(opts, ",")
		if o == want {
			return true
		}
	}
	return false
}

// schemaType maps a Go type onto its JSON schema type name. Unrepresentable
// kinds degrade to string.
func schemaType(t reflect.Type) string {
	switch k := t.Kind(); {
	case k == reflect.Ptr:
		return schemaType(t.Elem())
	case k == reflect.String:
		return "string"
	case k >= reflect.Int && k <= reflect.Uint64:
		return "integer"
	case k == reflect.Float32 || k == reflect.Float64:
		return "number"
	case k == reflect.Bool:
		return "boolean"
	case k == reflect.Slice || k == reflect.Array:
		return "array"
	case k == reflect.Map || k == reflect.Struct:
		return "object"
	default:
		return "string"
	}
}

// validateArgs checks model supplied arguments against a tool schema:
// required fields must be present and typed properties must match their
// declared type. Arguments without a property spec pass through.
func validateArgs(args, schema map[string]any) error {
	for _, field := range requiredList(schema["required"]) {
		if _, ok := args[field]; !ok {
			return &ValidationError{Field: field, Message: "required field is missing"}
		}
	}

	props, _ := schema["properties"].(map[string]any)
	for field, value := range args {
		spec, ok := props[field].(map[string]any)
		if !ok {
			continue
		}
		want, _ := spec["type"].(string)
		if value == nil || want == "" || typeMatches(value, want) {
			continue
		}
		return &ValidationError{
			Field:   field,
			Value:   value,
			Message: fmt.Sprintf("expected type %s, got %T", want, value),
		}
	}
	return nil
}

// requiredList accepts both the []string shape produced in Go and the []any
// shape of a JSON decoded schema.
func requiredList(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func typeMatches(value any, want string) bool {
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "integer", "number":
		f, ok := asFloat(value)
		if !ok {
			return false
		}
		// JSON decoding yields float64 for every number; an integer must
		// still be integral after the round trip.
		return want == "number" || f == float64(int64(f))
	}
	return true
}

// asFloat widens any native Go numeric into float64.
func asFloat(value any) (float64, bool) {
	rv := reflect.ValueOf(value)
	switch {
	case rv.CanInt():
		return float64(rv.Int()), true
	case rv.CanUint():
		return float64(rv.Uint()), true
	case rv.CanFloat():
		return rv.Float(), true
	}
	return 0, false
}
