package backend

import (
	"encoding/json"
	"fmt"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/model"
)

// FieldKind enumerates the primitive JSON types a schema field may require.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindInt    FieldKind = "int"
	KindBool   FieldKind = "bool"
)

// Field describes one required or optional key in a provider config.
type Field struct {
	Name     string
	Kind     FieldKind
	Required bool
}

// Schema is a hand-rolled, field-by-field config validator in the same
// accumulator style as the rest of this codebase's validators (see
// internal/model/validate.go) rather than a generic JSON-Schema engine.
type Schema struct {
	Fields []Field
}

// Validate decodes raw as a JSON object and checks every field against the
// schema, returning every violation found (never stops at the first).
func (s *Schema) Validate(raw []byte) model.ValidationErrors {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return model.ValidationErrors{{Field: "$", Message: fmt.Sprintf("invalid json: %v", err)}}
	}

	var errs model.ValidationErrors
	for _, f := range s.Fields {
		v, present := doc[f.Name]
		if !present {
			if f.Required {
				errs = append(errs, model.ValidationError{Field: f.Name, Message: "required"})
			}
			continue
		}
		if !matchesKind(v, f.Kind) {
			errs = append(errs, model.ValidationError{Field: f.Name, Message: fmt.Sprintf("must be %s", f.Kind)})
		}
	}
	return errs
}

func matchesKind(v any, kind FieldKind) bool {
	switch kind {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindInt:
		f, ok := v.(float64)
		return ok && f == float64(int64(f))
	case KindBool:
		_, ok := v.(bool)
		return ok
	default:
		return false
	}
}
