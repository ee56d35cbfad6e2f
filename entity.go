package chronodb

import (
	"strconv"
	"strings"

	"github.com/autom8ter/chronodb/util"
	"github.com/spf13/cast"
)

// Entity is a single schemaless record: a non-empty id and a free-form
// field map. Field values are plain decoded-json values (nil, bool,
// numbers, string, []any, map[string]any).
type Entity struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// NewEntity creates an entity with the given id and fields. A nil field map
// is replaced with an empty one.
func NewEntity(id string, fields map[string]any) *Entity {
	if fields == nil {
		fields = map[string]any{}
	}
	return &Entity{ID: id, Fields: fields}
}

// Get resolves a dotted path against the entity's fields. Path segments
// resolve against maps by key and against lists by base-10 index; any other
// combination yields nil.
func (e *Entity) Get(path string) any {
	if e == nil {
		return nil
	}
	return resolvePath(e.Fields, path)
}

// GetString returns the field value at the dotted path coerced to a string
func (e *Entity) GetString(path string) string {
	return cast.ToString(e.Get(path))
}

// GetFloat returns the field value at the dotted path coerced to a float64
func (e *Entity) GetFloat(path string) float64 {
	return cast.ToFloat64(e.Get(path))
}

// GetBool returns the field value at the dotted path coerced to a bool
func (e *Entity) GetBool(path string) bool {
	return cast.ToBool(e.Get(path))
}

// Clone allocates a new entity sharing no nested state with the receiver
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	return &Entity{ID: e.ID, Fields: util.DeepCopy(e.Fields)}
}

// Scan decodes the entity's fields into the value based on json tags
func (e *Entity) Scan(value any) error {
	return util.Decode(e.Fields, value)
}

// String returns the entity's fields as a json string
func (e *Entity) String() string {
	return util.JSONString(e.Fields)
}

// resolvePath walks a dotted path through nested maps and lists. It is a
// free function so filter nodes can resolve field references without
// holding a store.
func resolvePath(fields map[string]any, path string) any {
	if fields == nil || path == "" {
		return nil
	}
	var current any = fields
	for _, segment := range strings.Split(path, ".") {
		switch c := current.(type) {
		case map[string]any:
			current = c[segment]
		case []any:
			i, err := strconv.Atoi(segment)
			if err != nil || i < 0 || i >= len(c) {
				return nil
			}
			current = c[i]
		default:
			return nil
		}
	}
	return current
}
