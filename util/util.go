package util

import (
	"encoding/json"

	"github.com/autom8ter/chronodb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

var validate = validator.New()

// ValidateStruct validates the input based on its validate tags
func ValidateStruct(val any) error {
	return errors.Wrap(validate.Struct(val), errors.Validation, "")
}

// Decode decodes the input into the output based on json tags
func Decode(input any, output any) error {
	config := &mapstructure.DecoderConfig{
		WeaklyTypedInput:     true,
		Result:               output,
		TagName:              "json",
		IgnoreUntaggedFields: true,
	}
	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// JSONString returns a json string of the input
func JSONString(input any) string {
	bits, _ := json.Marshal(input)
	return string(bits)
}

// DeepCopy returns a copy of the map that shares no nested maps or slices
// with the source. A nil source yields nil.
func DeepCopy(source map[string]any) map[string]any {
	if source == nil {
		return nil
	}
	copied := make(map[string]any, len(source))
	for k, v := range source {
		copied[k] = DeepCopyValue(v)
	}
	return copied
}

// DeepCopyValue deep copies nested maps and slices; scalars are returned as-is
func DeepCopyValue(value any) any {
	switch value := value.(type) {
	case map[string]any:
		return DeepCopy(value)
	case []any:
		copied := make([]any, len(value))
		for i, v := range value {
			copied[i] = DeepCopyValue(v)
		}
		return copied
	default:
		return value
	}
}
