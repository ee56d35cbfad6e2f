package util_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autom8ter/chronodb/util"
)

func TestDecode(t *testing.T) {
	var out struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}
	require.NoError(t, util.Decode(map[string]any{"name": "Alice", "age": "30"}, &out))
	assert.Equal(t, "Alice", out.Name)
	assert.Equal(t, 30, out.Age)
}

func TestJSONString(t *testing.T) {
	assert.Equal(t, `{"a":1}`, util.JSONString(map[string]any{"a": 1}))
}

func TestDeepCopy(t *testing.T) {
	source := map[string]any{
		"nested": map[string]any{"k": 1},
		"list":   []any{map[string]any{"x": 1}},
	}
	copied := util.DeepCopy(source)
	copied["nested"].(map[string]any)["k"] = 99
	copied["list"].([]any)[0].(map[string]any)["x"] = 99
	assert.Equal(t, 1, source["nested"].(map[string]any)["k"])
	assert.Equal(t, 1, source["list"].([]any)[0].(map[string]any)["x"])
	assert.Nil(t, util.DeepCopy(nil))
}

func TestValidateStruct(t *testing.T) {
	type record struct {
		Op string `validate:"required,oneof=INSERT UPDATE DELETE"`
		ID string `validate:"required"`
	}
	assert.NoError(t, util.ValidateStruct(&record{Op: "INSERT", ID: "1"}))
	assert.Error(t, util.ValidateStruct(&record{Op: "NOPE", ID: "1"}))
	assert.Error(t, util.ValidateStruct(&record{Op: "INSERT"}))
}
