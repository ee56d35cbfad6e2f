package chronodb_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autom8ter/chronodb"
)

func TestEntity(t *testing.T) {
	e := chronodb.NewEntity("1", map[string]any{
		"name": "Alice",
		"age":  30,
		"address": map[string]any{
			"city": "Belgrade",
		},
		"tags":   []any{"alpha", "beta"},
		"matrix": []any{[]any{1, 2}, []any{3, 4}},
	})
	t.Run("dotted path resolution", func(t *testing.T) {
		assert.Equal(t, "Alice", e.Get("name"))
		assert.Equal(t, "Belgrade", e.Get("address.city"))
		assert.Equal(t, "beta", e.Get("tags.1"))
		assert.Equal(t, 4, e.Get("matrix.1.1"))
		assert.Nil(t, e.Get("address.zip"))
		assert.Nil(t, e.Get("tags.9"))
		assert.Nil(t, e.Get("tags.x"))
		assert.Nil(t, e.Get("name.city"))
		assert.Nil(t, e.Get(""))
	})
	t.Run("typed getters coerce", func(t *testing.T) {
		assert.Equal(t, "30", e.GetString("age"))
		assert.Equal(t, 30.0, e.GetFloat("age"))
	})
	t.Run("clone shares no nested state", func(t *testing.T) {
		clone := e.Clone()
		clone.Fields["address"].(map[string]any)["city"] = "Paris"
		assert.Equal(t, "Belgrade", e.Get("address.city"))
	})
	t.Run("scan decodes into structs", func(t *testing.T) {
		var out struct {
			Name string `json:"name"`
			Age  int    `json:"age"`
		}
		require.NoError(t, e.Scan(&out))
		assert.Equal(t, "Alice", out.Name)
		assert.Equal(t, 30, out.Age)
	})
	t.Run("nil entity resolves to nil", func(t *testing.T) {
		var nilEntity *chronodb.Entity
		assert.Nil(t, nilEntity.Get("name"))
	})
}
