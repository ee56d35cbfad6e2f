package chronodb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionLog(t *testing.T) {
	t.Run("getAt picks the newest version at or before t", func(t *testing.T) {
		v := newVersionLog(nopLogger{})
		v.recordInsert(NewEntity("1", map[string]any{"v": 1}), 10)
		v.recordUpdate("1", map[string]any{"v": 2}, 20)
		assert.Nil(t, v.getAt("1", 5))
		assert.Equal(t, 1, v.getAt("1", 10)["v"])
		assert.Equal(t, 1, v.getAt("1", 15)["v"])
		assert.Equal(t, 2, v.getAt("1", 20)["v"])
		assert.Equal(t, 2, v.getAt("1", 100)["v"])
	})
	t.Run("tombstones hide the entity", func(t *testing.T) {
		v := newVersionLog(nopLogger{})
		v.recordInsert(NewEntity("1", map[string]any{"v": 1}), 10)
		v.recordDelete("1", 20)
		assert.Equal(t, 1, v.getAt("1", 15)["v"])
		assert.Nil(t, v.getAt("1", 25))
	})
	t.Run("history is annotated and ordered", func(t *testing.T) {
		v := newVersionLog(nopLogger{})
		v.recordInsert(NewEntity("1", map[string]any{"v": 1}), 10)
		v.recordDelete("1", 20)
		history := v.getHistory("1")
		require.Len(t, history, 2)
		assert.Equal(t, int64(10), history[0]["_timestamp"])
		assert.Equal(t, false, history[0]["_deleted"])
		assert.Equal(t, int64(20), history[1]["_timestamp"])
		assert.Equal(t, true, history[1]["_deleted"])
	})
	t.Run("out of order appends land sorted", func(t *testing.T) {
		v := newVersionLog(nopLogger{})
		v.recordUpdate("1", map[string]any{"v": 3}, 30)
		v.recordUpdate("1", map[string]any{"v": 1}, 10)
		v.recordUpdate("1", map[string]any{"v": 2}, 20)
		history := v.getHistory("1")
		require.Len(t, history, 3)
		var last int64
		for _, h := range history {
			ts := h["_timestamp"].(int64)
			assert.GreaterOrEqual(t, ts, last)
			last = ts
		}
		assert.Equal(t, 2, v.getAt("1", 25)["v"])
	})
	t.Run("returned snapshots do not alias history", func(t *testing.T) {
		v := newVersionLog(nopLogger{})
		v.recordInsert(NewEntity("1", map[string]any{"nested": map[string]any{"k": 1}}), 10)
		state := v.getAt("1", 10)
		state["nested"].(map[string]any)["k"] = 99
		assert.Equal(t, 1, v.getAt("1", 10)["nested"].(map[string]any)["k"])
	})
	t.Run("snapshotAt omits deleted and future ids", func(t *testing.T) {
		v := newVersionLog(nopLogger{})
		v.recordInsert(NewEntity("1", map[string]any{"v": 1}), 10)
		v.recordInsert(NewEntity("2", map[string]any{"v": 2}), 20)
		v.recordDelete("1", 30)
		snapshot := v.snapshotAt(25)
		assert.Len(t, snapshot, 2)
		snapshot = v.snapshotAt(35)
		require.Len(t, snapshot, 1)
		assert.Equal(t, 2, snapshot["2"]["v"])
		assert.Empty(t, v.snapshotAt(5))
	})
	t.Run("bootstrap replays entries in timestamp order", func(t *testing.T) {
		v := newVersionLog(nopLogger{})
		v.recordInsert(NewEntity("old", map[string]any{"v": 0}), 1)
		v.bootstrap([]walRecord{
			{Operation: "DELETE", ID: "1", Timestamp: 30},
			{Operation: "INSERT", ID: "1", Fields: map[string]any{"v": 1.0}, Timestamp: 10},
			{Operation: "UPDATE", ID: "1", Fields: map[string]any{"v": 2.0}, Timestamp: 20},
		})
		assert.Empty(t, v.getHistory("old"))
		history := v.getHistory("1")
		require.Len(t, history, 3)
		assert.Equal(t, 2.0, v.getAt("1", 25)["v"])
		assert.Nil(t, v.getAt("1", 35))
	})
}
