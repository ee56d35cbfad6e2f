package chronodb

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPersistence(t *testing.T) *persistence {
	t.Helper()
	p, err := newPersistence(t.TempDir(), nopLogger{})
	require.NoError(t, err)
	return p
}

func TestPersistence(t *testing.T) {
	t.Run("wal round trip", func(t *testing.T) {
		p := newTestPersistence(t)
		require.NoError(t, p.appendInsert(NewEntity("1", map[string]any{"v": 1.0}), 10))
		require.NoError(t, p.appendUpdate("1", map[string]any{"v": 2.0}, 20))
		require.NoError(t, p.appendInsert(NewEntity("2", map[string]any{"v": 3.0}), 30))
		require.NoError(t, p.appendDelete("2", 40))
		data, history, err := p.load()
		require.NoError(t, err)
		require.Len(t, data, 1)
		assert.Equal(t, 2.0, data["1"]["v"])
		require.Len(t, history, 4)
		assert.Equal(t, int64(10), history[0].Timestamp)
		assert.Equal(t, "DELETE", history[3].Operation)
	})
	t.Run("load is idempotent", func(t *testing.T) {
		p := newTestPersistence(t)
		require.NoError(t, p.appendInsert(NewEntity("1", map[string]any{"v": 1.0}), 10))
		first, _, err := p.load()
		require.NoError(t, err)
		second, _, err := p.load()
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
	t.Run("malformed and truncated lines are skipped", func(t *testing.T) {
		p := newTestPersistence(t)
		require.NoError(t, p.appendInsert(NewEntity("1", map[string]any{"v": 1.0}), 10))
		f, err := os.OpenFile(p.walPath, os.O_APPEND|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		_, err = f.WriteString("not json\n\n" + `{"operation":"NOPE","id":"x","fields":null,"timestamp":1}` + "\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())
		require.NoError(t, p.appendInsert(NewEntity("2", map[string]any{"v": 2.0}), 20))
		// crash mid-append leaves a partial trailing line
		f, err = os.OpenFile(p.walPath, os.O_APPEND|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		_, err = f.WriteString(`{"operation":"INSERT","id":"3","fi`)
		require.NoError(t, err)
		require.NoError(t, f.Close())
		data, history, err := p.load()
		require.NoError(t, err)
		assert.Len(t, data, 2)
		assert.Len(t, history, 2)
	})
	t.Run("crlf terminated lines load", func(t *testing.T) {
		p := newTestPersistence(t)
		line := `{"operation":"INSERT","id":"1","fields":{"v":1},"timestamp":5}`
		require.NoError(t, os.WriteFile(p.walPath, []byte(line+"\r\n"), 0o644))
		data, _, err := p.load()
		require.NoError(t, err)
		require.Len(t, data, 1)
		assert.Equal(t, 1.0, data["1"]["v"])
	})
	t.Run("snapshot commit truncates the wal", func(t *testing.T) {
		p := newTestPersistence(t)
		require.NoError(t, p.appendInsert(NewEntity("1", map[string]any{"v": 1.0}), 10))
		require.NoError(t, p.saveSnapshot([]*Entity{NewEntity("1", map[string]any{"v": 1.0})}))
		_, err := os.Stat(p.walPath)
		assert.True(t, os.IsNotExist(err))
		bits, err := os.ReadFile(p.snapshotPath)
		require.NoError(t, err)
		var snapshot map[string]map[string]any
		require.NoError(t, json.Unmarshal(bits, &snapshot))
		assert.Equal(t, 1.0, snapshot["1"]["v"])
		entries, err := os.ReadDir(p.dir)
		require.NoError(t, err)
		for _, entry := range entries {
			assert.False(t, strings.HasSuffix(entry.Name(), ".tmp"))
		}
	})
	t.Run("snapshot entries carry the file mtime", func(t *testing.T) {
		p := newTestPersistence(t)
		require.NoError(t, p.saveSnapshot([]*Entity{NewEntity("1", map[string]any{"v": 1.0})}))
		info, err := os.Stat(p.snapshotPath)
		require.NoError(t, err)
		_, history, err := p.load()
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, info.ModTime().UnixMilli(), history[0].Timestamp)
		assert.Equal(t, "INSERT", history[0].Operation)
	})
	t.Run("missing files load empty", func(t *testing.T) {
		p := newTestPersistence(t)
		data, history, err := p.load()
		require.NoError(t, err)
		assert.Empty(t, data)
		assert.Empty(t, history)
		assert.NoFileExists(t, filepath.Join(p.dir, snapshotFile))
	})
}
