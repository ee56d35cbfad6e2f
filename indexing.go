package chronodb

import (
	"strings"

	"github.com/google/btree"
	"github.com/nqd/flat"
	"github.com/spf13/cast"
)

// IndexManager maintains secondary indexes over every dotted field path
// reached by a full recursive descent through entity fields. Each path gets
// an ordered index (normalized value -> id set) for equality and range
// lookups, and a text index (id -> lowercased string) for substring and
// wildcard lookups.
//
// The manager is owned by a single store and relies on the store's
// single-writer discipline; it does not lock. Lookup failures never
// propagate: bad arguments return the empty set and log a warning.
type IndexManager struct {
	ordered map[string]*btree.BTreeG[*indexEntry]
	text    map[string]map[string]string
	logger  Logger
}

type indexKind int8

const (
	kindNumber indexKind = iota
	kindString
	kindBool
)

// indexKey is a tagged sum ordered across kinds (number < string < bool)
// and naturally within a kind, so heterogeneous values at the same path
// never produce a runtime type error.
type indexKey struct {
	kind    indexKind
	number  float64
	str     string
	boolean bool
}

func (k indexKey) less(other indexKey) bool {
	if k.kind != other.kind {
		return k.kind < other.kind
	}
	switch k.kind {
	case kindNumber:
		return k.number < other.number
	case kindString:
		return k.str < other.str
	default:
		return !k.boolean && other.boolean
	}
}

type indexEntry struct {
	key indexKey
	ids map[string]struct{}
}

func newIndexManager(logger Logger) *IndexManager {
	return &IndexManager{
		ordered: map[string]*btree.BTreeG[*indexEntry]{},
		text:    map[string]map[string]string{},
		logger:  logger,
	}
}

// Index adds entries for every indexable leaf value of the entity. Nested
// maps and lists are flattened into dotted paths (list elements by base-10
// index). Numbers are normalized to float64 before insertion so integer 5
// and floating 5.0 land in the same bucket.
func (ix *IndexManager) Index(e *Entity) {
	ix.walk(e, "index", func(path string, value any, id string) {
		ix.addValue(path, value, id)
	})
}

// Remove is the mirror of Index: it removes the entity's id from every
// entry it produced, pruning empty value buckets and empty path buckets.
func (ix *IndexManager) Remove(e *Entity) {
	ix.walk(e, "remove", func(path string, value any, id string) {
		ix.removeValue(path, value, id)
	})
}

func (ix *IndexManager) walk(e *Entity, op string, fn func(path string, value any, id string)) {
	if e == nil {
		ix.logger.Warn("index "+op+" called with nil entity", nil)
		return
	}
	flattened, err := flat.Flatten(e.Fields, &flat.Options{Delimiter: "."})
	if err != nil {
		ix.logger.Error("failed to flatten entity fields", err, map[string]any{"id": e.ID})
		return
	}
	for path, value := range flattened {
		fn(path, value, e.ID)
	}
}

func (ix *IndexManager) addValue(path string, value any, id string) {
	if path == "" || value == nil {
		return
	}
	if key, ok := normalizeKey(value); ok {
		tree, ok := ix.ordered[path]
		if !ok {
			tree = btree.NewG(8, func(a, b *indexEntry) bool { return a.key.less(b.key) })
			ix.ordered[path] = tree
		}
		if entry, ok := tree.Get(&indexEntry{key: key}); ok {
			entry.ids[id] = struct{}{}
		} else {
			tree.ReplaceOrInsert(&indexEntry{key: key, ids: map[string]struct{}{id: {}}})
		}
	}
	if str, ok := value.(string); ok {
		values, ok := ix.text[path]
		if !ok {
			values = map[string]string{}
			ix.text[path] = values
		}
		values[id] = strings.ToLower(str)
	}
}

func (ix *IndexManager) removeValue(path string, value any, id string) {
	if path == "" || value == nil {
		return
	}
	if key, ok := normalizeKey(value); ok {
		if tree, ok := ix.ordered[path]; ok {
			if entry, ok := tree.Get(&indexEntry{key: key}); ok {
				delete(entry.ids, id)
				if len(entry.ids) == 0 {
					tree.Delete(entry)
				}
			}
			if tree.Len() == 0 {
				delete(ix.ordered, path)
			}
		}
	}
	if _, ok := value.(string); ok {
		if values, ok := ix.text[path]; ok {
			delete(values, id)
			if len(values) == 0 {
				delete(ix.text, path)
			}
		}
	}
}

// SearchEquals returns the ids whose value at the path equals the given
// value under normalization.
func (ix *IndexManager) SearchEquals(path string, value any) map[string]struct{} {
	tree, key, ok := ix.lookup("searchEquals", path, value)
	if !ok {
		return map[string]struct{}{}
	}
	result := map[string]struct{}{}
	if entry, ok := tree.Get(&indexEntry{key: key}); ok {
		for id := range entry.ids {
			result[id] = struct{}{}
		}
	}
	return result
}

// SearchGreaterThan returns the ids whose value at the path is strictly
// greater than the given value.
func (ix *IndexManager) SearchGreaterThan(path string, value any) map[string]struct{} {
	tree, key, ok := ix.lookup("searchGreaterThan", path, value)
	if !ok {
		return map[string]struct{}{}
	}
	result := map[string]struct{}{}
	tree.AscendGreaterOrEqual(&indexEntry{key: key}, func(entry *indexEntry) bool {
		if entry.key != key {
			collect(result, entry.ids)
		}
		return true
	})
	return result
}

// SearchGreaterOrEquals returns the ids whose value at the path is greater
// than or equal to the given value.
func (ix *IndexManager) SearchGreaterOrEquals(path string, value any) map[string]struct{} {
	tree, key, ok := ix.lookup("searchGreaterOrEquals", path, value)
	if !ok {
		return map[string]struct{}{}
	}
	result := map[string]struct{}{}
	tree.AscendGreaterOrEqual(&indexEntry{key: key}, func(entry *indexEntry) bool {
		collect(result, entry.ids)
		return true
	})
	return result
}

// SearchLessThan returns the ids whose value at the path is strictly less
// than the given value.
func (ix *IndexManager) SearchLessThan(path string, value any) map[string]struct{} {
	tree, key, ok := ix.lookup("searchLessThan", path, value)
	if !ok {
		return map[string]struct{}{}
	}
	result := map[string]struct{}{}
	tree.AscendLessThan(&indexEntry{key: key}, func(entry *indexEntry) bool {
		collect(result, entry.ids)
		return true
	})
	return result
}

// SearchLessOrEquals returns the ids whose value at the path is less than
// or equal to the given value.
func (ix *IndexManager) SearchLessOrEquals(path string, value any) map[string]struct{} {
	tree, key, ok := ix.lookup("searchLessOrEquals", path, value)
	if !ok {
		return map[string]struct{}{}
	}
	result := map[string]struct{}{}
	tree.DescendLessOrEqual(&indexEntry{key: key}, func(entry *indexEntry) bool {
		collect(result, entry.ids)
		return true
	})
	return result
}

// SearchContains returns the ids whose lowercased text at the path contains
// the needle as a substring. Matching is case-insensitive.
func (ix *IndexManager) SearchContains(path string, needle string) map[string]struct{} {
	result := map[string]struct{}{}
	if path == "" {
		ix.logger.Warn("searchContains called with empty path", nil)
		return result
	}
	values, ok := ix.text[path]
	if !ok {
		return result
	}
	lowered := strings.ToLower(needle)
	for id, value := range values {
		if strings.Contains(value, lowered) {
			result[id] = struct{}{}
		}
	}
	return result
}

// SearchLike returns the ids whose lowercased text at the path matches the
// sql-style pattern (% matches any run, _ one character, \ escapes). The
// match is anchored to the whole string.
func (ix *IndexManager) SearchLike(path string, pattern string) map[string]struct{} {
	result := map[string]struct{}{}
	if path == "" {
		ix.logger.Warn("searchLike called with empty path", nil)
		return result
	}
	values, ok := ix.text[path]
	if !ok {
		return result
	}
	regex, err := compileLikePattern(strings.ToLower(pattern))
	if err != nil {
		ix.logger.Warn("searchLike called with bad pattern", map[string]any{"path": path, "pattern": pattern})
		return result
	}
	for id, value := range values {
		if regex.MatchString(value) {
			result[id] = struct{}{}
		}
	}
	return result
}

func (ix *IndexManager) lookup(op string, path string, value any) (*btree.BTreeG[*indexEntry], indexKey, bool) {
	if path == "" || value == nil {
		ix.logger.Warn(op+" called with empty path or nil value", map[string]any{"path": path})
		return nil, indexKey{}, false
	}
	key, ok := normalizeKey(value)
	if !ok {
		return nil, indexKey{}, false
	}
	tree, ok := ix.ordered[path]
	if !ok {
		return nil, indexKey{}, false
	}
	return tree, key, true
}

func collect(into map[string]struct{}, ids map[string]struct{}) {
	for id := range ids {
		into[id] = struct{}{}
	}
}

// normalizeKey maps a leaf value to its ordered-index key. Numbers collapse
// to float64; anything that is not a number, string, or bool is skipped.
func normalizeKey(value any) (indexKey, bool) {
	switch v := value.(type) {
	case string:
		return indexKey{kind: kindString, str: v}, true
	case bool:
		return indexKey{kind: kindBool, boolean: v}, true
	}
	if isNumber(value) {
		return indexKey{kind: kindNumber, number: cast.ToFloat64(value)}, true
	}
	return indexKey{}, false
}
