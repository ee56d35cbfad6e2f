package chronodb

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/autom8ter/chronodb/errors"
	"github.com/autom8ter/chronodb/util"
	"github.com/robfig/cron"
	"github.com/samber/lo"
	"github.com/segmentio/ksuid"
	"github.com/tidwall/sjson"
)

// DB is an embeddable, schemaless document store. It keeps the working set
// in memory, maintains secondary indexes on every entity field, tracks full
// per-entity version history, and (when opened with a directory) persists
// every mutation through a write ahead log plus snapshot.
//
// Public operations are serialized on one mutex; the store follows a
// single-writer model.
type DB struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	indexes  *IndexManager
	versions *versionLog
	disk     *persistence
	logger   Logger
	clock    func() int64
	lastTS   int64
	onChange []OnChange
	cron     *cron.Cron
	schedule string
	dir      string
}

// Open creates a store. With WithDir the prior snapshot and write ahead log
// are replayed, history is bootstrapped from them, and every reconstructed
// entity is re-indexed; without it the store is purely in-memory.
func Open(opts ...Option) (*DB, error) {
	d := &DB{
		entities: map[string]*Entity{},
		clock:    func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		lgger, err := NewLogger("info", map[string]any{"library": "chronodb"})
		if err != nil {
			return nil, err
		}
		d.logger = lgger
	}
	d.indexes = newIndexManager(d.logger)
	d.versions = newVersionLog(d.logger)
	if d.dir != "" {
		disk, err := newPersistence(d.dir, d.logger)
		if err != nil {
			return nil, err
		}
		d.disk = disk
		data, history, err := disk.load()
		if err != nil {
			return nil, err
		}
		d.versions.bootstrap(history)
		for _, record := range history {
			if record.Timestamp > d.lastTS {
				d.lastTS = record.Timestamp
			}
		}
		for id, fields := range data {
			fields["id"] = id
			e := NewEntity(id, fields)
			d.entities[id] = e
			d.indexes.Index(e)
		}
	}
	if d.schedule != "" {
		if d.disk == nil {
			return nil, errors.New(errors.Validation, "snapshot schedule requires a base directory")
		}
		d.cron = cron.New()
		if err := d.cron.AddFunc(d.schedule, func() {
			if err := d.SaveSnapshot(); err != nil {
				d.logger.Error("scheduled snapshot failed", err, nil)
			}
		}); err != nil {
			return nil, errors.Wrap(err, errors.Validation, "invalid snapshot schedule")
		}
		d.cron.Start()
	}
	return d, nil
}

// Close stops background work. The store keeps no open file handles.
func (d *DB) Close() error {
	if d.cron != nil {
		d.cron.Stop()
	}
	return nil
}

// now returns the mutation timestamp, guarded so successive mutations are
// non-decreasing even if the wall clock steps backwards. Callers hold the
// write lock.
func (d *DB) now() int64 {
	t := d.clock()
	if t < d.lastTS {
		t = d.lastTS
	}
	d.lastTS = t
	return t
}

// Insert stores the entity, overwriting any existing entity with the same
// id. An empty id is assigned a generated one. The entity's id is written
// into its fields; the store owns the field map after the call.
func (d *DB) Insert(e *Entity) error {
	if e == nil {
		return errors.New(errors.Validation, "insert called with nil entity")
	}
	if e.ID == "" {
		e.ID = ksuid.New().String()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	e.Fields["id"] = e.ID
	old := d.entities[e.ID]
	if old != nil {
		d.indexes.Remove(old)
	}
	before := old.Clone()
	d.entities[e.ID] = e
	d.indexes.Index(e)
	ts := d.now()
	d.versions.recordInsert(e, ts)
	if d.disk != nil {
		if err := d.disk.appendInsert(e, ts); err != nil {
			return err
		}
	}
	d.fire(Event{Op: OpInsert, ID: e.ID, Before: before, After: e.Clone(), Timestamp: ts})
	return nil
}

// Update replaces the entity's fields wholesale. An unknown id is created.
func (d *DB) Update(id string, fields map[string]any) error {
	if id == "" || fields == nil {
		return errors.New(errors.Validation, "update called with empty id or nil fields")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.update(id, fields)
}

func (d *DB) update(id string, fields map[string]any) error {
	old := d.entities[id]
	if old != nil {
		d.indexes.Remove(old)
	}
	before := old.Clone()
	fields["id"] = id
	e := NewEntity(id, fields)
	d.entities[id] = e
	d.indexes.Index(e)
	ts := d.now()
	d.versions.recordUpdate(id, fields, ts)
	if d.disk != nil {
		if err := d.disk.appendUpdate(id, fields, ts); err != nil {
			return err
		}
	}
	d.fire(Event{Op: OpUpdate, ID: id, Before: before, After: e.Clone(), Timestamp: ts})
	return nil
}

// UpdatePartial merges the delta into the entity's current fields, the
// delta winning per key. Delta keys may be dotted paths, which set nested
// values.
func (d *DB) UpdatePartial(id string, delta map[string]any) error {
	if id == "" || delta == nil {
		return errors.New(errors.Validation, "updatePartial called with empty id or nil delta")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var current map[string]any
	if e := d.entities[id]; e != nil {
		current = e.Fields
	}
	merged, err := mergeDelta(current, delta)
	if err != nil {
		return err
	}
	return d.update(id, merged)
}

// mergeDelta applies a dotted-key delta map over the current fields by
// routing every key through a json path setter.
func mergeDelta(current map[string]any, delta map[string]any) (map[string]any, error) {
	raw := "{}"
	if current != nil {
		raw = util.JSONString(current)
	}
	var err error
	for k, v := range delta {
		raw, err = sjson.Set(raw, k, v)
		if err != nil {
			return nil, errors.Wrap(err, errors.Validation, "bad delta key '%s'", k)
		}
	}
	var merged map[string]any
	if err := json.Unmarshal([]byte(raw), &merged); err != nil {
		return nil, errors.Wrap(err, errors.Internal, "failed to merge delta")
	}
	return merged, nil
}

// Delete removes the entity from the live map. Deleting an unknown id is a
// no-op; history is kept so a later insert with the same id appends to it.
func (d *DB) Delete(id string) error {
	if id == "" {
		return errors.New(errors.Validation, "delete called with empty id")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.entities[id]
	if e == nil {
		d.logger.Debug("delete of unknown id", map[string]any{"id": id})
		return nil
	}
	d.indexes.Remove(e)
	delete(d.entities, id)
	ts := d.now()
	d.versions.recordDelete(id, ts)
	if d.disk != nil {
		if err := d.disk.appendDelete(id, ts); err != nil {
			return err
		}
	}
	d.fire(Event{Op: OpDelete, ID: id, Before: e.Clone(), Timestamp: ts})
	return nil
}

// Query parses the filter expression and returns the matching entities in
// unspecified order.
func (d *DB) Query(filter string) ([]*Entity, error) {
	f, err := Parse(filter)
	if err != nil {
		return nil, err
	}
	return d.QueryFilter(f)
}

// QueryFilter evaluates an already-parsed filter.
func (d *DB) QueryFilter(f Filter) ([]*Entity, error) {
	if f == nil {
		return nil, errors.New(errors.Validation, "query called with nil filter")
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := f.Evaluate(d.indexes, storeView{db: d})
	result := make([]*Entity, 0, len(ids))
	for id := range ids {
		if e, ok := d.entities[id]; ok {
			result = append(result, e)
		}
	}
	return result, nil
}

// Get returns the live entity for the id, or nil
func (d *DB) Get(id string) *Entity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.entities[id]
}

// FindAll returns every live entity in unspecified order
func (d *DB) FindAll() []*Entity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return lo.Values(d.entities)
}

// AllIDs returns every live id in unspecified order
func (d *DB) AllIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return lo.Keys(d.entities)
}

// GetAt returns the entity as it existed at the given timestamp, or nil if
// it did not exist or was deleted at that time.
func (d *DB) GetAt(id string, timestamp int64) *Entity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fields := d.versions.getAt(id, timestamp)
	if fields == nil {
		return nil
	}
	return NewEntity(id, fields)
}

// SnapshotAt returns every entity live at the given timestamp
func (d *DB) SnapshotAt(timestamp int64) []*Entity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return lo.MapToSlice(d.versions.snapshotAt(timestamp), func(id string, fields map[string]any) *Entity {
		return NewEntity(id, fields)
	})
}

// History returns every recorded version of the id in chronological order.
// Each snapshot carries synthetic _timestamp and _deleted fields.
func (d *DB) History(id string) []map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.versions.getHistory(id)
}

// SaveSnapshot writes the live map to disk atomically and truncates the
// write ahead log.
func (d *DB) SaveSnapshot() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disk == nil {
		return errors.New(errors.Validation, "persistence is not enabled")
	}
	return d.disk.saveSnapshot(lo.Values(d.entities))
}

func (d *DB) fire(event Event) {
	for _, fn := range d.onChange {
		fn(event)
	}
}

// storeView is the non-locking Source handed to filters during Query,
// which already holds the store lock.
type storeView struct {
	db *DB
}

func (v storeView) Get(id string) *Entity { return v.db.entities[id] }

func (v storeView) FindAll() []*Entity { return lo.Values(v.db.entities) }

func (v storeView) AllIDs() []string { return lo.Keys(v.db.entities) }
