package chronodb

import (
	"sort"

	"github.com/autom8ter/chronodb/util"
)

// Version is a timestamped, possibly tombstoned copy of an entity's fields
type Version struct {
	Timestamp int64          `json:"timestamp"`
	Fields    map[string]any `json:"fields"`
	Deleted   bool           `json:"deleted"`
}

// versionLog tracks the full mutation history of every id the store has
// ever seen. Histories survive deletion; a re-insert appends rather than
// overwriting. Timestamps are supplied by the store so the in-memory
// history and the write ahead log agree exactly.
type versionLog struct {
	history map[string][]Version
	logger  Logger
}

func newVersionLog(logger Logger) *versionLog {
	return &versionLog{
		history: map[string][]Version{},
		logger:  logger,
	}
}

func (v *versionLog) recordInsert(e *Entity, timestamp int64) {
	if e == nil {
		v.logger.Warn("recordInsert called with nil entity", nil)
		return
	}
	v.add(e.ID, Version{Timestamp: timestamp, Fields: util.DeepCopy(e.Fields)})
}

func (v *versionLog) recordUpdate(id string, fields map[string]any, timestamp int64) {
	if id == "" || fields == nil {
		v.logger.Warn("recordUpdate called with empty id or nil fields", map[string]any{"id": id})
		return
	}
	v.add(id, Version{Timestamp: timestamp, Fields: util.DeepCopy(fields)})
}

func (v *versionLog) recordDelete(id string, timestamp int64) {
	if id == "" {
		v.logger.Warn("recordDelete called with empty id", nil)
		return
	}
	v.add(id, Version{Timestamp: timestamp, Deleted: true})
}

// getAt returns a deep copy of the newest non-deleted version of the id at
// or before the timestamp, or nil if there is none or it is a tombstone.
func (v *versionLog) getAt(id string, timestamp int64) map[string]any {
	versions, ok := v.history[id]
	if !ok {
		return nil
	}
	var result *Version
	for i := range versions {
		if versions[i].Timestamp <= timestamp {
			result = &versions[i]
		} else {
			break
		}
	}
	if result == nil || result.Deleted {
		return nil
	}
	return util.DeepCopy(result.Fields)
}

// getHistory returns every version of the id in chronological order. Each
// snapshot is annotated with synthetic _timestamp and _deleted fields.
func (v *versionLog) getHistory(id string) []map[string]any {
	versions := v.history[id]
	out := make([]map[string]any, 0, len(versions))
	for _, version := range versions {
		snapshot := util.DeepCopy(version.Fields)
		if snapshot == nil {
			snapshot = map[string]any{}
		}
		snapshot["_timestamp"] = version.Timestamp
		snapshot["_deleted"] = version.Deleted
		out = append(out, snapshot)
	}
	return out
}

// snapshotAt assembles the live-at-timestamp view of every known id,
// omitting ids that were deleted or not yet inserted at that time.
func (v *versionLog) snapshotAt(timestamp int64) map[string]map[string]any {
	snapshot := map[string]map[string]any{}
	for id := range v.history {
		if state := v.getAt(id, timestamp); state != nil {
			snapshot[id] = state
		}
	}
	return snapshot
}

// bootstrap resets all history and replays the given log entries in
// timestamp order. Inserts and updates become versions, deletes become
// tombstones.
func (v *versionLog) bootstrap(entries []walRecord) {
	v.history = map[string][]Version{}
	ordered := make([]walRecord, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Timestamp < ordered[j].Timestamp })
	for _, entry := range ordered {
		if entry.ID == "" {
			continue
		}
		switch Op(entry.Operation) {
		case OpInsert, OpUpdate:
			v.add(entry.ID, Version{Timestamp: entry.Timestamp, Fields: util.DeepCopy(entry.Fields)})
		case OpDelete:
			v.add(entry.ID, Version{Timestamp: entry.Timestamp, Deleted: true})
		}
	}
}

// add appends the version, inserting at the correct position if it arrives
// out of order. The invariant is sorted order, not arrival order.
func (v *versionLog) add(id string, version Version) {
	versions := v.history[id]
	if n := len(versions); n == 0 || versions[n-1].Timestamp <= version.Timestamp {
		v.history[id] = append(versions, version)
		return
	}
	i := sort.Search(len(versions), func(i int) bool { return versions[i].Timestamp > version.Timestamp })
	versions = append(versions, Version{})
	copy(versions[i+1:], versions[i:])
	versions[i] = version
	v.history[id] = versions
}
