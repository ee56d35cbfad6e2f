package chronodb

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/autom8ter/chronodb/errors"
	"github.com/autom8ter/chronodb/util"
	"github.com/tidwall/gjson"
)

// Op is a mutation operation as encoded in the write ahead log
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

const (
	snapshotFile = "snapshot.json"
	walFile      = "wal.log"
)

// walRecord is one line of the write ahead log
type walRecord struct {
	Operation string         `json:"operation" validate:"required,oneof=INSERT UPDATE DELETE"`
	ID        string         `json:"id" validate:"required"`
	Fields    map[string]any `json:"fields"`
	Timestamp int64          `json:"timestamp"`
}

// persistence owns the snapshot and write ahead log files under a base
// directory. The snapshot is a single json object mapping id to fields;
// the log is one json record per line, appended since the last snapshot.
type persistence struct {
	dir          string
	snapshotPath string
	walPath      string
	logger       Logger
}

func newPersistence(dir string, logger Logger) (*persistence, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.IO, "unable to create persistence directory %s", dir)
	}
	return &persistence{
		dir:          dir,
		snapshotPath: filepath.Join(dir, snapshotFile),
		walPath:      filepath.Join(dir, walFile),
		logger:       logger,
	}, nil
}

// load reads the snapshot (if any) and replays every log line over it,
// returning the final live map and the ordered history feed. Snapshot
// entries carry the snapshot file's modification time as their timestamp;
// log lines carry their own. Blank lines are skipped; malformed lines are
// skipped with a warning, which also covers a line truncated by a crash.
func (p *persistence) load() (map[string]map[string]any, []walRecord, error) {
	data := map[string]map[string]any{}
	var history []walRecord
	if info, err := os.Stat(p.snapshotPath); err == nil {
		snapshotTimestamp := info.ModTime().UnixMilli()
		bits, err := os.ReadFile(p.snapshotPath)
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.IO, "failed to read snapshot")
		}
		var snapshot map[string]map[string]any
		if err := json.Unmarshal(bits, &snapshot); err != nil {
			return nil, nil, errors.Wrap(err, errors.IO, "failed to decode snapshot")
		}
		for id, fields := range snapshot {
			copied := util.DeepCopy(fields)
			data[id] = copied
			history = append(history, walRecord{
				Operation: string(OpInsert),
				ID:        id,
				Fields:    util.DeepCopy(copied),
				Timestamp: snapshotTimestamp,
			})
		}
	}
	if f, err := os.Open(p.walPath); err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			record, ok := p.decodeLine(line)
			if !ok {
				continue
			}
			apply(data, record)
			history = append(history, record)
		}
		if err := scanner.Err(); err != nil {
			return nil, nil, errors.Wrap(err, errors.IO, "failed to read write ahead log")
		}
	}
	sort.SliceStable(history, func(i, j int) bool { return history[i].Timestamp < history[j].Timestamp })
	return data, history, nil
}

func (p *persistence) decodeLine(line string) (walRecord, bool) {
	var record walRecord
	if !gjson.Valid(line) {
		p.logger.Warn("skipping malformed write ahead log line", map[string]any{"line": line})
		return record, false
	}
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		p.logger.Warn("skipping undecodable write ahead log line", map[string]any{"line": line})
		return record, false
	}
	if err := util.ValidateStruct(&record); err != nil {
		p.logger.Warn("skipping invalid write ahead log record", map[string]any{"line": line})
		return record, false
	}
	record.Fields = util.DeepCopy(record.Fields)
	return record, true
}

func apply(data map[string]map[string]any, record walRecord) {
	switch Op(record.Operation) {
	case OpInsert, OpUpdate:
		if record.Fields != nil {
			data[record.ID] = util.DeepCopy(record.Fields)
		}
	case OpDelete:
		delete(data, record.ID)
	}
}

func (p *persistence) appendInsert(e *Entity, timestamp int64) error {
	return p.append(walRecord{Operation: string(OpInsert), ID: e.ID, Fields: util.DeepCopy(e.Fields), Timestamp: timestamp})
}

func (p *persistence) appendUpdate(id string, fields map[string]any, timestamp int64) error {
	return p.append(walRecord{Operation: string(OpUpdate), ID: id, Fields: util.DeepCopy(fields), Timestamp: timestamp})
}

func (p *persistence) appendDelete(id string, timestamp int64) error {
	return p.append(walRecord{Operation: string(OpDelete), ID: id, Timestamp: timestamp})
}

func (p *persistence) append(record walRecord) error {
	bits, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, errors.IO, "failed to encode write ahead log record")
	}
	f, err := os.OpenFile(p.walPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, errors.IO, "failed to open write ahead log")
	}
	defer f.Close()
	if _, err := f.Write(append(bits, '\n')); err != nil {
		return errors.Wrap(err, errors.IO, "failed to append to write ahead log")
	}
	return nil
}

// saveSnapshot writes every entity to a temporary file in the same
// directory, atomically renames it over snapshot.json, then deletes the
// write ahead log. The rename is the commit point: a reader always sees
// either the prior snapshot or the new one.
func (p *persistence) saveSnapshot(entities []*Entity) error {
	snapshot := make(map[string]map[string]any, len(entities))
	for _, e := range entities {
		snapshot[e.ID] = util.DeepCopy(e.Fields)
	}
	bits, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, errors.IO, "failed to encode snapshot")
	}
	tmp, err := os.CreateTemp(p.dir, "snapshot-*.tmp")
	if err != nil {
		return errors.Wrap(err, errors.IO, "failed to create snapshot temp file")
	}
	if _, err := tmp.Write(bits); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, errors.IO, "failed to write snapshot")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, errors.IO, "failed to close snapshot temp file")
	}
	if err := os.Rename(tmp.Name(), p.snapshotPath); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, errors.IO, "failed to commit snapshot")
	}
	if err := os.Remove(p.walPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.IO, "failed to truncate write ahead log")
	}
	return nil
}
