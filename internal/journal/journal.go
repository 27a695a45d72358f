// Package journal persists the activity log of trading operations in a WAL
// so that liquidation runs leave a durable, streamable trail.
package journal

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
)

const (
	defaultDir       = "./wal/activity"
	segmentThreshold = 1000
	maxSegments      = 100
	entryKeyPrefix   = "activity_"
)

// Level marks the severity of a journal entry.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Entry is one recorded activity step.
type Entry struct {
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	Message string    `json:"msg"`
}

// Record bundles an entry with its WAL index for incremental reads.
type Record struct {
	Index uint64
	Entry Entry
}

// Journal is a WAL-backed append-only activity log.
type Journal struct {
	wal *gowal.Wal
	mu  sync.RWMutex
	now func() time.Time
}

// New opens (or creates) a journal under the provided directory.
func New(dir string) (*Journal, error) {
	if dir == "" {
		dir = defaultDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "activity_",
		SegmentThreshold: segmentThreshold,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init activity journal WAL")
	}

	return &Journal{wal: wal, now: time.Now}, nil
}

// Append records one activity entry.
func (j *Journal) Append(level Level, message string) error {
	if j == nil || j.wal == nil {
		return errors.New("activity journal is not initialized")
	}

	payload, err := json.Marshal(Entry{
		Time:    j.now(),
		Level:   level,
		Message: message,
	})
	if err != nil {
		return errors.Wrap(err, "marshal activity entry")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	return j.wal.Write(j.wal.CurrentIndex()+1, entryKeyPrefix+string(level), payload)
}

// EntriesAfter returns all entries written after the provided WAL index.
func (j *Journal) EntriesAfter(index uint64) ([]Record, error) {
	if j == nil || j.wal == nil {
		return nil, errors.New("activity journal is not initialized")
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	current := j.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]Record, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := j.wal.Get(idx)
		if err != nil || !strings.HasPrefix(key, entryKeyPrefix) {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, errors.Wrap(err, "decode activity entry")
		}
		records = append(records, Record{Index: idx, Entry: entry})
	}

	return records, nil
}

// CurrentIndex returns the latest WAL index stored.
func (j *Journal) CurrentIndex() uint64 {
	if j == nil || j.wal == nil {
		return 0
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (j *Journal) Close() error {
	if j == nil || j.wal == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	return j.wal.Close()
}
