package logging

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/danielpatrickdp/honest-lab/internal/cycle"
)

// #region event-log
// EventLog appends entries to dir/<stream>.jsonl. It is safe for concurrent
// use, and a nil *EventLog discards everything.
type EventLog struct {
	mu    sync.Mutex
	dir   string
	runID string
	files map[Stream]*os.File
	seq   int
}

// OpenEventLog creates dir and opens every stream for append.
func OpenEventLog(dir, runID string) (*EventLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	l := &EventLog{dir: dir, runID: runID, files: make(map[Stream]*os.File, len(Streams))}
	for _, s := range Streams {
		f, err := os.OpenFile(l.Path(s), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("open event log %s: %w", s, err)
		}
		l.files[s] = f
	}
	return l, nil
}

// Path returns the file a stream is written to.
func (l *EventLog) Path(s Stream) string {
	if l == nil {
		return ""
	}
	return filepath.Join(l.dir, string(s)+".jsonl")
}

// Log writes one entry. Payload is marshaled as-is; a nil receiver is a no-op.
func (l *EventLog) Log(kind Kind, c cycle.Cycle, payload any) error {
	if l == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("log %s event: %w", kind, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f := l.files[StreamFor(kind)]
	if f == nil {
		return fmt.Errorf("log %s event: event log closed", kind)
	}
	line, err := json.Marshal(Entry{Seq: l.seq, RunID: l.runID, Cycle: c, Kind: kind, Payload: raw})
	if err != nil {
		return fmt.Errorf("log %s event: %w", kind, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("log %s event: %w", kind, err)
	}
	l.seq++
	return nil
}

// Close closes every stream. Safe to call on nil receiver.
func (l *EventLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for s, f := range l.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s, err))
		}
		delete(l.files, s)
	}
	return errors.Join(errs...)
}

// #endregion event-log
