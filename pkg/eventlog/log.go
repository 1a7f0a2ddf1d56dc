// Package eventlog writes the Controller's append-only run.jsonl (spec §4.12,
// §6). One JSON object per line, UTF-8, LF-terminated; every phase transition
// and bounded sub-event (measure, model, candidate_eval, apply_winner,
// stall_detected, tools_executed, finetuning_data, url_validation, setup,
// bailout) goes through Write.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Event is one line of run.jsonl.
type Event struct {
	Phase string         `json:"phase"`
	Step  int            `json:"step"`
	TS    time.Time      `json:"ts"`
	Kind  string         `json:"kind,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// Log is a mutex-guarded, buffered JSONL writer over a single file.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	step   int
}

// Open creates (or appends to) the run.jsonl at path.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening event log %s: %w", path, err)
	}
	return &Log{file: f, writer: bufio.NewWriter(f)}, nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer != nil {
		if err := l.writer.Flush(); err != nil {
			return err
		}
	}
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// SetStep records the monotonically increasing step counter attached to
// subsequent events that don't specify one explicitly via WriteStep.
func (l *Log) SetStep(step int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.step = step
}

// Write appends one event, stamping it with the log's current step and now().
func (l *Log) Write(phase, kind string, data map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeLocked(Event{Phase: phase, Step: l.step, Kind: kind, Data: data})
}

// WriteStep appends one event with an explicit step, without mutating the
// log's running step counter.
func (l *Log) WriteStep(phase string, step int, kind string, data map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeLocked(Event{Phase: phase, Step: step, Kind: kind, Data: data})
}

func (l *Log) writeLocked(evt Event) {
	if l == nil || l.writer == nil {
		return
	}
	evt.TS = time.Now()
	raw, err := json.Marshal(evt)
	if err != nil {
		return
	}
	l.writer.Write(raw)
	l.writer.WriteByte('\n')
	l.writer.Flush()
}
