// Package enginelog is a bounded ring buffer of structured engine events
// (§4.7), exposed to operators via Engine.EngineLog and `GET /rest/logs`.
package enginelog

import (
	"sync"
	"time"

	"github.com/ottoengine/ottoengine/internal/clock"
)

// Entry kinds, matching the original engine log's type field.
const (
	KindServiceCall      = "service_call"
	KindTriggerFired     = "trigger_fired"
	KindConditionTested  = "condition_tested"
	KindConditionPassed  = "condition_passed"
	KindRuleCompleted    = "rule_completed"
	KindDebug            = "debug"
)

// Record is one logged engine event.
type Record struct {
	Timestamp time.Time      `json:"ts"`
	Kind      string         `json:"type"`
	Entry     map[string]any `json:"entry"`
}

// DefaultMaxRecords is the default ring buffer capacity.
const DefaultMaxRecords = 100

// Log is a bounded, thread-safe ring buffer of Records. Unlike state.Store,
// Log is written from multiple rule-invocation goroutines concurrently, so
// it carries its own mutex.
type Log struct {
	mu      sync.Mutex
	clock   clock.Source
	records []Record
	max     int
}

// New creates a Log capped at maxRecords entries (a non-positive value
// selects DefaultMaxRecords).
func New(clk clock.Source, maxRecords int) *Log {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &Log{clock: clk, max: maxRecords}
}

// Add appends one record, trimming the oldest entry if the buffer is full.
func (l *Log) Add(kind string, entry map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, Record{Timestamp: l.clock.Now(), Kind: kind, Entry: entry})
	for len(l.records) > l.max {
		l.records = l.records[1:]
	}
}

// Append satisfies action.LogSink for LogAction steps, recording under
// KindDebug with the message carried in the "message" field.
func (l *Log) Append(level, message string) {
	l.Add(KindDebug, map[string]any{"level": level, "message": message})
}

// Records returns a snapshot of the current buffer, oldest first.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// SetMaxRecords changes the buffer capacity, trimming immediately if it
// shrank below the current length.
func (l *Log) SetMaxRecords(maxRecords int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.max = maxRecords
	for len(l.records) > l.max {
		l.records = l.records[1:]
	}
}
