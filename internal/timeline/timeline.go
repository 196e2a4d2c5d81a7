// Package timeline stores the tick-indexed time series of one session.
//
// A series is an ordered sequence of nullable values, one slot per elapsed
// tick. Series created after tick zero are back-filled with nulls so every
// series always has length equal to the tick count.
package timeline

import (
	"regexp"
	"time"
)

// Series keys follow "<scope>:<identity>:<metric>" for user and device scope
// and "global:<metric>" for session-wide metrics.
var keyPattern = regexp.MustCompile(`^(?:(?:user|device):[A-Za-z0-9_.-]+|global):[a-z][a-z0-9_]*$`)

// ValidKey reports whether key matches the canonical series-key pattern.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// Event is one discrete occurrence recorded alongside the series.
type Event struct {
	Type      string         `json:"type"`
	Tick      int            `json:"tick"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Timeline is the time-series store for one session. Values are float64,
// string (categorical), or nil. Not safe for concurrent use; the recorder
// serializes access.
type Timeline struct {
	intervalMs int
	tickCount  int
	series     map[string][]any
	events     []Event
}

// New creates an empty timeline with the given tick interval.
func New(intervalMs int) *Timeline {
	return &Timeline{
		intervalMs: intervalMs,
		series:     make(map[string][]any),
	}
}

// IntervalMs returns the tick interval in milliseconds.
func (t *Timeline) IntervalMs() int {
	return t.intervalMs
}

// TickCount returns the number of ticks appended so far.
func (t *Timeline) TickCount() int {
	return t.tickCount
}

// AppendTick appends exactly one slot to every series. Series named in
// values receive that value; all other existing series receive nil. A key
// not seen before creates a new series back-filled with nils for the ticks
// it missed. Keys are assumed pre-validated; see ValidKey.
func (t *Timeline) AppendTick(values map[string]any) {
	for key, value := range values {
		if _, ok := t.series[key]; !ok {
			backfill := make([]any, t.tickCount, t.tickCount+1)
			t.series[key] = backfill
		}
		t.series[key] = append(t.series[key], value)
	}
	for key, seq := range t.series {
		if len(seq) == t.tickCount {
			// not written this tick; explicit null keeps lengths aligned
			t.series[key] = append(seq, nil)
		}
	}
	t.tickCount++
}

// AddEvent records a discrete event at the current tick position.
func (t *Timeline) AddEvent(eventType string, timestamp time.Time, data map[string]any) {
	var dataCopy map[string]any
	if data != nil {
		dataCopy = make(map[string]any, len(data))
		for k, v := range data {
			dataCopy[k] = v
		}
	}
	t.events = append(t.events, Event{
		Type:      eventType,
		Tick:      t.tickCount,
		Timestamp: timestamp,
		Data:      dataCopy,
	})
}

// Series returns a copy of the named series, or nil if it does not exist.
func (t *Timeline) Series(key string) []any {
	seq, ok := t.series[key]
	if !ok {
		return nil
	}
	return append([]any(nil), seq...)
}

// Keys returns all series keys.
func (t *Timeline) Keys() []string {
	keys := make([]string, 0, len(t.series))
	for k := range t.series {
		keys = append(keys, k)
	}
	return keys
}

// AllSeries returns a copy of every series keyed by series key.
func (t *Timeline) AllSeries() map[string][]any {
	out := make(map[string][]any, len(t.series))
	for k, seq := range t.series {
		out[k] = append([]any(nil), seq...)
	}
	return out
}

// Events returns a copy of the ordered event log.
func (t *Timeline) Events() []Event {
	return append([]Event(nil), t.events...)
}
