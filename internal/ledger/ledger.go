// Package ledger tracks which occupant currently owns which device.
package ledger

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"fitgrid-session/internal/collab"

	"go.uber.org/zap"
)

// Assignment is one per-device occupant record.
type Assignment struct {
	DeviceID      string            `json:"device_id"`
	OccupantSlug  string            `json:"occupant_slug"`
	OccupantName  string            `json:"occupant_name,omitempty"`
	OccupantType  string            `json:"occupant_type,omitempty"`
	DisplacedSlug string            `json:"displaced_slug,omitempty"`
	OverridesHash string            `json:"overrides_hash,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func (a Assignment) clone() Assignment {
	out := a
	if a.Metadata != nil {
		out.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Ledger holds the device-to-occupant assignments for one session.
// Syncs are diffed via a content signature so repeated identical input is an
// idempotent no-op.
type Ledger struct {
	mu          sync.Mutex
	assignments map[string]Assignment
	signature   uint64
	journal     collab.EventJournal
	logger      *zap.Logger
}

// NewLedger creates an empty assignment ledger.
func NewLedger(journal collab.EventJournal, logger *zap.Logger) *Ledger {
	if journal == nil {
		journal = collab.NopJournal{}
	}
	return &Ledger{
		assignments: make(map[string]Assignment),
		journal:     journal,
		logger:      logger,
	}
}

// Upsert inserts or replaces the assignment for one device and emits an
// audit event. The cached signature is invalidated.
func (l *Ledger) Upsert(a Assignment) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a.UpdatedAt = time.Now()
	l.assignments[a.DeviceID] = a.clone()
	l.signature = 0

	l.journal.Log("assignment_upserted", map[string]any{
		"device_id":      a.DeviceID,
		"occupant_slug":  a.OccupantSlug,
		"displaced_slug": a.DisplacedSlug,
	})
}

// Remove deletes the assignment for one device, if present, and emits an
// audit event.
func (l *Ledger) Remove(deviceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.assignments[deviceID]; !ok {
		return
	}
	delete(l.assignments, deviceID)
	l.signature = 0

	l.journal.Log("assignment_removed", map[string]any{
		"device_id": deviceID,
	})
}

// SyncFromAssignments replaces the whole assignment set from heterogeneous
// input shapes: a device-keyed map of assignments, a list of assignments, or
// a pre-normalized map of raw field maps. When the content signature of the
// normalized set matches the last sync, nothing is mutated and no event is
// emitted. Returns whether the ledger changed.
func (l *Ledger) SyncFromAssignments(input any) (bool, error) {
	normalized, err := normalizeInput(input)
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	sig := signatureOf(normalized)
	if sig == l.signature && l.signature != 0 {
		return false, nil
	}

	now := time.Now()
	next := make(map[string]Assignment, len(normalized))
	for id, a := range normalized {
		a.UpdatedAt = now
		next[id] = a
	}
	l.assignments = next
	l.signature = sig

	l.journal.Log("assignments_synced", map[string]any{
		"count": len(next),
	})
	if l.logger != nil {
		l.logger.Debug("Synced device assignments", zap.Int("count", len(next)))
	}
	return true, nil
}

// Get returns a copy of the assignment for one device.
func (l *Ledger) Get(deviceID string) (Assignment, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.assignments[deviceID]
	if !ok {
		return Assignment{}, false
	}
	return a.clone(), true
}

// OccupantFor returns the occupant slug recorded for a device, or "".
func (l *Ledger) OccupantFor(deviceID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.assignments[deviceID].OccupantSlug
}

// All returns copies of every assignment, ordered by device id.
func (l *Ledger) All() []Assignment {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.assignments))
	for id := range l.assignments {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Assignment, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.assignments[id].clone())
	}
	return out
}

func normalizeInput(input any) (map[string]Assignment, error) {
	switch v := input.(type) {
	case map[string]Assignment:
		out := make(map[string]Assignment, len(v))
		for id, a := range v {
			if a.DeviceID == "" {
				a.DeviceID = id
			}
			out[a.DeviceID] = a.clone()
		}
		return out, nil
	case []Assignment:
		out := make(map[string]Assignment, len(v))
		for _, a := range v {
			if a.DeviceID == "" {
				return nil, fmt.Errorf("assignment without device id")
			}
			out[a.DeviceID] = a.clone()
		}
		return out, nil
	case map[string]map[string]any:
		out := make(map[string]Assignment, len(v))
		for id, raw := range v {
			out[id] = assignmentFromRaw(id, raw)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported assignment input type %T", input)
	}
}

func assignmentFromRaw(deviceID string, raw map[string]any) Assignment {
	a := Assignment{DeviceID: deviceID}
	a.OccupantSlug = rawString(raw, "occupant_slug", "slug")
	a.OccupantName = rawString(raw, "occupant_name", "name")
	a.OccupantType = rawString(raw, "occupant_type", "type")
	a.DisplacedSlug = rawString(raw, "displaced_slug", "displaced")
	a.OverridesHash = rawString(raw, "overrides_hash", "overrides")
	if meta, ok := raw["metadata"].(map[string]any); ok {
		a.Metadata = make(map[string]string, len(meta))
		for k, v := range meta {
			a.Metadata[k] = fmt.Sprintf("%v", v)
		}
	}
	return a
}

func rawString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := raw[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// signatureOf hashes the canonical content of an assignment set.
// UpdatedAt is excluded so re-syncing identical content stays a no-op.
func signatureOf(assignments map[string]Assignment) uint64 {
	ids := make([]string, 0, len(assignments))
	for id := range assignments {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := fnv.New64a()
	for _, id := range ids {
		a := assignments[id]
		fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s\n",
			id, a.OccupantSlug, a.OccupantName, a.OccupantType, a.DisplacedSlug, a.OverridesHash)
		metaKeys := make([]string, 0, len(a.Metadata))
		for k := range a.Metadata {
			metaKeys = append(metaKeys, k)
		}
		sort.Strings(metaKeys)
		for _, k := range metaKeys {
			fmt.Fprintf(h, "%s=%s\n", k, a.Metadata[k])
		}
	}
	return h.Sum64()
}
