// Package collab declares the external collaborator interfaces this core
// consumes. Production implementations live outside the core (or, for the
// event journal, in internal/journal); the in-memory implementations here
// back local runs and tests.
package collab

import (
	"sync"

	"fitgrid-session/internal/models"
)

// DeviceManager owns the normalized device records.
type DeviceManager interface {
	UpdateDevice(record models.DeviceRecord)
	GetAllDevices() []models.DeviceRecord
}

// UserManager resolves which participant currently owns a device.
// Returns nil when the device is unassigned.
type UserManager interface {
	ResolveUserForDevice(deviceID string) *models.ParticipantProfile
}

// TickContext carries tick metadata into the coin-economy collaborator.
type TickContext struct {
	SessionID  string
	IntervalMs int
	Timestamp  int64
}

// CoinSummary is the coin economy's session-wide rollup.
type CoinSummary struct {
	Total int
}

// TreasureBox is the coin-economy collaborator.
type TreasureBox interface {
	ProcessTick(tickIndex int, activeIDs []string, ctx TickContext)
	Summary() CoinSummary
	// Totals may be keyed by profile id or by a legacy entity id; the
	// recorder resolves entity keys before emission.
	GetPerUserTotals() map[string]int
}

// ActivityMonitor is the activity-window collaborator.
type ActivityMonitor interface {
	RecordTick(tickIndex int, activeIDs []string)
	GetPreviousTickActive() []string
}

// EventJournal receives structured audit events.
type EventJournal interface {
	Log(event string, fields map[string]any)
}

// InMemoryDeviceManager is a thread-safe DeviceManager for local ingestion.
type InMemoryDeviceManager struct {
	mu      sync.RWMutex
	devices map[string]models.DeviceRecord
}

// NewInMemoryDeviceManager creates an empty device manager.
func NewInMemoryDeviceManager() *InMemoryDeviceManager {
	return &InMemoryDeviceManager{devices: make(map[string]models.DeviceRecord)}
}

// UpdateDevice stores a copy of the record, replacing any previous state.
func (m *InMemoryDeviceManager) UpdateDevice(record models.DeviceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[record.ID] = record.Clone()
}

// GetAllDevices returns copies of all known device records.
func (m *InMemoryDeviceManager) GetAllDevices() []models.DeviceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.DeviceRecord, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d.Clone())
	}
	return out
}

// SlidingActivityMonitor is a minimal ActivityMonitor tracking the previous
// tick's active set.
type SlidingActivityMonitor struct {
	mu       sync.Mutex
	previous []string
}

// NewSlidingActivityMonitor creates an empty monitor.
func NewSlidingActivityMonitor() *SlidingActivityMonitor {
	return &SlidingActivityMonitor{}
}

// RecordTick stores the active set for the given tick.
func (m *SlidingActivityMonitor) RecordTick(tickIndex int, activeIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.previous = append([]string(nil), activeIDs...)
}

// GetPreviousTickActive returns a copy of the last recorded active set.
func (m *SlidingActivityMonitor) GetPreviousTickActive() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.previous...)
}

// NopJournal discards all events.
type NopJournal struct{}

// Log implements EventJournal.
func (NopJournal) Log(event string, fields map[string]any) {}
