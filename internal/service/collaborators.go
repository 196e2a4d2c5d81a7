package service

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"fitgrid-session/internal/collab"
	"fitgrid-session/internal/ledger"
	"fitgrid-session/internal/models"
	"fitgrid-session/internal/zones"
)

// RosterUserManager resolves devices to participants through the assignment
// ledger: the occupant slug recorded for a device selects the roster profile
// with that id. It also carries the live metrics the zone store samples.
type RosterUserManager struct {
	mu     sync.RWMutex
	ledger *ledger.Ledger
	roster map[string]models.ParticipantProfile
}

// NewRosterUserManager creates a manager over an empty roster.
func NewRosterUserManager(l *ledger.Ledger) *RosterUserManager {
	return &RosterUserManager{
		ledger: l,
		roster: make(map[string]models.ParticipantProfile),
	}
}

// SetRoster replaces the roster.
func (m *RosterUserManager) SetRoster(profiles []models.ParticipantProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roster = make(map[string]models.ParticipantProfile, len(profiles))
	for _, p := range profiles {
		m.roster[p.ID] = p.Clone()
	}
}

// AddProfile inserts or replaces one roster profile.
func (m *RosterUserManager) AddProfile(p models.ParticipantProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roster[p.ID] = p.Clone()
}

// HasProfile reports whether a profile id is on the roster.
func (m *RosterUserManager) HasProfile(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.roster[id]
	return ok
}

// Roster returns copies of every roster profile.
func (m *RosterUserManager) Roster() []models.ParticipantProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ParticipantProfile, 0, len(m.roster))
	for _, p := range m.roster {
		out = append(out, p.Clone())
	}
	return out
}

// ResolveUserForDevice implements collab.UserManager.
func (m *RosterUserManager) ResolveUserForDevice(deviceID string) *models.ParticipantProfile {
	slug := m.ledger.OccupantFor(deviceID)
	if slug == "" {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.roster[slug]
	if !ok {
		return nil
	}
	c := p.Clone()
	return &c
}

// ApplyDeviceMetrics copies the latest heart rate of every assigned,
// non-inactive device onto its owning roster profile so the zone store
// observes current values.
func (m *RosterUserManager) ApplyDeviceMetrics(devices []models.DeviceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, dev := range devices {
		if dev.Inactive() || dev.Metrics.HeartRate == nil {
			continue
		}
		slug := m.ledger.OccupantFor(dev.ID)
		p, ok := m.roster[slug]
		if !ok {
			continue
		}
		hr := *dev.Metrics.HeartRate
		p.Metrics.HeartRate = &hr
		m.roster[slug] = p
	}
}

// ZoneCoinBox is the default coin economy: every active tick awards each
// participant the coin value of their committed heart-rate zone.
type ZoneCoinBox struct {
	mu     sync.Mutex
	zones  *zones.Store
	totals map[string]int
}

// NewZoneCoinBox creates an empty coin box over the zone store.
func NewZoneCoinBox(zoneStore *zones.Store) *ZoneCoinBox {
	return &ZoneCoinBox{
		zones:  zoneStore,
		totals: make(map[string]int),
	}
}

// ProcessTick implements collab.TreasureBox.
func (b *ZoneCoinBox) ProcessTick(tickIndex int, activeIDs []string, ctx collab.TickContext) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range activeIDs {
		if zp := b.zones.GetProfile(id); zp != nil {
			b.totals[id] += zp.CoinValue
		}
	}
}

// Summary implements collab.TreasureBox.
func (b *ZoneCoinBox) Summary() collab.CoinSummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, coins := range b.totals {
		total += coins
	}
	return collab.CoinSummary{Total: total}
}

// GetPerUserTotals implements collab.TreasureBox.
func (b *ZoneCoinBox) GetPerUserTotals() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int, len(b.totals))
	for id, coins := range b.totals {
		out[id] = coins
	}
	return out
}

// Reset clears all accrued coins.
func (b *ZoneCoinBox) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totals = make(map[string]int)
}

// LoadEquipmentCatalog reads the equipment catalog from a JSON file.
func LoadEquipmentCatalog(path string) ([]models.EquipmentEntry, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read equipment catalog: %w", err)
	}
	var entries []models.EquipmentEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse equipment catalog: %w", err)
	}
	return entries, nil
}

// LoadRoster reads participant profiles from a JSON file.
func LoadRoster(path string) ([]models.ParticipantProfile, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}
	var profiles []models.ParticipantProfile
	if err := json.Unmarshal(body, &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse roster: %w", err)
	}
	return profiles, nil
}
