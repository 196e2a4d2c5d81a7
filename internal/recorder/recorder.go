// Package recorder samples device, participant, zone and coin state once per
// fixed interval into the session Timeline.
package recorder

import (
	"math"
	"sort"
	"sync"
	"time"

	"fitgrid-session/internal/collab"
	"fitgrid-session/internal/ledger"
	"fitgrid-session/internal/models"
	"fitgrid-session/internal/registry"
	"fitgrid-session/internal/timeline"
	"fitgrid-session/internal/zones"

	"go.uber.org/zap"
)

// Deps are the collaborators the recorder reads each tick.
type Deps struct {
	Devices  collab.DeviceManager
	Users    collab.UserManager
	Coins    collab.TreasureBox
	Activity collab.ActivityMonitor
	Journal  collab.EventJournal
	Ledger   *ledger.Ledger
	Zones    *zones.Store
	Registry *registry.Registry
	Logger   *zap.Logger
}

// TickResult summarizes one recorded tick.
type TickResult struct {
	TickIndex          int
	ActiveParticipants []string
	SeriesWritten      int
}

type stagedMetrics struct {
	heartRate *int
	cadence   *float64
	power     *float64
	distance  *float64
	freshHR   bool
	deviceID  string
}

// Recorder is the per-session aggregation hub. Ticks are serialized by an
// internal mutex so cumulative integration happens exactly once per interval
// even if the driving clock misfires.
type Recorder struct {
	mu         sync.Mutex
	sessionID  string
	intervalMs int
	tl         *timeline.Timeline
	deps       Deps

	tickIndex int
	// cumulative integrals, keyed by profile id
	beatTotals     map[string]float64
	rotationTotals map[string]float64
	// cumulative rotations keyed by resolved equipment id
	equipRotations map[string]float64
	baselined      map[string]bool
	tracked        map[string]bool
}

// NewRecorder creates a recorder for one session. tl may be nil, in which
// case every tick fails closed.
func NewRecorder(sessionID string, intervalMs int, tl *timeline.Timeline, deps Deps) *Recorder {
	if deps.Journal == nil {
		deps.Journal = collab.NopJournal{}
	}
	return &Recorder{
		sessionID:      sessionID,
		intervalMs:     intervalMs,
		tl:             tl,
		deps:           deps,
		beatTotals:     make(map[string]float64),
		rotationTotals: make(map[string]float64),
		equipRotations: make(map[string]float64),
		baselined:      make(map[string]bool),
		tracked:        make(map[string]bool),
	}
}

// Timeline returns the underlying timeline.
func (r *Recorder) Timeline() *timeline.Timeline {
	return r.tl
}

// SessionID returns the session this recorder samples for.
func (r *Recorder) SessionID() string {
	return r.sessionID
}

// TickIndex returns the number of ticks recorded so far.
func (r *Recorder) TickIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tickIndex
}

// RecordTick produces exactly one tick: sanitize device metrics, integrate
// cumulative rotations, attribute devices to participants, compute activity
// and dropouts, advance the coin economy, validate keys, and append one slot
// per series to the timeline. Per-metric failures degrade to null; only a
// missing timeline or session id fails the whole tick (returns nil, no side
// effects).
func (r *Recorder) RecordTick(now time.Time) *TickResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tl == nil || r.sessionID == "" {
		return nil
	}

	intervalSec := float64(r.intervalMs) / 1000.0
	staleBefore := now.Add(-time.Duration(r.intervalMs) * time.Millisecond)
	values := make(map[string]any)
	staged := make(map[string]*stagedMetrics)

	// device order from the manager is map-random; sort so the multi-device
	// merge below has a well-defined "first"
	devices := r.deps.Devices.GetAllDevices()
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })

	for _, dev := range devices {
		heartRate := sanitizeHeartRate(dev.Metrics.HeartRate)
		cadence := sanitizeFinite(dev.Metrics.Cadence)
		power := sanitizeFinite(dev.Metrics.Power)
		distance := sanitizeFinite(dev.Metrics.Distance)
		vibration := sanitizeFinite(dev.Metrics.VibrationIntensity)

		equipID := dev.EquipmentID
		if equipID == "" {
			equipID = dev.ID
		}

		// device-level entries are emitted even for inactive devices
		if heartRate != nil {
			values["device:"+dev.ID+":heart_rate"] = float64(*heartRate)
		}
		if cadence != nil {
			values["device:"+equipID+":rpm"] = *cadence
		}
		if vibration != nil {
			values["device:"+equipID+":vibration"] = *vibration
		}

		if !dev.Inactive() && cadence != nil {
			r.equipRotations[equipID] += *cadence / 60.0 * intervalSec
		}

		if dev.Inactive() {
			// still sampled at device level, but excluded from attribution
			continue
		}

		profile := r.deps.Users.ResolveUserForDevice(dev.ID)
		if profile == nil {
			continue
		}
		r.checkIdentity(dev.ID, profile.ID)

		st, ok := staged[profile.ID]
		if !ok {
			st = &stagedMetrics{deviceID: dev.ID}
			staged[profile.ID] = st
		}
		// first non-null metric across multiple devices wins; activity is
		// granted when any contributing device observed the heart rate fresh,
		// not just the one that won the merge
		fresh := !dev.LastSeen.Before(staleBefore)
		if heartRate != nil {
			if st.heartRate == nil {
				st.heartRate = heartRate
			}
			if fresh {
				st.freshHR = true
			}
		}
		if st.cadence == nil && cadence != nil {
			st.cadence = cadence
		}
		if st.power == nil && power != nil {
			st.power = power
		}
		if st.distance == nil && distance != nil {
			st.distance = distance
		}
	}

	// running per-equipment rotation totals are re-emitted every tick
	for equipID, total := range r.equipRotations {
		values["device:"+equipID+":rotations_total"] = total
	}

	var active []string
	for profileID, st := range staged {
		r.tracked[profileID] = true

		if !r.baselined[profileID] {
			// one-time coin baseline on first appearance
			values["user:"+profileID+":coins_total"] = 0.0
			r.baselined[profileID] = true
		}

		if st.heartRate != nil {
			values["user:"+profileID+":heart_rate"] = float64(*st.heartRate)
		} else {
			values["user:"+profileID+":heart_rate"] = nil
		}
		if st.cadence != nil {
			values["user:"+profileID+":rpm"] = *st.cadence
		}
		if st.power != nil {
			values["user:"+profileID+":power"] = *st.power
		}
		if st.distance != nil {
			values["user:"+profileID+":distance"] = *st.distance
		}

		// active this tick requires a freshly observed positive heart rate
		if st.heartRate != nil && st.freshHR {
			active = append(active, profileID)
			r.beatTotals[profileID] += float64(*st.heartRate) / 60.0 * intervalSec
			if st.cadence != nil {
				r.rotationTotals[profileID] += *st.cadence / 60.0 * intervalSec
			}
		}

		if zp := r.deps.Zones.GetProfile(profileID); zp != nil {
			values["user:"+profileID+":zone"] = zp.ZoneID
		}
	}
	sort.Strings(active)
	activeSet := make(map[string]bool, len(active))
	for _, id := range active {
		activeSet[id] = true
	}

	// integrals are re-emitted every tick, flat while inactive
	for profileID, total := range r.beatTotals {
		values["user:"+profileID+":heart_beats_total"] = total
	}
	for profileID, total := range r.rotationTotals {
		values["user:"+profileID+":rotations_total"] = total
	}

	// dropouts: active last tick but not this one, plus every tracked
	// participant with no staged metrics, get an explicit null sample
	for _, profileID := range r.deps.Activity.GetPreviousTickActive() {
		if !activeSet[profileID] {
			if _, written := values["user:"+profileID+":heart_rate"]; !written {
				values["user:"+profileID+":heart_rate"] = nil
			}
		}
	}
	for profileID := range r.tracked {
		if _, ok := staged[profileID]; !ok {
			values["user:"+profileID+":heart_rate"] = nil
		}
	}

	r.processCoins(values, active, now)

	values["global:active_participants"] = float64(len(active))

	for key := range values {
		if !timeline.ValidKey(key) {
			r.deps.Logger.Warn("Dropped invalid series key",
				zap.String("session_id", r.sessionID),
				zap.String("key", key),
			)
			delete(values, key)
		}
	}

	r.tl.AppendTick(values)
	r.deps.Activity.RecordTick(r.tickIndex, active)

	result := &TickResult{
		TickIndex:          r.tickIndex,
		ActiveParticipants: active,
		SeriesWritten:      len(values),
	}
	r.tickIndex++
	return result
}

// processCoins advances the coin economy and reads totals back, resolving
// legacy per-entity keys to their owning profile id.
func (r *Recorder) processCoins(values map[string]any, active []string, now time.Time) {
	if r.deps.Coins == nil {
		return
	}
	r.deps.Coins.ProcessTick(r.tickIndex, active, collab.TickContext{
		SessionID:  r.sessionID,
		IntervalMs: r.intervalMs,
		Timestamp:  now.UnixMilli(),
	})

	values["global:coins_total"] = float64(r.deps.Coins.Summary().Total)

	for key, total := range r.deps.Coins.GetPerUserTotals() {
		profileID := key
		if r.deps.Registry != nil {
			if entity, ok := r.deps.Registry.Get(key); ok {
				if entity.ProfileID == nil {
					// guest entity with no persistent profile
					continue
				}
				profileID = *entity.ProfileID
			}
		}
		values["user:"+profileID+":coins_total"] = float64(total)
	}
}

// checkIdentity cross-checks the resolved participant against the assignment
// ledger's recorded occupant for the same device. A mismatch is logged as a
// structured, non-fatal event.
func (r *Recorder) checkIdentity(deviceID, profileID string) {
	if r.deps.Ledger == nil {
		return
	}
	occupant := r.deps.Ledger.OccupantFor(deviceID)
	if occupant == "" || occupant == profileID {
		return
	}
	r.deps.Journal.Log("identity_mismatch", map[string]any{
		"session_id":  r.sessionID,
		"device_id":   deviceID,
		"resolved_id": profileID,
		"occupant":    occupant,
	})
	r.deps.Logger.Warn("Identity mismatch between resolver and assignment ledger",
		zap.String("device_id", deviceID),
		zap.String("resolved_id", profileID),
		zap.String("occupant", occupant),
	)
}

// TransferCumulativeMetrics atomically moves accrued heart-beat and rotation
// integrals from one identity to another on occupant hand-off. The source's
// entries are fully removed, not zeroed. Returns whether anything moved.
func (r *Recorder) TransferCumulativeMetrics(fromID, toID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if fromID == "" || toID == "" || fromID == toID {
		return false
	}

	moved := false
	if beats, ok := r.beatTotals[fromID]; ok {
		r.beatTotals[toID] += beats
		delete(r.beatTotals, fromID)
		moved = true
	}
	if rotations, ok := r.rotationTotals[fromID]; ok {
		r.rotationTotals[toID] += rotations
		delete(r.rotationTotals, fromID)
		moved = true
	}
	if moved {
		delete(r.tracked, fromID)
		r.tracked[toID] = true
		r.deps.Logger.Info("Transferred cumulative metrics",
			zap.String("from", fromID),
			zap.String("to", toID),
		)
	}
	return moved
}

// CumulativeFor returns the current integrals for one identity.
func (r *Recorder) CumulativeFor(profileID string) models.CumulativeMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return models.CumulativeMetrics{
		HeartBeats: r.beatTotals[profileID],
		Rotations:  r.rotationTotals[profileID],
	}
}

func sanitizeHeartRate(v *int) *int {
	if v == nil || *v <= 0 {
		return nil
	}
	hr := *v
	return &hr
}

func sanitizeFinite(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	f := *v
	return &f
}
