package models

import "time"

// EntityStatus is the lifecycle state of a session entity.
// Active is the initial state; all others are terminal.
type EntityStatus string

const (
	EntityActive      EntityStatus = "active"
	EntityDropped     EntityStatus = "dropped"
	EntityTransferred EntityStatus = "transferred"
	EntityEnded       EntityStatus = "ended"
)

// Terminal reports whether the status is a terminal state.
func (s EntityStatus) Terminal() bool {
	return s == EntityDropped || s == EntityTransferred || s == EntityEnded
}

// CumulativeMetrics are the per-occupancy running integrals.
type CumulativeMetrics struct {
	HeartBeats float64 `json:"heart_beats"`
	Rotations  float64 `json:"rotations"`
}

// SessionEntity is one continuous occupancy segment of a device by one
// occupant. A new entity is created on every reassignment so coin and time
// counters reset cleanly while the profile persists.
type SessionEntity struct {
	EntityID string `json:"entity_id"`
	// Nil for guests with no persistent profile.
	ProfileID     *string           `json:"profile_id,omitempty"`
	DeviceID      string            `json:"device_id"`
	StartTime     time.Time         `json:"start_time"`
	EndTime       *time.Time        `json:"end_time,omitempty"`
	Status        EntityStatus      `json:"status"`
	Coins         int               `json:"coins"`
	Cumulative    CumulativeMetrics `json:"cumulative"`
	TransferredTo *string           `json:"transferred_to,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

// Clone returns an independent copy of the entity.
func (e SessionEntity) Clone() SessionEntity {
	out := e
	out.ProfileID = cloneStrPtr(e.ProfileID)
	out.TransferredTo = cloneStrPtr(e.TransferredTo)
	if e.EndTime != nil {
		t := *e.EndTime
		out.EndTime = &t
	}
	return out
}
