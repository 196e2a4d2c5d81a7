package models

import "time"

// Device profile tags for the supported sensor protocols.
const (
	DeviceProfileANT         = "ant"
	DeviceProfileBLEJumpRope = "ble_jumprope"
	DeviceProfileVibration   = "vibration"
)

// MetricsSnapshot is the last-known metric set for a device or participant.
// Absent metrics are nil, never zero.
type MetricsSnapshot struct {
	HeartRate          *int     `json:"heart_rate,omitempty"`
	Cadence            *float64 `json:"cadence,omitempty"`
	Power              *float64 `json:"power,omitempty"`
	Distance           *float64 `json:"distance,omitempty"`
	VibrationIntensity *float64 `json:"vibration_intensity,omitempty"`
	VibrationAxes      *int     `json:"vibration_axes,omitempty"`
	BatteryLevel       *int     `json:"battery_level,omitempty"`
}

// Clone returns an independent copy of the snapshot.
func (m MetricsSnapshot) Clone() MetricsSnapshot {
	out := MetricsSnapshot{}
	out.HeartRate = cloneIntPtr(m.HeartRate)
	out.Cadence = cloneFloatPtr(m.Cadence)
	out.Power = cloneFloatPtr(m.Power)
	out.Distance = cloneFloatPtr(m.Distance)
	out.VibrationIntensity = cloneFloatPtr(m.VibrationIntensity)
	out.VibrationAxes = cloneIntPtr(m.VibrationAxes)
	out.BatteryLevel = cloneIntPtr(m.BatteryLevel)
	return out
}

// DeviceRecord is the normalized view of one sensor device.
// Records are owned by the DeviceManager collaborator; this core treats them
// as read-only snapshots.
type DeviceRecord struct {
	ID            string          `json:"id"`
	Profile       string          `json:"profile"`
	EquipmentID   string          `json:"equipment_id,omitempty"`
	LastSeen      time.Time       `json:"last_seen"`
	Connected     bool            `json:"connected"`
	Metrics       MetricsSnapshot `json:"metrics"`
	InactiveSince *time.Time      `json:"inactive_since,omitempty"`
}

// Inactive reports whether the device has been marked inactive.
func (d DeviceRecord) Inactive() bool {
	return d.InactiveSince != nil
}

// Clone returns an independent copy of the record.
func (d DeviceRecord) Clone() DeviceRecord {
	out := d
	out.Metrics = d.Metrics.Clone()
	if d.InactiveSince != nil {
		t := *d.InactiveSince
		out.InactiveSince = &t
	}
	return out
}

func cloneIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneFloatPtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneStrPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
