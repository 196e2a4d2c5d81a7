package models

// ZoneThreshold is one rung of an ascending heart-rate zone ladder.
type ZoneThreshold struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	MinBPM    int    `json:"min_bpm"`
	CoinValue int    `json:"coin_value"`
}

// ParticipantProfile is the persistent identity of a participant.
// It survives device reassignment and session boundaries; per-occupancy
// counters live on SessionEntity instead.
type ParticipantProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Group       string `json:"group,omitempty"`
	Source      string `json:"source,omitempty"`
	// Custom zone ladder; nil means the shared base ladder applies.
	ZoneThresholds []ZoneThreshold `json:"zone_thresholds,omitempty"`
	Metrics        MetricsSnapshot `json:"metrics"`
}

// Clone returns an independent copy of the profile.
func (p ParticipantProfile) Clone() ParticipantProfile {
	out := p
	out.Metrics = p.Metrics.Clone()
	if p.ZoneThresholds != nil {
		out.ZoneThresholds = make([]ZoneThreshold, len(p.ZoneThresholds))
		copy(out.ZoneThresholds, p.ZoneThresholds)
	}
	return out
}
