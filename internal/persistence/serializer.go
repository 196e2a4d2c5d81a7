package persistence

import (
	"strings"

	"fitgrid-session/internal/registry"
	"fitgrid-session/internal/timeline"
)

// DocumentVersion is the persisted schema version.
const DocumentVersion = 3

// Document is the outbound session-save payload (schema v3).
type Document struct {
	Version      int                        `json:"version"`
	Session      SessionMeta                `json:"session"`
	Participants map[string]ParticipantMeta `json:"participants"`
	Timeline     TimelineDoc                `json:"timeline"`
	Entities     []registry.EntitySummary   `json:"entities"`
	Summary      SummaryDoc                 `json:"summary"`
}

// SessionMeta identifies the session.
type SessionMeta struct {
	ID              string `json:"id"`
	Date            string `json:"date"`
	Start           string `json:"start"`
	End             string `json:"end"`
	DurationSeconds int    `json:"duration_seconds"`
	Timezone        string `json:"timezone"`
}

// ParticipantMeta is one roster entry of the persisted document.
type ParticipantMeta struct {
	DisplayName string `json:"display_name"`
	IsPrimary   bool   `json:"is_primary,omitempty"`
	IsGuest     bool   `json:"is_guest,omitempty"`
	HRDevice    string `json:"hr_device,omitempty"`
	BaseUser    string `json:"base_user,omitempty"`
}

// TimelineDoc is the compressed timeline block.
type TimelineDoc struct {
	IntervalSeconds int              `json:"interval_seconds"`
	TickCount       int              `json:"tick_count"`
	Encoding        string           `json:"encoding"`
	Series          map[string][]any `json:"series"`
	Events          []map[string]any `json:"events"`
}

// ParticipantStats is the per-participant summary block.
type ParticipantStats struct {
	AvgHeartRate   int     `json:"avg_hr"`
	MaxHeartRate   int     `json:"max_hr"`
	TotalBeats     float64 `json:"total_beats"`
	TotalRotations float64 `json:"total_rotations"`
	Coins          int     `json:"coins"`
	ActiveTicks    int     `json:"active_ticks"`
}

// SummaryDoc aggregates the session.
type SummaryDoc struct {
	Participants map[string]ParticipantStats `json:"participants"`
	TotalCoins   int                         `json:"total_coins"`
}

// metricAbbrev compacts verbose metric names for persistence.
var metricAbbrev = map[string]string{
	"heart_rate":          "hr",
	"heart_beats_total":   "beats",
	"rotations_total":     "rotations",
	"coins_total":         "coins",
	"active_participants": "active",
	"vibration":           "vib",
}

// BuildDocument reshapes a validated session into the schema-v3 document:
// values are normalized and run-length encoded, keys compacted, empty series
// dropped, and paired or incremental events consolidated.
func BuildDocument(data SessionData) *Document {
	tl := data.Timeline

	doc := &Document{
		Version: DocumentVersion,
		Session: SessionMeta{
			ID:              data.SessionID,
			Date:            data.StartTime.Format("2006-01-02"),
			Start:           data.StartTime.Format("2006-01-02T15:04:05Z07:00"),
			End:             data.EndTime.Format("2006-01-02T15:04:05Z07:00"),
			DurationSeconds: int(data.EndTime.Sub(data.StartTime).Seconds()),
			Timezone:        data.Timezone,
		},
		Participants: buildParticipants(data),
		Entities:     data.Entities,
	}

	raw := tl.AllSeries()
	encoded := make(map[string][]any, len(raw))
	for key, seq := range raw {
		normalized := make([]any, len(seq))
		for i, v := range seq {
			normalized[i] = NormalizeValue(key, v)
		}
		if allNullOrZero(normalized) {
			continue
		}
		encoded[compactKey(key)] = EncodeSeries(normalized)
	}

	doc.Timeline = TimelineDoc{
		IntervalSeconds: tl.IntervalMs() / 1000,
		TickCount:       tl.TickCount(),
		Encoding:        "rle",
		Series:          encoded,
		Events:          consolidateEvents(tl.Events()),
	}

	doc.Summary = buildSummary(data, raw)
	return doc
}

// compactKey rewrites a verbose series key to its persisted form:
// "user:<id>:heart_rate" becomes "<id>:hr" and equipment metrics are
// namespaced under "bike:". Double-prefix artifacts are corrected.
func compactKey(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) == 2 && parts[0] == "global" {
		return "global:" + abbrev(parts[1])
	}
	if len(parts) != 3 {
		return key
	}
	identity, metric := parts[1], abbrev(parts[2])
	switch parts[0] {
	case "user":
		return identity + ":" + metric
	case "device":
		identity = strings.TrimPrefix(identity, "bike:")
		return "bike:" + identity + ":" + metric
	default:
		return key
	}
}

func abbrev(metric string) string {
	if short, ok := metricAbbrev[metric]; ok {
		return short
	}
	return metric
}

func buildParticipants(data SessionData) map[string]ParticipantMeta {
	deviceByProfile := make(map[string]string)
	for _, e := range data.Entities {
		if e.ProfileID != nil {
			deviceByProfile[*e.ProfileID] = e.DeviceID
		}
	}

	out := make(map[string]ParticipantMeta, len(data.Roster))
	for _, p := range data.Roster {
		out[p.ID] = ParticipantMeta{
			DisplayName: p.DisplayName,
			IsPrimary:   p.ID == data.PrimaryProfileID,
			HRDevice:    deviceByProfile[p.ID],
			BaseUser:    p.Source,
		}
	}

	// guest entities persist under a synthetic participant key
	for _, e := range data.Entities {
		if e.ProfileID != nil {
			continue
		}
		out["guest:"+e.EntityID] = ParticipantMeta{
			DisplayName: "Guest",
			IsGuest:     true,
			HRDevice:    e.DeviceID,
		}
	}
	return out
}

// consolidateEvents rewrites the raw event log: paired start/end events
// collapse into single start-to-end summary records, and incremental
// governance-state events collapse into discrete phase spans.
func consolidateEvents(events []timeline.Event) []map[string]any {
	out := make([]map[string]any, 0, len(events))
	consumed := make([]bool, len(events))

	var phaseOpen map[string]any
	closePhase := func() {
		if phaseOpen != nil {
			out = append(out, phaseOpen)
			phaseOpen = nil
		}
	}

	for i, ev := range events {
		if consumed[i] {
			continue
		}

		if ev.Type == "governance_state" {
			phase, _ := ev.Data["phase"].(string)
			if phaseOpen != nil && phaseOpen["phase"] == phase {
				phaseOpen["end_tick"] = ev.Tick
				continue
			}
			closePhase()
			phaseOpen = map[string]any{
				"type":       "phase",
				"phase":      phase,
				"start_tick": ev.Tick,
				"end_tick":   ev.Tick,
			}
			continue
		}
		closePhase()

		if base, ok := strings.CutSuffix(ev.Type, "_start"); ok {
			record := map[string]any{
				"type":       base,
				"start_tick": ev.Tick,
			}
			if len(ev.Data) > 0 {
				record["data"] = ev.Data
			}
			for j := i + 1; j < len(events); j++ {
				if !consumed[j] && events[j].Type == base+"_end" {
					record["end_tick"] = events[j].Tick
					consumed[j] = true
					break
				}
			}
			out = append(out, record)
			continue
		}

		record := map[string]any{
			"type": ev.Type,
			"tick": ev.Tick,
		}
		if len(ev.Data) > 0 {
			record["data"] = ev.Data
		}
		out = append(out, record)
	}
	closePhase()
	return out
}

func buildSummary(data SessionData, raw map[string][]any) SummaryDoc {
	summary := SummaryDoc{Participants: make(map[string]ParticipantStats)}

	for key, seq := range raw {
		if !strings.HasPrefix(key, "user:") || !strings.HasSuffix(key, ":heart_rate") {
			continue
		}
		parts := strings.SplitN(key, ":", 3)
		id := parts[1]

		stats := ParticipantStats{}
		sum, count := 0.0, 0
		for _, v := range seq {
			f, ok := numericValue(v)
			if !ok || f <= 0 {
				continue
			}
			sum += f
			count++
			if int(f) > stats.MaxHeartRate {
				stats.MaxHeartRate = int(f)
			}
		}
		if count > 0 {
			stats.AvgHeartRate = int(sum/float64(count) + 0.5)
		}
		stats.ActiveTicks = count
		stats.TotalBeats = lastNumeric(raw["user:"+id+":heart_beats_total"])
		stats.TotalRotations = lastNumeric(raw["user:"+id+":rotations_total"])
		stats.Coins = int(lastNumeric(raw["user:"+id+":coins_total"]))
		summary.Participants[id] = stats
	}

	summary.TotalCoins = int(lastNumeric(raw["global:coins_total"]))
	return summary
}

func lastNumeric(seq []any) float64 {
	for i := len(seq) - 1; i >= 0; i-- {
		if f, ok := numericValue(seq[i]); ok {
			return f
		}
	}
	return 0
}
