// Package persistence validates, compresses, reshapes and persists completed
// session records.
package persistence

import (
	"fmt"
	"strings"
	"time"

	"fitgrid-session/internal/ledger"
	"fitgrid-session/internal/models"
	"fitgrid-session/internal/registry"
	"fitgrid-session/internal/timeline"
)

// Validation reason codes. Rejections are returned as values, never thrown.
const (
	ReasonInvalidStartTime     = "invalid-start-time"
	ReasonInvalidEndTime       = "invalid-end-time"
	ReasonEmptyRoster          = "empty-roster"
	ReasonMissingAssignments   = "missing-assignments"
	ReasonNoParticipants       = "no-participants"
	ReasonSessionTooShort      = "session-too-short"
	ReasonInsufficientTicks    = "insufficient-ticks"
	ReasonNoHeartRateData      = "no-heart-rate-data"
	ReasonSeriesLengthMismatch = "series-length-mismatch"
	ReasonTooManyDataPoints    = "too-many-data-points"
)

// Gate thresholds.
const (
	minDurationMs = 60000
	minTicks      = 3
	maxDataPoints = 200000
)

// ValidationError carries the named reason a session was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("session rejected: %s", e.Reason)
}

func reject(reason string) error {
	return &ValidationError{Reason: reason}
}

// SessionData is the completed session handed to the persistence pipeline.
type SessionData struct {
	SessionID        string
	StartTime        time.Time
	EndTime          time.Time
	Timezone         string
	Timeline         *timeline.Timeline
	Roster           []models.ParticipantProfile
	Assignments      []ledger.Assignment
	Entities         []registry.EntitySummary
	PrimaryProfileID string
}

// Validate runs the full validation gate. All checks must pass; the first
// failure is returned as a *ValidationError with its reason code.
func Validate(data SessionData) error {
	if data.StartTime.IsZero() {
		return reject(ReasonInvalidStartTime)
	}
	if data.EndTime.IsZero() || data.EndTime.Before(data.StartTime) {
		return reject(ReasonInvalidEndTime)
	}
	if data.Timeline == nil {
		return reject(ReasonNoParticipants)
	}

	series := data.Timeline.AllSeries()

	if hasUserSeries(series) {
		if len(data.Roster) == 0 {
			return reject(ReasonEmptyRoster)
		}
		if len(data.Assignments) == 0 {
			return reject(ReasonMissingAssignments)
		}
	}

	if countParticipants(series) < 1 {
		return reject(ReasonNoParticipants)
	}

	if data.EndTime.Sub(data.StartTime) < minDurationMs*time.Millisecond {
		return reject(ReasonSessionTooShort)
	}

	tickCount := data.Timeline.TickCount()
	if tickCount < minTicks {
		return reject(ReasonInsufficientTicks)
	}

	if !hasPositiveHeartRate(series) {
		return reject(ReasonNoHeartRateData)
	}

	if err := validateSeriesLengths(series, tickCount); err != nil {
		return err
	}

	points := 0
	for _, seq := range series {
		points += len(seq)
	}
	if points > maxDataPoints {
		return reject(ReasonTooManyDataPoints)
	}

	return nil
}

// validateSeriesLengths checks every series against the declared tick count.
func validateSeriesLengths(series map[string][]any, tickCount int) error {
	for _, seq := range series {
		if len(seq) != tickCount {
			return reject(ReasonSeriesLengthMismatch)
		}
	}
	return nil
}

func hasUserSeries(series map[string][]any) bool {
	for key := range series {
		if strings.HasPrefix(key, "user:") {
			return true
		}
	}
	return false
}

func countParticipants(series map[string][]any) int {
	ids := make(map[string]bool)
	for key := range series {
		if !strings.HasPrefix(key, "user:") {
			continue
		}
		parts := strings.SplitN(key, ":", 3)
		if len(parts) == 3 {
			ids[parts[1]] = true
		}
	}
	return len(ids)
}

func hasPositiveHeartRate(series map[string][]any) bool {
	for key, seq := range series {
		if !strings.HasSuffix(key, ":heart_rate") || !strings.HasPrefix(key, "user:") {
			continue
		}
		for _, v := range seq {
			if f, ok := numericValue(v); ok && f > 0 {
				return true
			}
		}
	}
	return false
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
