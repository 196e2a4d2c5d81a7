package persistence

import (
	"testing"
	"time"

	"fitgrid-session/internal/ledger"
	"fitgrid-session/internal/models"
	"fitgrid-session/internal/timeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessionStart = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

// validSession builds a session that passes the whole gate: 3 ticks, one
// participant with positive heart-rate samples, roster and assignments.
func validSession(duration time.Duration) SessionData {
	tl := timeline.New(5000)
	for i := 0; i < 3; i++ {
		tl.AppendTick(map[string]any{"user:ana:heart_rate": 120.0})
	}
	return SessionData{
		SessionID: "sess-1",
		StartTime: sessionStart,
		EndTime:   sessionStart.Add(duration),
		Timezone:  "America/Denver",
		Timeline:  tl,
		Roster:    []models.ParticipantProfile{{ID: "ana", DisplayName: "Ana"}},
		Assignments: []ledger.Assignment{
			{DeviceID: "strap-1", OccupantSlug: "ana"},
		},
	}
}

func reasonOf(t *testing.T, err error) string {
	t.Helper()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	return verr.Reason
}

func TestValidate_Accepted(t *testing.T) {
	assert.NoError(t, Validate(validSession(60001*time.Millisecond)))
}

func TestValidate_DurationBoundary(t *testing.T) {
	err := Validate(validSession(59999 * time.Millisecond))
	assert.Equal(t, ReasonSessionTooShort, reasonOf(t, err))

	assert.NoError(t, Validate(validSession(60001*time.Millisecond)))
}

func TestValidate_Times(t *testing.T) {
	data := validSession(time.Minute * 2)
	data.StartTime = time.Time{}
	assert.Equal(t, ReasonInvalidStartTime, reasonOf(t, Validate(data)))

	data = validSession(time.Minute * 2)
	data.EndTime = data.StartTime.Add(-time.Second)
	assert.Equal(t, ReasonInvalidEndTime, reasonOf(t, Validate(data)))
}

func TestValidate_RosterAndAssignmentsRequiredWithUserSeries(t *testing.T) {
	data := validSession(time.Minute * 2)
	data.Roster = nil
	assert.Equal(t, ReasonEmptyRoster, reasonOf(t, Validate(data)))

	data = validSession(time.Minute * 2)
	data.Assignments = nil
	assert.Equal(t, ReasonMissingAssignments, reasonOf(t, Validate(data)))
}

func TestValidate_NoParticipants(t *testing.T) {
	data := validSession(time.Minute * 2)
	tl := timeline.New(5000)
	for i := 0; i < 3; i++ {
		tl.AppendTick(map[string]any{"global:active_participants": 0.0})
	}
	data.Timeline = tl
	assert.Equal(t, ReasonNoParticipants, reasonOf(t, Validate(data)))
}

func TestValidate_InsufficientTicks(t *testing.T) {
	data := validSession(time.Minute * 2)
	tl := timeline.New(5000)
	tl.AppendTick(map[string]any{"user:ana:heart_rate": 120.0})
	tl.AppendTick(map[string]any{"user:ana:heart_rate": 121.0})
	data.Timeline = tl
	assert.Equal(t, ReasonInsufficientTicks, reasonOf(t, Validate(data)))
}

func TestValidate_NoHeartRateData(t *testing.T) {
	data := validSession(time.Minute * 2)
	tl := timeline.New(5000)
	for i := 0; i < 3; i++ {
		tl.AppendTick(map[string]any{
			"user:ana:heart_rate": nil,
			"user:ana:rpm":        80.0,
		})
	}
	data.Timeline = tl
	assert.Equal(t, ReasonNoHeartRateData, reasonOf(t, Validate(data)))
}

func TestValidate_TooManyDataPoints(t *testing.T) {
	data := validSession(time.Hour)
	tl := timeline.New(5000)
	// 70 series x 3000 ticks = 210k points
	for i := 0; i < 3000; i++ {
		values := make(map[string]any, 70)
		values["user:ana:heart_rate"] = 120.0
		for s := 0; s < 69; s++ {
			values["user:ana:metric_"+string(rune('a'+s%26))+string(rune('a'+s/26))] = 1.0
		}
		tl.AppendTick(values)
	}
	data.Timeline = tl
	assert.Equal(t, ReasonTooManyDataPoints, reasonOf(t, Validate(data)))
}
