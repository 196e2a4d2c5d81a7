package zones_test

import (
	"testing"
	"time"

	"fitgrid-session/internal/models"
	"fitgrid-session/internal/zones"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var base = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

func newStore() *zones.Store {
	return zones.NewStore(nil, zap.NewNop())
}

func TestObserve_FirstObservationCommitsImmediately(t *testing.T) {
	s := newStore()
	s.Observe("u1", nil, 135, base)

	p := s.GetProfile("u1")
	require.NotNil(t, p)
	assert.Equal(t, "cardio", p.ZoneID)
	assert.Equal(t, "cardio", p.RawZoneID)
}

func TestObserve_CleanTransitionCommitsImmediately(t *testing.T) {
	s := newStore()
	s.Observe("u1", nil, 95, base)
	// well past the clean-transition window
	s.Observe("u1", nil, 140, base.Add(6*time.Second))

	p := s.GetProfile("u1")
	require.NotNil(t, p)
	assert.Equal(t, "cardio", p.ZoneID)
}

func TestObserve_FastChangeHeldUntilStable(t *testing.T) {
	s := newStore()
	s.Observe("u1", nil, 95, base)

	// raw change 1s after commit: must hold for 3s before committing
	s.Observe("u1", nil, 140, base.Add(1*time.Second))
	assert.Equal(t, "warmup", s.GetProfile("u1").ZoneID)
	assert.Equal(t, "cardio", s.GetProfile("u1").RawZoneID)

	s.Observe("u1", nil, 141, base.Add(2*time.Second))
	assert.Equal(t, "warmup", s.GetProfile("u1").ZoneID)

	// held continuously for 3s -> committed
	s.Observe("u1", nil, 142, base.Add(4*time.Second))
	assert.Equal(t, "cardio", s.GetProfile("u1").ZoneID)
}

func TestObserve_FlappingYieldsAtMostOneCommit(t *testing.T) {
	s := newStore()
	s.Observe("u1", nil, 95, base) // commits warmup

	// raw zone toggles warmup/cardio with every flip under 3s, all within 5s
	// of the prior commit
	commits := 0
	last := "warmup"
	times := []struct {
		at time.Duration
		hr int
	}{
		{500 * time.Millisecond, 140},
		{1500 * time.Millisecond, 95},
		{2500 * time.Millisecond, 140},
		{3500 * time.Millisecond, 95},
	}
	for _, step := range times {
		s.Observe("u1", nil, step.hr, base.Add(step.at))
		if z := s.GetProfile("u1").ZoneID; z != last {
			commits++
			last = z
		}
	}
	assert.LessOrEqual(t, commits, 1)
}

func TestObserve_CustomLadderWins(t *testing.T) {
	custom := []models.ZoneThreshold{
		{ID: "low", Name: "Low", MinBPM: 0, CoinValue: 0},
		{ID: "high", Name: "High", MinBPM: 100, CoinValue: 5},
	}
	s := newStore()
	s.Observe("u1", custom, 120, base)

	p := s.GetProfile("u1")
	require.NotNil(t, p)
	assert.Equal(t, "high", p.ZoneID)
	assert.Equal(t, 5, p.CoinValue)
}

func TestSyncFromUsers_SignatureSuppressesNoChange(t *testing.T) {
	s := newStore()
	hr := 120
	users := []models.ParticipantProfile{
		{ID: "u1", DisplayName: "Ana", Metrics: models.MetricsSnapshot{HeartRate: &hr}},
	}

	changed := s.SyncFromUsers(users, base)
	assert.True(t, changed)

	// identical state on the next sync
	changed = s.SyncFromUsers(users, base.Add(time.Second))
	assert.False(t, changed)
}

func TestGetProfile_ReturnsDefensiveCopy(t *testing.T) {
	s := newStore()
	s.Observe("u1", nil, 120, base)

	p := s.GetProfile("u1")
	require.NotNil(t, p)
	p.ZoneConfig[0].MinBPM = 999
	p.ZoneID = "mutated"

	fresh := s.GetProfile("u1")
	assert.Equal(t, 0, fresh.ZoneConfig[0].MinBPM)
	assert.Equal(t, "fat_burn", fresh.ZoneID)
}

func TestGetProfile_UnknownUser(t *testing.T) {
	s := newStore()
	assert.Nil(t, s.GetProfile("nobody"))
}
