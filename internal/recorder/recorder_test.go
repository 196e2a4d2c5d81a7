package recorder_test

import (
	"testing"
	"time"

	"fitgrid-session/internal/collab"
	"fitgrid-session/internal/ledger"
	"fitgrid-session/internal/models"
	"fitgrid-session/internal/recorder"
	"fitgrid-session/internal/registry"
	"fitgrid-session/internal/timeline"
	"fitgrid-session/internal/zones"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeUserManager struct {
	byDevice map[string]models.ParticipantProfile
}

func (f *fakeUserManager) ResolveUserForDevice(deviceID string) *models.ParticipantProfile {
	p, ok := f.byDevice[deviceID]
	if !ok {
		return nil
	}
	clone := p.Clone()
	return &clone
}

type fakeTreasureBox struct {
	ticks  int
	total  int
	totals map[string]int
}

func (f *fakeTreasureBox) ProcessTick(tickIndex int, activeIDs []string, ctx collab.TickContext) {
	f.ticks++
}
func (f *fakeTreasureBox) Summary() collab.CoinSummary { return collab.CoinSummary{Total: f.total} }
func (f *fakeTreasureBox) GetPerUserTotals() map[string]int {
	out := make(map[string]int, len(f.totals))
	for k, v := range f.totals {
		out[k] = v
	}
	return out
}

type fakeJournal struct {
	events []string
	fields []map[string]any
}

func (j *fakeJournal) Log(event string, fields map[string]any) {
	j.events = append(j.events, event)
	j.fields = append(j.fields, fields)
}

type harness struct {
	rec      *recorder.Recorder
	tl       *timeline.Timeline
	devices  *collab.InMemoryDeviceManager
	users    *fakeUserManager
	coins    *fakeTreasureBox
	journal  *fakeJournal
	ledger   *ledger.Ledger
	registry *registry.Registry
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	h := &harness{
		tl:       timeline.New(5000),
		devices:  collab.NewInMemoryDeviceManager(),
		users:    &fakeUserManager{byDevice: make(map[string]models.ParticipantProfile)},
		coins:    &fakeTreasureBox{totals: make(map[string]int)},
		journal:  &fakeJournal{},
		registry: registry.NewRegistry(logger),
		now:      time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC),
	}
	h.ledger = ledger.NewLedger(h.journal, logger)
	h.rec = recorder.NewRecorder("sess-1", 5000, h.tl, recorder.Deps{
		Devices:  h.devices,
		Users:    h.users,
		Coins:    h.coins,
		Activity: collab.NewSlidingActivityMonitor(),
		Journal:  h.journal,
		Ledger:   h.ledger,
		Zones:    zones.NewStore(nil, logger),
		Registry: h.registry,
		Logger:   logger,
	})
	return h
}

func (h *harness) setHeartRateDevice(deviceID, profileID string, hr int) {
	h.users.byDevice[deviceID] = models.ParticipantProfile{ID: profileID, DisplayName: profileID}
	h.devices.UpdateDevice(models.DeviceRecord{
		ID:        deviceID,
		Profile:   models.DeviceProfileANT,
		LastSeen:  h.now,
		Connected: true,
		Metrics:   models.MetricsSnapshot{HeartRate: &hr},
	})
}

func (h *harness) tick() *recorder.TickResult {
	result := h.rec.RecordTick(h.now)
	h.now = h.now.Add(5 * time.Second)
	return result
}

func TestRecordTick_BasicAttribution(t *testing.T) {
	h := newHarness(t)
	h.setHeartRateDevice("strap-1", "ana", 120)

	result := h.tick()
	require.NotNil(t, result)
	assert.Equal(t, 0, result.TickIndex)
	assert.Equal(t, []string{"ana"}, result.ActiveParticipants)

	hr := h.tl.Series("user:ana:heart_rate")
	require.Len(t, hr, 1)
	assert.Equal(t, 120.0, hr[0])

	// 120 bpm over a 5 s tick integrates 10 beats
	beats := h.tl.Series("user:ana:heart_beats_total")
	require.Len(t, beats, 1)
	assert.InDelta(t, 10.0, beats[0].(float64), 1e-9)

	active := h.tl.Series("global:active_participants")
	assert.Equal(t, 1.0, active[0])
}

func TestRecordTick_SeriesLengthInvariant(t *testing.T) {
	h := newHarness(t)
	h.setHeartRateDevice("strap-1", "ana", 110)
	h.tick()
	h.tick()
	// ben joins late; his series must back-fill
	h.setHeartRateDevice("strap-2", "ben", 130)
	h.tick()

	require.Equal(t, 3, h.tl.TickCount())
	for _, key := range h.tl.Keys() {
		assert.Len(t, h.tl.Series(key), 3, key)
	}
}

func TestRecordTick_DropoutGetsExplicitNull(t *testing.T) {
	h := newHarness(t)
	h.setHeartRateDevice("strap-1", "ana", 120)

	// ticks 0-4 with samples
	for i := 0; i < 5; i++ {
		h.setHeartRateDevice("strap-1", "ana", 120)
		h.tick()
	}

	// tick 5: device goes inactive, no attribution
	inactiveSince := h.now
	h.devices.UpdateDevice(models.DeviceRecord{
		ID:            "strap-1",
		Profile:       models.DeviceProfileANT,
		LastSeen:      h.now.Add(-10 * time.Second),
		Metrics:       models.MetricsSnapshot{HeartRate: intPtr(120)},
		InactiveSince: &inactiveSince,
	})
	h.tick()

	// tick 6: device resumes
	h.setHeartRateDevice("strap-1", "ana", 118)
	h.tick()

	hr := h.tl.Series("user:ana:heart_rate")
	require.Len(t, hr, 7)
	for i := 0; i < 5; i++ {
		assert.Equal(t, 120.0, hr[i], i)
	}
	assert.Nil(t, hr[5])
	assert.Equal(t, 118.0, hr[6])
}

func TestRecordTick_StaleHeartRateNeverActive(t *testing.T) {
	h := newHarness(t)
	h.users.byDevice["strap-1"] = models.ParticipantProfile{ID: "ana"}
	h.devices.UpdateDevice(models.DeviceRecord{
		ID:       "strap-1",
		Profile:  models.DeviceProfileANT,
		LastSeen: h.now.Add(-30 * time.Second), // stale carried value
		Metrics:  models.MetricsSnapshot{HeartRate: intPtr(120)},
	})

	result := h.tick()
	require.NotNil(t, result)
	assert.Empty(t, result.ActiveParticipants)

	// the value is still sampled, but no beats accrue
	hr := h.tl.Series("user:ana:heart_rate")
	assert.Equal(t, 120.0, hr[0])
	assert.Zero(t, h.rec.CumulativeFor("ana").HeartBeats)
}

func TestRecordTick_MultiDeviceMergeIsDeterministic(t *testing.T) {
	h := newHarness(t)
	profile := models.ParticipantProfile{ID: "ana", DisplayName: "ana"}
	h.users.byDevice["strap-a"] = profile
	h.users.byDevice["strap-b"] = profile

	// strap-a carries a stale value, strap-b observes fresh; every tick must
	// merge the same value and class ana active regardless of map order
	const ticks = 20
	for i := 0; i < ticks; i++ {
		h.devices.UpdateDevice(models.DeviceRecord{
			ID:       "strap-a",
			Profile:  models.DeviceProfileANT,
			LastSeen: h.now.Add(-30 * time.Second),
			Metrics:  models.MetricsSnapshot{HeartRate: intPtr(90)},
		})
		h.devices.UpdateDevice(models.DeviceRecord{
			ID:        "strap-b",
			Profile:   models.DeviceProfileANT,
			LastSeen:  h.now,
			Connected: true,
			Metrics:   models.MetricsSnapshot{HeartRate: intPtr(150)},
		})
		result := h.tick()
		require.NotNil(t, result)
		assert.Equal(t, []string{"ana"}, result.ActiveParticipants, i)
	}

	// lowest device id wins the merge on every tick
	hr := h.tl.Series("user:ana:heart_rate")
	require.Len(t, hr, ticks)
	for i, v := range hr {
		assert.Equal(t, 90.0, v, i)
	}

	// beats accrue on every tick at the merged value
	assert.InDelta(t, float64(ticks)*90.0/60.0*5.0, h.rec.CumulativeFor("ana").HeartBeats, 1e-9)
}

func TestRecordTick_BeatsFlatWhileInactive(t *testing.T) {
	h := newHarness(t)
	h.setHeartRateDevice("strap-1", "ana", 120)
	h.tick()

	// device disappears from activity; total must be re-emitted unchanged
	inactiveSince := h.now
	h.devices.UpdateDevice(models.DeviceRecord{
		ID:            "strap-1",
		LastSeen:      h.now.Add(-20 * time.Second),
		InactiveSince: &inactiveSince,
	})
	h.tick()
	h.tick()

	beats := h.tl.Series("user:ana:heart_beats_total")
	require.Len(t, beats, 3)
	assert.InDelta(t, 10.0, beats[0].(float64), 1e-9)
	assert.InDelta(t, 10.0, beats[1].(float64), 1e-9)
	assert.InDelta(t, 10.0, beats[2].(float64), 1e-9)
}

func TestRecordTick_RotationIntegration(t *testing.T) {
	h := newHarness(t)
	cadence := 60.0
	h.users.byDevice["cad-1"] = models.ParticipantProfile{ID: "ana"}
	h.devices.UpdateDevice(models.DeviceRecord{
		ID:          "cad-1",
		EquipmentID: "bike-1",
		LastSeen:    h.now,
		Metrics:     models.MetricsSnapshot{HeartRate: intPtr(100), Cadence: &cadence},
	})
	h.tick()

	// 60 rpm over 5 s is 5 rotations
	rotations := h.tl.Series("device:bike-1:rotations_total")
	require.Len(t, rotations, 1)
	assert.InDelta(t, 5.0, rotations[0].(float64), 1e-9)

	assert.InDelta(t, 5.0, h.rec.CumulativeFor("ana").Rotations, 1e-9)
}

func TestRecordTick_CoinBaselineOnceThenTotals(t *testing.T) {
	h := newHarness(t)
	h.setHeartRateDevice("strap-1", "ana", 120)
	h.tick()

	coins := h.tl.Series("user:ana:coins_total")
	require.Len(t, coins, 1)
	assert.Equal(t, 0.0, coins[0])

	h.coins.total = 12
	h.coins.totals["ana"] = 12
	h.setHeartRateDevice("strap-1", "ana", 120)
	h.tick()

	coins = h.tl.Series("user:ana:coins_total")
	assert.Equal(t, 12.0, coins[1])
	global := h.tl.Series("global:coins_total")
	assert.Equal(t, 12.0, global[1])
}

func TestRecordTick_LegacyEntityCoinKeyResolved(t *testing.T) {
	h := newHarness(t)
	h.setHeartRateDevice("strap-1", "ana", 120)

	profileID := "ana"
	entity, err := h.registry.Create(&profileID, "strap-1", h.now)
	require.NoError(t, err)

	h.coins.totals[entity.EntityID] = 9
	h.tick()

	coins := h.tl.Series("user:ana:coins_total")
	require.Len(t, coins, 1)
	assert.Equal(t, 9.0, coins[0])
}

func TestRecordTick_IdentityMismatchJournaled(t *testing.T) {
	h := newHarness(t)
	h.setHeartRateDevice("strap-1", "ana", 120)
	h.ledger.Upsert(ledger.Assignment{DeviceID: "strap-1", OccupantSlug: "ben"})

	h.tick()

	assert.Contains(t, h.journal.events, "identity_mismatch")
	// non-fatal: the tick still attributed the metrics
	assert.Len(t, h.tl.Series("user:ana:heart_rate"), 1)
}

func TestRecordTick_InvalidKeyStripped(t *testing.T) {
	h := newHarness(t)
	// a profile id that violates the series-key pattern
	h.setHeartRateDevice("strap-1", "bad id!", 120)

	result := h.tick()
	require.NotNil(t, result)
	for _, key := range h.tl.Keys() {
		assert.True(t, timeline.ValidKey(key), key)
	}
}

func TestRecordTick_FailsClosedWithoutTimeline(t *testing.T) {
	h := newHarness(t)
	rec := recorder.NewRecorder("sess-1", 5000, nil, recorder.Deps{
		Devices:  h.devices,
		Users:    h.users,
		Coins:    h.coins,
		Activity: collab.NewSlidingActivityMonitor(),
		Logger:   zap.NewNop(),
		Zones:    zones.NewStore(nil, zap.NewNop()),
	})
	assert.Nil(t, rec.RecordTick(time.Now()))
	assert.Zero(t, h.coins.ticks)
}

func TestTransferCumulativeMetrics(t *testing.T) {
	h := newHarness(t)

	// A accrues on the bike
	cadence := 120.0
	h.users.byDevice["cad-1"] = models.ParticipantProfile{ID: "ana"}
	h.devices.UpdateDevice(models.DeviceRecord{
		ID:          "cad-1",
		EquipmentID: "bike-1",
		LastSeen:    h.now,
		Metrics:     models.MetricsSnapshot{HeartRate: intPtr(120), Cadence: &cadence},
	})
	h.tick()
	h.tick()

	preBeats := h.rec.CumulativeFor("ana").HeartBeats
	preRotations := h.rec.CumulativeFor("ana").Rotations
	require.Greater(t, preBeats, 0.0)

	// B takes over the bike and accrues one tick of their own
	h.users.byDevice["cad-1"] = models.ParticipantProfile{ID: "ben"}
	h.devices.UpdateDevice(models.DeviceRecord{
		ID:          "cad-1",
		EquipmentID: "bike-1",
		LastSeen:    h.now,
		Metrics:     models.MetricsSnapshot{HeartRate: &[]int{60}[0], Cadence: &cadence},
	})
	h.tick()
	ownBeats := h.rec.CumulativeFor("ben").HeartBeats
	require.Greater(t, ownBeats, 0.0)

	moved := h.rec.TransferCumulativeMetrics("ana", "ben")
	require.True(t, moved)

	after := h.rec.CumulativeFor("ben")
	assert.InDelta(t, preBeats+ownBeats, after.HeartBeats, 1e-9)
	assert.InDelta(t, preRotations+10.0, after.Rotations, 1e-9)

	// source entries fully removed, not zeroed
	assert.Zero(t, h.rec.CumulativeFor("ana").HeartBeats)
	assert.Zero(t, h.rec.CumulativeFor("ana").Rotations)
	assert.False(t, h.rec.TransferCumulativeMetrics("ana", "ben"))
}

func intPtr(v int) *int { return &v }
