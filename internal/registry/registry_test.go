package registry_test

import (
	"testing"
	"time"

	"fitgrid-session/internal/models"
	"fitgrid-session/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func strPtr(s string) *string { return &s }

func TestCreate_OneActiveEntityPerDevice(t *testing.T) {
	r := registry.NewRegistry(zap.NewNop())

	first, err := r.Create(strPtr("ana"), "bike-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.EntityActive, first.Status)

	// second entity on a mapped device violates the invariant
	_, err = r.Create(strPtr("ben"), "bike-1", time.Now())
	assert.Error(t, err)

	// after ending the first, the device slot is free again
	ok := r.EndEntity(first.EntityID, registry.EndOptions{Status: models.EntityTransferred, TransferredTo: "ben"})
	require.True(t, ok)

	second, err := r.Create(strPtr("ben"), "bike-1", time.Now())
	require.NoError(t, err)
	assert.NotEqual(t, first.EntityID, second.EntityID)
}

func TestEndEntity_NonActiveIsNoOp(t *testing.T) {
	r := registry.NewRegistry(zap.NewNop())

	e, err := r.Create(strPtr("ana"), "bike-1", time.Now())
	require.NoError(t, err)

	require.True(t, r.EndEntity(e.EntityID, registry.EndOptions{Status: models.EntityDropped, Reason: "signal lost"}))

	// ending again must not transition
	assert.False(t, r.EndEntity(e.EntityID, registry.EndOptions{Status: models.EntityEnded}))

	got, ok := r.Get(e.EntityID)
	require.True(t, ok)
	assert.Equal(t, models.EntityDropped, got.Status)
	assert.Equal(t, "signal lost", got.Reason)
	assert.NotNil(t, got.EndTime)
}

func TestEndEntity_UnknownEntity(t *testing.T) {
	r := registry.NewRegistry(zap.NewNop())
	assert.False(t, r.EndEntity("ghost", registry.EndOptions{}))
}

func TestEndEntity_DefaultsToEnded(t *testing.T) {
	r := registry.NewRegistry(zap.NewNop())
	e, _ := r.Create(nil, "bike-1", time.Now())

	require.True(t, r.EndEntity(e.EntityID, registry.EndOptions{}))
	got, _ := r.Get(e.EntityID)
	assert.Equal(t, models.EntityEnded, got.Status)
}

func TestGetByDeviceAndProfile(t *testing.T) {
	r := registry.NewRegistry(zap.NewNop())

	e1, _ := r.Create(strPtr("ana"), "bike-1", time.Now())
	r.EndEntity(e1.EntityID, registry.EndOptions{Status: models.EntityTransferred, TransferredTo: "ben"})
	e2, _ := r.Create(strPtr("ana"), "bike-2", time.Now())

	active, ok := r.GetByDevice("bike-2")
	require.True(t, ok)
	assert.Equal(t, e2.EntityID, active.EntityID)

	_, ok = r.GetByDevice("bike-1")
	assert.False(t, ok)

	assert.Equal(t, e2.EntityID, r.GetEntityIDForDevice("bike-2"))
	assert.Empty(t, r.GetEntityIDForDevice("bike-1"))

	byProfile := r.GetByProfile("ana")
	assert.Len(t, byProfile, 2)

	assert.Len(t, r.GetActive(), 1)
}

func TestSnapshotAndReset(t *testing.T) {
	r := registry.NewRegistry(zap.NewNop())

	e, _ := r.Create(strPtr("ana"), "bike-1", time.Now())
	r.AddCoins(e.EntityID, 7)
	r.SetCumulative(e.EntityID, models.CumulativeMetrics{HeartBeats: 120.5, Rotations: 33.3})

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 7, snap[0].Coins)
	assert.Equal(t, 120.5, snap[0].HeartBeats)
	assert.Equal(t, 33.3, snap[0].Rotations)

	r.Reset()
	assert.Empty(t, r.Snapshot())
	assert.Empty(t, r.GetActive())
}

func TestGet_ReturnsCopy(t *testing.T) {
	r := registry.NewRegistry(zap.NewNop())
	e, _ := r.Create(strPtr("ana"), "bike-1", time.Now())

	got, _ := r.Get(e.EntityID)
	got.Coins = 999
	*got.ProfileID = "mutated"

	fresh, _ := r.Get(e.EntityID)
	assert.Zero(t, fresh.Coins)
	assert.Equal(t, "ana", *fresh.ProfileID)
}
