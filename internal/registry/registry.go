// Package registry owns the per-occupancy session segments ("entities")
// for one session.
package registry

import (
	"fmt"
	"sync"
	"time"

	"fitgrid-session/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EndOptions controls how an entity is terminated.
type EndOptions struct {
	// Terminal status; defaults to EntityEnded.
	Status models.EntityStatus
	// End timestamp; defaults to time.Now().
	Timestamp time.Time
	// Receiving profile id for transfers.
	TransferredTo string
	// Free-form reason recorded on the entity.
	Reason string
}

// EntitySummary is the serializable view of one entity.
type EntitySummary struct {
	EntityID      string              `json:"entity_id"`
	ProfileID     *string             `json:"profile_id,omitempty"`
	DeviceID      string              `json:"device_id"`
	StartTime     time.Time           `json:"start_time"`
	EndTime       *time.Time          `json:"end_time,omitempty"`
	Status        models.EntityStatus `json:"status"`
	Coins         int                 `json:"coins"`
	HeartBeats    float64             `json:"heart_beats"`
	Rotations     float64             `json:"rotations"`
	TransferredTo *string             `json:"transferred_to,omitempty"`
	Reason        string              `json:"reason,omitempty"`
}

// Registry holds all entities for a session plus the device-to-active-entity
// mapping. Invariant: at most one active entity per device.
type Registry struct {
	mu             sync.Mutex
	entities       map[string]*models.SessionEntity
	activeByDevice map[string]string
	logger         *zap.Logger
}

// NewRegistry creates an empty entity registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		entities:       make(map[string]*models.SessionEntity),
		activeByDevice: make(map[string]string),
		logger:         logger,
	}
}

// Create starts a new active entity for a device occupancy. profileID is nil
// for guests. The caller must end any prior entity on the same device first;
// creating over a still-mapped device is an error.
func (r *Registry) Create(profileID *string, deviceID string, start time.Time) (models.SessionEntity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.activeByDevice[deviceID]; ok {
		return models.SessionEntity{}, fmt.Errorf("device %s already has active entity %s", deviceID, existing)
	}

	entity := &models.SessionEntity{
		EntityID:  uuid.NewString(),
		DeviceID:  deviceID,
		StartTime: start,
		Status:    models.EntityActive,
	}
	if profileID != nil {
		id := *profileID
		entity.ProfileID = &id
	}

	r.entities[entity.EntityID] = entity
	r.activeByDevice[deviceID] = entity.EntityID

	r.logger.Debug("Created session entity",
		zap.String("entity_id", entity.EntityID),
		zap.String("device_id", deviceID),
	)
	return entity.Clone(), nil
}

// Get returns a copy of one entity.
func (r *Registry) Get(entityID string) (models.SessionEntity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[entityID]
	if !ok {
		return models.SessionEntity{}, false
	}
	return e.Clone(), true
}

// GetByDevice returns a copy of the active entity on a device.
func (r *Registry) GetByDevice(deviceID string) (models.SessionEntity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.activeByDevice[deviceID]
	if !ok {
		return models.SessionEntity{}, false
	}
	return r.entities[id].Clone(), true
}

// GetEntityIDForDevice returns the active entity id for a device, or "".
func (r *Registry) GetEntityIDForDevice(deviceID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeByDevice[deviceID]
}

// GetActive returns copies of all active entities.
func (r *Registry) GetActive() []models.SessionEntity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.SessionEntity, 0, len(r.activeByDevice))
	for _, id := range r.activeByDevice {
		out = append(out, r.entities[id].Clone())
	}
	return out
}

// GetByProfile returns copies of all entities belonging to a profile, in no
// particular order.
func (r *Registry) GetByProfile(profileID string) []models.SessionEntity {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SessionEntity
	for _, e := range r.entities {
		if e.ProfileID != nil && *e.ProfileID == profileID {
			out = append(out, e.Clone())
		}
	}
	return out
}

// AddCoins credits coins to an entity's per-occupancy counter.
func (r *Registry) AddCoins(entityID string, coins int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entities[entityID]; ok {
		e.Coins += coins
	}
}

// SetCumulative records the running integrals on an entity.
func (r *Registry) SetCumulative(entityID string, cumulative models.CumulativeMetrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entities[entityID]; ok {
		e.Cumulative = cumulative
	}
}

// EndEntity moves an active entity to a terminal status and releases its
// device slot. Ending a non-active entity is a logged no-op; the registry
// reports whether a transition happened.
func (r *Registry) EndEntity(entityID string, opts EndOptions) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entities[entityID]
	if !ok {
		r.logger.Warn("EndEntity on unknown entity", zap.String("entity_id", entityID))
		return false
	}
	if e.Status != models.EntityActive {
		r.logger.Warn("EndEntity on non-active entity",
			zap.String("entity_id", entityID),
			zap.String("status", string(e.Status)),
		)
		return false
	}

	status := opts.Status
	if status == "" {
		status = models.EntityEnded
	}
	if !status.Terminal() {
		r.logger.Warn("EndEntity with non-terminal status, using ended",
			zap.String("entity_id", entityID),
			zap.String("status", string(status)),
		)
		status = models.EntityEnded
	}

	ts := opts.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	e.Status = status
	e.EndTime = &ts
	e.Reason = opts.Reason
	if opts.TransferredTo != "" {
		to := opts.TransferredTo
		e.TransferredTo = &to
	}

	if r.activeByDevice[e.DeviceID] == entityID {
		delete(r.activeByDevice, e.DeviceID)
	}
	return true
}

// Snapshot returns serializable summaries of every entity.
func (r *Registry) Snapshot() []EntitySummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]EntitySummary, 0, len(r.entities))
	for _, e := range r.entities {
		c := e.Clone()
		out = append(out, EntitySummary{
			EntityID:      c.EntityID,
			ProfileID:     c.ProfileID,
			DeviceID:      c.DeviceID,
			StartTime:     c.StartTime,
			EndTime:       c.EndTime,
			Status:        c.Status,
			Coins:         c.Coins,
			HeartBeats:    c.Cumulative.HeartBeats,
			Rotations:     c.Cumulative.Rotations,
			TransferredTo: c.TransferredTo,
			Reason:        c.Reason,
		})
	}
	return out
}

// Reset drops all entities and device mappings.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities = make(map[string]*models.SessionEntity)
	r.activeByDevice = make(map[string]string)
}
