// Package service wires the session components together and drives the
// sampling clock.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fitgrid-session/internal/collab"
	"fitgrid-session/internal/config"
	"fitgrid-session/internal/consumer"
	"fitgrid-session/internal/export"
	"fitgrid-session/internal/journal"
	"fitgrid-session/internal/ledger"
	"fitgrid-session/internal/models"
	"fitgrid-session/internal/persistence"
	"fitgrid-session/internal/recorder"
	"fitgrid-session/internal/registry"
	"fitgrid-session/internal/repository"
	"fitgrid-session/internal/router"
	"fitgrid-session/internal/timeline"
	"fitgrid-session/internal/zones"
)

// Infra carries the externally connected resources the service is wired
// onto. Tests inject fakes; ConnectSessionService dials the real ones.
type Infra struct {
	Journal    collab.EventJournal
	Archive    persistence.Archiver
	Subscriber consumer.Subscriber
	Catalog    []models.EquipmentEntry
	Roster     []models.ParticipantProfile
}

// SessionService owns the full session lifecycle: telemetry ingestion,
// the tick loop, assignment bookkeeping and final persistence.
type SessionService struct {
	config *config.Config
	logger *zap.Logger

	// connected resources, closed by Stop
	db            *sql.DB
	streamJournal *journal.StreamJournal
	mqttClient    *consumer.MQTTClient

	devices     *collab.InMemoryDeviceManager
	users       *RosterUserManager
	coins       *ZoneCoinBox
	activity    *collab.SlidingActivityMonitor
	journal     collab.EventJournal
	assignments *ledger.Ledger
	zoneStore   *zones.Store
	entities    *registry.Registry
	persist     *persistence.Manager
	ingest      *consumer.TelemetryConsumer

	mu             sync.Mutex
	rec            *recorder.Recorder
	startTime      time.Time
	primaryProfile string
	// occupant slug recorded when each device's current entity was created
	entityOccupant map[string]string

	// 1 while a tick is running; a tick firing meanwhile is skipped
	ticking int32
}

// NewSessionService wires a service over already-connected infrastructure.
func NewSessionService(cfg *config.Config, infra Infra, logger *zap.Logger) *SessionService {
	jnl := infra.Journal
	if jnl == nil {
		jnl = collab.NopJournal{}
	}

	assignments := ledger.NewLedger(jnl, logger)
	zoneStore := zones.NewStore(nil, logger)
	users := NewRosterUserManager(assignments)
	users.SetRoster(infra.Roster)
	devices := collab.NewInMemoryDeviceManager()

	s := &SessionService{
		config:         cfg,
		logger:         logger,
		devices:        devices,
		users:          users,
		coins:          NewZoneCoinBox(zoneStore),
		activity:       collab.NewSlidingActivityMonitor(),
		journal:        jnl,
		assignments:    assignments,
		zoneStore:      zoneStore,
		entities:       registry.NewRegistry(logger),
		entityOccupant: make(map[string]string),
	}

	s.persist = persistence.NewManager(
		cfg.Persistence.EndpointURL,
		time.Duration(cfg.Persistence.TimeoutSec)*time.Second,
		infra.Archive,
		logger,
	)

	if infra.Subscriber != nil {
		s.ingest = consumer.NewTelemetryConsumer(
			infra.Subscriber,
			router.NewRouter(router.NewCatalog(infra.Catalog), logger),
			devices,
			[]string{cfg.MQTT.FitnessTopic, cfg.MQTT.VibrationTopic},
			logger,
		)
	}

	return s
}

// ConnectSessionService dials the MQTT broker, Redis and (optionally)
// Postgres, then wires the service.
func ConnectSessionService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*SessionService, error) {
	catalog, err := LoadEquipmentCatalog(cfg.Session.EquipmentFile)
	if err != nil {
		return nil, err
	}

	var roster []models.ParticipantProfile
	if cfg.Session.RosterFile != "" {
		roster, err = LoadRoster(cfg.Session.RosterFile)
		if err != nil {
			return nil, err
		}
	}

	streamJournal := journal.NewStreamJournal(
		journal.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB),
		cfg.Redis.JournalStream,
		logger,
	)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := streamJournal.Ping(pingCtx); err != nil {
		streamJournal.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	var db *sql.DB
	var archive persistence.Archiver
	if cfg.Database.Host != "" {
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.User,
			cfg.Database.Password, cfg.Database.Database, cfg.Database.SSLMode)
		db, err = repository.OpenDatabase(dsn)
		if err != nil {
			streamJournal.Close()
			return nil, err
		}
		archive = repository.NewSessionArchiveRepository(db, logger)
	}

	mqttClient, err := consumer.NewMQTTClient(consumer.MQTTOptions{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
	}, logger)
	if err != nil {
		streamJournal.Close()
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	s := NewSessionService(cfg, Infra{
		Journal:    streamJournal,
		Archive:    archive,
		Subscriber: mqttClient,
		Catalog:    catalog,
		Roster:     roster,
	}, logger)
	s.db = db
	s.streamJournal = streamJournal
	s.mqttClient = mqttClient
	return s, nil
}

// StartSession begins recording a new session, replacing any previous one.
// An empty id generates one. Returns the session id.
func (s *SessionService) StartSession(sessionID string) string {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entities.Reset()
	s.zoneStore.Reset()
	s.coins.Reset()
	s.entityOccupant = make(map[string]string)

	tl := timeline.New(s.config.Session.TickIntervalMs)
	s.rec = recorder.NewRecorder(sessionID, s.config.Session.TickIntervalMs, tl, recorder.Deps{
		Devices:  s.devices,
		Users:    s.users,
		Coins:    s.coins,
		Activity: s.activity,
		Journal:  s.journal,
		Ledger:   s.assignments,
		Zones:    s.zoneStore,
		Registry: s.entities,
		Logger:   s.logger,
	})
	s.startTime = time.Now()

	s.journal.Log("session_started", map[string]any{
		"session_id":  sessionID,
		"interval_ms": s.config.Session.TickIntervalMs,
	})
	s.logger.Info("session started",
		zap.String("session_id", sessionID),
		zap.Int("interval_ms", s.config.Session.TickIntervalMs))
	return sessionID
}

// SetPrimaryProfile marks the roster profile the persisted document
// flags as primary.
func (s *SessionService) SetPrimaryProfile(profileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primaryProfile = profileID
}

// Start runs the telemetry consumer and the tick loop until the context
// is canceled.
func (s *SessionService) Start(ctx context.Context) error {
	if s.ingest != nil {
		go func() {
			if err := s.ingest.Start(ctx); err != nil {
				s.logger.Error("telemetry consumer failed", zap.Error(err))
			}
		}()
	}

	interval := time.Duration(s.config.Session.TickIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("tick loop started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// Tick records one sample. A tick that fires while the previous one is
// still running is skipped, never queued.
func (s *SessionService) Tick(now time.Time) *recorder.TickResult {
	if !atomic.CompareAndSwapInt32(&s.ticking, 0, 1) {
		s.logger.Warn("previous tick still running, skipping")
		return nil
	}
	defer atomic.StoreInt32(&s.ticking, 0)

	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()
	if rec == nil {
		return nil
	}

	s.users.ApplyDeviceMetrics(s.devices.GetAllDevices())
	s.zoneStore.SyncFromUsers(s.users.Roster(), now)
	return rec.RecordTick(now)
}

// UpdateAssignments replaces the assignment set and reconciles session
// entities with it. Accepts the same input shapes as the ledger.
func (s *SessionService) UpdateAssignments(input any) error {
	changed, err := s.assignments.SyncFromAssignments(input)
	if err != nil {
		return err
	}
	if changed {
		s.reconcileEntities(time.Now())
	}
	return nil
}

// AssignDevice records one assignment and reconciles entities.
func (s *SessionService) AssignDevice(a ledger.Assignment) {
	s.assignments.Upsert(a)
	s.reconcileEntities(time.Now())
}

// ReleaseDevice drops one assignment; the device's entity ends as dropped.
func (s *SessionService) ReleaseDevice(deviceID, reason string) {
	s.assignments.Remove(deviceID)
	now := time.Now()
	if e, ok := s.entities.GetByDevice(deviceID); ok {
		s.entities.EndEntity(e.EntityID, registry.EndOptions{
			Status:    models.EntityDropped,
			Timestamp: now,
			Reason:    reason,
		})
	}
	s.mu.Lock()
	delete(s.entityOccupant, deviceID)
	s.mu.Unlock()
}

// reconcileEntities aligns active entities with the current assignment
// set: devices without an assignment drop their entity, occupant changes
// end the old entity and create a fresh one, newly assigned devices get
// an entity. Occupants without a roster profile become guests.
func (s *SessionService) reconcileEntities(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	assigned := make(map[string]ledger.Assignment)
	for _, a := range s.assignments.All() {
		assigned[a.DeviceID] = a
	}

	for _, e := range s.entities.GetActive() {
		a, ok := assigned[e.DeviceID]
		if !ok {
			s.entities.EndEntity(e.EntityID, registry.EndOptions{
				Status:    models.EntityDropped,
				Timestamp: now,
				Reason:    "assignment removed",
			})
			delete(s.entityOccupant, e.DeviceID)
			continue
		}
		if s.entityOccupant[e.DeviceID] != a.OccupantSlug {
			s.entities.EndEntity(e.EntityID, registry.EndOptions{
				Status:    models.EntityDropped,
				Timestamp: now,
				Reason:    "occupant changed",
			})
			delete(s.entityOccupant, e.DeviceID)
		}
	}

	for deviceID, a := range assigned {
		if s.entities.GetEntityIDForDevice(deviceID) != "" {
			continue
		}
		var profileID *string
		if a.OccupantType != "guest" && s.users.HasProfile(a.OccupantSlug) {
			slug := a.OccupantSlug
			profileID = &slug
		}
		if _, err := s.entities.Create(profileID, deviceID, now); err != nil {
			s.logger.Warn("failed to create session entity",
				zap.String("device_id", deviceID),
				zap.Error(err))
			continue
		}
		s.entityOccupant[deviceID] = a.OccupantSlug
	}
}

// TransferDevice moves an occupant and their entity from one device to
// another. Any occupant already on the target is displaced and their
// entity dropped. Accrued integrals stay with the profile, so no metric
// movement is needed here.
func (s *SessionService) TransferDevice(fromDevice, toDevice string) error {
	a, ok := s.assignments.Get(fromDevice)
	if !ok {
		return fmt.Errorf("no assignment for device %s", fromDevice)
	}
	fromEnt, ok := s.entities.GetByDevice(fromDevice)
	if !ok {
		return fmt.Errorf("no active entity for device %s", fromDevice)
	}

	now := time.Now()

	if target, ok := s.entities.GetByDevice(toDevice); ok {
		s.entities.EndEntity(target.EntityID, registry.EndOptions{
			Status:    models.EntityDropped,
			Timestamp: now,
			Reason:    "displaced",
		})
	}

	displaced := s.assignments.OccupantFor(toDevice)
	s.assignments.Remove(fromDevice)
	moved := a
	moved.DeviceID = toDevice
	moved.DisplacedSlug = displaced
	s.assignments.Upsert(moved)

	newEnt, err := s.entities.Create(fromEnt.ProfileID, toDevice, now)
	if err != nil {
		return fmt.Errorf("failed to create entity on target device: %w", err)
	}
	s.entities.EndEntity(fromEnt.EntityID, registry.EndOptions{
		Status:        models.EntityTransferred,
		Timestamp:     now,
		TransferredTo: newEnt.EntityID,
	})

	s.mu.Lock()
	delete(s.entityOccupant, fromDevice)
	s.entityOccupant[toDevice] = a.OccupantSlug
	s.mu.Unlock()

	s.journal.Log("device_transferred", map[string]any{
		"from_device": fromDevice,
		"to_device":   toDevice,
		"occupant":    a.OccupantSlug,
		"displaced":   displaced,
	})
	return nil
}

// TransferCumulative moves accrued integrals between profiles, for when
// an occupant identity is corrected mid-session.
func (s *SessionService) TransferCumulative(fromProfileID, toProfileID string) bool {
	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()
	if rec == nil {
		return false
	}
	return rec.TransferCumulativeMetrics(fromProfileID, toProfileID)
}

// Finish ends every active entity, hands the session to the persistence
// pipeline and, when configured, writes the summary workbook. The
// returned channel delivers the terminal outcome of the async save.
func (s *SessionService) Finish(ctx context.Context, force bool) (<-chan error, error) {
	s.mu.Lock()
	rec := s.rec
	start := s.startTime
	primary := s.primaryProfile
	s.mu.Unlock()

	if rec == nil {
		return nil, fmt.Errorf("no session in progress")
	}

	end := time.Now()
	for _, e := range s.entities.GetActive() {
		if e.ProfileID != nil {
			s.entities.SetCumulative(e.EntityID, rec.CumulativeFor(*e.ProfileID))
		}
		s.entities.EndEntity(e.EntityID, registry.EndOptions{
			Status:    models.EntityEnded,
			Timestamp: end,
			Reason:    "session finished",
		})
	}

	data := persistence.SessionData{
		SessionID:        rec.SessionID(),
		StartTime:        start,
		EndTime:          end,
		Timezone:         s.config.Session.Timezone,
		Timeline:         rec.Timeline(),
		Roster:           s.users.Roster(),
		Assignments:      s.assignments.All(),
		Entities:         s.entities.Snapshot(),
		PrimaryProfileID: primary,
	}

	done, err := s.persist.PersistSession(ctx, data, force)
	if err != nil {
		return nil, err
	}

	s.journal.Log("session_finished", map[string]any{
		"session_id": data.SessionID,
		"tick_count": data.Timeline.TickCount(),
	})

	if s.config.Session.ExportDir != "" {
		doc := persistence.BuildDocument(data)
		path, err := export.WriteSessionWorkbook(s.config.Session.ExportDir, doc)
		if err != nil {
			s.logger.Error("failed to write summary workbook", zap.Error(err))
		} else {
			s.logger.Info("summary workbook written", zap.String("path", path))
		}
	}

	s.mu.Lock()
	s.rec = nil
	s.mu.Unlock()
	return done, nil
}

// Entities exposes the registry for presentation layers.
func (s *SessionService) Entities() *registry.Registry {
	return s.entities
}

// Devices exposes the device manager for presentation layers.
func (s *SessionService) Devices() collab.DeviceManager {
	return s.devices
}

// Stop releases the connected resources.
func (s *SessionService) Stop(ctx context.Context) error {
	s.logger.Info("stopping session service")

	if s.ingest != nil {
		if err := s.ingest.Stop(ctx); err != nil {
			s.logger.Error("error stopping consumer", zap.Error(err))
		}
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.streamJournal != nil {
		if err := s.streamJournal.Close(); err != nil {
			s.logger.Error("error closing redis connection", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("error closing database connection", zap.Error(err))
		}
	}

	s.logger.Info("session service stopped")
	return nil
}
