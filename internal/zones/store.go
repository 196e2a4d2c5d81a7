// Package zones derives stable per-participant heart-rate zone state.
//
// Raw zone resolution picks the highest ladder rung whose threshold is at or
// below the observed heart rate. Committed zone state is debounced with
// hysteresis so a heart rate hovering on a threshold boundary does not flap.
package zones

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"fitgrid-session/internal/models"

	"go.uber.org/zap"
)

// Hysteresis windows. A raw-zone change at least cleanTransitionMs after the
// last committed change commits immediately; otherwise the new raw zone must
// hold continuously for holdMs before it is committed.
const (
	cleanTransitionMs = 5000
	holdMs            = 3000
)

// DefaultLadder is the shared base zone ladder, used when a participant has
// no custom thresholds.
var DefaultLadder = []models.ZoneThreshold{
	{ID: "rest", Name: "Rest", Color: "#9e9e9e", MinBPM: 0, CoinValue: 0},
	{ID: "warmup", Name: "Warmup", Color: "#42a5f5", MinBPM: 90, CoinValue: 1},
	{ID: "fat_burn", Name: "Fat Burn", Color: "#66bb6a", MinBPM: 110, CoinValue: 2},
	{ID: "cardio", Name: "Cardio", Color: "#ffa726", MinBPM: 130, CoinValue: 3},
	{ID: "peak", Name: "Peak", Color: "#ef5350", MinBPM: 150, CoinValue: 4},
}

// ZoneProgress describes how far into the committed zone the last observed
// heart rate sits.
type ZoneProgress struct {
	ZoneMinBPM     int
	NextZoneMinBPM *int
	Fraction       float64
}

// ZoneProfile is the derived zone state for one participant. It is a value
// snapshot; mutating it never affects the store.
type ZoneProfile struct {
	UserID     string
	ZoneConfig []models.ZoneThreshold
	ZoneID     string
	ZoneName   string
	ZoneColor  string
	CoinValue  int
	RawZoneID  string
	Progress   ZoneProgress
}

type zoneState struct {
	ladder       []models.ZoneThreshold
	committed    models.ZoneThreshold
	committedAt  time.Time
	everObserved bool
	rawID        string
	lastHeart    int
	pendingID    string
	pendingSince time.Time
}

// Store caches per-participant zone state and recomputes it on sync.
type Store struct {
	mu        sync.Mutex
	base      []models.ZoneThreshold
	states    map[string]*zoneState
	signature uint64
	logger    *zap.Logger
}

// NewStore creates a zone store with the given base ladder; nil selects
// DefaultLadder.
func NewStore(base []models.ZoneThreshold, logger *zap.Logger) *Store {
	if base == nil {
		base = DefaultLadder
	}
	ladder := append([]models.ZoneThreshold(nil), base...)
	sort.SliceStable(ladder, func(i, j int) bool { return ladder[i].MinBPM < ladder[j].MinBPM })
	return &Store{
		base:   ladder,
		states: make(map[string]*zoneState),
		logger: logger,
	}
}

// Observe feeds one heart-rate observation through the hysteresis state
// machine. Non-positive heart rates are ignored.
func (s *Store) Observe(userID string, custom []models.ZoneThreshold, heartRate int, now time.Time) {
	if heartRate <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observeLocked(userID, custom, heartRate, now)
}

func (s *Store) observeLocked(userID string, custom []models.ZoneThreshold, heartRate int, now time.Time) {
	st, ok := s.states[userID]
	if !ok {
		st = &zoneState{}
		s.states[userID] = st
	}
	st.ladder = s.ladderFor(custom)
	st.lastHeart = heartRate

	raw := resolveZone(st.ladder, heartRate)
	st.rawID = raw.ID

	if !st.everObserved {
		// first observation commits immediately
		st.committed = raw
		st.committedAt = now
		st.everObserved = true
		return
	}

	if raw.ID == st.committed.ID {
		st.pendingID = ""
		return
	}

	if now.Sub(st.committedAt) >= cleanTransitionMs*time.Millisecond {
		s.commit(st, userID, raw, now)
		return
	}

	if st.pendingID != raw.ID {
		st.pendingID = raw.ID
		st.pendingSince = now
		return
	}

	if now.Sub(st.pendingSince) >= holdMs*time.Millisecond {
		s.commit(st, userID, raw, now)
	}
}

func (s *Store) commit(st *zoneState, userID string, raw models.ZoneThreshold, now time.Time) {
	prev := st.committed.ID
	st.committed = raw
	st.committedAt = now
	st.pendingID = ""
	if s.logger != nil {
		s.logger.Debug("Committed zone change",
			zap.String("user_id", userID),
			zap.String("from", prev),
			zap.String("to", raw.ID),
		)
	}
}

func (s *Store) ladderFor(custom []models.ZoneThreshold) []models.ZoneThreshold {
	if len(custom) == 0 {
		return s.base
	}
	ladder := append([]models.ZoneThreshold(nil), custom...)
	sort.SliceStable(ladder, func(i, j int) bool { return ladder[i].MinBPM < ladder[j].MinBPM })
	return ladder
}

// resolveZone picks the highest rung whose threshold is at or below the
// heart rate, falling back to the lowest rung.
func resolveZone(ladder []models.ZoneThreshold, heartRate int) models.ZoneThreshold {
	zone := ladder[0]
	for _, rung := range ladder {
		if rung.MinBPM <= heartRate {
			zone = rung
		}
	}
	return zone
}

// SyncFromUsers feeds the live heart rate of every profile through the state
// machine, then recomputes the content signature over all derived profiles.
// It returns true only when something actually changed, letting callers skip
// redundant downstream work.
func (s *Store) SyncFromUsers(users []models.ParticipantProfile, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range users {
		if user.Metrics.HeartRate != nil && *user.Metrics.HeartRate > 0 {
			s.observeLocked(user.ID, user.ZoneThresholds, *user.Metrics.HeartRate, now)
		}
	}

	sig := s.signatureLocked()
	if sig == s.signature {
		return false
	}
	s.signature = sig
	return true
}

func (s *Store) signatureLocked() uint64 {
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := fnv.New64a()
	for _, id := range ids {
		st := s.states[id]
		fmt.Fprintf(h, "%s|%s|%s|%d\n", id, st.committed.ID, st.rawID, len(st.ladder))
		for _, rung := range st.ladder {
			fmt.Fprintf(h, "%s:%d:%d\n", rung.ID, rung.MinBPM, rung.CoinValue)
		}
	}
	return h.Sum64()
}

// GetProfile returns a defensive copy of the derived zone profile for one
// participant, or nil if the participant has never been observed.
func (s *Store) GetProfile(userID string) *ZoneProfile {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[userID]
	if !ok || !st.everObserved {
		return nil
	}
	return s.profileLocked(userID, st)
}

// Profiles returns defensive copies of every derived zone profile.
func (s *Store) Profiles() map[string]*ZoneProfile {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*ZoneProfile, len(s.states))
	for id, st := range s.states {
		if st.everObserved {
			out[id] = s.profileLocked(id, st)
		}
	}
	return out
}

func (s *Store) profileLocked(userID string, st *zoneState) *ZoneProfile {
	profile := &ZoneProfile{
		UserID:     userID,
		ZoneConfig: append([]models.ZoneThreshold(nil), st.ladder...),
		ZoneID:     st.committed.ID,
		ZoneName:   st.committed.Name,
		ZoneColor:  st.committed.Color,
		CoinValue:  st.committed.CoinValue,
		RawZoneID:  st.rawID,
		Progress:   progressFor(st),
	}
	return profile
}

func progressFor(st *zoneState) ZoneProgress {
	progress := ZoneProgress{ZoneMinBPM: st.committed.MinBPM}
	for _, rung := range st.ladder {
		if rung.MinBPM > st.committed.MinBPM {
			next := rung.MinBPM
			progress.NextZoneMinBPM = &next
			span := next - st.committed.MinBPM
			if span > 0 {
				frac := float64(st.lastHeart-st.committed.MinBPM) / float64(span)
				if frac < 0 {
					frac = 0
				}
				if frac > 1 {
					frac = 1
				}
				progress.Fraction = frac
			}
			break
		}
	}
	return progress
}

// Reset clears all derived state.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = make(map[string]*zoneState)
	s.signature = 0
}
