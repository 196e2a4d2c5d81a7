package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrPersistInFlight is returned when a persist is requested while another
// one is still outstanding. Concurrent attempts are rejected, not queued.
var ErrPersistInFlight = errors.New("session persist already in flight")

// Archiver stores a copy of the persisted document locally. Archive failures
// are logged and never retried; they do not fail the persist.
type Archiver interface {
	SaveRecord(ctx context.Context, doc *Document) error
}

// Manager validates, encodes and ships completed sessions to the session
// save endpoint. The network call is fire-and-forget from the caller's
// perspective: PersistSession returns once the document is built, and the
// returned channel reports the terminal transport outcome.
type Manager struct {
	client   *resty.Client
	endpoint string
	archive  Archiver
	logger   *zap.Logger

	mu       sync.Mutex
	inFlight int
}

// NewManager creates a persistence manager for the given save endpoint.
// archive may be nil.
func NewManager(endpoint string, timeout time.Duration, archive Archiver, logger *zap.Logger) *Manager {
	// no retry configuration: failed persistence is never retried automatically
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Manager{
		client:   client,
		endpoint: endpoint,
		archive:  archive,
		logger:   logger,
	}
}

// Busy reports whether any persist is currently outstanding.
func (m *Manager) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight > 0
}

// PersistSession validates and encodes the session, then ships it in the
// background. A second request while one is outstanding is rejected with
// ErrPersistInFlight unless force is set. Validation failures are returned
// synchronously as *ValidationError; the returned channel delivers the
// terminal transport outcome. The in-flight count is tracked per persist, so
// a forced persist overlapping an outstanding one keeps the manager busy
// until both have finished.
func (m *Manager) PersistSession(ctx context.Context, data SessionData, force bool) (<-chan error, error) {
	m.mu.Lock()
	if m.inFlight > 0 && !force {
		m.mu.Unlock()
		m.logger.Warn("Rejected concurrent session persist",
			zap.String("session_id", data.SessionID),
		)
		return nil, ErrPersistInFlight
	}
	m.inFlight++
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}

	if err := Validate(data); err != nil {
		release()
		var verr *ValidationError
		if errors.As(err, &verr) {
			m.logger.Warn("Session failed validation",
				zap.String("session_id", data.SessionID),
				zap.String("reason", verr.Reason),
			)
		}
		return nil, err
	}

	doc := BuildDocument(data)

	done := make(chan error, 1)
	go func() {
		defer release()

		err := m.send(ctx, doc)
		if err != nil {
			m.logger.Error("Session persistence failed",
				zap.String("session_id", data.SessionID),
				zap.Error(err),
			)
			done <- err
			return
		}

		m.logger.Info("Session persisted",
			zap.String("session_id", data.SessionID),
			zap.Int("tick_count", doc.Timeline.TickCount),
			zap.Int("series_count", len(doc.Timeline.Series)),
		)

		if m.archive != nil {
			if archErr := m.archive.SaveRecord(ctx, doc); archErr != nil {
				m.logger.Error("Session archive write failed",
					zap.String("session_id", data.SessionID),
					zap.Error(archErr),
				)
			}
		}
		done <- nil
	}()
	return done, nil
}

func (m *Manager) send(ctx context.Context, doc *Document) error {
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(doc).
		Post(m.endpoint)
	if err != nil {
		return fmt.Errorf("session save request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("session save rejected: status %d", resp.StatusCode())
	}
	return nil
}
