// Package repository stores persisted session documents in Postgres.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"fitgrid-session/internal/persistence"
)

// SessionArchiveRepository keeps a local copy of every session document
// sent to the save endpoint. It implements persistence.Archiver.
type SessionArchiveRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSessionArchiveRepository creates the archive repository.
func NewSessionArchiveRepository(db *sql.DB, logger *zap.Logger) *SessionArchiveRepository {
	return &SessionArchiveRepository{
		db:     db,
		logger: logger,
	}
}

// OpenDatabase opens a Postgres connection from a DSN.
func OpenDatabase(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// ArchivedSession is one stored session row.
type ArchivedSession struct {
	SessionID        string
	SessionDate      string
	DurationSeconds  int
	ParticipantCount int
	TotalCoins       int
	Document         json.RawMessage
	CreatedAt        time.Time
}

// SaveRecord inserts a session document. A second save of the same
// session replaces the stored document.
func (r *SessionArchiveRepository) SaveRecord(ctx context.Context, doc *persistence.Document) error {
	if doc == nil {
		return fmt.Errorf("document is required")
	}
	if doc.Session.ID == "" {
		return fmt.Errorf("session id is required")
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal session document: %w", err)
	}

	query := `
		INSERT INTO session_records (
			session_id,
			session_date,
			duration_seconds,
			participant_count,
			total_coins,
			document,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP
		)
		ON CONFLICT (session_id) DO UPDATE SET
			session_date = EXCLUDED.session_date,
			duration_seconds = EXCLUDED.duration_seconds,
			participant_count = EXCLUDED.participant_count,
			total_coins = EXCLUDED.total_coins,
			document = EXCLUDED.document,
			created_at = CURRENT_TIMESTAMP
	`

	_, err = r.db.ExecContext(ctx, query,
		doc.Session.ID,
		doc.Session.Date,
		doc.Session.DurationSeconds,
		len(doc.Participants),
		doc.Summary.TotalCoins,
		body,
	)
	if err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}

	r.logger.Info("session archived",
		zap.String("session_id", doc.Session.ID),
		zap.Int("participants", len(doc.Participants)))
	return nil
}

// GetSession fetches one archived session by id.
func (r *SessionArchiveRepository) GetSession(ctx context.Context, sessionID string) (*ArchivedSession, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	query := `
		SELECT
			session_id,
			session_date,
			duration_seconds,
			participant_count,
			total_coins,
			document,
			created_at
		FROM session_records
		WHERE session_id = $1
	`

	var rec ArchivedSession
	var body []byte
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&rec.SessionID,
		&rec.SessionDate,
		&rec.DurationSeconds,
		&rec.ParticipantCount,
		&rec.TotalCoins,
		&body,
		&rec.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session not found: session_id=%s", sessionID)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if len(body) > 0 {
		rec.Document = body
	} else {
		rec.Document = json.RawMessage("{}")
	}
	return &rec, nil
}

// ListRecentSessions returns the newest sessions, most recent first.
func (r *SessionArchiveRepository) ListRecentSessions(ctx context.Context, limit int) ([]*ArchivedSession, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT
			session_id,
			session_date,
			duration_seconds,
			participant_count,
			total_coins,
			document,
			created_at
		FROM session_records
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*ArchivedSession{}
	for rows.Next() {
		var rec ArchivedSession
		var body []byte
		err := rows.Scan(
			&rec.SessionID,
			&rec.SessionDate,
			&rec.DurationSeconds,
			&rec.ParticipantCount,
			&rec.TotalCoins,
			&body,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if len(body) > 0 {
			rec.Document = body
		} else {
			rec.Document = json.RawMessage("{}")
		}
		sessions = append(sessions, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}
