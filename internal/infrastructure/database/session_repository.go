package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/optimiscs/ZhimoWanxiang/internal/domain"
	"github.com/optimiscs/ZhimoWanxiang/internal/domain/entity"
)

// sessionRepository implements domain.SessionRepository on SQLite.
type sessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates the SQLite-backed session repository
func NewSessionRepository(db *sql.DB) domain.SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(ctx context.Context, session *entity.ChatSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, user_id, title, model, temperature, enable_search, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.Title,
		session.Settings.Model, session.Settings.Temperature, boolToInt(session.Settings.EnableSearch),
		session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (r *sessionRepository) GetByID(ctx context.Context, sessionID string) (*entity.ChatSession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, model, temperature, enable_search, created_at, updated_at
		 FROM chat_sessions WHERE id = ?`, sessionID)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("Session", sessionID)
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

func (r *sessionRepository) ListByUser(ctx context.Context, userID string) ([]*entity.ChatSession, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, title, model, temperature, enable_search, created_at, updated_at
		 FROM chat_sessions WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*entity.ChatSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (r *sessionRepository) UpdateTitle(ctx context.Context, sessionID, title string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE chat_sessions SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFoundError("Session", sessionID)
	}
	return nil
}

func (r *sessionRepository) UpdateSettings(ctx context.Context, sessionID string, settings entity.SessionSettings) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE chat_sessions SET model = ?, temperature = ?, enable_search = ?, updated_at = ? WHERE id = ?`,
		settings.Model, settings.Temperature, boolToInt(settings.EnableSearch), time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFoundError("Session", sessionID)
	}
	return nil
}

func (r *sessionRepository) Touch(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE chat_sessions SET updated_at = ? WHERE id = ?`, time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (r *sessionRepository) Delete(ctx context.Context, sessionID string) error {
	// Messages go with the session; foreign_keys=on makes the cascade fire
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM chat_sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFoundError("Session", sessionID)
	}
	return nil
}

func scanSession(row rowScanner) (*entity.ChatSession, error) {
	var (
		session      entity.ChatSession
		enableSearch int
	)
	err := row.Scan(&session.ID, &session.UserID, &session.Title,
		&session.Settings.Model, &session.Settings.Temperature, &enableSearch,
		&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, err
	}
	session.Settings.EnableSearch = enableSearch != 0
	return &session, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
