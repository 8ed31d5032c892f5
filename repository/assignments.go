package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresAssignments is the secondary tier of the assignment map, one row per session.
type PostgresAssignments struct {
	db DBTX
}

func NewPostgresAssignments(db DBTX) *PostgresAssignments {
	return &PostgresAssignments{db: db}
}

func (r *PostgresAssignments) Load(ctx context.Context, sessionID string) (*AssignmentSession, error) {
	var (
		s    AssignmentSession
		data []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT selected, assignments FROM assignment_sessions WHERE session_id = $1`, sessionID,
	).Scan(&s.Selected, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load assignments: %w", err)
	}
	if err := json.Unmarshal(data, &s.Assignments); err != nil {
		return nil, fmt.Errorf("session %s assignments: %w", sessionID, err)
	}
	if s.Assignments == nil {
		s.Assignments = map[string]string{}
	}
	return &s, nil
}

func (r *PostgresAssignments) Save(ctx context.Context, sessionID string, s *AssignmentSession) error {
	assignments := s.Assignments
	if assignments == nil {
		assignments = map[string]string{}
	}
	data, err := json.Marshal(assignments)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO assignment_sessions (session_id, selected, assignments, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (session_id)
		DO UPDATE SET selected = EXCLUDED.selected, assignments = EXCLUDED.assignments, updated_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query, sessionID, s.Selected, data); err != nil {
		return fmt.Errorf("failed to save assignments: %w", err)
	}
	return nil
}

func (r *PostgresAssignments) Clear(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM assignment_sessions WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to clear assignments: %w", err)
	}
	return nil
}
