package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/WiesHerd/contractpipeline/model"
)

type PostgresAudit struct {
	db DBTX
}

func NewPostgresAudit(db DBTX) *PostgresAudit {
	return &PostgresAudit{db: db}
}

func (r *PostgresAudit) Insert(ctx context.Context, e *model.AuditEvent) error {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("audit metadata: %w", err)
	}
	query := `
		INSERT INTO audit_events (id, action, severity, category, resource_type, resource_id, actor, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := r.db.ExecContext(ctx, query,
		e.ID, e.Action, string(e.Severity), e.Category, e.ResourceType, e.ResourceID, e.Actor, data, e.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// List returns the newest events first.
func (r *PostgresAudit) List(ctx context.Context, limit int) ([]*model.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, action, severity, category, resource_type, resource_id, actor, metadata, created_at
		FROM audit_events ORDER BY created_at DESC, id DESC LIMIT $1`, clampPageSize(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var result []*model.AuditEvent
	for rows.Next() {
		var (
			e        model.AuditEvent
			severity string
			meta     []byte
		)
		if err := rows.Scan(&e.ID, &e.Action, &severity, &e.Category, &e.ResourceType, &e.ResourceID, &e.Actor, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Severity = model.Severity(severity)
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("audit %s metadata: %w", e.ID, err)
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
