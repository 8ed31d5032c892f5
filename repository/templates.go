package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/WiesHerd/contractpipeline/mapper"
	"github.com/WiesHerd/contractpipeline/model"
)

type PostgresTemplates struct {
	db DBTX
}

func NewPostgresTemplates(db DBTX) *PostgresTemplates {
	return &PostgresTemplates{db: db}
}

const templateColumns = `id, name, tags, edited_content, preview_content, contract_year, version, mappings, created_at, updated_at`

func scanTemplate(row interface{ Scan(...any) error }) (*model.Template, error) {
	var (
		t        model.Template
		tags     []byte
		mappings []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &tags, &t.EditedContent, &t.PreviewContent, &t.ContractYear, &t.Version, &mappings, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tags, &t.Tags); err != nil {
		return nil, fmt.Errorf("template %s tags: %w", t.ID, err)
	}
	var raw []model.RawFieldMapping
	if err := json.Unmarshal(mappings, &raw); err != nil {
		return nil, fmt.Errorf("template %s mappings: %w", t.ID, err)
	}
	t.Mappings = mapper.Normalize(raw)
	return &t, nil
}

func (r *PostgresTemplates) Get(ctx context.Context, id string) (*model.Template, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = $1`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return t, nil
}

func (r *PostgresTemplates) List(ctx context.Context) ([]*model.Template, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM templates ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var result []*model.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Save upserts the template. Every update bumps the version.
func (r *PostgresTemplates) Save(ctx context.Context, t *model.Template) error {
	tags, err := json.Marshal(nonNilStrings(t.Tags))
	if err != nil {
		return err
	}
	raw := make([]model.RawFieldMapping, 0, len(t.Mappings))
	for _, m := range t.Mappings {
		raw = append(raw, m.Raw())
	}
	mappings, err := json.Marshal(raw)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO templates (id, name, tags, edited_content, preview_content, contract_year, version, mappings)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7)
		ON CONFLICT (id)
		DO UPDATE SET
			name = EXCLUDED.name,
			tags = EXCLUDED.tags,
			edited_content = EXCLUDED.edited_content,
			preview_content = EXCLUDED.preview_content,
			contract_year = EXCLUDED.contract_year,
			mappings = EXCLUDED.mappings,
			version = templates.version + 1,
			updated_at = now()
		RETURNING version, created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		t.ID, t.Name, tags, t.EditedContent, t.PreviewContent, t.ContractYear, mappings,
	).Scan(&t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

func (r *PostgresTemplates) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
