package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/WiesHerd/contractpipeline/model"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

type PostgresProviders struct {
	db DBTX
}

func NewPostgresProviders(db DBTX) *PostgresProviders {
	return &PostgresProviders{db: db}
}

const providerColumns = `id, name, email, specialty, provider_type, compensation_model, fields`

func scanProvider(row interface{ Scan(...any) error }) (*model.Provider, error) {
	var (
		p      model.Provider
		fields []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Specialty, &p.ProviderType, &p.CompensationModel, &fields); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fields, &p.Fields); err != nil {
		return nil, fmt.Errorf("provider %s fields: %w", p.ID, err)
	}
	return &p, nil
}

func (r *PostgresProviders) Get(ctx context.Context, id string) (*model.Provider, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1`, id)
	p, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return p, nil
}

// List is keyset-paginated on id; the page token is the last id of the previous page.
func (r *PostgresProviders) List(ctx context.Context, pageToken string, limit int) (model.Page[*model.Provider], error) {
	limit = clampPageSize(limit)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE id > $1 ORDER BY id LIMIT $2`,
		pageToken, limit+1)
	if err != nil {
		return model.Page[*model.Provider]{}, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var items []*model.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return model.Page[*model.Provider]{}, err
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return model.Page[*model.Provider]{}, err
	}
	return pageOf(items, limit, func(p *model.Provider) string { return p.ID }), nil
}

func (r *PostgresProviders) Save(ctx context.Context, p *model.Provider) error {
	fields := p.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("provider %s fields: %w", p.ID, err)
	}
	query := `
		INSERT INTO providers (id, name, email, specialty, provider_type, compensation_model, fields)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id)
		DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			specialty = EXCLUDED.specialty,
			provider_type = EXCLUDED.provider_type,
			compensation_model = EXCLUDED.compensation_model,
			fields = EXCLUDED.fields
	`
	if _, err := r.db.ExecContext(ctx, query, p.ID, p.Name, p.Email, p.Specialty, p.ProviderType, p.CompensationModel, data); err != nil {
		return fmt.Errorf("failed to save provider: %w", err)
	}
	return nil
}

func clampPageSize(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	}
	return limit
}

// pageOf trims a limit+1 result to limit and derives the next token.
func pageOf[T any](items []T, limit int, key func(T) string) model.Page[T] {
	if len(items) <= limit {
		return model.Page[T]{Items: items}
	}
	items = items[:limit]
	return model.Page[T]{Items: items, NextPageToken: key(items[len(items)-1])}
}
