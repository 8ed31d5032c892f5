package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/WiesHerd/contractpipeline/model"
)

// PostgresContracts is the generation log. Rows are appended, never updated.
type PostgresContracts struct {
	db DBTX
}

func NewPostgresContracts(db DBTX) *PostgresContracts {
	return &PostgresContracts{db: db}
}

const contractColumns = `id, contract_id, provider_id, provider_name, template_id, template_name, contract_year, status, generated_at, file_name, file_hash, file_size, permanent_url, storage_key, warnings, error`

func scanContract(row interface{ Scan(...any) error }) (*model.GeneratedContract, error) {
	var (
		c        model.GeneratedContract
		status   string
		warnings []byte
	)
	if err := row.Scan(&c.ID, &c.ContractID, &c.ProviderID, &c.ProviderName, &c.TemplateID, &c.TemplateName,
		&c.ContractYear, &status, &c.GeneratedAt, &c.FileName, &c.FileHash, &c.FileSize,
		&c.PermanentURL, &c.StorageKey, &warnings, &c.Error); err != nil {
		return nil, err
	}
	c.Status = model.ContractStatus(status)
	c.GeneratedAt = c.GeneratedAt.UTC()
	if err := json.Unmarshal(warnings, &c.Warnings); err != nil {
		return nil, fmt.Errorf("contract %s warnings: %w", c.ID, err)
	}
	return &c, nil
}

func (r *PostgresContracts) Insert(ctx context.Context, c *model.GeneratedContract) error {
	warnings, err := json.Marshal(nonNilStrings(c.Warnings))
	if err != nil {
		return err
	}
	query := `
		INSERT INTO generated_contracts (` + contractColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = r.db.ExecContext(ctx, query,
		c.ID, c.ContractID, c.ProviderID, c.ProviderName, c.TemplateID, c.TemplateName,
		c.ContractYear, string(c.Status), c.GeneratedAt, c.FileName, c.FileHash, c.FileSize,
		c.PermanentURL, c.StorageKey, warnings, c.Error)
	if err != nil {
		return fmt.Errorf("failed to insert contract: %w", err)
	}
	return nil
}

func (r *PostgresContracts) Latest(ctx context.Context, providerID, templateID string, statuses ...model.ContractStatus) (*model.GeneratedContract, error) {
	args := []any{providerID, templateID}
	query := `SELECT ` + contractColumns + ` FROM generated_contracts WHERE provider_id = $1 AND template_id = $2`
	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, s := range statuses {
			values[i] = string(s)
		}
		in, inArgs := inClause(len(args)+1, values)
		query += ` AND status IN ` + in
		args = append(args, inArgs...)
	}
	query += ` ORDER BY generated_at DESC LIMIT 1`

	c, err := scanContract(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find contract: %w", err)
	}
	return c, nil
}

func (r *PostgresContracts) ListByTemplate(ctx context.Context, templateID string) ([]*model.GeneratedContract, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+contractColumns+` FROM generated_contracts WHERE template_id = $1 ORDER BY generated_at DESC`, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	defer rows.Close()

	var result []*model.GeneratedContract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresContracts) CountByTemplate(ctx context.Context, templateID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM generated_contracts WHERE template_id = $1`, templateID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count contracts: %w", err)
	}
	return n, nil
}

func (r *PostgresContracts) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	in, args := inClause(1, ids)
	res, err := r.db.ExecContext(ctx, `DELETE FROM generated_contracts WHERE id IN `+in, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete contracts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return int(n), nil
}

// inClause renders ($start, $start+1, ...) for values.
func inClause(start int, values []string) (string, []any) {
	marks := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		marks[i] = fmt.Sprintf("$%d", start+i)
		args[i] = v
	}
	return "(" + strings.Join(marks, ", ") + ")", args
}
