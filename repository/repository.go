// Package repository is the structured data source: templates, providers, the
// generation log, audit events and persisted assignment sessions.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/WiesHerd/contractpipeline/model"
	"github.com/WiesHerd/contractpipeline/repository/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

var ErrNotFound = errors.New("record not found")

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Templates interface {
	Get(ctx context.Context, id string) (*model.Template, error)
	List(ctx context.Context) ([]*model.Template, error)
	Save(ctx context.Context, t *model.Template) error
	Delete(ctx context.Context, id string) error
}

type Providers interface {
	Get(ctx context.Context, id string) (*model.Provider, error)
	// List pages by id; an empty token starts at the beginning.
	List(ctx context.Context, pageToken string, limit int) (model.Page[*model.Provider], error)
	Save(ctx context.Context, p *model.Provider) error
}

type Contracts interface {
	Insert(ctx context.Context, c *model.GeneratedContract) error
	// Latest returns the newest record for the pair whose status is one of statuses.
	Latest(ctx context.Context, providerID, templateID string, statuses ...model.ContractStatus) (*model.GeneratedContract, error)
	ListByTemplate(ctx context.Context, templateID string) ([]*model.GeneratedContract, error)
	CountByTemplate(ctx context.Context, templateID string) (int, error)
	// Delete removes log records by record id and reports how many existed.
	Delete(ctx context.Context, ids []string) (int, error)
}

type AuditLog interface {
	Insert(ctx context.Context, e *model.AuditEvent) error
	List(ctx context.Context, limit int) ([]*model.AuditEvent, error)
}

// AssignmentSession is the persisted copy of one session's assignment map.
type AssignmentSession struct {
	Selected    string
	Assignments map[string]string
}

type Assignments interface {
	Load(ctx context.Context, sessionID string) (*AssignmentSession, error)
	Save(ctx context.Context, sessionID string, s *AssignmentSession) error
	Clear(ctx context.Context, sessionID string) error
}

// Open connects through the pgx stdlib driver and verifies the connection.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Postgres bundles every Postgres-backed repository over one handle.
type Postgres struct {
	Templates   *PostgresTemplates
	Providers   *PostgresProviders
	Contracts   *PostgresContracts
	Audit       *PostgresAudit
	Assignments *PostgresAssignments
}

func NewPostgres(db DBTX) *Postgres {
	return &Postgres{
		Templates:   &PostgresTemplates{db: db},
		Providers:   &PostgresProviders{db: db},
		Contracts:   &PostgresContracts{db: db},
		Audit:       &PostgresAudit{db: db},
		Assignments: &PostgresAssignments{db: db},
	}
}
