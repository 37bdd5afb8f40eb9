package analysis

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as database/sql driver
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// PostgresOptions controls pool and connectivity behavior
type PostgresOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// DefaultPostgresOptions returns defaults for a long-running server
func DefaultPostgresOptions() PostgresOptions {
	return PostgresOptions{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		PingTimeout:     5 * time.Second,
	}
}

// PostgresStore implements the Store interface on a Postgres table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects, verifies connectivity and applies migrations
func OpenPostgres(ctx context.Context, databaseURL string, opts PostgresOptions) (*PostgresStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database url is empty")
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	pingTimeout := opts.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("Connected to postgres", "max_open_conns", opts.MaxOpenConns)
	return NewPostgresStore(db), nil
}

// runMigrations applies the embedded goose migrations
func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// Create inserts a record and returns the ID generated by the database
func (p *PostgresStore) Create(ctx context.Context, imageData, analysisText string) (string, error) {
	const query = `
		INSERT INTO analyses (image_data, analysis_text)
		VALUES ($1, $2)
		RETURNING id`

	var id string
	if err := p.db.QueryRowContext(ctx, query, imageData, analysisText).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: no record returned", ErrStoreWrite)
		}
		return "", fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	if id == "" {
		return "", fmt.Errorf("%w: no record returned", ErrStoreWrite)
	}
	return id, nil
}

// Get retrieves a record by ID
func (p *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	const query = `
		SELECT id, image_data, analysis_text, created_at
		FROM analyses
		WHERE id = $1`

	record := &Record{}
	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&record.ID,
		&record.ImageData,
		&record.AnalysisText,
		&record.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreRead, err)
	}
	return record, nil
}

// Close closes the connection pool
func (p *PostgresStore) Close() error {
	return p.db.Close()
}
