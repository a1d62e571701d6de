package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DB wraps a PostgreSQL connection pool for audit logging.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// LogSubmission inserts a submission record into the audit log.
func (db *DB) LogSubmission(ctx context.Context, sub *Submission) error {
	query := `
		INSERT INTO submissions (id, code_hash, backend, output, error, status,
			complexity, execution_time_ms, request_ip, api_key_hash,
			created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := db.pool.Exec(ctx, query,
		sub.ID, sub.CodeHash, sub.Backend,
		truncateForDB(sub.Output, 65535),
		truncateForDB(sub.Error, 65535),
		sub.Status, sub.Complexity, sub.ExecutionTimeMS,
		sub.RequestIP, sub.APIKeyHash,
		sub.CreatedAt, sub.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting submission: %w", err)
	}
	return nil
}

// LogRejection inserts a validation rejection record.
func (db *DB) LogRejection(ctx context.Context, rec *RejectionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO rejections (id, code_hash, violations, complexity, request_ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := db.pool.Exec(ctx, query,
		rec.ID, rec.CodeHash,
		truncateForDB(rec.Violations, 65535),
		rec.Complexity, rec.RequestIP, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting rejection: %w", err)
	}
	return nil
}

// GetSubmission retrieves a single submission by ID.
func (db *DB) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	query := `
		SELECT id, code_hash, backend, output, error, status,
			complexity, execution_time_ms, request_ip, api_key_hash,
			created_at, completed_at
		FROM submissions WHERE id = $1`

	var sub Submission
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&sub.ID, &sub.CodeHash, &sub.Backend,
		&sub.Output, &sub.Error, &sub.Status,
		&sub.Complexity, &sub.ExecutionTimeMS,
		&sub.RequestIP, &sub.APIKeyHash,
		&sub.CreatedAt, &sub.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("querying submission %s: %w", id, err)
	}
	return &sub, nil
}

// ListSubmissions queries submissions with optional filters.
func (db *DB) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]Submission, error) {
	query := `
		SELECT id, code_hash, backend, status, complexity,
			execution_time_ms, created_at, completed_at
		FROM submissions
		WHERE ($1 = '' OR backend = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := db.pool.Query(ctx, query,
		filter.Backend, filter.Status, limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying submissions: %w", err)
	}
	defer rows.Close()

	var results []Submission
	for rows.Next() {
		var sub Submission
		if err := rows.Scan(
			&sub.ID, &sub.CodeHash, &sub.Backend, &sub.Status,
			&sub.Complexity, &sub.ExecutionTimeMS,
			&sub.CreatedAt, &sub.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning submission row: %w", err)
		}
		results = append(results, sub)
	}

	return results, rows.Err()
}

func truncateForDB(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
