package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-scrape-ranks/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createListingsTable = `CREATE TABLE IF NOT EXISTS listings (
	id                 BIGSERIAL PRIMARY KEY,
	dt                 TIMESTAMPTZ NOT NULL,
	product_id         TEXT,
	keyword            TEXT NOT NULL,
	rank_type          TEXT NOT NULL,
	rank               INTEGER NOT NULL,
	page_number        INTEGER NOT NULL,
	bestseller_badge   BOOLEAN NOT NULL DEFAULT FALSE,
	amazonchoice_badge BOOLEAN NOT NULL DEFAULT FALSE
)`

const insertListing = `INSERT INTO listings
	(dt, product_id, keyword, rank_type, rank, page_number, bestseller_badge, amazonchoice_badge)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresWriter stores listings one row per record.
type PostgresWriter struct {
	ctx  context.Context
	db   execer
	pool *pgxpool.Pool

	mu      sync.Mutex
	written int
	failed  int
}

// NewPostgresWriter connects to dsn and makes sure the listings table exists.
func NewPostgresWriter(ctx context.Context, dsn string, maxConns int32) (*PostgresWriter, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	w := newPostgresWriter(ctx, pool)
	w.pool = pool
	if err := w.InitTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return w, nil
}

func newPostgresWriter(ctx context.Context, db execer) *PostgresWriter {
	if ctx == nil {
		ctx = context.Background()
	}
	return &PostgresWriter{ctx: ctx, db: db}
}

// InitTable creates the listings table when missing.
func (pw *PostgresWriter) InitTable(ctx context.Context) error {
	if _, err := pw.db.Exec(ctx, createListingsTable); err != nil {
		return fmt.Errorf("create listings table: %w", err)
	}
	return nil
}

// CreateMany inserts every listing. A failed row does not stop the rest; the
// failures come back as a *PartialWriteError. Cancellation stops the batch.
func (pw *PostgresWriter) CreateMany(ctx context.Context, listings []*models.Listing) error {
	var errs []error
	written := 0

	for _, l := range listings {
		if err := ctx.Err(); err != nil {
			pw.record(written, len(errs))
			return err
		}
		_, err := pw.db.Exec(ctx, insertListing,
			l.Timestamp, l.ItemID, l.Keyword, string(l.RankType),
			l.Rank, l.PageNumber, l.BestsellerBadge, l.AmazonChoiceBadge,
		)
		if err != nil {
			errs = append(errs, fmt.Errorf("insert %q page %d %s #%d: %w", l.Keyword, l.PageNumber, l.RankType, l.Rank, err))
			continue
		}
		written++
	}

	pw.record(written, len(errs))
	if len(errs) > 0 {
		return &PartialWriteError{Failed: len(errs), Total: len(listings), Err: errors.Join(errs...)}
	}
	return nil
}

// Write implements OutputWriter.
func (pw *PostgresWriter) Write(listings []*models.Listing) error {
	return pw.CreateMany(pw.ctx, listings)
}

// Close releases the connection pool.
func (pw *PostgresWriter) Close() error {
	if pw.pool != nil {
		pw.pool.Close()
	}
	return nil
}

// Validate fails when rows were attempted but none were stored.
func (pw *PostgresWriter) Validate() error {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if pw.written == 0 && pw.failed > 0 {
		return fmt.Errorf("no listings stored, %d rows failed", pw.failed)
	}
	return nil
}

// Counts returns rows stored and rows failed so far.
func (pw *PostgresWriter) Counts() (written, failed int) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.written, pw.failed
}

func (pw *PostgresWriter) record(written, failed int) {
	pw.mu.Lock()
	pw.written += written
	pw.failed += failed
	pw.mu.Unlock()
}
