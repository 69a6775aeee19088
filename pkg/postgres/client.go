// Package postgres keeps the image catalog: one row per image id with its
// indexing status. The index itself lives in memory and in snapshots; the
// catalog only tells operators what happened to each ingested image.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Visual-Word-Retrieval/pkg/config"
	_ "github.com/lib/pq"
)

const (
	StatusPending = "PENDING"
	StatusIndexed = "INDEXED"
	StatusFailed  = "FAILED"
	StatusCleared = "CLEARED"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS images (
		id          TEXT PRIMARY KEY,
		status      TEXT NOT NULL,
		source      TEXT NOT NULL DEFAULT '',
		detail      TEXT NOT NULL DEFAULT '',
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS images_status_idx ON images (status)`,
}

type Client struct {
	DB  *sql.DB
	cfg config.PostgresConfig
}

func New(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Client{DB: db, cfg: cfg}, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// EnsureSchema creates the catalog table if it does not exist.
func (c *Client) EnsureSchema(ctx context.Context) error {
	return c.InTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("applying schema: %w", err)
			}
		}
		return nil
	})
}

// SetImageStatus records the outcome of indexing one image.
func (c *Client) SetImageStatus(ctx context.Context, imageID, status, source, detail string) error {
	_, err := c.DB.ExecContext(ctx,
		`INSERT INTO images (id, status, source, detail, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (id) DO UPDATE
		 SET status = EXCLUDED.status, source = EXCLUDED.source,
		     detail = EXCLUDED.detail, updated_at = NOW()`,
		imageID, status, source, detail,
	)
	if err != nil {
		return fmt.Errorf("updating status of image %s: %w", imageID, err)
	}
	return nil
}

// MarkAllCleared flags every indexed image after the index was cleared.
func (c *Client) MarkAllCleared(ctx context.Context) (int64, error) {
	res, err := c.DB.ExecContext(ctx,
		`UPDATE images SET status = $1, updated_at = NOW() WHERE status = $2`,
		StatusCleared, StatusIndexed,
	)
	if err != nil {
		return 0, fmt.Errorf("marking images cleared: %w", err)
	}
	return res.RowsAffected()
}

func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
