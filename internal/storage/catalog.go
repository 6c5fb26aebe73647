package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrCatalogNotFound is returned by Catalog.Get for unknown users.
var ErrCatalogNotFound = errors.New("storage: user not in catalog")

// CatalogEntry summarizes one user's committed artifact set.
type CatalogEntry struct {
	UserID    string    `json:"user_id"`
	Vectors   int       `json:"vectors"`
	Dimension int       `json:"dimension"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Catalog records which users have an index and how large it is, in SQLite.
type Catalog struct {
	db *sql.DB
}

// NewCatalog opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewCatalog(dbPath string) (*Catalog, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Catalog{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS user_indexes (
		user_id TEXT PRIMARY KEY,
		vectors INTEGER NOT NULL,
		dimension INTEGER NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_user_indexes_updated_at ON user_indexes(updated_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Upsert records e, replacing any previous entry for the same user.
func (c *Catalog) Upsert(ctx context.Context, e CatalogEntry) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO user_indexes (user_id, vectors, dimension, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   vectors = excluded.vectors,
		   dimension = excluded.dimension,
		   updated_at = excluded.updated_at`,
		e.UserID, e.Vectors, e.Dimension, e.UpdatedAt,
	)
	return err
}

// Get returns the entry for userID or ErrCatalogNotFound.
func (c *Catalog) Get(ctx context.Context, userID string) (*CatalogEntry, error) {
	var e CatalogEntry
	err := c.db.QueryRowContext(ctx,
		`SELECT user_id, vectors, dimension, updated_at FROM user_indexes WHERE user_id = ?`, userID,
	).Scan(&e.UserID, &e.Vectors, &e.Dimension, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrCatalogNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns all entries ordered by user id.
func (c *Catalog) List(ctx context.Context) ([]CatalogEntry, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT user_id, vectors, dimension, updated_at FROM user_indexes ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CatalogEntry
	for rows.Next() {
		var e CatalogEntry
		if err := rows.Scan(&e.UserID, &e.Vectors, &e.Dimension, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes the entry for userID.
func (c *Catalog) Delete(ctx context.Context, userID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM user_indexes WHERE user_id = ?`, userID)
	return err
}

// Totals returns the number of users and the sum of their vectors.
func (c *Catalog) Totals(ctx context.Context) (users, vectors int64, err error) {
	err = c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(vectors), 0) FROM user_indexes`,
	).Scan(&users, &vectors)
	return users, vectors, err
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}
