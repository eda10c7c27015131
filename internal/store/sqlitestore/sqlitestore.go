// Package sqlitestore backs the document store with a local SQLite file.
// Each collection is a single row holding the serialized document, matching
// the remote store's whole-document semantics exactly so the rest of the
// system cannot tell the backends apart.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"orderline/internal/store"
)

const defaultDBName = "orderline.db"

type Config struct {
	Workspace string
}

type Client struct {
	DB *sql.DB
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".orderline", defaultDBName)
}

// EnsureWorkspace creates the workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, ".orderline")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the SQLite database and applies schema migrations.
func Open(cfg Config) (*Client, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", dbPath(cfg.Workspace))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &Client{DB: conn}, nil
}

// Path returns the database path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// Fetch returns the raw document for a collection.
func (c *Client) Fetch(ctx context.Context, collection string) ([]byte, error) {
	var body []byte
	err := c.DB.QueryRowContext(ctx, `SELECT body FROM collections WHERE name=?`, collection).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Replace overwrites the whole document for a collection.
func (c *Client) Replace(ctx context.Context, collection string, doc []byte) error {
	_, err := c.DB.ExecContext(ctx, `
		INSERT INTO collections(name, body, updated_at) VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%SZ','now'))
		ON CONFLICT(name) DO UPDATE SET body=excluded.body, updated_at=excluded.updated_at`,
		collection, doc)
	return err
}
