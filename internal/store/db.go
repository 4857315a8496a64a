// Package store provides the SQLite-backed persistence layer of the
// similarity index: hash interning, the phash-to-file association map, and
// the vantage-point tree's node and maintenance-queue tables.
package store

import (
	"database/sql"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"
)

// DB wraps a single SQLite handle and the node caches layered on top of it.
// All of PHashStore, AssocStore, TreeStore and QueueStore share one *DB —
// they are views over the same connection, matching the original module's
// single shared cursor.
type DB struct {
	conn *sql.DB

	PHash *PHashStore
	Assoc *AssocStore
	Tree  *TreeStore
	Queue *QueueStore
}

// Open opens (creating if absent) the SQLite database at path, applies the
// schema, and wires up the four sub-stores around a shared node LRU.
func Open(path string, nodeCacheSize int) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// Single-writer model: the index serializes writers above this layer,
	// so one open connection is enough and avoids SQLITE_BUSY entirely.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set %q on %s: %w", pragma, path, err)
		}
	}

	if err := applySchema(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply schema to %s: %w", path, err)
	}

	if nodeCacheSize <= 0 {
		nodeCacheSize = 4096
	}
	nodeCache, err := lru.New[int64, TreeNode](nodeCacheSize)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create node cache: %w", err)
	}

	d := &DB{conn: conn}
	d.PHash = &PHashStore{conn: conn}
	d.Tree = &TreeStore{conn: conn, cache: nodeCache}
	d.Assoc = &AssocStore{conn: conn, phash: d.PHash, tree: d.Tree}
	d.Queue = &QueueStore{conn: conn}
	return d, nil
}

// Close releases the underlying SQLite connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn exposes the raw *sql.DB for operations (transactions spanning
// multiple sub-stores) that don't belong to any one of them.
func (d *DB) Conn() *sql.DB {
	return d.conn
}
