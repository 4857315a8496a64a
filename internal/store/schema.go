package store

import "database/sql"

// applySchema creates every table the similarity index needs, matching the
// layout of spec.md §6 one table at a time. The file-state store's tables
// are created separately by internal/filestate.
func applySchema(conn *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS shape_perceptual_hashes (
			phash_id INTEGER PRIMARY KEY,
			phash    BLOB UNIQUE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS shape_perceptual_hash_map (
			phash_id INTEGER NOT NULL,
			hash_id  INTEGER NOT NULL,
			PRIMARY KEY (phash_id, hash_id)
		)`,
		`CREATE INDEX IF NOT EXISTS shape_perceptual_hash_map_hash_id
			ON shape_perceptual_hash_map (hash_id)`,
		`CREATE TABLE IF NOT EXISTS shape_vptree (
			phash_id         INTEGER PRIMARY KEY,
			parent_id        INTEGER,
			radius           INTEGER,
			inner_id         INTEGER,
			inner_population INTEGER NOT NULL DEFAULT 0,
			outer_id         INTEGER,
			outer_population INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS shape_vptree_parent_id ON shape_vptree (parent_id)`,
		`CREATE TABLE IF NOT EXISTS shape_maintenance_branch_regen (
			phash_id INTEGER PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS shape_search_cache (
			hash_id           INTEGER PRIMARY KEY,
			searched_distance INTEGER
		)`,
	}

	for _, stmt := range stmts {
		if _, err := conn.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
