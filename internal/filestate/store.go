// Package filestate is the per-service file-state store (component H): four
// disjoint sets per service — current, deleted, pending, petitioned — over
// file ids, with the counts and filters a media library's file-management
// surface needs.
package filestate

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/mediavault/simfiles/api"
)

// Combined is the sentinel service id meaning "every local file service
// combined", the scope RegenerateTree's orphan pruning uses.
const Combined api.ServiceID = 0

// PetitionRow is one outstanding petition, as returned by
// GetSomePetitionedRows.
type PetitionRow struct {
	FileID   api.FileID
	ReasonID api.ReasonID
}

// ServiceCounts is the per-service row GetServiceIdCounts reports.
type ServiceCounts struct {
	ServiceID       api.ServiceID
	CurrentCount    int
	DeletedCount    int
	PendingCount    int
	PetitionedCount int
}

// Store persists the four per-service file sets. A single schema-wide set
// of tables keyed by service_id backs every service, rather than the
// per-service table generation the original module used — see DESIGN.md
// for why that simplification is safe here.
type Store struct {
	conn   *sql.DB
	bitmap *bitmapIndex
}

// Open opens (creating if absent) the SQLite database at path and applies
// the file-state schema.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open filestate db %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set %q: %w", pragma, err)
		}
	}

	if err := applySchema(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply filestate schema: %w", err)
	}

	return &Store{conn: conn, bitmap: newBitmapIndex(conn)}, nil
}

func applySchema(conn *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS current_files (
			service_id INTEGER NOT NULL,
			hash_id    INTEGER NOT NULL,
			timestamp  INTEGER NOT NULL,
			PRIMARY KEY (service_id, hash_id)
		)`,
		`CREATE TABLE IF NOT EXISTS deleted_files (
			service_id          INTEGER NOT NULL,
			hash_id             INTEGER NOT NULL,
			timestamp           INTEGER NOT NULL,
			original_timestamp  INTEGER,
			reason_id           INTEGER,
			PRIMARY KEY (service_id, hash_id)
		)`,
		`CREATE TABLE IF NOT EXISTS pending_files (
			service_id INTEGER NOT NULL,
			hash_id    INTEGER NOT NULL,
			PRIMARY KEY (service_id, hash_id)
		)`,
		`CREATE TABLE IF NOT EXISTS petitioned_files (
			service_id INTEGER NOT NULL,
			hash_id    INTEGER NOT NULL,
			reason_id  INTEGER NOT NULL,
			PRIMARY KEY (service_id, hash_id)
		)`,
		`CREATE INDEX IF NOT EXISTS deleted_files_service ON deleted_files (service_id)`,
	}
	for _, stmt := range stmts {
		if _, err := conn.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// AddFiles adds rows to a service's current set, clearing any matching
// pending entries, and reports whether any pending row was cleared.
func (s *Store) AddFiles(serviceID api.ServiceID, rows []api.CurrentFileRow) (pendingChanged bool, err error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return false, fmt.Errorf("add files: %w", err)
	}

	insert, err := tx.Prepare(`INSERT OR IGNORE INTO current_files (service_id, hash_id, timestamp) VALUES (?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("add files: %w", err)
	}
	defer insert.Close()

	clearPending, err := tx.Prepare(`DELETE FROM pending_files WHERE service_id = ? AND hash_id = ?`)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("add files: %w", err)
	}
	defer clearPending.Close()

	for _, row := range rows {
		if _, err := insert.Exec(int64(serviceID), int64(row.FileID), row.Timestamp); err != nil {
			_ = tx.Rollback()
			return false, fmt.Errorf("add file %d: %w", row.FileID, err)
		}
		res, err := clearPending.Exec(int64(serviceID), int64(row.FileID))
		if err != nil {
			_ = tx.Rollback()
			return false, fmt.Errorf("clear pending for %d: %w", row.FileID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			pendingChanged = true
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("add files: %w", err)
	}
	s.bitmap.invalidate(serviceID)
	return pendingChanged, nil
}

// RemoveFiles removes fileIDs from a service's current set entirely
// (no deletion record kept — used for hard removal, not user deletion).
func (s *Store) RemoveFiles(serviceID api.ServiceID, fileIDs []api.FileID) error {
	if err := s.deleteWhereIn(`current_files`, serviceID, fileIDs); err != nil {
		return fmt.Errorf("remove files: %w", err)
	}
	s.bitmap.invalidate(serviceID)
	return nil
}

// RecordDeleteFiles moves rows from current to deleted, stamping each with
// its original add timestamp and an optional reason.
func (s *Store) RecordDeleteFiles(serviceID api.ServiceID, rows []api.DeleteRow, reasonID api.ReasonID, now int64) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("record delete files: %w", err)
	}

	insert, err := tx.Prepare(`INSERT OR REPLACE INTO deleted_files (service_id, hash_id, timestamp, original_timestamp, reason_id) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record delete files: %w", err)
	}
	defer insert.Close()

	removeCurrent, err := tx.Prepare(`DELETE FROM current_files WHERE service_id = ? AND hash_id = ?`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record delete files: %w", err)
	}
	defer removeCurrent.Close()

	for _, row := range rows {
		if _, err := insert.Exec(int64(serviceID), int64(row.FileID), now, row.OriginalTimestamp, int64(reasonID)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record delete file %d: %w", row.FileID, err)
		}
		if _, err := removeCurrent.Exec(int64(serviceID), int64(row.FileID)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record delete file %d: %w", row.FileID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record delete files: %w", err)
	}
	s.bitmap.invalidate(serviceID)
	return nil
}

// ClearDeleteRecord removes rows from a service's deleted set, reporting
// how many were cleared — restoring the "file has never existed here"
// state, distinct from undeleting it back into current.
func (s *Store) ClearDeleteRecord(serviceID api.ServiceID, fileIDs []api.FileID) (int, error) {
	n, err := s.deleteWhereInCounting(`deleted_files`, serviceID, fileIDs)
	if err != nil {
		return 0, fmt.Errorf("clear delete record: %w", err)
	}
	s.bitmap.invalidate(serviceID)
	return n, nil
}

// ClearLocalDeleteRecord clears deletion records across every local
// service except for files currently sitting in the trash, the local
// analog of the original's "not for files in the trash" carve-out. When
// fileIDs is nil, every local service is fully swept.
func (s *Store) ClearLocalDeleteRecord(localServiceIDs []api.ServiceID, trashServiceID api.ServiceID, fileIDs []api.FileID) (map[api.ServiceID]int, error) {
	toClear := fileIDs
	if fileIDs == nil {
		var err error
		toClear, err = s.allDeletedHashIDs(localServiceIDs)
		if err != nil {
			return nil, fmt.Errorf("clear local delete record: %w", err)
		}
	}

	trashed, err := s.FilterCurrentHashIds(trashServiceID, toClear)
	if err != nil {
		return nil, fmt.Errorf("clear local delete record: %w", err)
	}
	trashedSet := make(map[api.FileID]bool, len(trashed))
	for _, id := range trashed {
		trashedSet[id] = true
	}

	okToClear := make([]api.FileID, 0, len(toClear))
	for _, id := range toClear {
		if !trashedSet[id] {
			okToClear = append(okToClear, id)
		}
	}

	out := make(map[api.ServiceID]int, len(localServiceIDs))
	for _, serviceID := range localServiceIDs {
		n, err := s.ClearDeleteRecord(serviceID, okToClear)
		if err != nil {
			return nil, fmt.Errorf("clear local delete record for service %d: %w", serviceID, err)
		}
		out[serviceID] = n
	}
	return out, nil
}

func (s *Store) allDeletedHashIDs(serviceIDs []api.ServiceID) ([]api.FileID, error) {
	seen := make(map[api.FileID]bool)
	var out []api.FileID
	for _, serviceID := range serviceIDs {
		rows, err := s.conn.Query(`SELECT hash_id FROM deleted_files WHERE service_id = ?`, int64(serviceID))
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			if fid := api.FileID(id); !seen[fid] {
				seen[fid] = true
				out = append(out, fid)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PendFiles adds fileIDs to a service's pending set.
func (s *Store) PendFiles(serviceID api.ServiceID, fileIDs []api.FileID) error {
	return s.insertPairs(`pending_files`, serviceID, fileIDs)
}

// RescindPendFiles removes fileIDs from a service's pending set.
func (s *Store) RescindPendFiles(serviceID api.ServiceID, fileIDs []api.FileID) error {
	if err := s.deleteWhereIn(`pending_files`, serviceID, fileIDs); err != nil {
		return fmt.Errorf("rescind pend: %w", err)
	}
	s.bitmap.invalidate(serviceID)
	return nil
}

// DeletePending removes fileIDs from a service's pending set once the
// pend has actually been uploaded.
func (s *Store) DeletePending(serviceID api.ServiceID, fileIDs []api.FileID) error {
	return s.RescindPendFiles(serviceID, fileIDs)
}

// PetitionFiles adds fileIDs to a service's petitioned set with reasonID.
func (s *Store) PetitionFiles(serviceID api.ServiceID, fileIDs []api.FileID, reasonID api.ReasonID) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("petition files: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO petitioned_files (service_id, hash_id, reason_id) VALUES (?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("petition files: %w", err)
	}
	defer stmt.Close()
	for _, id := range fileIDs {
		if _, err := stmt.Exec(int64(serviceID), int64(id), int64(reasonID)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("petition file %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("petition files: %w", err)
	}
	s.bitmap.invalidate(serviceID)
	return nil
}

// RescindPetitionFiles removes fileIDs from a service's petitioned set.
func (s *Store) RescindPetitionFiles(serviceID api.ServiceID, fileIDs []api.FileID) error {
	if err := s.deleteWhereIn(`petitioned_files`, serviceID, fileIDs); err != nil {
		return fmt.Errorf("rescind petition: %w", err)
	}
	s.bitmap.invalidate(serviceID)
	return nil
}

// GetAPendingHashId returns an arbitrary file still pending for serviceID,
// the work-queue-style pop the upload pipeline uses to grab its next job.
func (s *Store) GetAPendingHashId(serviceID api.ServiceID) (api.FileID, bool, error) {
	return s.getOneHashID(`pending_files`, serviceID)
}

// GetAPetitionedHashId returns an arbitrary file still petitioned for
// serviceID.
func (s *Store) GetAPetitionedHashId(serviceID api.ServiceID) (api.FileID, bool, error) {
	return s.getOneHashID(`petitioned_files`, serviceID)
}

func (s *Store) getOneHashID(table string, serviceID api.ServiceID) (api.FileID, bool, error) {
	var id int64
	err := s.conn.QueryRow(fmt.Sprintf(`SELECT hash_id FROM %s WHERE service_id = ? LIMIT 1`, table), int64(serviceID)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get one hash id from %s: %w", table, err)
	}
	return api.FileID(id), true, nil
}

// GetSomePetitionedRows returns up to limit outstanding petitions for
// serviceID.
func (s *Store) GetSomePetitionedRows(serviceID api.ServiceID, limit int) ([]PetitionRow, error) {
	rows, err := s.conn.Query(`SELECT hash_id, reason_id FROM petitioned_files WHERE service_id = ? LIMIT ?`, int64(serviceID), limit)
	if err != nil {
		return nil, fmt.Errorf("get petitioned rows: %w", err)
	}
	defer rows.Close()
	var out []PetitionRow
	for rows.Next() {
		var hashID, reasonID int64
		if err := rows.Scan(&hashID, &reasonID); err != nil {
			return nil, fmt.Errorf("get petitioned rows: %w", err)
		}
		out = append(out, PetitionRow{FileID: api.FileID(hashID), ReasonID: api.ReasonID(reasonID)})
	}
	return out, rows.Err()
}

// GetUndeleteRows returns the original timestamp for each of fileIDs that
// is currently in the deleted set, the data AddFiles needs to restore the
// original add time on undelete.
func (s *Store) GetUndeleteRows(serviceID api.ServiceID, fileIDs []api.FileID) ([]api.UndeleteRow, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(serviceID, fileIDs)
	rows, err := s.conn.Query(
		fmt.Sprintf(`SELECT hash_id, original_timestamp FROM deleted_files WHERE service_id = ? AND hash_id IN (%s)`, placeholders),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("get undelete rows: %w", err)
	}
	defer rows.Close()
	var out []api.UndeleteRow
	for rows.Next() {
		var hashID int64
		var original sql.NullInt64
		if err := rows.Scan(&hashID, &original); err != nil {
			return nil, fmt.Errorf("get undelete rows: %w", err)
		}
		out = append(out, api.UndeleteRow{FileID: api.FileID(hashID), OriginalTimestamp: original.Int64})
	}
	return out, rows.Err()
}

// GetDeletionStatus reports whether fileID is currently deleted from
// serviceID and, if so, when.
func (s *Store) GetDeletionStatus(serviceID api.ServiceID, fileID api.FileID) (deleted bool, timestamp int64, err error) {
	err = s.conn.QueryRow(`SELECT timestamp FROM deleted_files WHERE service_id = ? AND hash_id = ?`, int64(serviceID), int64(fileID)).Scan(&timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("get deletion status: %w", err)
	}
	return true, timestamp, nil
}

// FilterCurrentHashIds returns the subset of fileIDs currently present in
// serviceID's current set.
func (s *Store) FilterCurrentHashIds(serviceID api.ServiceID, fileIDs []api.FileID) ([]api.FileID, error) {
	return s.filterWhereIn(`current_files`, serviceID, fileIDs)
}

// FilterAllCurrentHashIds returns the subset of fileIDs present in any
// service's current set.
func (s *Store) FilterAllCurrentHashIds(fileIDs []api.FileID) ([]api.FileID, error) {
	return s.filterWhereInAnyService(`current_files`, fileIDs)
}

// FilterPendingHashIds returns the subset of fileIDs currently pending for
// serviceID.
func (s *Store) FilterPendingHashIds(serviceID api.ServiceID, fileIDs []api.FileID) ([]api.FileID, error) {
	return s.filterWhereIn(`pending_files`, serviceID, fileIDs)
}

// FilterAllPendingHashIds returns the subset of fileIDs pending in any
// service.
func (s *Store) FilterAllPendingHashIds(fileIDs []api.FileID) ([]api.FileID, error) {
	return s.filterWhereInAnyService(`pending_files`, fileIDs)
}

// GetCurrentHashIdsList returns every file currently in serviceID's
// current set.
func (s *Store) GetCurrentHashIdsList(serviceID api.ServiceID) ([]api.FileID, error) {
	bm, err := s.CurrentBitmap(serviceID)
	if err != nil {
		return nil, fmt.Errorf("get current hash ids: %w", err)
	}
	out := make([]api.FileID, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, api.FileID(it.Next()))
	}
	return out, nil
}

// GetCurrentHashIdsToTimestamps returns every file in serviceID's current
// set mapped to the timestamp it was added.
func (s *Store) GetCurrentHashIdsToTimestamps(serviceID api.ServiceID) (map[api.FileID]int64, error) {
	rows, err := s.conn.Query(`SELECT hash_id, timestamp FROM current_files WHERE service_id = ?`, int64(serviceID))
	if err != nil {
		return nil, fmt.Errorf("get current hash ids to timestamps: %w", err)
	}
	defer rows.Close()
	out := make(map[api.FileID]int64)
	for rows.Next() {
		var id int64
		var ts int64
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, fmt.Errorf("get current hash ids to timestamps: %w", err)
		}
		out[api.FileID(id)] = ts
	}
	return out, rows.Err()
}

// GetCurrentTimestamp returns the timestamp fileID was added to serviceID's
// current set, if it's there.
func (s *Store) GetCurrentTimestamp(serviceID api.ServiceID, fileID api.FileID) (int64, bool, error) {
	var ts int64
	err := s.conn.QueryRow(`SELECT timestamp FROM current_files WHERE service_id = ? AND hash_id = ?`, int64(serviceID), int64(fileID)).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get current timestamp: %w", err)
	}
	return ts, true, nil
}

// GetCurrentFilesCount returns the size of serviceID's current set.
func (s *Store) GetCurrentFilesCount(serviceID api.ServiceID) (int, error) {
	return s.count(`current_files`, serviceID)
}

// GetDeletedFilesCount returns the size of serviceID's deleted set.
func (s *Store) GetDeletedFilesCount(serviceID api.ServiceID) (int, error) {
	return s.count(`deleted_files`, serviceID)
}

// GetPendingFilesCount returns the size of serviceID's pending set.
func (s *Store) GetPendingFilesCount(serviceID api.ServiceID) (int, error) {
	return s.count(`pending_files`, serviceID)
}

// GetPetitionedFilesCount returns the size of serviceID's petitioned set.
func (s *Store) GetPetitionedFilesCount(serviceID api.ServiceID) (int, error) {
	return s.count(`petitioned_files`, serviceID)
}

// GetServiceIdCounts reports the four set sizes for every serviceID given.
func (s *Store) GetServiceIdCounts(serviceIDs []api.ServiceID) ([]ServiceCounts, error) {
	out := make([]ServiceCounts, 0, len(serviceIDs))
	for _, id := range serviceIDs {
		current, err := s.GetCurrentFilesCount(id)
		if err != nil {
			return nil, err
		}
		deleted, err := s.GetDeletedFilesCount(id)
		if err != nil {
			return nil, err
		}
		pending, err := s.GetPendingFilesCount(id)
		if err != nil {
			return nil, err
		}
		petitioned, err := s.GetPetitionedFilesCount(id)
		if err != nil {
			return nil, err
		}
		out = append(out, ServiceCounts{id, current, deleted, pending, petitioned})
	}
	return out, nil
}

// GetNumLocal reports how many of serviceID's current files are also
// current in the combined local file service, i.e. how many of this
// service's files are actually held somewhere on local storage.
func (s *Store) GetNumLocal(serviceID api.ServiceID) (int, error) {
	bm, err := s.CurrentInAllServices([]api.ServiceID{serviceID, Combined})
	if err != nil {
		return 0, fmt.Errorf("get num local for service %d: %w", serviceID, err)
	}
	return int(bm.GetCardinality()), nil
}

// FileInfoLookup is the narrow collaborator file-state asks for the two
// file properties it does not itself store: a file's byte size and
// whether it is still in the inbox (not yet archived). Both live in the
// media library's own file-info table, outside this component.
type FileInfoLookup interface {
	FileSize(fileID api.FileID) (size int64, ok bool, err error)
	InInbox(fileID api.FileID) (bool, error)
}

// GetCurrentFilesTotalSize sums the sizes of every file in serviceID's
// current set, joined against fileInfo.
func (s *Store) GetCurrentFilesTotalSize(serviceID api.ServiceID, fileInfo FileInfoLookup) (int64, error) {
	ids, err := s.GetCurrentHashIdsList(serviceID)
	if err != nil {
		return 0, fmt.Errorf("get current files total size: %w", err)
	}
	var total int64
	for _, id := range ids {
		size, ok, err := fileInfo.FileSize(id)
		if err != nil {
			return 0, fmt.Errorf("get current files total size: %w", err)
		}
		if ok {
			total += size
		}
	}
	return total, nil
}

// GetCurrentFilesInboxCount counts files in serviceID's current set that
// fileInfo reports as still sitting in the inbox.
func (s *Store) GetCurrentFilesInboxCount(serviceID api.ServiceID, fileInfo FileInfoLookup) (int, error) {
	ids, err := s.GetCurrentHashIdsList(serviceID)
	if err != nil {
		return 0, fmt.Errorf("get current files inbox count: %w", err)
	}
	count := 0
	for _, id := range ids {
		inInbox, err := fileInfo.InInbox(id)
		if err != nil {
			return 0, fmt.Errorf("get current files inbox count: %w", err)
		}
		if inInbox {
			count++
		}
	}
	return count, nil
}

func (s *Store) count(table string, serviceID api.ServiceID) (int, error) {
	bm, err := s.bitmap.get(serviceID, setKind(table))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return int(bm.GetCardinality()), nil
}

func (s *Store) insertPairs(table string, serviceID api.ServiceID, fileIDs []api.FileID) error {
	if len(fileIDs) == 0 {
		return nil
	}
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	stmt, err := tx.Prepare(fmt.Sprintf(`INSERT OR IGNORE INTO %s (service_id, hash_id) VALUES (?, ?)`, table))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	defer stmt.Close()
	for _, id := range fileIDs {
		if _, err := stmt.Exec(int64(serviceID), int64(id)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert %d into %s: %w", id, table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	s.bitmap.invalidate(serviceID)
	return nil
}

func (s *Store) deleteWhereIn(table string, serviceID api.ServiceID, fileIDs []api.FileID) error {
	_, err := s.deleteWhereInCounting(table, serviceID, fileIDs)
	return err
}

func (s *Store) deleteWhereInCounting(table string, serviceID api.ServiceID, fileIDs []api.FileID) (int, error) {
	if len(fileIDs) == 0 {
		return 0, nil
	}
	tx, err := s.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	stmt, err := tx.Prepare(fmt.Sprintf(`DELETE FROM %s WHERE service_id = ? AND hash_id = ?`, table))
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	defer stmt.Close()
	total := 0
	for _, id := range fileIDs {
		res, err := stmt.Exec(int64(serviceID), int64(id))
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("delete %d from %s: %w", id, table, err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	return total, nil
}

// filterWhereIn answers per-service membership filters as a bitmap
// intersection against the cached set, instead of a per-row SQL join.
func (s *Store) filterWhereIn(table string, serviceID api.ServiceID, fileIDs []api.FileID) ([]api.FileID, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	bm, err := s.bitmap.get(serviceID, setKind(table))
	if err != nil {
		return nil, fmt.Errorf("filter %s: %w", table, err)
	}
	var out []api.FileID
	for _, id := range fileIDs {
		if bm.Contains(uint32(id)) {
			out = append(out, id)
		}
	}
	return out, nil
}

// filterWhereInAnyService stays a plain SQL scan rather than a bitmap
// union: bitmapIndex is keyed per service_id, and the store has no
// registry of which service ids exist to union over.
func (s *Store) filterWhereInAnyService(table string, fileIDs []api.FileID) ([]api.FileID, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(fileIDs))
	args := make([]any, len(fileIDs))
	for i, id := range fileIDs {
		placeholders[i] = "?"
		args[i] = int64(id)
	}
	rows, err := s.conn.Query(
		fmt.Sprintf(`SELECT DISTINCT hash_id FROM %s WHERE hash_id IN (%s)`, table, joinPlaceholders(placeholders)),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("filter %s (any service): %w", table, err)
	}
	defer rows.Close()
	var out []api.FileID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("filter %s (any service): %w", table, err)
		}
		out = append(out, api.FileID(id))
	}
	return out, rows.Err()
}

func inClause(serviceID api.ServiceID, fileIDs []api.FileID) (string, []any) {
	placeholders := make([]string, len(fileIDs))
	args := make([]any, 0, len(fileIDs)+1)
	args = append(args, int64(serviceID))
	for i, id := range fileIDs {
		placeholders[i] = "?"
		args = append(args, int64(id))
	}
	return joinPlaceholders(placeholders), args
}

func joinPlaceholders(placeholders []string) string {
	out := ""
	for i, p := range placeholders {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}
