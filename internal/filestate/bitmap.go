package filestate

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/mediavault/simfiles/api"
)

// setKind names one of the four per-service sets a bitmapIndex mirrors.
type setKind string

const (
	setCurrent    setKind = "current_files"
	setDeleted    setKind = "deleted_files"
	setPending    setKind = "pending_files"
	setPetitioned setKind = "petitioned_files"
)

// bitmapIndex mirrors the SQL tables as in-memory roaring bitmaps, one per
// (service, kind) pair, built lazily on first use and dropped on the next
// write to that service. This turns the large intersection-style queries
// file management does all the time (candidates that are current in
// service A but not in service B) into bitmap ANDs instead of SQL joins.
type bitmapIndex struct {
	conn *sql.DB

	mu     sync.Mutex
	bitmap map[api.ServiceID]map[setKind]*roaring.Bitmap
}

func newBitmapIndex(conn *sql.DB) *bitmapIndex {
	return &bitmapIndex{conn: conn, bitmap: make(map[api.ServiceID]map[setKind]*roaring.Bitmap)}
}

// invalidate drops every cached bitmap for serviceID; the next read
// rebuilds them from the SQL tables.
func (b *bitmapIndex) invalidate(serviceID api.ServiceID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bitmap, serviceID)
}

func (b *bitmapIndex) get(serviceID api.ServiceID, kind setKind) (*roaring.Bitmap, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	perService, ok := b.bitmap[serviceID]
	if !ok {
		perService = make(map[setKind]*roaring.Bitmap)
		b.bitmap[serviceID] = perService
	}
	if bm, ok := perService[kind]; ok {
		return bm, nil
	}

	bm, err := b.load(serviceID, kind)
	if err != nil {
		return nil, err
	}
	perService[kind] = bm
	return bm, nil
}

func (b *bitmapIndex) load(serviceID api.ServiceID, kind setKind) (*roaring.Bitmap, error) {
	rows, err := b.conn.Query(fmt.Sprintf(`SELECT hash_id FROM %s WHERE service_id = ?`, kind), int64(serviceID))
	if err != nil {
		return nil, fmt.Errorf("load %s bitmap for service %d: %w", kind, serviceID, err)
	}
	defer rows.Close()

	bm := roaring.New()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("load %s bitmap for service %d: %w", kind, serviceID, err)
		}
		bm.Add(uint32(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s bitmap for service %d: %w", kind, serviceID, err)
	}
	return bm, nil
}

// CurrentBitmap returns serviceID's current set as a roaring bitmap.
func (s *Store) CurrentBitmap(serviceID api.ServiceID) (*roaring.Bitmap, error) {
	return s.bitmap.get(serviceID, setCurrent)
}

// DeletedBitmap returns serviceID's deleted set as a roaring bitmap.
func (s *Store) DeletedBitmap(serviceID api.ServiceID) (*roaring.Bitmap, error) {
	return s.bitmap.get(serviceID, setDeleted)
}

// PendingBitmap returns serviceID's pending set as a roaring bitmap.
func (s *Store) PendingBitmap(serviceID api.ServiceID) (*roaring.Bitmap, error) {
	return s.bitmap.get(serviceID, setPending)
}

// PetitionedBitmap returns serviceID's petitioned set as a roaring bitmap.
func (s *Store) PetitionedBitmap(serviceID api.ServiceID) (*roaring.Bitmap, error) {
	return s.bitmap.get(serviceID, setPetitioned)
}

// CurrentInAllServices intersects the current sets of every serviceID
// given, a bitmap AND in place of an N-way SQL join — used to find files
// current everywhere a "combined" view needs them to be.
func (s *Store) CurrentInAllServices(serviceIDs []api.ServiceID) (*roaring.Bitmap, error) {
	if len(serviceIDs) == 0 {
		return roaring.New(), nil
	}
	result, err := s.CurrentBitmap(serviceIDs[0])
	if err != nil {
		return nil, err
	}
	result = result.Clone()
	for _, id := range serviceIDs[1:] {
		bm, err := s.CurrentBitmap(id)
		if err != nil {
			return nil, err
		}
		result.And(bm)
	}
	return result, nil
}
