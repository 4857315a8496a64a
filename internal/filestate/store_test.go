package filestate

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediavault/simfiles/api"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "filestate.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

const testService api.ServiceID = 1

func TestAddFilesClearsPending(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.PendFiles(testService, []api.FileID{1, 2}))

	pendingChanged, err := s.AddFiles(testService, []api.CurrentFileRow{{FileID: 1, Timestamp: 1000}})
	require.NoError(t, err)
	assert.True(t, pendingChanged)

	count, err := s.GetPendingFilesCount(testService)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	current, err := s.GetCurrentHashIdsList(testService)
	require.NoError(t, err)
	assert.Equal(t, []api.FileID{1}, current)
}

func TestRecordDeleteFilesMovesFileOut(t *testing.T) {
	s := openTestStore(t)

	_, err := s.AddFiles(testService, []api.CurrentFileRow{{FileID: 1, Timestamp: 1000}})
	require.NoError(t, err)

	require.NoError(t, s.RecordDeleteFiles(testService, []api.DeleteRow{{FileID: 1, OriginalTimestamp: 1000}}, 0, 2000))

	count, err := s.GetCurrentFilesCount(testService)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	deleted, err := s.GetDeletedFilesCount(testService)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	rows, err := s.GetUndeleteRows(testService, []api.FileID{1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1000), rows[0].OriginalTimestamp)
}

func TestClearDeleteRecord(t *testing.T) {
	s := openTestStore(t)

	_, err := s.AddFiles(testService, []api.CurrentFileRow{{FileID: 1, Timestamp: 1000}})
	require.NoError(t, err)
	require.NoError(t, s.RecordDeleteFiles(testService, []api.DeleteRow{{FileID: 1, OriginalTimestamp: 1000}}, 0, 2000))

	n, err := s.ClearDeleteRecord(testService, []api.FileID{1})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	deleted, err := s.GetDeletedFilesCount(testService)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestClearLocalDeleteRecordKeepsTrashedFiles(t *testing.T) {
	s := openTestStore(t)
	const local api.ServiceID = 1
	const trash api.ServiceID = 2

	_, err := s.AddFiles(local, []api.CurrentFileRow{{FileID: 1, Timestamp: 1}, {FileID: 2, Timestamp: 1}})
	require.NoError(t, err)
	require.NoError(t, s.RecordDeleteFiles(local, []api.DeleteRow{{FileID: 1, OriginalTimestamp: 1}, {FileID: 2, OriginalTimestamp: 1}}, 0, 2))

	_, err = s.AddFiles(trash, []api.CurrentFileRow{{FileID: 1, Timestamp: 2}})
	require.NoError(t, err)

	cleared, err := s.ClearLocalDeleteRecord([]api.ServiceID{local}, trash, []api.FileID{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 1, cleared[local]) // only file 2 cleared; file 1 is in the trash

	deleted, err := s.GetDeletedFilesCount(local)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestPetitionFilesLifecycle(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.PetitionFiles(testService, []api.FileID{1, 2}, 5))

	rows, err := s.GetSomePetitionedRows(testService, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	fileID, ok, err := s.GetAPetitionedHashId(testService)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, []api.FileID{1, 2}, fileID)

	require.NoError(t, s.RescindPetitionFiles(testService, []api.FileID{1, 2}))
	count, err := s.GetPetitionedFilesCount(testService)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestFilterCurrentHashIds(t *testing.T) {
	s := openTestStore(t)

	_, err := s.AddFiles(testService, []api.CurrentFileRow{{FileID: 1, Timestamp: 1}, {FileID: 2, Timestamp: 1}})
	require.NoError(t, err)

	filtered, err := s.FilterCurrentHashIds(testService, []api.FileID{1, 2, 3})
	require.NoError(t, err)
	assert.ElementsMatch(t, []api.FileID{1, 2}, filtered)
}

func TestBitmapMirrorsSQLAndInvalidatesOnWrite(t *testing.T) {
	s := openTestStore(t)

	_, err := s.AddFiles(testService, []api.CurrentFileRow{{FileID: 1, Timestamp: 1}})
	require.NoError(t, err)

	bm, err := s.CurrentBitmap(testService)
	require.NoError(t, err)
	assert.True(t, bm.Contains(1))
	assert.Equal(t, uint64(1), bm.GetCardinality())

	_, err = s.AddFiles(testService, []api.CurrentFileRow{{FileID: 2, Timestamp: 1}})
	require.NoError(t, err)

	bm, err = s.CurrentBitmap(testService)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), bm.GetCardinality())
}

func TestCurrentInAllServices(t *testing.T) {
	s := openTestStore(t)

	_, err := s.AddFiles(1, []api.CurrentFileRow{{FileID: 1, Timestamp: 1}, {FileID: 2, Timestamp: 1}})
	require.NoError(t, err)
	_, err = s.AddFiles(2, []api.CurrentFileRow{{FileID: 2, Timestamp: 1}})
	require.NoError(t, err)

	both, err := s.CurrentInAllServices([]api.ServiceID{1, 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), both.GetCardinality())
	assert.True(t, both.Contains(2))
}

func TestGetServiceIdCounts(t *testing.T) {
	s := openTestStore(t)

	_, err := s.AddFiles(testService, []api.CurrentFileRow{{FileID: 1, Timestamp: 1}})
	require.NoError(t, err)
	require.NoError(t, s.PendFiles(testService, []api.FileID{2}))

	counts, err := s.GetServiceIdCounts([]api.ServiceID{testService})
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, 1, counts[0].CurrentCount)
	assert.Equal(t, 1, counts[0].PendingCount)
}

func TestGetNumLocal(t *testing.T) {
	s := openTestStore(t)

	_, err := s.AddFiles(testService, []api.CurrentFileRow{{FileID: 1, Timestamp: 1}, {FileID: 2, Timestamp: 1}})
	require.NoError(t, err)
	_, err = s.AddFiles(Combined, []api.CurrentFileRow{{FileID: 1, Timestamp: 1}})
	require.NoError(t, err)

	numLocal, err := s.GetNumLocal(testService)
	require.NoError(t, err)
	assert.Equal(t, 1, numLocal) // only file 1 is current in the combined service too
}

// fakeFileInfo is a minimal FileInfoLookup stand-in for the media
// library's own file-info table, which lives outside this component.
type fakeFileInfo struct {
	sizes   map[api.FileID]int64
	inInbox map[api.FileID]bool
}

func (f *fakeFileInfo) FileSize(fileID api.FileID) (int64, bool, error) {
	size, ok := f.sizes[fileID]
	return size, ok, nil
}

func (f *fakeFileInfo) InInbox(fileID api.FileID) (bool, error) {
	return f.inInbox[fileID], nil
}

func TestGetCurrentFilesTotalSizeAndInboxCount(t *testing.T) {
	s := openTestStore(t)

	_, err := s.AddFiles(testService, []api.CurrentFileRow{{FileID: 1, Timestamp: 1}, {FileID: 2, Timestamp: 1}})
	require.NoError(t, err)

	info := &fakeFileInfo{
		sizes:   map[api.FileID]int64{1: 100, 2: 250},
		inInbox: map[api.FileID]bool{1: true},
	}

	total, err := s.GetCurrentFilesTotalSize(testService, info)
	require.NoError(t, err)
	assert.Equal(t, int64(350), total)

	inbox, err := s.GetCurrentFilesInboxCount(testService, info)
	require.NoError(t, err)
	assert.Equal(t, 1, inbox)
}
