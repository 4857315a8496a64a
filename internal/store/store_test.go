package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mediavault/simfiles/api"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "simfiles.db")
	db, err := Open(path, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPHashStoreInternIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	id1, created1, err := db.PHash.Intern(0xDEADBEEF)
	require.NoError(t, err)
	require.True(t, created1)

	id2, created2, err := db.PHash.Intern(0xDEADBEEF)
	require.NoError(t, err)
	require.False(t, created2)
	require.Equal(t, id1, id2)

	got, err := db.PHash.Get(id1)
	require.NoError(t, err)
	require.Equal(t, api.PHash(0xDEADBEEF), got)
}

func TestPHashStoreForgetMany(t *testing.T) {
	db := openTestDB(t)

	id, _, err := db.PHash.Intern(1)
	require.NoError(t, err)

	require.NoError(t, db.PHash.ForgetMany([]api.PHashID{id}))

	_, ok, err := db.PHash.Lookup(1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAssocStoreLinkUnlink(t *testing.T) {
	db := openTestDB(t)

	pid, _, err := db.PHash.Intern(1)
	require.NoError(t, err)

	anyNew, err := db.Assoc.Link(100, []api.PHashID{pid})
	require.NoError(t, err)
	require.True(t, anyNew)

	anyNew, err = db.Assoc.Link(100, []api.PHashID{pid})
	require.NoError(t, err)
	require.False(t, anyNew)

	files, err := db.Assoc.FileIDsForPHash(pid)
	require.NoError(t, err)
	require.Equal(t, []api.FileID{100}, files)

	useful, err := db.Assoc.UsefulPHashIDs([]api.PHashID{pid})
	require.NoError(t, err)
	require.True(t, useful[pid])

	require.NoError(t, db.Assoc.Unlink(100, []api.PHashID{pid}))

	useful, err = db.Assoc.UsefulPHashIDs([]api.PHashID{pid})
	require.NoError(t, err)
	require.False(t, useful[pid])
}

func TestAssocStoreSearchCache(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Assoc.MarkUnsearched(1))

	inSystem, err := db.Assoc.FileIsInSystem(1)
	require.NoError(t, err)
	require.True(t, inSystem)

	hist, err := db.Assoc.MaintenanceStatusHistogram()
	require.NoError(t, err)
	require.Equal(t, 1, hist[-1])

	count, err := db.Assoc.CountUnderSearched(8, 100)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, db.Assoc.DeleteSearchCache(1))
	inSystem, err = db.Assoc.FileIsInSystem(1)
	require.NoError(t, err)
	require.False(t, inSystem)
}

func TestTreeStorePutAndGet(t *testing.T) {
	db := openTestDB(t)

	pid, _, err := db.PHash.Intern(5)
	require.NoError(t, err)

	require.NoError(t, db.Tree.Put(TreeNode{PHashID: pid}))

	rootID, ok, err := db.Tree.RootID()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, pid, rootID)

	node, err := db.Tree.Get(pid)
	require.NoError(t, err)
	require.Nil(t, node.ParentID)
	require.Nil(t, node.Radius)

	withPHash, err := db.Tree.GetWithPHash(pid)
	require.NoError(t, err)
	require.Equal(t, api.PHash(5), withPHash.PHash)
}

func TestTreeStoreBranchClosure(t *testing.T) {
	db := openTestDB(t)

	rootID, _, err := db.PHash.Intern(1)
	require.NoError(t, err)
	childID, _, err := db.PHash.Intern(2)
	require.NoError(t, err)

	require.NoError(t, db.Tree.Put(TreeNode{PHashID: rootID, InnerID: &childID, InnerPopulation: 1}))
	require.NoError(t, db.Tree.Put(TreeNode{PHashID: childID, ParentID: &rootID}))

	closure, err := db.Tree.BranchClosure(rootID)
	require.NoError(t, err)
	require.Len(t, closure, 2)
}

func TestTreeStoreBiggestSubtree(t *testing.T) {
	db := openTestDB(t)

	small, _, err := db.PHash.Intern(1)
	require.NoError(t, err)
	big, _, err := db.PHash.Intern(2)
	require.NoError(t, err)

	require.NoError(t, db.Tree.Put(TreeNode{PHashID: small, InnerPopulation: 1}))
	require.NoError(t, db.Tree.Put(TreeNode{PHashID: big, InnerPopulation: 10, OuterPopulation: 10}))

	winner, err := db.Tree.BiggestSubtree([]api.PHashID{small, big})
	require.NoError(t, err)
	require.Equal(t, big, winner)
}

func TestQueueStoreEnqueueDequeue(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Queue.EnqueueMany([]api.PHashID{1, 2, 2}))

	n, err := db.Queue.Len()
	require.NoError(t, err)
	require.Equal(t, 2, n)

	ids, err := db.Queue.List()
	require.NoError(t, err)
	require.ElementsMatch(t, []api.PHashID{1, 2}, ids)

	require.NoError(t, db.Queue.DequeueMany([]api.PHashID{1}))

	n, err = db.Queue.Len()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
