package vptree

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediavault/simfiles/api"
	"github.com/mediavault/simfiles/internal/hamming"
	"github.com/mediavault/simfiles/internal/store"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "simfiles.db")
	db, err := store.Open(path, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, api.DefaultConfig(), rand.New(rand.NewSource(42)))
}

func TestAssociatePHashesInternsAndLinks(t *testing.T) {
	ix := newTestIndex(t)

	ids, err := ix.AssociatePHashes(1, []api.PHash{0x1, 0x2})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	inSystem, err := ix.FileIsInSystem(1)
	require.NoError(t, err)
	assert.True(t, inSystem)
}

func TestSearchFindsAssociatedFiles(t *testing.T) {
	ix := newTestIndex(t)

	_, err := ix.AssociatePHashes(1, []api.PHash{0b0000})
	require.NoError(t, err)
	_, err = ix.AssociatePHashes(2, []api.PHash{0b0001})
	require.NoError(t, err)
	_, err = ix.AssociatePHashes(3, []api.PHash{0b1111})
	require.NoError(t, err)

	matches, err := ix.Search(1, 1)
	require.NoError(t, err)

	var found []api.FileID
	for _, m := range matches {
		found = append(found, m.FileID)
	}
	assert.Contains(t, found, api.FileID(2))
	assert.NotContains(t, found, api.FileID(3))
}

func TestSearchDistanceZeroIsExactMatch(t *testing.T) {
	ix := newTestIndex(t)

	_, err := ix.AssociatePHashes(1, []api.PHash{0xABCD})
	require.NoError(t, err)
	_, err = ix.AssociatePHashes(2, []api.PHash{0xABCD})
	require.NoError(t, err)

	matches, err := ix.Search(1, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, api.FileID(2), matches[0].FileID)
	assert.Equal(t, api.Distance(0), matches[0].Distance)
}

func TestSetPHashesReplacesAssociations(t *testing.T) {
	ix := newTestIndex(t)

	_, err := ix.AssociatePHashes(1, []api.PHash{0x1})
	require.NoError(t, err)

	require.NoError(t, ix.SetPHashes(1, []api.PHash{0x2}))

	phashIDs, err := ix.db.Assoc.PHashIDsForFile(1)
	require.NoError(t, err)
	require.Len(t, phashIDs, 1)

	got, err := ix.db.PHash.Get(phashIDs[0])
	require.NoError(t, err)
	assert.Equal(t, api.PHash(0x2), got)
}

func TestStopSearchingFileRemovesFromCacheAndMap(t *testing.T) {
	ix := newTestIndex(t)

	_, err := ix.AssociatePHashes(1, []api.PHash{0x1})
	require.NoError(t, err)

	require.NoError(t, ix.StopSearchingFile(1))

	inSystem, err := ix.FileIsInSystem(1)
	require.NoError(t, err)
	assert.False(t, inSystem)

	phashIDs, err := ix.db.Assoc.PHashIDsForFile(1)
	require.NoError(t, err)
	assert.Empty(t, phashIDs)
}

func TestDisassociateSchedulesOrphanForRegeneration(t *testing.T) {
	ix := newTestIndex(t)

	ids, err := ix.AssociatePHashes(1, []api.PHash{0x1})
	require.NoError(t, err)
	var phashID api.PHashID
	for id := range ids {
		phashID = id
	}

	require.NoError(t, ix.DisassociatePHashes(1, []api.PHashID{phashID}))

	queued, err := ix.db.Queue.List()
	require.NoError(t, err)
	assert.Contains(t, queued, phashID)
}

func TestMaintainTreeRegeneratesImbalancedBranch(t *testing.T) {
	ix := newTestIndex(t)

	// Skew insertion order so the root's subtrees become imbalanced past
	// the population/ratio threshold, forcing a regeneration to be queued.
	for i := 0; i < 40; i++ {
		phash := api.PHash(uint64(i) << 56) // all cluster on one side early on
		_, err := ix.AssociatePHashes(api.FileID(i), []api.PHash{phash})
		require.NoError(t, err)
	}

	queuedBefore, err := ix.db.Queue.List()
	require.NoError(t, err)
	require.NotEmpty(t, queuedBefore)

	require.NoError(t, ix.MaintainTree(context.Background()))

	queued, err := ix.db.Queue.List()
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestMaintainTreeRespectsCancellation(t *testing.T) {
	ix := newTestIndex(t)

	for i := 0; i < 40; i++ {
		_, err := ix.AssociatePHashes(api.FileID(i), []api.PHash{api.PHash(uint64(i) << 56)})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ix.MaintainTree(ctx)
	require.Error(t, err)
}

func TestRegenerateTreePreservesSearchability(t *testing.T) {
	ix := newTestIndex(t)

	hashes := make([]api.PHash, 50)
	for i := range hashes {
		hashes[i] = api.PHash(rand.Uint64())
		_, err := ix.AssociatePHashes(api.FileID(i), []api.PHash{hashes[i]})
		require.NoError(t, err)
	}

	require.NoError(t, ix.RegenerateTree(func(api.PHashID) (bool, error) { return true, nil }))

	require.NoError(t, ix.CheckIntegrity())

	for _, h := range hashes {
		id, ok, err := ix.db.PHash.Lookup(h)
		require.NoError(t, err)
		require.True(t, ok)
		found, err := ix.SearchPHash(h, 0)
		require.NoError(t, err)
		assert.Contains(t, found, id)
	}
}

func TestMaintenanceStatusAndDue(t *testing.T) {
	ix := newTestIndex(t)

	_, err := ix.AssociatePHashes(1, []api.PHash{0x1})
	require.NoError(t, err)

	status, err := ix.MaintenanceStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, status[-1])

	due, err := ix.MaintenanceDue()
	require.NoError(t, err)
	assert.False(t, due) // only 1 under-searched file, threshold is 100
}

// bruteForceWithin returns the subset of hashes within maxDistance of query.
func bruteForceWithin(hashes []api.PHash, query api.PHash, maxDistance api.Distance) map[api.PHash]bool {
	out := make(map[api.PHash]bool)
	for _, h := range hashes {
		if hamming.Within(query, h, maxDistance) {
			out[h] = true
		}
	}
	return out
}

// TestPropertySearchMatchesBruteForceAtSpecScale is scenario S3: 1 000
// random phashes, one file each, pruning checked against a brute-force
// oracle at Hamming 8 for a sample of files, not just the first inserted.
func TestPropertySearchMatchesBruteForceAtSpecScale(t *testing.T) {
	ix := newTestIndex(t)
	rnd := rand.New(rand.NewSource(7))

	const population = 1000
	hashes := make([]api.PHash, population)
	for i := range hashes {
		hashes[i] = api.PHash(rnd.Uint64())
		_, err := ix.AssociatePHashes(api.FileID(i), []api.PHash{hashes[i]})
		require.NoError(t, err)
	}

	const maxDistance = api.Distance(8)
	for _, i := range []int{0, 1, 42, 99, 250, 500, 750, 999} {
		query := hashes[i]

		treeMatches, err := ix.SearchPHash(query, maxDistance)
		require.NoError(t, err)

		bruteForce := bruteForceWithin(hashes, query, maxDistance)
		assert.Equal(t, len(bruteForce), len(treeMatches), "query index %d", i)
		for h := range bruteForce {
			id, ok, err := ix.db.PHash.Lookup(h)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Contains(t, treeMatches, id, "query index %d missing expected match", i)
		}
	}
}

// TestPropertySearchHoldsAtTenThousand compares search result counts with a
// brute-force oracle at the scale property #2 of spec.md calls out:
// populations up to 10 000 phashes.
func TestPropertySearchHoldsAtTenThousand(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 10,000-population property test in -short mode")
	}

	ix := newTestIndex(t)
	rnd := rand.New(rand.NewSource(11))

	const population = 10000
	hashes := make([]api.PHash, population)
	for i := range hashes {
		hashes[i] = api.PHash(rnd.Uint64())
		_, err := ix.AssociatePHashes(api.FileID(i), []api.PHash{hashes[i]})
		require.NoError(t, err)
	}

	const maxDistance = api.Distance(8)
	for _, i := range []int{0, 3333, 6666, 9999} {
		query := hashes[i]

		treeMatches, err := ix.SearchPHash(query, maxDistance)
		require.NoError(t, err)

		bruteForce := bruteForceWithin(hashes, query, maxDistance)
		assert.Equal(t, len(bruteForce), len(treeMatches), "query index %d", i)
	}
}
