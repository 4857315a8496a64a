package vptree

import (
	"fmt"

	"github.com/mediavault/simfiles/api"
	"github.com/mediavault/simfiles/internal/hamming"
	"github.com/mediavault/simfiles/internal/store"
)

// searchPHash finds every interned phash within maxDistance of query,
// returning the closest distance found for each. It walks the tree
// breadth-first, pruning any subtree whose ball of radius node.Radius
// around the node cannot possibly overlap the query ball of radius
// maxDistance.
func searchPHash(db *store.DB, cfg api.Config, query api.PHash, maxDistance api.Distance) (map[api.PHashID]api.Distance, error) {
	rootID, ok, err := db.Tree.RootID()
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if !ok {
		return nil, nil
	}

	matches := make(map[api.PHashID]api.Distance)
	potentials := []api.PHashID{rootID}

	chunkSize := cfg.SearchFetchChunk
	if chunkSize <= 0 {
		chunkSize = 10000
	}

	for len(potentials) > 0 {
		var next []api.PHashID

		for start := 0; start < len(potentials); start += chunkSize {
			end := start + chunkSize
			if end > len(potentials) {
				end = len(potentials)
			}
			chunk := potentials[start:end]

			nodes, err := db.Tree.FetchBatch(chunk)
			if err != nil {
				return nil, fmt.Errorf("search: %w", err)
			}

			for _, n := range nodes {
				distance := hamming.Distance(query, n.PHash)

				if distance <= maxDistance {
					if current, ok := matches[n.PHashID]; !ok || distance < current {
						matches[n.PHashID] = distance
					}
				}

				if n.Radius == nil {
					continue
				}
				nodeRadius := *n.Radius

				if n.InnerID != nil {
					spheresDisjoint := distance > nodeRadius+maxDistance
					if !spheresDisjoint {
						next = append(next, *n.InnerID)
					}
				}
				if n.OuterID != nil {
					searchSphereSubsetOfNode := distance+maxDistance <= nodeRadius
					if !searchSphereSubsetOfNode {
						next = append(next, *n.OuterID)
					}
				}
			}
		}

		potentials = next
	}

	return matches, nil
}

// searchFile finds every file similar to fileID's phashes within
// maxDistance, returning the closest distance found per file. Distance
// zero is special-cased to a direct join on the association map, skipping
// the tree walk entirely.
func searchFile(db *store.DB, cfg api.Config, fileID api.FileID, maxDistance api.Distance) ([]api.Match, error) {
	phashIDs, err := db.Assoc.PHashIDsForFile(fileID)
	if err != nil {
		return nil, fmt.Errorf("search file %d: %w", fileID, err)
	}
	if len(phashIDs) == 0 {
		return nil, nil
	}

	if maxDistance == 0 {
		seen := make(map[api.FileID]bool)
		var out []api.Match
		for _, pid := range phashIDs {
			files, err := db.Assoc.FileIDsForPHash(pid)
			if err != nil {
				return nil, fmt.Errorf("search file %d: %w", fileID, err)
			}
			for _, f := range files {
				if seen[f] {
					continue
				}
				seen[f] = true
				out = append(out, api.Match{FileID: f, Distance: 0})
			}
		}
		return out, nil
	}

	merged := make(map[api.PHashID]api.Distance)
	for _, pid := range phashIDs {
		phash, err := db.PHash.Get(pid)
		if err != nil {
			return nil, fmt.Errorf("search file %d: %w", fileID, err)
		}
		found, err := searchPHash(db, cfg, phash, maxDistance)
		if err != nil {
			return nil, fmt.Errorf("search file %d: %w", fileID, err)
		}
		for id, d := range found {
			if current, ok := merged[id]; !ok || d < current {
				merged[id] = d
			}
		}
	}

	matchedIDs := make([]api.PHashID, 0, len(merged))
	for id := range merged {
		matchedIDs = append(matchedIDs, id)
	}

	phashToFiles, err := db.Assoc.FileIDsForPHashes(matchedIDs)
	if err != nil {
		return nil, fmt.Errorf("search file %d: %w", fileID, err)
	}

	best := make(map[api.FileID]api.Distance)
	for phashID, files := range phashToFiles {
		distance := merged[phashID]
		for _, f := range files {
			if current, ok := best[f]; !ok || distance < current {
				best[f] = distance
			}
		}
	}

	out := make([]api.Match, 0, len(best))
	for f, d := range best {
		out = append(out, api.Match{FileID: f, Distance: d})
	}
	return out, nil
}
