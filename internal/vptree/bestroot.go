package vptree

import (
	"math"
	"math/rand"
	"sort"

	"github.com/mediavault/simfiles/internal/hamming"
	"github.com/mediavault/simfiles/internal/store"
)

// pickBestRoot removes and returns the node from nodes that scores best as
// a vantage point, along with the remaining nodes. Candidates are scored by
// how close to a 1:1 inner/outer split they'd produce, with standard
// deviation of distances as a tie-breaker (larger spread tends to mean less
// sphere overlap on search).
func pickBestRoot(rnd *rand.Rand, nodes []store.NodeWithPHash, maxViewpoints, maxSample int) (root store.NodeWithPHash, rest []store.NodeWithPHash) {
	if len(nodes) == 1 {
		return nodes[0], nil
	}

	viewpoints := sampleIndices(rnd, len(nodes), maxViewpoints)
	sample := sampleIndices(rnd, len(nodes), maxSample)

	type score struct {
		ratioScore int
		sd         float64
		index      int
	}
	scores := make([]score, 0, len(viewpoints))

	for _, vi := range viewpoints {
		v := nodes[vi]
		views := make([]int, 0, len(sample))
		for _, si := range sample {
			if si == vi {
				continue
			}
			views = append(views, int(hamming.Distance(v.PHash, nodes[si].PHash)))
		}
		if len(views) == 0 {
			continue
		}

		sort.Ints(views)
		radius := views[len(views)/2]

		numLeft, numRadius, numRight := 0, 0, 0
		for _, d := range views {
			switch {
			case d < radius:
				numLeft++
			case d == radius:
				numRadius++
			default:
				numRight++
			}
		}
		if numLeft <= numRight {
			numLeft += numRadius
		} else {
			numRight += numRadius
		}

		smaller, larger := numLeft, numRight
		if larger < smaller {
			smaller, larger = larger, smaller
		}
		ratio := float64(smaller) / float64(larger)
		ratioScore := int(ratio * float64(maxSample) / 2)

		mean := 0.0
		for _, d := range views {
			mean += float64(d)
		}
		mean /= float64(len(views))
		sd := 0.0
		for _, d := range views {
			diff := float64(d) - mean
			sd += diff * diff
		}
		sd = math.Sqrt(sd / float64(len(views)))

		scores = append(scores, score{ratioScore, sd, vi})
	}

	sort.Slice(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.ratioScore != b.ratioScore {
			return a.ratioScore < b.ratioScore
		}
		return a.sd < b.sd
	})

	winner := scores[len(scores)-1].index
	rest = make([]store.NodeWithPHash, 0, len(nodes)-1)
	for i, n := range nodes {
		if i == winner {
			root = n
			continue
		}
		rest = append(rest, n)
	}
	return root, rest
}

// sampleIndices returns the indices [0,n) to use, capped at max: all of
// them if n<=max, otherwise a uniform random subset.
func sampleIndices(rnd *rand.Rand, n, max int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	if n <= max {
		return idx
	}
	rnd.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	return idx[:max]
}
