// Package hamming computes Hamming distance between 64-bit perceptual
// hashes, the metric the similarity index partitions on.
package hamming

import (
	"math/bits"

	"github.com/mediavault/simfiles/api"
)

// Distance returns the number of differing bits between a and b, in [0,64].
func Distance(a, b api.PHash) api.Distance {
	return api.Distance(bits.OnesCount64(uint64(a ^ b)))
}

// Within reports whether a and b are within maxDistance of each other.
func Within(a, b api.PHash, maxDistance api.Distance) bool {
	return Distance(a, b) <= maxDistance
}
