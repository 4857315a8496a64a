package hamming

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mediavault/simfiles/api"
)

func TestDistance(t *testing.T) {
	assert.Equal(t, api.Distance(0), Distance(0, 0))
	assert.Equal(t, api.Distance(0), Distance(0xFFFFFFFFFFFFFFFF, 0xFFFFFFFFFFFFFFFF))
	assert.Equal(t, api.Distance(64), Distance(0, 0xFFFFFFFFFFFFFFFF))
	assert.Equal(t, api.Distance(1), Distance(0b0001, 0b0000))
	assert.Equal(t, api.Distance(2), Distance(0b0011, 0b0000))
}

func TestDistanceSymmetric(t *testing.T) {
	a := api.PHash(0x1234567890ABCDEF)
	b := api.PHash(0xFEDCBA0987654321)
	assert.Equal(t, Distance(a, b), Distance(b, a))
}

func TestWithin(t *testing.T) {
	a := api.PHash(0b1111)
	b := api.PHash(0b0000)
	assert.True(t, Within(a, b, 4))
	assert.False(t, Within(a, b, 3))
}
