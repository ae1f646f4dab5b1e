package zenflake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeMask(t *testing.T) {
	nodeId := int64(4)
	gen, err := NewKeyGenerator(nodeId)
	require.NoError(t, err)

	key := gen.Next()

	assert.Equal(t, nodeId, GetNodeId(key))
}

func TestKeysAreUniqueAndIncreasing(t *testing.T) {
	gen, err := NewKeyGenerator(1)
	require.NoError(t, err)

	previous := int64(0)
	seen := map[int64]bool{}
	for range 10_000 {
		key := gen.Next()
		assert.Greater(t, key, previous)
		assert.False(t, seen[key])
		seen[key] = true
		previous = key
	}
}

func TestNodeIdOutOfRange(t *testing.T) {
	_, err := NewKeyGenerator(nodeMax + 1)
	assert.Error(t, err)
}
