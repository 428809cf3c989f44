package sync_test

import (
	"testing"

	"github.com/Conflux-Chain/ethtx-indexer/sync"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestBlockHashWindow(t *testing.T) {
	w := sync.NewBlockHashWindow(2)
	assert.Equal(t, 2, w.Capacity())

	// Test adding elements
	err := w.Push(1, common.HexToHash("0x1"))
	assert.NoError(t, err)
	assert.Equal(t, 1, w.Len())

	err = w.Push(2, common.HexToHash("0x2"))
	assert.NoError(t, err)
	assert.Equal(t, 2, w.Len())

	// Test Peek
	blockNum, blockHash, ok := w.Peek()
	assert.True(t, ok && blockNum == 2 && blockHash == common.HexToHash("0x2"))

	// Test non-sequential fails
	err = w.Push(4, common.HexToHash("0x4"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not continuous")

	// Test ring buffer overwrite
	err = w.Push(3, common.HexToHash("0x3"))
	assert.NoError(t, err)
	assert.Equal(t, 2, w.Len())

	// Test Pop
	blockNum, hash := w.Pop()
	assert.True(t, blockNum == 3 && hash == common.HexToHash("0x3"))

	blockNum, hash = w.Pop()
	assert.True(t, blockNum == 2 && hash == common.HexToHash("0x2"))

	assert.Equal(t, 0, w.Len())

	// Test empty Pop
	blockNum, hash = w.Pop()
	assert.True(t, blockNum == 0 && hash == common.Hash{})

	// Test Peek on empty
	blockNum, hash, ok = w.Peek()
	assert.True(t, !ok && blockNum == 0 && hash == common.Hash{})
}

func TestBlockHashWindowRewind(t *testing.T) {
	w := sync.NewBlockHashWindow(4)
	for i := uint64(10); i <= 13; i++ {
		assert.NoError(t, w.Push(i, common.BigToHash(common.Big1)))
	}

	// Rewind within cached entries
	w.Rewind(11)
	bn, _, ok := w.Peek()
	assert.True(t, ok)
	assert.Equal(t, uint64(11), bn)
	assert.Equal(t, 2, w.Len())

	// Rewind past all cached entries empties the window
	w.Rewind(5)
	_, _, ok = w.Peek()
	assert.False(t, ok)
	assert.Equal(t, 0, w.Len())

	// Rewind on empty window is a no-op
	w.Rewind(1)
	assert.Equal(t, 0, w.Len())
}

func TestBlockHashWindowReset(t *testing.T) {
	w := sync.NewBlockHashWindow(2)
	assert.NoError(t, w.Push(7, common.HexToHash("0x7")))
	assert.NoError(t, w.Push(8, common.HexToHash("0x8")))

	w.Reset()
	assert.Equal(t, 0, w.Len())

	// A reset window accepts any starting block number
	assert.NoError(t, w.Push(100, common.HexToHash("0x100")))
	bn, bh, ok := w.Peek()
	assert.True(t, ok)
	assert.Equal(t, uint64(100), bn)
	assert.Equal(t, common.HexToHash("0x100"), bh)
}
