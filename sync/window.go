package sync

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// BlockHashWindow caches the hashes of recently indexed blocks in a ring buffer
// for the block-to-block continuity check. Its capacity matches the reorg
// rollback depth, so a detected fork can always be rewound within the window.
type BlockHashWindow struct {
	mu     sync.RWMutex
	next   int           // Index for next write
	count  int           // Current number of elements
	buff   []common.Hash // Ring buffer of block hashes
	latest uint64        // Latest block number
}

// NewBlockHashWindow creates a fixed-size window for block hashes.
func NewBlockHashWindow(size int) *BlockHashWindow {
	if size <= 0 {
		panic("window size must be positive")
	}
	return &BlockHashWindow{
		buff: make([]common.Hash, size),
	}
}

// Capacity returns the window capacity.
func (w *BlockHashWindow) Capacity() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return len(w.buff)
}

// Len returns current number of elements in the buffer.
func (w *BlockHashWindow) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.count
}

// Push inserts a new block hash into the ring buffer.
func (w *BlockHashWindow) Push(blockNumber uint64, blockHash common.Hash) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count > 0 && blockNumber != w.latest+1 {
		return errors.Errorf("block number not continuous, expected %v got %v", w.latest+1, blockNumber)
	}

	w.latest = blockNumber
	w.buff[w.next] = blockHash

	w.next = (w.next + 1) % len(w.buff)
	if w.count < len(w.buff) {
		w.count++
	}
	return nil
}

// Peek returns the latest block number and hash.
func (w *BlockHashWindow) Peek() (bn uint64, bh common.Hash, found bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.count == 0 {
		return
	}
	idx := (w.next - 1 + len(w.buff)) % len(w.buff)
	return w.latest, w.buff[idx], true
}

// Pop removes and returns the latest block hash.
func (w *BlockHashWindow) Pop() (bn uint64, bh common.Hash) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count == 0 {
		return
	}

	idx := (w.next - 1 + len(w.buff)) % len(w.buff)
	blockNum, hash := w.latest, w.buff[idx]

	w.next = idx
	w.buff[w.next] = common.Hash{} // Clear the slot

	w.latest--
	w.count--

	return blockNum, hash
}

// Rewind pops entries until the latest cached block number is at most the given
// block number. Entries older than the window capacity cannot be recovered, so
// rewinding past them simply empties the window.
func (w *BlockHashWindow) Rewind(blockNumber uint64) {
	for {
		w.mu.RLock()
		count, latest := w.count, w.latest
		w.mu.RUnlock()

		if count == 0 || latest <= blockNumber {
			return
		}
		w.Pop()
	}
}

// Reset empties the window.
func (w *BlockHashWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.next = 0
	w.count = 0
	w.latest = 0
	for i := range w.buff {
		w.buff[i] = common.Hash{}
	}
}
