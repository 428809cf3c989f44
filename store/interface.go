package store

import (
	"context"
	"io"

	"github.com/Conflux-Chain/ethtx-indexer/types"
)

// Ledger defines the block-scoped, idempotent ingestion protocol against the
// relational store. All writes for a single block happen atomically; deletes
// operate on block ranges and cascade to dependent rows.
type Ledger interface {
	io.Closer

	// MaxBlock returns the highest indexed block number. The boolean is false
	// when the store holds no records yet.
	MaxBlock(ctx context.Context) (uint64, bool, error)

	// TrimTopBlock deletes all records of the highest indexed block. The top
	// block may have been only partially written by a crashed prior run, so it
	// is always reprocessed from scratch.
	TrimTopBlock(ctx context.Context) error

	// InsertBlockRecords persists all qualifying records of a single block as
	// one atomic unit. Records must all belong to the same block.
	InsertBlockRecords(ctx context.Context, records []types.TxRecord) error

	// DeleteBlockRange deletes all records for blocks in the half-open range
	// (begin, end].
	DeleteBlockRange(ctx context.Context, begin, end uint64) error
}
