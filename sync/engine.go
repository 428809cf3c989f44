// Package sync implements the chain-following engine that keeps the ledger in
// step with the connected node: fetching confirmed blocks in order, decoding
// their transactions and rolling back when a chain reorganization is detected.
package sync

import (
	"context"
	"sync"
	"time"

	"github.com/Conflux-Chain/ethtx-indexer/decode"
	"github.com/Conflux-Chain/ethtx-indexer/store"
	"github.com/Conflux-Chain/ethtx-indexer/types"
	"github.com/Conflux-Chain/go-conflux-util/health"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// state is the engine's position in its processing cycle.
type state int

const (
	// stateCatchUp advances the cursor one block per iteration until the safe head.
	stateCatchUp state = iota
	// stateReorgRecovery rolls the ledger and cursor back by the reorg window.
	stateReorgRecovery
	// stateIdleWait sleeps one poll interval once caught up with the safe head.
	stateIdleWait
)

// Config holds the configurations for the sync engine.
type Config struct {
	// Blockchain RPC endpoint to connect to, which will be used to fetch block data.
	RpcEndpoint string

	// HeadTag is the block tag the chain head is resolved from, e.g. "latest",
	// "safe" or "finalized".
	HeadTag string `default:"latest"`

	// StartBlock is the cursor position for an empty ledger; indexing begins at
	// the block right after it.
	StartBlock uint64

	// Confirmations is the number of blocks a block must be buried under the
	// chain head before it is fetched for indexing.
	Confirmations uint64 `default:"12"`

	// ReorgWindow is the number of blocks rolled back when a chain
	// reorganization is detected, and the capacity of the block hash cache
	// used to detect one.
	ReorgWindow uint64 `default:"16"`

	// PollInterval specifies how often to poll for new blocks once caught up,
	// and how long to back off after a transient error.
	PollInterval time.Duration `default:"10s"`

	// SyncCheckInterval specifies how often to re-check the node sync status
	// while waiting for it to catch up with its own chain at startup.
	SyncCheckInterval time.Duration `default:"20s"`

	// RpcTimeout bounds every individual RPC call.
	RpcTimeout time.Duration `default:"30s"`

	Health health.TimedCounterConfig
}

// Engine follows the chain one block at a time and keeps the ledger consistent
// with the node's canonical history. It is not safe for concurrent use; run a
// single Engine per ledger.
type Engine struct {
	Config

	reader ChainReader
	ledger store.Ledger
	window *BlockHashWindow
	health *health.TimedCounter

	state       state
	lastIndexed uint64
}

// NewEngine creates a sync engine connected to the configured RPC endpoint.
func NewEngine(conf Config, ledger store.Ledger) (*Engine, error) {
	reader, err := NewWeb3ClientAdapter(conf.RpcEndpoint, conf.HeadTag, conf.RpcTimeout)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create chain reader")
	}
	return newEngineWithReader(conf, reader, ledger), nil
}

func newEngineWithReader(conf Config, reader ChainReader, ledger store.Ledger) *Engine {
	windowSize := int(conf.ReorgWindow)
	if windowSize <= 0 {
		windowSize = 1
	}

	return &Engine{
		Config: conf,
		reader: reader,
		ledger: ledger,
		window: NewBlockHashWindow(windowSize),
		health: health.NewTimedCounter(conf.Health),
	}
}

// SafeHead returns the highest block number considered safe to index for the
// given chain head and confirmation depth, clamped at zero.
func SafeHead(head, confirmations uint64) uint64 {
	if head < confirmations {
		return 0
	}
	return head - confirmations
}

// Run drives the engine until the context is canceled. It blocks while the node
// is still syncing its own chain, trims a possibly partial top block left by a
// prior run, then enters the catch-up cycle.
func (e *Engine) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer e.reader.Close()

	if err := e.prepare(ctx); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch e.state {
		case stateCatchUp:
			err := e.catchUpOnce(ctx)
			e.reportHealth(err)
			if err != nil {
				e.sleep(ctx, e.PollInterval)
			}
		case stateReorgRecovery:
			err := e.recoverReorg(ctx)
			e.reportHealth(err)
			if err != nil {
				e.sleep(ctx, e.PollInterval)
			} else {
				e.state = stateCatchUp
			}
		case stateIdleWait:
			e.sleep(ctx, e.PollInterval)
			e.state = stateCatchUp
		}
	}
}

// prepare waits for the node to be in sync, then trims the top block and loads
// the cursor. Ledger errors here are retried rather than fatal, so a database
// restart during deployment doesn't take the indexer down with it.
func (e *Engine) prepare(ctx context.Context) error {
	if err := WaitNodeSynced(ctx, e.reader, e.SyncCheckInterval); err != nil {
		return err
	}

	for {
		err := e.loadCursor(ctx)
		if err == nil {
			return nil
		}

		logrus.WithError(err).Error("Failed to prepare ledger for sync")
		if !e.sleep(ctx, e.PollInterval) {
			return ctx.Err()
		}
	}
}

func (e *Engine) loadCursor(ctx context.Context) error {
	// The highest indexed block may be incomplete if the previous run crashed
	// mid write, so it is dropped and re-indexed from scratch.
	if err := e.ledger.TrimTopBlock(ctx); err != nil {
		return err
	}

	maxBlock, ok, err := e.ledger.MaxBlock(ctx)
	if err != nil {
		return err
	}

	if ok && maxBlock > e.StartBlock {
		e.lastIndexed = maxBlock
	} else {
		e.lastIndexed = e.StartBlock
	}

	logrus.WithField("lastIndexed", e.lastIndexed).Info("Sync engine started")
	return nil
}

// catchUpOnce advances the cursor by at most one block. It transitions to idle
// wait when the safe head is reached and to reorg recovery when the fetched
// block does not extend the indexed chain.
func (e *Engine) catchUpOnce(ctx context.Context) error {
	startAt := time.Now()

	head, err := e.reader.HeadBlockNumber(ctx)
	if err != nil {
		return errors.WithMessage(err, "failed to get chain head")
	}

	if safeHead := SafeHead(head, e.Confirmations); e.lastIndexed >= safeHead {
		e.state = stateIdleWait
		return nil
	}

	next := e.lastIndexed + 1
	bundle, err := e.reader.BlockBundleByNumber(ctx, next)
	if err != nil {
		return errors.WithMessagef(err, "failed to fetch block %v", next)
	}
	if err := bundle.Verify(); err != nil {
		return errors.WithMessagef(err, "inconsistent data of block %v", next)
	}

	// Check continuity by comparing the block parent hash with the latest hash
	// in the hash window.
	if bn, bh, ok := e.window.Peek(); ok {
		if bh != bundle.Block.ParentHash {
			logrus.WithFields(logrus.Fields{
				"block":        next,
				"parentHash":   bundle.Block.ParentHash,
				"indexedBlock": bn,
				"indexedHash":  bh,
			}).Warn("Chain reorg detected")

			e.state = stateReorgRecovery
			return nil
		}
	} else {
		logrus.WithFields(logrus.Fields{
			"block":      next,
			"parentHash": bundle.Block.ParentHash,
		}).Info("Continuity check skipped: no indexed block hash cached")
	}

	if err := e.processBlock(ctx, bundle); err != nil {
		return err
	}

	if err := e.window.Push(next, bundle.Block.Hash); err != nil {
		return errors.WithMessage(err, "failed to cache block hash")
	}

	e.lastIndexed = next
	syncMetrics.Qps().UpdateSince(startAt)
	return nil
}

// processBlock decodes all transactions of the block and persists the
// qualifying records atomically.
func (e *Engine) processBlock(ctx context.Context, bundle types.EthBlockBundle) error {
	block := bundle.Block
	txs := block.Transactions.Transactions()

	records := make([]types.TxRecord, 0, len(txs))
	for i := range txs {
		record, skip := decode.Transaction(block, &txs[i], bundle.Receipts[i])
		if skip != decode.SkipNone {
			continue
		}
		records = append(records, *record)
	}

	if err := e.ledger.InsertBlockRecords(ctx, records); err != nil {
		return errors.WithMessagef(err, "failed to persist records of block %v", block.Number)
	}

	if len(txs) == 0 {
		logrus.WithField("block", block.Number).Debug("Block has no transactions")
	} else {
		logrus.WithFields(logrus.Fields{
			"block":   block.Number,
			"txs":     len(txs),
			"records": len(records),
		}).Info("Indexed block")
	}
	return nil
}

// recoverReorg rolls the ledger back by up to the reorg window, never below the
// configured start block, and rewinds the cursor and hash window to match. The
// rewound range is re-fetched from the node by the next catch-up iterations.
func (e *Engine) recoverReorg(ctx context.Context) error {
	rollbackTo := e.StartBlock
	if e.lastIndexed > e.StartBlock+e.ReorgWindow {
		rollbackTo = e.lastIndexed - e.ReorgWindow
	}

	if err := e.ledger.DeleteBlockRange(ctx, rollbackTo, e.lastIndexed); err != nil {
		return errors.WithMessage(err, "failed to roll back reorged blocks")
	}

	syncMetrics.ReorgDepth().Update(int64(e.lastIndexed - rollbackTo))
	logrus.WithFields(logrus.Fields{
		"from": rollbackTo + 1,
		"to":   e.lastIndexed,
	}).Warn("Rolled back possibly reorged blocks")

	e.window.Rewind(rollbackTo)
	e.lastIndexed = rollbackTo
	return nil
}

func (e *Engine) reportHealth(err error) {
	recovered, unhealthy, unrecovered, elapsed := e.health.OnError(err)
	if recovered {
		logrus.WithField("elapsed", elapsed).Warn("Sync engine recovered")
	} else if unhealthy {
		logrus.WithError(err).WithField("elapsed", elapsed).Warn("Sync engine became unhealthy")
	} else if unrecovered {
		logrus.WithError(err).WithField("elapsed", elapsed).Warn("Sync engine unhealthy for a long time")
	}
}

// sleep waits for the given duration unless the context is canceled first. It
// returns false on cancellation.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
